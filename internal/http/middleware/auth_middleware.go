package middleware

import (
	"context"
	"net/http"

	"github.com/sandeepkv93/taskmanager-auth/internal/http/apierror"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Authenticator is the Request Gate as seen by HTTP.
type Authenticator interface {
	Authenticate(ctx context.Context, rawAccessToken string) (*service.Identity, error)
	Touch(ctx context.Context, id *service.Identity)
}

func AuthMiddleware(gate Authenticator, errs *apierror.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := gate.Authenticate(r.Context(), security.BearerToken(r))
			if err != nil {
				errs.Write(w, r, err)
				return
			}
			gate.Touch(r.Context(), id)
			ctx := context.WithValue(r.Context(), IdentityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (*service.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*service.Identity)
	return id, ok && id != nil
}

// RequireAdmin admits only identities whose user carries the admin flag.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, "TOKEN_MISSING", "missing auth context", nil)
			return
		}
		if !id.User.IsAdmin {
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
