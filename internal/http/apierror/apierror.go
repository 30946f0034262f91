// Package apierror maps service errors to HTTP statuses and stable codes.
package apierror

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

type mapping struct {
	err     error
	status  int
	code    string
	message string
}

// Order matters only for wrapped errors; every sentinel is distinct.
var mappings = []mapping{
	{service.ErrUserExists, http.StatusConflict, "USER_EXISTS", "a user with this email or username already exists"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"},
	{service.ErrAccountDeactivated, http.StatusUnauthorized, "ACCOUNT_DEACTIVATED", "account is deactivated"},
	{service.ErrTokenMissing, http.StatusUnauthorized, "TOKEN_MISSING", "access token is required"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token has expired"},
	{service.ErrTokenInvalid, http.StatusUnauthorized, "TOKEN_INVALID", "access token is invalid"},
	{service.ErrRefreshTokenMissing, http.StatusUnauthorized, "REFRESH_TOKEN_MISSING", "refresh token is required"},
	{service.ErrRefreshTokenExpired, http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "refresh token has expired"},
	{service.ErrRefreshTokenInvalid, http.StatusUnauthorized, "REFRESH_TOKEN_INVALID", "refresh token is invalid"},
	{service.ErrSessionInvalid, http.StatusUnauthorized, "SESSION_INVALID", "session is no longer valid"},
	{service.ErrTokenReuseDetected, http.StatusUnauthorized, "TOKEN_REUSE_DETECTED", "refresh token reuse detected; all sessions in this family were revoked"},
	{service.ErrPasswordChanged, http.StatusUnauthorized, "PASSWORD_CHANGED", "password was changed; please log in again"},
	{service.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found"},
	{service.ErrInvalidCurrentPassword, http.StatusBadRequest, "INVALID_CURRENT_PASSWORD", "current password is incorrect"},
	{service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "user not found"},
	{service.ErrPasswordTooLong, http.StatusBadRequest, "VALIDATION_ERROR", "password must be at most 72 bytes"},
}

// Writer renders errors. Unknown errors become a generic 500; the cause is
// only included in the body when ExposeInternal is set.
type Writer struct {
	Logger         *slog.Logger
	ExposeInternal bool
	Now            func() time.Time
}

func NewWriter(logger *slog.Logger, exposeInternal bool) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Logger: logger, ExposeInternal: exposeInternal, Now: func() time.Time { return time.Now().UTC() }}
}

func (wr *Writer) Write(w http.ResponseWriter, r *http.Request, err error) {
	var locked *service.AccountLockedError
	if errors.As(err, &locked) {
		retry := locked.RetryAfter(wr.Now())
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retry/time.Second), 10))
		response.Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", "account is temporarily locked",
			map[string]any{"lockedUntil": locked.Until.UTC(), "retryAfterSeconds": int64(retry / time.Second)})
		return
	}
	if errors.Is(err, service.ErrAccountLocked) {
		response.Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", "account is temporarily locked", nil)
		return
	}
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			response.Error(w, r, m.status, m.code, m.message, nil)
			return
		}
	}

	wr.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	var details any
	if wr.ExposeInternal {
		details = map[string]string{"cause": err.Error()}
	}
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", details)
}
