package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/taskmanager-auth/internal/http/apierror"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/middleware"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

type AdminHandler struct {
	admin  service.AdminServiceInterface
	errs   *apierror.Writer
	logger *slog.Logger
}

func NewAdminHandler(admin service.AdminServiceInterface, errs *apierror.Writer, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{admin: admin, errs: errs, logger: logger}
}

func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.errs.Write(w, r, service.ErrTokenMissing)
		return
	}
	userID, err := strconv.ParseUint(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userID == 0 {
		validationError(w, r, fieldErrors{"userId": "must be a positive integer"})
		return
	}
	if err := h.admin.UnlockUser(r.Context(), id.User.ID, uint(userID)); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "admin.user.unlock", "actor_id", id.User.ID, "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]any{"userId": userID, "unlocked": true})
}

func (h *AdminHandler) SuspiciousSessions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		validationError(w, r, fieldErrors{"page": "must be an integer"})
		return
	}
	pageSize, err := queryInt(r, "pageSize")
	if err != nil {
		validationError(w, r, fieldErrors{"pageSize": "must be an integer"})
		return
	}
	res, err := h.admin.ListSuspiciousSessions(r.Context(), page, pageSize)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
