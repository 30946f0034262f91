package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/apierror"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/middleware"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

type AuthHandler struct {
	auth     service.AuthServiceInterface
	sessions service.SessionServiceInterface
	errs     *apierror.Writer
	logger   *slog.Logger
}

func NewAuthHandler(auth service.AuthServiceInterface, sessions service.SessionServiceInterface, errs *apierror.Writer, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, sessions: sessions, errs: errs, logger: logger}
}

type meResponse struct {
	User    *domain.User        `json:"user"`
	Session service.SessionView `json:"session"`
}

type refreshResponse struct {
	Tokens  service.TokenPair   `json:"tokens"`
	Session service.SessionView `json:"session"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.empty() {
		validationError(w, r, errs)
		return
	}
	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, security.DeviceFromRequest(r))
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "user_id", res.User.ID, "session_id", res.Session.SessionID)
	response.JSON(w, r, http.StatusCreated, res)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.empty() {
		validationError(w, r, errs)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Identifier: req.identifier(),
		Password:   req.Password,
		RememberMe: req.RememberMe,
	}, security.DeviceFromRequest(r))
	if err != nil {
		observability.Audit(r, "auth.login.failed", "reason", err.Error(), "ip", security.ClientIP(r))
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "user_id", res.User.ID, "session_id", res.Session.SessionID)
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := response.DecodeJSON(r, &req); err != nil && !errors.Is(err, response.ErrEmptyBody) {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", nil)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		h.errs.Write(w, r, service.ErrRefreshTokenMissing)
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrTokenReuseDetected) {
			observability.Audit(r, "auth.refresh.reuse_detected", "ip", security.ClientIP(r))
		}
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, refreshResponse{Tokens: res.Tokens, Session: res.Session})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), id); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", id.User.ID, "session_id", id.Session.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	revoked, err := h.auth.LogoutAll(r.Context(), id)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout_all", "user_id", id.User.ID, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"message": "logged out from all sessions", "revokedSessions": revoked})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, meResponse{User: id.User, Session: service.NewSessionView(id.Session, id.Session.SessionID)})
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	views, err := h.sessions.ListActiveSessions(r.Context(), id.User, id.Session.SessionID)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views, "total": len(views)})
}

func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		h.errs.Write(w, r, service.ErrSessionNotFound)
		return
	}
	status, err := h.sessions.RevokeSession(r.Context(), id.User, sessionID)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.session.revoke", "user_id", id.User.ID, "session_id", sessionID, "status", status)
	response.JSON(w, r, http.StatusOK, map[string]string{"sessionId": sessionID, "status": status})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if errs := req.validate(); !errs.empty() {
		validationError(w, r, errs)
		return
	}
	res, err := h.auth.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	observability.Audit(r, "auth.password.changed", "user_id", id.User.ID, "session_id", id.Session.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message": "password changed; other sessions were signed out",
		"tokens":  res.Tokens,
		"session": res.Session,
	})
}

func (h *AuthHandler) identity(w http.ResponseWriter, r *http.Request) (*service.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.errs.Write(w, r, service.ErrTokenMissing)
		return nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := response.DecodeJSON(r, dst); err != nil {
		msg := "malformed request body"
		if errors.Is(err, response.ErrEmptyBody) {
			msg = "request body is required"
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
		return false
	}
	return true
}

func validationError(w http.ResponseWriter, r *http.Request, errs fieldErrors) {
	response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", map[string]any{"fields": errs})
}
