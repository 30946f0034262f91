package service

import (
	"context"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
)

type AuthServiceInterface interface {
	Register(ctx context.Context, in RegisterInput, device domain.DeviceInfo) (*AuthResult, error)
	Login(ctx context.Context, in LoginInput, device domain.DeviceInfo) (*AuthResult, error)
	Refresh(ctx context.Context, rawRefreshToken string) (*AuthResult, error)
	Logout(ctx context.Context, id *Identity) error
	LogoutAll(ctx context.Context, id *Identity) (int64, error)
	ChangePassword(ctx context.Context, id *Identity, currentPassword, newPassword string) (*AuthResult, error)
}

type SessionServiceInterface interface {
	ListActiveSessions(ctx context.Context, user *domain.User, currentSessionID string) ([]SessionView, error)
	RevokeSession(ctx context.Context, user *domain.User, sessionID string) (string, error)
}

type AdminServiceInterface interface {
	UnlockUser(ctx context.Context, actorID, userID uint) error
	ListSuspiciousSessions(ctx context.Context, page, pageSize int) (repository.PageResult[SessionView], error)
}

var (
	_ AuthServiceInterface    = (*AuthService)(nil)
	_ SessionServiceInterface = (*SessionService)(nil)
	_ AdminServiceInterface   = (*AdminService)(nil)
)
