package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
)

type AdminService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdminService(users repository.UserRepository, sessions repository.SessionRepository, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		users:    users,
		sessions: sessions,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	if now != nil {
		s.now = now
	}
	return s
}

// UnlockUser clears the failed-login counter and any active lock.
func (s *AdminService) UnlockUser(ctx context.Context, actorID, userID uint) error {
	if err := s.users.Unlock(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.InfoContext(ctx, "account unlocked by admin", "actor_id", actorID, "user_id", userID)
	return nil
}

// ListSuspiciousSessions pages through active sessions whose risk score is
// above the suspicious threshold, highest first.
func (s *AdminService) ListSuspiciousSessions(ctx context.Context, page, pageSize int) (repository.PageResult[SessionView], error) {
	res, err := s.sessions.ListSuspicious(ctx, domain.SuspiciousRiskScore, s.now(), repository.PageRequest{Page: page, PageSize: pageSize})
	if err != nil {
		return repository.PageResult[SessionView]{}, err
	}
	out := repository.PageResult[SessionView]{
		Items:      make([]SessionView, 0, len(res.Items)),
		Page:       res.Page,
		PageSize:   res.PageSize,
		Total:      res.Total,
		TotalPages: res.TotalPages,
	}
	for i := range res.Items {
		out.Items = append(out.Items, NewSessionView(&res.Items[i], ""))
	}
	return out, nil
}
