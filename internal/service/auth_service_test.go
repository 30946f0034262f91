package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
)

func TestRegisterIssuesTokensForCreatedUser(t *testing.T) {
	h := newAuthHarness(t)
	res := h.register(t, "Alice")

	if res.User.ID == 0 || res.User.Username != "alice" || res.User.Email != "alice@x.com" {
		t.Fatalf("unexpected user %+v", res.User)
	}
	claims, err := h.tokens.ParseAccess(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != res.User.ID || claims.SessionID != res.Session.SessionID {
		t.Fatalf("claims do not match created user/session: %+v", claims)
	}
	if res.Session.LoginMethod != domain.LoginMethodRegister || !res.Session.IsCurrent {
		t.Fatalf("unexpected session view %+v", res.Session)
	}

	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	stored, err := h.users.FindByID(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if strings.Contains(string(body), stored.PasswordHash) || strings.Contains(string(body), "passwordHash") {
		t.Fatal("password hash leaked into response")
	}
	session, _ := h.sessions.FindBySessionID(context.Background(), res.Session.SessionID)
	if strings.Contains(string(body), session.RefreshTokenHash) {
		t.Fatal("refresh token hash leaked into response")
	}
	if len(stored.ActiveSessions) != 1 || stored.ActiveSessions[0] != res.Session.SessionID {
		t.Fatalf("active session cache not updated: %v", stored.ActiveSessions)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")

	cases := []RegisterInput{
		{Username: "ALICE", Email: "other@x.com", Password: "Passw0rd1"},
		{Username: "bob", Email: "Alice@X.com", Password: "Passw0rd1"},
	}
	for _, in := range cases {
		if _, err := h.auth.Register(context.Background(), in, testDevice("d")); !errors.Is(err, ErrUserExists) {
			t.Fatalf("expected ErrUserExists for %+v, got %v", in, err)
		}
	}
}

func TestLoginUnknownUserAndWrongPasswordAreIndistinguishable(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")

	_, errUnknown := h.auth.Login(context.Background(), LoginInput{Identifier: "nobody@x.com", Password: "Passw0rd1"}, testDevice("d"))
	_, errWrong := h.auth.Login(context.Background(), LoginInput{Identifier: "alice@x.com", Password: "wrong-pass1"}, testDevice("d"))
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatal("unknown user and wrong password must produce the same error")
	}
}

func TestLoginLockoutScenario(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := h.auth.Login(ctx, LoginInput{Identifier: "alice@x.com", Password: "wrong"}, testDevice("d"))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	_, err := h.auth.Login(ctx, LoginInput{Identifier: "alice@x.com", Password: "wrong"}, testDevice("d"))
	var locked *AccountLockedError
	if !errors.As(err, &locked) || !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth attempt must lock the account, got %v", err)
	}
	if !locked.Until.Equal(h.clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("unexpected lock expiry %v", locked.Until)
	}

	h.clock.Advance(10 * time.Minute)
	if _, err := h.auth.Login(ctx, LoginInput{Identifier: "alice@x.com", Password: "Passw0rd1"}, testDevice("d")); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("correct password during lock must still be rejected, got %v", err)
	}

	h.clock.Advance(21 * time.Minute)
	if _, err := h.auth.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong"}, testDevice("d")); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("after expiry a wrong password is a plain failure, got %v", err)
	}
	user, err := h.users.FindByEmailOrUsername(ctx, "alice@x.com", "alice")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.FailedLoginAttempts != 1 {
		t.Fatalf("counter must restart at 1 after lock expiry, got %d", user.FailedLoginAttempts)
	}

	res := h.login(t, "alice@x.com", "Passw0rd1")
	user, _ = h.users.FindByID(ctx, res.User.ID)
	if user.FailedLoginAttempts != 0 || user.AccountLockedUntil != nil || user.LastLoginAt == nil {
		t.Fatalf("successful login must clear counters: %+v", user)
	}
}

func TestLoginRememberMeExtendsRefreshLifetime(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")
	res, err := h.auth.Login(context.Background(), LoginInput{Identifier: "alice@x.com", Password: "Passw0rd1", RememberMe: true}, testDevice("d"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := res.Session.ExpiresAt.Sub(h.clock.Now()); got != 30*24*time.Hour {
		t.Fatalf("expected 30 day session, got %s", got)
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	h := newAuthHarness(t)
	reg := h.register(t, "alice")
	if err := h.db.Model(&domain.User{}).Where("id = ?", reg.User.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := h.auth.Login(context.Background(), LoginInput{Identifier: "alice", Password: "Passw0rd1"}, testDevice("d")); !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("expected ErrAccountDeactivated, got %v", err)
	}
	if _, err := h.gate.Authenticate(context.Background(), reg.Tokens.AccessToken); !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("gate must reject deactivated accounts, got %v", err)
	}
}

func TestRefreshRotatesWithinSessionAndFamily(t *testing.T) {
	h := newAuthHarness(t)
	first := h.register(t, "alice")
	h.clock.Advance(time.Minute)

	second, err := h.auth.Refresh(context.Background(), first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatal("refresh must issue a new refresh token")
	}
	oldClaims, _ := h.jwt.ParseRefreshToken(first.Tokens.RefreshToken)
	newClaims, err := h.jwt.ParseRefreshToken(second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("parse new refresh: %v", err)
	}
	if newClaims.SessionID != oldClaims.SessionID || newClaims.TokenFamily != oldClaims.TokenFamily {
		t.Fatal("rotation must preserve session id and token family")
	}
	if !newClaims.ExpiresAt.Time.Equal(oldClaims.ExpiresAt.Time) {
		t.Fatal("rotation must not extend the session lifetime")
	}

	session, err := h.sessions.FindBySessionID(context.Background(), first.Session.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if session.RefreshTokenHash != h.tokens.HashRefreshToken(second.Tokens.RefreshToken) {
		t.Fatal("stored hash must match the newest refresh token")
	}
	if !session.LastAccessedAt.Equal(h.clock.Now()) {
		t.Fatalf("lastAccessedAt not bumped: %v", session.LastAccessedAt)
	}

	third, err := h.auth.Refresh(context.Background(), second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("chained refresh: %v", err)
	}
	if _, err := h.gate.Authenticate(context.Background(), third.Tokens.AccessToken); err != nil {
		t.Fatalf("latest access token must work: %v", err)
	}
}

func TestRefreshReuseScenarioRevokesFamily(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")
	login := h.login(t, "alice@x.com", "Passw0rd1")
	other := h.login(t, "alice", "Passw0rd1")
	ctx := context.Background()

	rotated, err := h.auth.Refresh(ctx, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := h.auth.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("replay of rotated token must be detected, got %v", err)
	}

	session, err := h.sessions.FindBySessionID(ctx, login.Session.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if session.IsActive || session.RiskScore != domain.MaxRiskScore || session.Metadata[domain.MetaBreachDetected] != "true" {
		t.Fatalf("family not revoked as breach: %+v", session)
	}

	if _, err := h.gate.Authenticate(ctx, login.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("access token of the revoked family must fail, got %v", err)
	}
	if _, err := h.auth.Refresh(ctx, rotated.Tokens.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("newest token of revoked family must fail, got %v", err)
	}
	if _, err := h.auth.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("further replays see an inactive family, got %v", err)
	}

	if _, err := h.gate.Authenticate(ctx, other.Tokens.AccessToken); err != nil {
		t.Fatalf("other families must be unaffected: %v", err)
	}
}

func TestRefreshDetectsOtherActiveSessionInFamily(t *testing.T) {
	h := newAuthHarness(t)
	res := h.register(t, "alice")
	ctx := context.Background()

	original, err := h.sessions.FindBySessionID(ctx, res.Session.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	clone := *original
	clone.ID = 0
	clone.SessionID = "cloned-session"
	clone.RefreshTokenHash = "cloned-hash"
	if err := h.sessions.Create(ctx, &clone); err != nil {
		t.Fatalf("create clone: %v", err)
	}

	if _, err := h.auth.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected, got %v", err)
	}
	for _, id := range []string{original.SessionID, clone.SessionID} {
		s, _ := h.sessions.FindBySessionID(ctx, id)
		if s.IsActive {
			t.Fatalf("session %s must be revoked", id)
		}
	}
}

func TestRefreshConcurrentSameTokenSingleWinner(t *testing.T) {
	h := newAuthHarness(t)
	res := h.register(t, "alice")

	const workers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.auth.Refresh(context.Background(), res.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSessionInvalid), errors.Is(err, ErrTokenReuseDetected):
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
}

func TestRefreshInputErrors(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()
	if _, err := h.auth.Refresh(ctx, ""); !errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("expected missing, got %v", err)
	}
	if _, err := h.auth.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	res := h.register(t, "alice")
	h.clock.Advance(8 * 24 * time.Hour)
	if _, err := h.auth.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newAuthHarness(t)
	res := h.register(t, "alice")
	ctx := context.Background()
	id := h.identity(t, res.Tokens.AccessToken)

	if err := h.auth.Logout(ctx, id); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.auth.Logout(ctx, id); err != nil {
		t.Fatalf("second logout must not fail: %v", err)
	}
	s, _ := h.sessions.FindBySessionID(ctx, res.Session.SessionID)
	if s.IsActive || s.DeactivationReason() != domain.ReasonLogout {
		t.Fatalf("unexpected session state after logout: active=%v reason=%q", s.IsActive, s.DeactivationReason())
	}
	user, _ := h.users.FindByID(ctx, res.User.ID)
	if slices.Contains(user.ActiveSessions, res.Session.SessionID) {
		t.Fatal("logged-out session must leave the active-session cache")
	}
	if _, err := h.gate.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid after logout, got %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")
	a := h.login(t, "alice", "Passw0rd1")
	h.login(t, "alice", "Passw0rd1")
	ctx := context.Background()

	revoked, err := h.auth.LogoutAll(ctx, h.identity(t, a.Tokens.AccessToken))
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", revoked)
	}
	active, _ := h.sessions.ListActiveByUser(ctx, a.User.ID, h.clock.Now())
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
	user, _ := h.users.FindByID(ctx, a.User.ID)
	if len(user.ActiveSessions) != 0 {
		t.Fatalf("cache must be cleared, got %v", user.ActiveSessions)
	}
}

func TestChangePasswordKeepsCurrentSessionOnly(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")
	current := h.login(t, "alice", "Passw0rd1")
	other := h.login(t, "alice@x.com", "Passw0rd1")
	ctx := context.Background()
	h.clock.Advance(5 * time.Second)

	id := h.identity(t, current.Tokens.AccessToken)
	if _, err := h.auth.ChangePassword(ctx, id, "wrong", "NewPassw0rd"); !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected ErrInvalidCurrentPassword, got %v", err)
	}

	res, err := h.auth.ChangePassword(ctx, id, "Passw0rd1", "NewPassw0rd")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if res.Session.SessionID != current.Session.SessionID {
		t.Fatal("the calling session must survive")
	}
	if _, err := h.gate.Authenticate(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("fresh access token must be accepted: %v", err)
	}
	if _, err := h.gate.Authenticate(ctx, other.Tokens.AccessToken); !errors.Is(err, ErrPasswordChanged) {
		t.Fatalf("other session's token must fail with ErrPasswordChanged, got %v", err)
	}
	if _, err := h.auth.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh on surviving session: %v", err)
	}

	if _, err := h.auth.Login(ctx, LoginInput{Identifier: "alice", Password: "Passw0rd1"}, testDevice("d")); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	h.login(t, "alice", "NewPassw0rd")
}

func TestGateRejectsTokensIssuedBeforePasswordChange(t *testing.T) {
	h := newAuthHarness(t)
	res := h.register(t, "alice")
	ctx := context.Background()
	h.clock.Advance(10 * time.Second)

	// Password changed out of band, sessions untouched.
	if err := h.users.UpdatePassword(ctx, res.User.ID, "x", h.clock.Now()); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if _, err := h.gate.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrPasswordChanged) {
		t.Fatalf("expected ErrPasswordChanged, got %v", err)
	}
	s, _ := h.sessions.FindBySessionID(ctx, res.Session.SessionID)
	if s.IsActive || s.DeactivationReason() != domain.ReasonPasswordChanged {
		t.Fatal("stale session must be deactivated")
	}
	if _, err := h.gate.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrPasswordChanged) {
		t.Fatalf("subsequent calls keep reporting ErrPasswordChanged, got %v", err)
	}
}

func TestSessionLimitBoundsCacheOnly(t *testing.T) {
	h := newAuthHarness(t)
	first := h.register(t, "alice")
	ctx := context.Background()
	var newest *AuthResult
	for range 5 {
		h.clock.Advance(time.Second)
		newest = h.login(t, "alice", "Passw0rd1")
	}

	active, err := h.sessions.ListActiveByUser(ctx, first.User.ID, h.clock.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 6 {
		t.Fatalf("every session stays active past the cache bound, got %d", len(active))
	}
	if _, err := h.gate.Authenticate(ctx, first.Tokens.AccessToken); err != nil {
		t.Fatalf("oldest session must still pass the gate: %v", err)
	}
	if _, err := h.auth.Refresh(ctx, first.Tokens.RefreshToken); err != nil {
		t.Fatalf("oldest session must still refresh: %v", err)
	}

	user, _ := h.users.FindByID(ctx, first.User.ID)
	if len(user.ActiveSessions) != 5 || slices.Contains(user.ActiveSessions, first.Session.SessionID) {
		t.Fatalf("cache must keep the newest 5 ids, got %v", user.ActiveSessions)
	}
	if user.ActiveSessions[len(user.ActiveSessions)-1] != newest.Session.SessionID {
		t.Fatalf("newest session must be last in the cache, got %v", user.ActiveSessions)
	}
}

type failingCacheUsers struct {
	repository.UserRepository
}

func (failingCacheUsers) SetActiveSessions(context.Context, uint, domain.SessionIDList) error {
	return errors.New("cache write failed")
}

func TestCacheFailureDoesNotFailLogin(t *testing.T) {
	db := newServiceTestDB(t)
	users := failingCacheUsers{UserRepository: repository.NewUserRepository(db)}
	h := newAuthHarnessWithRepos(t, db, users, repository.NewSessionRepository(db))

	res := h.register(t, "alice")
	if _, err := h.gate.Authenticate(context.Background(), res.Tokens.AccessToken); err != nil {
		t.Fatalf("session must be valid even when the cache write fails: %v", err)
	}
	h.login(t, "alice", "Passw0rd1")
}

type lockedByOtherUsers struct {
	repository.UserRepository
	until time.Time
}

func (u lockedByOtherUsers) RecordFailedLogin(context.Context, uint, time.Time, domain.LockoutPolicy) (repository.FailedLoginResult, error) {
	return repository.FailedLoginResult{Attempts: 6, LockedUntil: &u.until}, nil
}

func TestLoginReportsLockSetByConcurrentAttempt(t *testing.T) {
	h := newAuthHarness(t)
	h.register(t, "alice")

	users := lockedByOtherUsers{UserRepository: h.users, until: h.clock.Now().Add(30 * time.Minute)}
	auth := NewAuthService(users, h.sessions, h.tokens, security.NewHasher(4), AuthConfig{
		Lockout:               domain.LockoutPolicy{MaxAttempts: 5, LockDuration: 30 * time.Minute},
		MaxConcurrentSessions: 5,
	}, nil).WithClock(h.clock.Now)

	_, err := auth.Login(context.Background(), LoginInput{Identifier: "alice", Password: "wrong-pass1"}, testDevice("d"))
	var locked *AccountLockedError
	if !errors.As(err, &locked) || !locked.Until.Equal(users.until) {
		t.Fatalf("a lock set by a concurrent attempt must still answer locked, got %v", err)
	}
}

func TestPasswordOverBcryptLimitIsRejected(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()
	long := strings.Repeat("a", 79) + "1"

	_, err := h.auth.Register(ctx, RegisterInput{Username: "bob", Email: "bob@x.com", Password: long}, testDevice("d"))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong on register, got %v", err)
	}

	res := h.register(t, "alice")
	other := h.login(t, "alice", "Passw0rd1")
	id := h.identity(t, res.Tokens.AccessToken)
	if _, err := h.auth.ChangePassword(ctx, id, "Passw0rd1", long); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong on change password, got %v", err)
	}
	if _, err := h.gate.Authenticate(ctx, other.Tokens.AccessToken); err != nil {
		t.Fatalf("a rejected change must leave other sessions alone: %v", err)
	}
	h.login(t, "alice", "Passw0rd1")
}

func TestChangePasswordAfterConcurrentRefresh(t *testing.T) {
	h := newAuthHarness(t)
	res := h.register(t, "alice")
	ctx := context.Background()
	id := h.identity(t, res.Tokens.AccessToken)
	h.clock.Advance(5 * time.Second)

	// A refresh lands between the gate check and the password change.
	if _, err := h.auth.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	changed, err := h.auth.ChangePassword(ctx, id, "Passw0rd1", "NewPassw0rd")
	if err != nil {
		t.Fatalf("change password after refresh: %v", err)
	}
	if changed.Session.SessionID != res.Session.SessionID {
		t.Fatal("the calling session must survive")
	}
	if _, err := h.gate.Authenticate(ctx, changed.Tokens.AccessToken); err != nil {
		t.Fatalf("fresh access token must be accepted: %v", err)
	}
	if _, err := h.auth.Refresh(ctx, changed.Tokens.RefreshToken); err != nil {
		t.Fatalf("fresh refresh token must rotate: %v", err)
	}
}
