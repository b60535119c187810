package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
	"github.com/pagestack/platform/internal/service/lifecycle"
	"github.com/pagestack/platform/pkg/config"
	"github.com/pagestack/platform/pkg/crypto"
	"github.com/pagestack/platform/pkg/event"
	jwtpkg "github.com/pagestack/platform/pkg/jwt"
)

var (
	// ErrInvalidCredentials covers unknown accounts and bad passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is terminal until an explicit unlock.
	ErrAccountLocked = errors.New("account is locked")
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken covers malformed, expired and revoked bearer tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrActivationExpired indicates the activation window has passed.
	ErrActivationExpired = errors.New("activation token expired")
	// ErrValidation marks malformed input; concrete causes wrap it.
	ErrValidation = errors.New("invalid input")

	errEmailInvalid     = fmt.Errorf("%w: a valid email address is required", ErrValidation)
	errNameRequired     = fmt.Errorf("%w: name is required", ErrValidation)
	errPasswordTooShort = fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
)

// Service implements the account security state machine: registration,
// login with failed-attempt lockout, session-bound tokens, and the user
// lifecycle events other modules consume.
type Service struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	publisher *lifecycle.Publisher
	logger    *slog.Logger
	cfg       config.AuthConfig
}

// New constructs a Service.
func New(users repository.UserRepository, sessions repository.SessionRepository, publisher *lifecycle.Publisher, logger *slog.Logger, cfg config.AuthConfig) Service {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	return Service{users: users, sessions: sessions, publisher: publisher, logger: logger, cfg: cfg}
}

// Token is a session-bound bearer credential.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates an account, emits user.created best-effort and logs the
// user straight in. Event delivery failure never fails the registration.
func (s Service) Register(ctx context.Context, email, name, password string) (*domain.User, Token, error) {
	email = normalizeEmail(email)
	if err := validateRegistration(email, name, password); err != nil {
		return nil, Token{}, err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:                  uuid.NewString(),
		Email:               email,
		Name:                strings.TrimSpace(name),
		PasswordHash:        hash,
		ActivationToken:     uuid.NewString(),
		ActivationExpiresAt: now.Add(s.cfg.ActivationTTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, Token{}, ErrEmailTaken
		}
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)

	s.publisher.PublishUser(ctx, event.UserCreated, payloadFor(user), nil)

	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, Token{}, err
	}
	return user, token, nil
}

// Login authenticates credentials and advances the lockout state machine.
// The per-account states are Active(failedAttempts 0..threshold-1) and
// Locked; the fifth consecutive failure locks, and only Unlock clears it.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			crypto.BurnCompare(password)
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if user.Locked() {
		return nil, Token{}, ErrAccountLocked
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		attempts, locked, recErr := s.users.RecordFailedLogin(ctx, user.ID, s.cfg.LockoutThreshold)
		if recErr != nil {
			s.logger.Error("failed to record login attempt", "user_id", user.ID, "error", recErr)
			return nil, Token{}, ErrInvalidCredentials
		}
		if locked {
			s.logger.Warn("account locked", "user_id", user.ID, "failed_attempts", attempts)
			return nil, Token{}, ErrAccountLocked
		}
		return nil, Token{}, ErrInvalidCredentials
	}
	if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset login attempts", "user_id", user.ID, "error", err)
	}
	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token. The session must still exist and be
// unexpired, so deleting a session revokes its tokens immediately.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrInvalidToken
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if session.UserID != claims.UserID || session.Expired(time.Now().UTC()) {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	return user, claims, nil
}

// Logout deletes the session behind the token.
func (s Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.DeleteSession(ctx, sessionID)
}

// UpdateProfile mutates name/email and emits user.updated with the previous
// snapshot, best-effort.
func (s Service) UpdateProfile(ctx context.Context, userID, name, email string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous := payloadFor(user)

	email = normalizeEmail(email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errEmailInvalid
		}
		user.Email = email
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		user.Name = trimmed
	}
	user.UpdatedAt = time.Now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("user updated", "user_id", user.ID)

	s.publisher.PublishUser(ctx, event.UserUpdated, payloadFor(user), &previous)
	return user, nil
}

// DeleteAccount destroys the account and its sessions, then emits
// user.deleted best-effort.
func (s Service) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSessionsByUser(ctx, userID); err != nil {
		s.logger.Error("failed to delete sessions", "user_id", userID, "error", err)
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", userID)

	s.publisher.PublishUser(ctx, event.UserDeleted, payloadFor(user), nil)
	return nil
}

// Unlock explicitly clears a lockout. This is the only path out of Locked.
func (s Service) Unlock(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if err := s.users.UnlockUser(ctx, user.ID); err != nil {
		return err
	}
	s.logger.Info("account unlocked", "user_id", user.ID)
	return nil
}

// VerifyEmail consumes an activation token.
func (s Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return repository.ErrNotFound
	}
	user, err := s.users.GetUserByActivationToken(ctx, token)
	if err != nil {
		return err
	}
	if time.Now().UTC().After(user.ActivationExpiresAt) {
		return ErrActivationExpired
	}
	return s.users.MarkEmailVerified(ctx, user.ID)
}

// Run sweeps expired sessions until ctx is canceled.
func (s Service) Run(ctx context.Context) {
	interval := s.cfg.SessionSweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.sessions.DeleteExpiredSessions(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}

func (s Service) issueSession(ctx context.Context, user *domain.User) (Token, error) {
	now := time.Now().UTC()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return Token{}, err
	}
	value, err := jwtpkg.Generate(user.ID, session.ID, s.cfg.JWTSecret, session.ExpiresAt)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: value, ExpiresAt: session.ExpiresAt}, nil
}

func validateRegistration(email, name, password string) error {
	if email == "" {
		return errEmailInvalid
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errEmailInvalid
	}
	if strings.TrimSpace(name) == "" {
		return errNameRequired
	}
	if len(password) < 8 {
		return errPasswordTooShort
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func payloadFor(user *domain.User) event.UserPayload {
	return event.UserPayload{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
	}
}
