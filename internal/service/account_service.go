package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/notify"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// AccountService coordinates registration, login and the two single-use
// token flows.
type AccountService struct {
	users      repository.UserRepository
	notifier   notify.Notifier
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sessions   *auth.TokenManager
	issuer     *auth.TokenIssuer
	bcryptCost int

	// spawn runs the registration follow-up detached from the request.
	spawn func(fn func())
}

// AccountDependencies encapsulates collaborator requirements for the service.
type AccountDependencies struct {
	UserRepo   repository.UserRepository
	Notifier   notify.Notifier
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewAccountService builds the service.
func NewAccountService(cfg config.Config, deps AccountDependencies) *AccountService {
	return &AccountService{
		users:      deps.UserRepo,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		sessions:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTokenTTLMinutes),
		issuer:     auth.NewTokenIssuer(cfg.Auth.AccountTokenTTL()),
		bcryptCost: cfg.Auth.BcryptCost,
		spawn:      func(fn func()) { go fn() },
	}
}

// Register creates a new account with status unconfirmed. Once the row is
// inserted the caller gets its success; issuing the confirmation token and
// sending the email happen as a detached best-effort follow-up whose
// failures are logged, never surfaced.
func (s *AccountService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	if name == "" || email == "" || password == "" {
		return nil, apperrors.NewValidationError("Please fill in username, email and password!", nil)
	}
	if len(password) < 8 {
		return nil, apperrors.NewValidationError("Password must be at least 8 characters long", nil)
	}
	if len(name) < 3 {
		return nil, apperrors.NewValidationError("Name must be at least 3 characters long", nil)
	}
	addr, err := domain.NewEmailAddress(email)
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid email address", nil)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Name:         name,
		Email:        addr.String(),
		PasswordHash: hash,
		Status:       domain.StatusUnconfirmed,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, apperrors.NewValidationError("Email already registered", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventAccountRegistered, user.ID, addr.String())

	id := user.ID
	s.spawn(func() {
		if err := s.issueConfirmation(context.Background(), id, addr); err != nil {
			s.logger.Error("confirmation follow-up failed",
				zap.String("user_id", id), zap.Error(err))
		}
	})

	return user, nil
}

// Login verifies credentials, applies the account status gate and issues a
// signed session token.
func (s *AccountService) Login(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	if email == "" || password == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("Email and password are required", nil)
	}
	addr, err := domain.NewEmailAddress(email)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewValidationError("Invalid email address", nil)
	}

	user, err := s.users.GetByEmail(ctx, addr.String())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewInvalidCredentials("Invalid email")
		}
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewInvalidCredentials("Invalid password")
	}

	if msg, ok := user.CanAuthenticate(); !ok {
		return nil, "", time.Time{}, apperrors.NewAccountStateRejected(msg)
	}

	token, exp, err := s.sessions.GenerateToken(user.ID)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return user, token, exp, nil
}

// ForgotPassword issues a reset token for the account and notifies it.
// An unknown email is reported as not found.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.NewValidationError("User email is required", nil)
	}
	addr, err := domain.NewEmailAddress(email)
	if err != nil {
		return apperrors.NewValidationError("Invalid email address", nil)
	}

	user, err := s.users.GetByEmail(ctx, addr.String())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("Email not found", nil)
		}
		return apperrors.NewInternalError(err)
	}

	token, expire, err := s.issuer.Issue()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	// Overwrites any outstanding reset token: last write wins.
	if err := s.users.SetResetToken(ctx, user.ID, token, expire); err != nil {
		return apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventPasswordResetRequested, user.ID, addr.String())

	if err := s.notifier.SendPasswordReset(ctx, addr, token); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

// ResetPassword consumes a reset token and replaces the password hash. The
// token-clear and the hash replacement land as one store update, so the
// token cannot be redeemed twice.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return apperrors.NewValidationError("Token and new password are required", nil)
	}

	user, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidOrExpired("Invalid or expired token")
		}
		return apperrors.NewInternalError(err)
	}
	if !s.tokenUsable(user.ResetPasswordToken, user.ResetPasswordExpire, token) {
		return apperrors.NewInvalidOrExpired("Invalid or expired token")
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	// The update is guarded by the token; losing the race to a concurrent
	// redemption surfaces the same way as a stale token.
	if err := s.users.ResetPassword(ctx, user.ID, token, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidOrExpired("Invalid or expired token")
		}
		return apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventPasswordResetCompleted, user.ID, user.Email)
	return nil
}

// ConfirmEmail consumes a confirmation token and moves the account to
// confirmed, atomically with the token-clear.
func (s *AccountService) ConfirmEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.NewValidationError("Token is required", nil)
	}

	user, err := s.users.GetByConfirmToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidOrExpired("Invalid or expired token")
		}
		return apperrors.NewInternalError(err)
	}
	if !s.tokenUsable(user.ConfirmEmailToken, user.ConfirmEmailExpire, token) {
		return apperrors.NewInvalidOrExpired("Invalid or expired token")
	}

	if err := s.users.ConfirmEmail(ctx, user.ID, token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidOrExpired("Invalid or expired token")
		}
		return apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventEmailConfirmed, user.ID, user.Email)
	return nil
}

// ResendConfirmation re-issues a confirmation token for an unconfirmed
// account, invalidating any prior one. Any other status is rejected
// without side effects.
func (s *AccountService) ResendConfirmation(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.NewValidationError("User email is required", nil)
	}
	addr, err := domain.NewEmailAddress(email)
	if err != nil {
		return apperrors.NewValidationError("Invalid email address", nil)
	}

	user, err := s.users.GetByEmail(ctx, addr.String())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewValidationError("User not found or not unconfirmed", nil)
		}
		return apperrors.NewInternalError(err)
	}
	if user.Status != domain.StatusUnconfirmed {
		return apperrors.NewValidationError("User not found or not unconfirmed", nil)
	}

	if err := s.issueConfirmation(ctx, user.ID, addr); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

// SessionManager exposes the underlying session token manager for
// middleware usage.
func (s *AccountService) SessionManager() *auth.TokenManager {
	return s.sessions
}

// issueConfirmation generates a fresh confirmation token, persists the
// pair (overwriting any outstanding one) and notifies the address.
func (s *AccountService) issueConfirmation(ctx context.Context, userID string, addr domain.EmailAddress) error {
	token, expire, err := s.issuer.Issue()
	if err != nil {
		return err
	}
	if err := s.users.SetConfirmToken(ctx, userID, token, expire); err != nil {
		return err
	}

	s.publish(ctx, events.EventConfirmationRequested, userID, addr.String())

	return s.notifier.SendConfirmEmail(ctx, addr, token)
}

func (s *AccountService) tokenUsable(stored *string, expire *time.Time, presented string) bool {
	if stored == nil || expire == nil {
		return false
	}
	return auth.VerifyToken(*stored, *expire, presented, time.Now()) == auth.TokenValid
}

func (s *AccountService) publish(ctx context.Context, eventType events.EventType, userID, email string) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Email:     email,
		Timestamp: time.Now(),
	})
}
