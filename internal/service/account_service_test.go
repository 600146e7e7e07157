package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// recordingNotifier captures the last token sent per address and can be
// told to fail.
type recordingNotifier struct {
	mu            sync.Mutex
	confirmTokens map[string]string
	resetTokens   map[string]string
	err           error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		confirmTokens: make(map[string]string),
		resetTokens:   make(map[string]string),
	}
}

func (n *recordingNotifier) SendConfirmEmail(_ context.Context, to domain.EmailAddress, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.confirmTokens[to.String()] = token
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, to domain.EmailAddress, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.resetTokens[to.String()] = token
	return nil
}

func (n *recordingNotifier) confirmToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.confirmTokens[email]
}

func (n *recordingNotifier) resetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetTokens[email]
}

func newTestService(t *testing.T) (*AccountService, repository.UserRepository, *recordingNotifier) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	svc, notifier := newTestServiceWith(t, repo, events.NewInMemoryDispatcher())
	return svc, repo, notifier
}

func newTestServiceWith(t *testing.T, repo repository.UserRepository, dispatcher events.Dispatcher) (*AccountService, *recordingNotifier) {
	t.Helper()

	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:              "test-secret",
			SessionTokenTTLMinutes: 60,
			AccountTokenTTLMinutes: 60,
			BcryptCost:             bcrypt.MinCost,
		},
	}
	notifier := newRecordingNotifier()

	svc := NewAccountService(cfg, AccountDependencies{
		UserRepo:   repo,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     zap.NewNop(),
	})
	// Run the registration follow-up inline for deterministic assertions.
	svc.spawn = func(fn func()) { fn() }

	return svc, notifier
}

func requireDomainErr(t *testing.T, err error) *apperrors.DomainError {
	t.Helper()
	var de *apperrors.DomainError
	require.ErrorAs(t, err, &de)
	return de
}

func seedUser(t *testing.T, repo repository.UserRepository, email string, status domain.Status, password string) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	user := &domain.User{Name: "Seed User", Email: email, PasswordHash: hash, Status: status}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestRegisterCreatesUnconfirmedAccount(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)

	stored, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
	assert.Equal(t, domain.StatusUnconfirmed, stored.Status)
	assert.NoError(t, auth.ComparePassword(stored.PasswordHash, "longenough1"))
	assert.NotEqual(t, "longenough1", stored.PasswordHash)

	// The follow-up issued a confirmation pair and sent the token out.
	require.NotNil(t, stored.ConfirmEmailToken)
	require.NotNil(t, stored.ConfirmEmailExpire)
	assert.Len(t, *stored.ConfirmEmailToken, 40)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *stored.ConfirmEmailExpire, 5*time.Second)
	assert.Equal(t, *stored.ConfirmEmailToken, notifier.confirmToken("alice@example.com"))
}

func TestRegisterValidationOrder(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name, userName, email, password, wantMsg string
	}{
		{"missing fields", "", "alice@example.com", "longenough1", "Please fill in username, email and password!"},
		{"short password first", "Al", "bad-email", "shortch", "Password must be at least 8 characters long"},
		{"short name", "Al", "alice@example.com", "longenough1", "Name must be at least 3 characters long"},
		{"bad email", "Alice", "bad-email", "longenough1", "Invalid email address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.userName, tc.email, tc.password)
			de := requireDomainErr(t, err)
			assert.Equal(t, "VALIDATION_FAILED", de.Code)
			assert.Equal(t, tc.wantMsg, de.Message)
		})
	}

	// No row was created by any failed attempt.
	_, err := repo.GetByEmail(ctx, "alice@example.com")
	assert.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Mallory", "alice@example.com", "longenough2")
	de := requireDomainErr(t, err)
	assert.Equal(t, "VALIDATION_FAILED", de.Code)
	assert.Equal(t, "Email already registered", de.Message)
}

func TestRegisterFollowUpFailureDoesNotSurface(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	notifier.err = errors.New("smtp down")
	ctx := context.Background()

	_, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)

	// The caller already has its success; the row stays.
	stored, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfirmed, stored.Status)
}

func TestLoginCredentialFailures(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	_, _, _, err := svc.Login(ctx, "", "")
	de := requireDomainErr(t, err)
	assert.Equal(t, "Email and password are required", de.Message)

	_, _, _, err = svc.Login(ctx, "nobody@example.com", "longenough1")
	de = requireDomainErr(t, err)
	assert.Equal(t, "INVALID_CREDENTIALS", de.Code)
	assert.Equal(t, "Invalid email", de.Message)

	_, _, _, err = svc.Login(ctx, "alice@example.com", "wrongpassword")
	de = requireDomainErr(t, err)
	assert.Equal(t, "INVALID_CREDENTIALS", de.Code)
	assert.Equal(t, "Invalid password", de.Message)
}

func TestLoginStatusGate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	cases := map[domain.Status]string{
		domain.StatusUnconfirmed: "Email not confirmed. Please contact system admin.",
		domain.StatusSuspended:   "User account is suspended. Please contact system admin.",
		domain.StatusRemoved:     "User account is removed. Please contact system admin.",
	}
	i := 0
	for status, wantMsg := range cases {
		email := []string{"a@example.com", "b@example.com", "c@example.com"}[i]
		i++
		seedUser(t, repo, email, status, "longenough1")

		// Correct credentials still never yield a session token.
		_, token, _, err := svc.Login(ctx, email, "longenough1")
		de := requireDomainErr(t, err)
		assert.Equal(t, "ACCOUNT_STATE_REJECTED", de.Code)
		assert.Equal(t, wantMsg, de.Message)
		assert.Empty(t, token)
	}
}

func TestLoginSuccessIssuesSessionToken(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seeded := seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	user, token, expiresAt, err := svc.Login(ctx, "alice@example.com", "longenough1")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, user.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	// The session token verifies without a store round-trip.
	claims, err := svc.SessionManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, claims.UserID)
}

func TestLoginNormalizesEmail(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	_, _, _, err := svc.Login(ctx, "alice@EXAMPLE.COM", "longenough1")
	assert.NoError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ForgotPassword(context.Background(), "nobody@example.com")
	de := requireDomainErr(t, err)
	assert.Equal(t, "NOT_FOUND", de.Code)
	assert.Equal(t, "Email not found", de.Message)
	assert.Equal(t, 404, de.HTTPStatus)
}

func TestForgotPasswordIssuesResetToken(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	require.NoError(t, svc.ForgotPassword(ctx, "alice@example.com"))

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetPasswordToken)
	require.NotNil(t, stored.ResetPasswordExpire)
	assert.Equal(t, *stored.ResetPasswordToken, notifier.resetToken("alice@example.com"))
}

func TestForgotPasswordNotifierFailure(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")
	notifier.err = errors.New("smtp down")

	err := svc.ForgotPassword(context.Background(), "alice@example.com")
	de := requireDomainErr(t, err)
	assert.Equal(t, "INTERNAL_ERROR", de.Code)
	assert.Equal(t, 500, de.HTTPStatus)
}

func TestResetPasswordFlow(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	require.NoError(t, svc.ForgotPassword(ctx, "alice@example.com"))
	token := notifier.resetToken("alice@example.com")
	require.NotEmpty(t, token)

	require.NoError(t, svc.ResetPassword(ctx, token, "newpass123"))

	// Pair consumed together with the hash replacement.
	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResetPasswordToken)
	assert.Nil(t, stored.ResetPasswordExpire)

	_, _, _, err = svc.Login(ctx, "alice@example.com", "newpass123")
	assert.NoError(t, err)

	_, _, _, err = svc.Login(ctx, "alice@example.com", "longenough1")
	de := requireDomainErr(t, err)
	assert.Equal(t, "INVALID_CREDENTIALS", de.Code)
}

func TestResetPasswordSingleUse(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()
	seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	require.NoError(t, svc.ForgotPassword(ctx, "alice@example.com"))
	token := notifier.resetToken("alice@example.com")

	require.NoError(t, svc.ResetPassword(ctx, token, "newpass123"))

	err := svc.ResetPassword(ctx, token, "otherpass456")
	de := requireDomainErr(t, err)
	assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)
	assert.Equal(t, "Invalid or expired token", de.Message)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	require.NoError(t, repo.SetResetToken(ctx, user.ID, "expiredtoken", time.Now().Add(-time.Minute)))

	err := svc.ResetPassword(ctx, "expiredtoken", "newpass123")
	de := requireDomainErr(t, err)
	assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)
}

func TestResetPasswordMissingFields(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ResetPassword(context.Background(), "", "newpass123")
	de := requireDomainErr(t, err)
	assert.Equal(t, "Token and new password are required", de.Message)
}

func TestConfirmEmailFlow(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)
	token := notifier.confirmToken("alice@example.com")
	require.NotEmpty(t, token)

	require.NoError(t, svc.ConfirmEmail(ctx, token))

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.Nil(t, stored.ConfirmEmailToken)
	assert.Nil(t, stored.ConfirmEmailExpire)

	// Single-use: re-submitting the same token fails.
	err = svc.ConfirmEmail(ctx, token)
	de := requireDomainErr(t, err)
	assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)
}

func TestConfirmEmailUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ConfirmEmail(context.Background(), "does-not-exist")
	de := requireDomainErr(t, err)
	assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)
	assert.Equal(t, "Invalid or expired token", de.Message)
}

func TestConfirmEmailMissingToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ConfirmEmail(context.Background(), "")
	de := requireDomainErr(t, err)
	assert.Equal(t, "Token is required", de.Message)
}

func TestResendConfirmationRotatesToken(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)
	oldToken := notifier.confirmToken("alice@example.com")

	require.NoError(t, svc.ResendConfirmation(ctx, "alice@example.com"))
	newToken := notifier.confirmToken("alice@example.com")
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	// The superseded token is permanently unusable.
	err = svc.ConfirmEmail(ctx, oldToken)
	de := requireDomainErr(t, err)
	assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)

	assert.NoError(t, svc.ConfirmEmail(ctx, newToken))
}

func TestResendConfirmationRejectsNonUnconfirmed(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()
	seedUser(t, repo, "alice@example.com", domain.StatusConfirmed, "longenough1")

	for _, email := range []string{"alice@example.com", "nobody@example.com"} {
		err := svc.ResendConfirmation(ctx, email)
		de := requireDomainErr(t, err)
		assert.Equal(t, "VALIDATION_FAILED", de.Code)
		assert.Equal(t, "User not found or not unconfirmed", de.Message)
	}

	// Rejection has no side effects.
	stored, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ConfirmEmailToken)
	assert.Empty(t, notifier.confirmToken("alice@example.com"))
}

// The end-to-end scenario: registration, reset, and the status gate that
// still blocks login until the email is confirmed.
func TestRegisterResetLoginScenario(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "alice@example.com"))
	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetPasswordToken)
	require.NotNil(t, stored.ResetPasswordExpire)

	require.NoError(t, svc.ResetPassword(ctx, notifier.resetToken("alice@example.com"), "newpass123"))
	stored, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResetPasswordToken)
	assert.Nil(t, stored.ResetPasswordExpire)

	// Password is updated, but the account is still unconfirmed.
	_, _, _, err = svc.Login(ctx, "alice@example.com", "newpass123")
	de := requireDomainErr(t, err)
	assert.Equal(t, "ACCOUNT_STATE_REJECTED", de.Code)
	assert.Equal(t, "Email not confirmed. Please contact system admin.", de.Message)
}

// lookupGate delays both concurrent redemptions until each has passed its
// token lookup, so the consuming update is what decides the race.
type lookupGate struct {
	repository.UserRepository
	barrier *sync.WaitGroup
}

func (g *lookupGate) GetByResetToken(ctx context.Context, token string) (*domain.User, error) {
	user, err := g.UserRepository.GetByResetToken(ctx, token)
	g.barrier.Done()
	g.barrier.Wait()
	return user, err
}

func (g *lookupGate) GetByConfirmToken(ctx context.Context, token string) (*domain.User, error) {
	user, err := g.UserRepository.GetByConfirmToken(ctx, token)
	g.barrier.Done()
	g.barrier.Wait()
	return user, err
}

func TestResetPasswordConcurrentRedemptionsSingleWinner(t *testing.T) {
	inner := repository.NewMemoryRepository()
	var barrier sync.WaitGroup
	barrier.Add(2)
	svc, notifier := newTestServiceWith(t, &lookupGate{UserRepository: inner, barrier: &barrier}, events.NewInMemoryDispatcher())
	ctx := context.Background()

	seedUser(t, inner, "alice@example.com", domain.StatusConfirmed, "longenough1")
	require.NoError(t, svc.ForgotPassword(ctx, "alice@example.com"))
	token := notifier.resetToken("alice@example.com")
	require.NotEmpty(t, token)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- svc.ResetPassword(ctx, token, "newpass123")
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			de := requireDomainErr(t, err)
			assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
}

func TestConfirmEmailConcurrentRedemptionsSingleWinner(t *testing.T) {
	inner := repository.NewMemoryRepository()
	var barrier sync.WaitGroup
	barrier.Add(2)
	svc, notifier := newTestServiceWith(t, &lookupGate{UserRepository: inner, barrier: &barrier}, events.NewInMemoryDispatcher())
	ctx := context.Background()

	user := seedUser(t, inner, "alice@example.com", domain.StatusUnconfirmed, "longenough1")
	require.NoError(t, svc.ResendConfirmation(ctx, "alice@example.com"))
	token := notifier.confirmToken("alice@example.com")
	require.NotEmpty(t, token)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- svc.ConfirmEmail(ctx, token)
		}()
	}

	var succeeded int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			de := requireDomainErr(t, err)
			assert.Equal(t, "INVALID_OR_EXPIRED", de.Code)
		}
	}
	assert.Equal(t, 1, succeeded)

	stored, err := inner.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.Nil(t, stored.ConfirmEmailToken)
}

func TestLifecycleEventsCarryEmail(t *testing.T) {
	repo := repository.NewMemoryRepository()
	dispatcher := events.NewInMemoryDispatcher()

	var captured []events.Event
	for _, eventType := range events.AllEventTypes() {
		dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			captured = append(captured, event)
			return nil
		})
	}

	svc, notifier := newTestServiceWith(t, repo, dispatcher)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Alice", "alice@example.com", "longenough1")
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmEmail(ctx, notifier.confirmToken("alice@example.com")))
	require.NoError(t, svc.ForgotPassword(ctx, "alice@example.com"))
	require.NoError(t, svc.ResetPassword(ctx, notifier.resetToken("alice@example.com"), "newpass123"))

	types := make(map[events.EventType]string)
	for _, event := range captured {
		types[event.Type] = event.Email
	}
	for _, eventType := range events.AllEventTypes() {
		assert.Equal(t, "alice@example.com", types[eventType], "event %s", eventType)
	}
}
