package repository

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/account-service/internal/domain"
)

// memoryRepository keeps accounts in process memory behind a single mutex,
// which also gives the per-row atomicity the token flows rely on. It backs
// local development runs without a Postgres DSN, and tests.
type memoryRepository struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]*domain.User
	emails map[string]string // canonical email -> id
}

// NewMemoryRepository returns an in-memory UserRepository.
func NewMemoryRepository() UserRepository {
	return &memoryRepository{
		byID:   make(map[string]*domain.User),
		emails: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.emails[user.Email]; exists {
		return ErrEmailTaken
	}

	r.seq++
	now := time.Now()
	user.ID = strconv.Itoa(r.seq)
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.byID[user.ID] = &stored
	r.emails[user.Email] = user.ID
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOut(r.byID[id])
}

func (r *memoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOut(r.byID[r.emails[email]])
}

func (r *memoryRepository) GetByConfirmToken(_ context.Context, token string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.ConfirmEmailToken != nil && *user.ConfirmEmailToken == token {
			return r.copyOut(user)
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryRepository) GetByResetToken(_ context.Context, token string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.ResetPasswordToken != nil && *user.ResetPasswordToken == token {
			return r.copyOut(user)
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryRepository) SetConfirmToken(_ context.Context, id, token string, expire time.Time) error {
	return r.update(id, func(user *domain.User) {
		t, e := token, expire
		user.ConfirmEmailToken = &t
		user.ConfirmEmailExpire = &e
	})
}

func (r *memoryRepository) SetResetToken(_ context.Context, id, token string, expire time.Time) error {
	return r.update(id, func(user *domain.User) {
		t, e := token, expire
		user.ResetPasswordToken = &t
		user.ResetPasswordExpire = &e
	})
}

func (r *memoryRepository) ResetPassword(_ context.Context, id, token, passwordHash string) error {
	return r.updateIf(id,
		func(user *domain.User) bool {
			return user.ResetPasswordToken != nil && *user.ResetPasswordToken == token
		},
		func(user *domain.User) {
			user.PasswordHash = passwordHash
			user.ResetPasswordToken = nil
			user.ResetPasswordExpire = nil
		})
}

func (r *memoryRepository) ConfirmEmail(_ context.Context, id, token string) error {
	return r.updateIf(id,
		func(user *domain.User) bool {
			return user.ConfirmEmailToken != nil && *user.ConfirmEmailToken == token
		},
		func(user *domain.User) {
			user.Status = domain.StatusConfirmed
			user.ConfirmEmailToken = nil
			user.ConfirmEmailExpire = nil
		})
}

// update applies fn under the lock; clear-and-mutate therefore lands as
// one unit, matching the single-statement UPDATEs of the Postgres backend.
func (r *memoryRepository) update(id string, fn func(*domain.User)) error {
	return r.updateIf(id, func(*domain.User) bool { return true }, fn)
}

// updateIf re-evaluates cond under the same lock that applies fn, mirroring
// the token guard in the Postgres WHERE clause: a redemption that lost the
// race observes the cleared token and reports pgx.ErrNoRows.
func (r *memoryRepository) updateIf(id string, cond func(*domain.User) bool, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok || !cond(user) {
		return pgx.ErrNoRows
	}
	fn(user)
	user.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepository) copyOut(user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, pgx.ErrNoRows
	}
	out := *user
	return &out, nil
}
