package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/domain"
)

// ErrEmailTaken surfaces the storage-level uniqueness constraint on email.
var ErrEmailTaken = errors.New("email already registered")

// UserRepository defines persistence access for accounts. Update methods
// that consume a token take the token as a guard: the clear, the dependent
// mutation and the token match land in one statement, so of any number of
// concurrent redemptions of the same token exactly one succeeds and the
// rest report pgx.ErrNoRows.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByConfirmToken(ctx context.Context, token string) (*domain.User, error)
	GetByResetToken(ctx context.Context, token string) (*domain.User, error)
	SetConfirmToken(ctx context.Context, id, token string, expire time.Time) error
	SetResetToken(ctx context.Context, id, token string, expire time.Time) error
	ResetPassword(ctx context.Context, id, token, passwordHash string) error
	ConfirmEmail(ctx context.Context, id, token string) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, status,
        confirm_email_token, confirm_email_expire,
        reset_password_token, reset_password_expire,
        github_username, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (name, email, password_hash, status)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Status,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.scanOne(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.scanOne(ctx, query, email)
}

func (r *userRepository) GetByConfirmToken(ctx context.Context, token string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE confirm_email_token=$1`
	return r.scanOne(ctx, query, token)
}

func (r *userRepository) GetByResetToken(ctx context.Context, token string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE reset_password_token=$1`
	return r.scanOne(ctx, query, token)
}

// SetConfirmToken stores a fresh confirmation pair, overwriting any
// outstanding one (last write wins).
func (r *userRepository) SetConfirmToken(ctx context.Context, id, token string, expire time.Time) error {
	const query = `
        UPDATE users SET confirm_email_token=$1, confirm_email_expire=$2, updated_at=NOW()
        WHERE id=$3`
	return r.exec(ctx, query, token, expire, id)
}

// SetResetToken stores a fresh reset pair, overwriting any outstanding one.
func (r *userRepository) SetResetToken(ctx context.Context, id, token string, expire time.Time) error {
	const query = `
        UPDATE users SET reset_password_token=$1, reset_password_expire=$2, updated_at=NOW()
        WHERE id=$3`
	return r.exec(ctx, query, token, expire, id)
}

// ResetPassword replaces the password hash and consumes the reset pair.
// The WHERE clause re-matches the token, so a concurrent redemption that
// already cleared it leaves zero rows affected.
func (r *userRepository) ResetPassword(ctx context.Context, id, token, passwordHash string) error {
	const query = `
        UPDATE users SET password_hash=$1,
            reset_password_token=NULL, reset_password_expire=NULL, updated_at=NOW()
        WHERE id=$2 AND reset_password_token=$3`
	return r.exec(ctx, query, passwordHash, id, token)
}

// ConfirmEmail marks the account confirmed and consumes the confirmation
// pair, guarded by the token like ResetPassword.
func (r *userRepository) ConfirmEmail(ctx context.Context, id, token string) error {
	const query = `
        UPDATE users SET status=$1,
            confirm_email_token=NULL, confirm_email_expire=NULL, updated_at=NOW()
        WHERE id=$2 AND confirm_email_token=$3`
	return r.exec(ctx, query, domain.StatusConfirmed, id, token)
}

func (r *userRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) scanOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	var status string
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&status,
		&user.ConfirmEmailToken,
		&user.ConfirmEmailExpire,
		&user.ResetPasswordToken,
		&user.ResetPasswordExpire,
		&user.GithubUsername,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	user.Status = parsed
	return &user, nil
}
