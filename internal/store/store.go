package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors shared by all store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Plan names and their default quotas.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// PlanQuota holds the limits attached to a plan.
type PlanQuota struct {
	VoiceCloneLimit int
	CharacterLimit  int64
}

// PlanQuotas maps plans to their limits.
var PlanQuotas = map[string]PlanQuota{
	PlanFree:       {VoiceCloneLimit: 3, CharacterLimit: 100_000},
	PlanPro:        {VoiceCloneLimit: 30, CharacterLimit: 1_000_000},
	PlanEnterprise: {VoiceCloneLimit: 100, CharacterLimit: 10_000_000},
}

// User represents an authenticated account.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Name             *string   `json:"name,omitempty"`
	Plan             string    `json:"plan"`
	VoiceCloneLimit  int       `json:"voice_clone_limit"`
	CharacterLimit   int64     `json:"character_limit"`
	CharacterCount   int64     `json:"character_count"`
	StripeCustomerID *string   `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const userColumns = `id, email, password_hash, name, plan, voice_clone_limit,
	character_limit, character_count, stripe_customer_id, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Plan, &u.VoiceCloneLimit,
		&u.CharacterLimit, &u.CharacterCount, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account on the free plan.
// Returns ErrConflict when the email is already registered.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	quota := PlanQuotas[PlanFree]
	u, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, plan, voice_clone_limit, character_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns+`
	`, uuid.NewString(), email, passwordHash, PlanFree, quota.VoiceCloneLimit, quota.CharacterLimit))
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1
	`, email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
}

// UpdateUserName sets the display name.
func (s *Store) UpdateUserName(ctx context.Context, userID, name string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET name = $2, updated_at = NOW() WHERE id = $1
	`, userID, name)
	return err
}

// SetUserPlan switches a user's plan and applies the plan's quotas.
func (s *Store) SetUserPlan(ctx context.Context, userID, plan string) error {
	quota, ok := PlanQuotas[plan]
	if !ok {
		return errors.New("unknown plan " + plan)
	}
	_, err := s.db.Exec(ctx, `
		UPDATE users
		SET plan = $2, voice_clone_limit = $3, character_limit = $4, updated_at = NOW()
		WHERE id = $1
	`, userID, plan, quota.VoiceCloneLimit, quota.CharacterLimit)
	return err
}

// SetStripeCustomerID records the Stripe customer for billing webhooks.
func (s *Store) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, customerID)
	return err
}

// GetUserByStripeCustomerID resolves a webhook's customer to a user.
func (s *Store) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	return scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1
	`, customerID))
}

// AddCharacterUsage adds n to the user's cumulative character counter.
func (s *Store) AddCharacterUsage(ctx context.Context, userID string, n int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET character_count = character_count + $2, updated_at = NOW()
		WHERE id = $1
	`, userID, n)
	return err
}

// UserSession represents a JWT session for logout/invalidation.
type UserSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateSession records a new JWT session.
func (s *Store) CreateSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), userID, tokenHash, expiresAt)
	return err
}

// RevokeSession marks a session as revoked (logout).
func (s *Store) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE user_sessions SET revoked_at = NOW()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash)
	return err
}

// IsSessionValid checks whether a session exists, is unexpired, and not revoked.
func (s *Store) IsSessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_sessions
			WHERE token_hash = $1 AND expires_at > NOW() AND revoked_at IS NULL
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}
