package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Credential is a stored provider API key. Exactly one row exists per
// (user, provider) pair; saves overwrite in place.
type Credential struct {
	Provider  string    `json:"provider"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertCredential saves a provider key for a user, overwriting any previous
// value. Keyed on the (user_id, provider) unique constraint so repeated saves
// never duplicate.
func (s *Store) UpsertCredential(ctx context.Context, userID, provider, apiKey string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO provider_credentials (id, user_id, provider, api_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET api_key = EXCLUDED.api_key, updated_at = NOW()
	`, uuid.NewString(), userID, provider, apiKey)
	return err
}

// GetCredential reads a user's key for a provider. Absence is ok=false, not
// an error.
func (s *Store) GetCredential(ctx context.Context, userID, provider string) (string, bool, error) {
	var key string
	err := s.db.QueryRow(ctx, `
		SELECT api_key FROM provider_credentials
		WHERE user_id = $1 AND provider = $2
	`, userID, provider).Scan(&key)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, key != "", nil
}

// ListCredentials returns which providers a user has keys for, without the
// key material itself.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]Credential, error) {
	rows, err := s.db.Query(ctx, `
		SELECT provider, updated_at FROM provider_credentials
		WHERE user_id = $1
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.Provider, &c.UpdatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// UserCredentialStore adapts the per-user credential rows to the
// credentials.Store interface so catalog and provider clients never see a
// user id.
type UserCredentialStore struct {
	store  *Store
	userID string
}

// CredentialStore returns the credential store adapter scoped to userID.
func (s *Store) CredentialStore(userID string) *UserCredentialStore {
	return &UserCredentialStore{store: s, userID: userID}
}

func (u *UserCredentialStore) Get(ctx context.Context, provider string) (string, bool, error) {
	return u.store.GetCredential(ctx, u.userID, provider)
}

func (u *UserCredentialStore) Set(ctx context.Context, provider, key string) error {
	return u.store.UpsertCredential(ctx, u.userID, provider, key)
}
