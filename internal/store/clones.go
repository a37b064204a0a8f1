package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Voice clone statuses.
const (
	CloneStatusProcessing = "processing"
	CloneStatusReady      = "ready"
	CloneStatusError      = "error"
)

// VoiceClone is a user-owned cloned voice record.
type VoiceClone struct {
	ID              string    `json:"id"`
	UserID          string    `json:"-"`
	ProviderVoiceID string    `json:"provider_voice_id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	Status          string    `json:"status"`
	CharacterUsage  int64     `json:"character_usage"`
	SampleObjectKey *string   `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

const cloneColumns = `id, user_id, provider_voice_id, name, description, status,
	character_usage, sample_object_key, created_at`

func scanClone(row pgx.Row) (*VoiceClone, error) {
	var c VoiceClone
	err := row.Scan(
		&c.ID, &c.UserID, &c.ProviderVoiceID, &c.Name, &c.Description, &c.Status,
		&c.CharacterUsage, &c.SampleObjectKey, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateClone inserts a clone record in processing status.
// Returns ErrConflict when the user already has a clone with that name.
func (s *Store) CreateClone(ctx context.Context, userID, providerVoiceID, name string, description, sampleObjectKey *string) (*VoiceClone, error) {
	c, err := scanClone(s.db.QueryRow(ctx, `
		INSERT INTO voice_clones (id, user_id, provider_voice_id, name, description, status, sample_object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+cloneColumns+`
	`, uuid.NewString(), userID, providerVoiceID, name, description, CloneStatusProcessing, sampleObjectKey))
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return c, err
}

// ListClones returns a user's clones, newest first.
func (s *Store) ListClones(ctx context.Context, userID string) ([]VoiceClone, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+cloneColumns+` FROM voice_clones
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clones []VoiceClone
	for rows.Next() {
		c, err := scanClone(rows)
		if err != nil {
			return nil, err
		}
		clones = append(clones, *c)
	}
	return clones, rows.Err()
}

// GetClone fetches one clone, scoped to the owner. ErrNotFound covers both a
// missing row and a row owned by someone else.
func (s *Store) GetClone(ctx context.Context, userID, id string) (*VoiceClone, error) {
	return scanClone(s.db.QueryRow(ctx, `
		SELECT `+cloneColumns+` FROM voice_clones
		WHERE id = $1 AND user_id = $2
	`, id, userID))
}

// CountClones returns the number of clones a user owns.
func (s *Store) CountClones(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM voice_clones WHERE user_id = $1
	`, userID).Scan(&n)
	return n, err
}

// RenameClone updates the clone name. Returns ErrConflict on a duplicate name
// and ErrNotFound when the clone does not belong to the user.
func (s *Store) RenameClone(ctx context.Context, userID, id, name string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE voice_clones SET name = $3 WHERE id = $1 AND user_id = $2
	`, id, userID, name)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClone removes a clone owned by the user.
func (s *Store) DeleteClone(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM voice_clones WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCloneStatus moves a clone between processing/ready/error. Only
// processing clones transition; terminal states stay put.
func (s *Store) UpdateCloneStatus(ctx context.Context, id, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE voice_clones SET status = $2
		WHERE id = $1 AND status = $3
	`, id, status, CloneStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProcessingClones returns clones still awaiting provider training,
// oldest first, for the status poller.
func (s *Store) ListProcessingClones(ctx context.Context, limit int) ([]VoiceClone, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+cloneColumns+` FROM voice_clones
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, CloneStatusProcessing, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clones []VoiceClone
	for rows.Next() {
		c, err := scanClone(rows)
		if err != nil {
			return nil, err
		}
		clones = append(clones, *c)
	}
	return clones, rows.Err()
}

// AddCloneUsage adds n to a clone's cumulative character counter.
func (s *Store) AddCloneUsage(ctx context.Context, id string, n int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE voice_clones SET character_usage = character_usage + $2 WHERE id = $1
	`, id, n)
	return err
}
