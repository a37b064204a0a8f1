package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TTS job statuses. A job is immutable once terminal.
const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Voice kinds a job can reference.
const (
	VoiceKindClone  = "clone"
	VoiceKindGoogle = "google"
)

// TtsJob is one submitted synthesis job.
type TtsJob struct {
	ID             string     `json:"id"`
	UserID         string     `json:"-"`
	VoiceKind      string     `json:"voice_kind"`
	VoiceRef       string     `json:"voice_ref"`
	VoiceLabel     string     `json:"voice_label"`
	SourceKind     string     `json:"source_kind"`
	Language       string     `json:"language"`
	SegmentSize    int        `json:"segment_size"`
	CharacterCount int        `json:"character_count"`
	RowCount       *int       `json:"row_count,omitempty"`
	SourceText     string     `json:"-"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	AudioObjectKey *string    `json:"audio_object_key,omitempty"`
	CostCents      float64    `json:"cost_cents"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

const jobColumns = `id, user_id, voice_kind, voice_ref, voice_label, source_kind,
	language, segment_size, character_count, row_count, source_text, status,
	error_message, audio_object_key, cost_cents, created_at, completed_at`

func scanJob(row pgx.Row) (*TtsJob, error) {
	var j TtsJob
	err := row.Scan(
		&j.ID, &j.UserID, &j.VoiceKind, &j.VoiceRef, &j.VoiceLabel, &j.SourceKind,
		&j.Language, &j.SegmentSize, &j.CharacterCount, &j.RowCount, &j.SourceText,
		&j.Status, &j.ErrorMessage, &j.AudioObjectKey, &j.CostCents, &j.CreatedAt, &j.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// NewJob describes a job to insert.
type NewJob struct {
	UserID         string
	VoiceKind      string
	VoiceRef       string
	VoiceLabel     string
	SourceKind     string
	Language       string
	SegmentSize    int
	CharacterCount int
	RowCount       *int
	SourceText     string
}

// CreateJob inserts a job in processing status.
func (s *Store) CreateJob(ctx context.Context, n NewJob) (*TtsJob, error) {
	return scanJob(s.db.QueryRow(ctx, `
		INSERT INTO tts_jobs (id, user_id, voice_kind, voice_ref, voice_label,
			source_kind, language, segment_size, character_count, row_count, source_text, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+jobColumns+`
	`, uuid.NewString(), n.UserID, n.VoiceKind, n.VoiceRef, n.VoiceLabel,
		n.SourceKind, n.Language, n.SegmentSize, n.CharacterCount, n.RowCount,
		n.SourceText, JobStatusProcessing))
}

// ListJobs returns a user's job history, newest first.
func (s *Store) ListJobs(ctx context.Context, userID string, limit int) ([]TtsJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM tts_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []TtsJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// GetJob fetches one job scoped to its owner.
func (s *Store) GetJob(ctx context.Context, userID, id string) (*TtsJob, error) {
	return scanJob(s.db.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM tts_jobs
		WHERE id = $1 AND user_id = $2
	`, id, userID))
}

// ClaimProcessingJobs returns processing jobs for the runner, oldest first.
func (s *Store) ClaimProcessingJobs(ctx context.Context, limit int) ([]TtsJob, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM tts_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, JobStatusProcessing, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []TtsJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CompleteJob marks a processing job completed. The status guard keeps the
// transition monotonic: a terminal row is never rewritten.
func (s *Store) CompleteJob(ctx context.Context, id, audioObjectKey string, costCents float64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE tts_jobs
		SET status = $2, audio_object_key = $3, cost_cents = $4, completed_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, JobStatusCompleted, audioObjectKey, costCents, JobStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a processing job failed with a display message. Same
// monotonic guard as CompleteJob.
func (s *Store) FailJob(ctx context.Context, id, message string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE tts_jobs
		SET status = $2, error_message = $3, completed_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, JobStatusFailed, message, JobStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
