package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of audit event
type EventType string

const (
	EventCredentialUpdated EventType = "credential_updated"
	EventCatalogFetched    EventType = "catalog_fetched"
	EventCatalogFailed     EventType = "catalog_failed"
	EventCloneCreated      EventType = "clone_created"
	EventCloneReady        EventType = "clone_ready"
	EventCloneFailed       EventType = "clone_failed"
	EventCloneDeleted      EventType = "clone_deleted"
	EventJobSubmitted      EventType = "job_submitted"
	EventJobCompleted      EventType = "job_completed"
	EventJobFailed         EventType = "job_failed"
	EventPlanChanged       EventType = "plan_changed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, userID string, eventType EventType, data map[string]any) error {
	if l.db == nil {
		return nil // Silently skip if no DB
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO audit_events (user_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, nullable(userID), string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(userID string, eventType EventType, data map[string]any) {
	if l.db == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, userID, eventType, data)
	}()
}

// nullable converts an empty user id (device mode) to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
