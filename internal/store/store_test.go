package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func testEmail() string {
	return fmt.Sprintf("test-%s@example.com", uuid.NewString()[:8])
}

func TestUserOperations(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	email := testEmail()

	user, err := s.CreateUser(ctx, email, "hashed-password")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == "" {
		t.Error("user ID should not be empty")
	}
	if user.Plan != PlanFree {
		t.Errorf("new user plan = %q, want %q", user.Plan, PlanFree)
	}
	if user.VoiceCloneLimit != PlanQuotas[PlanFree].VoiceCloneLimit {
		t.Errorf("voice clone limit = %d, want %d", user.VoiceCloneLimit, PlanQuotas[PlanFree].VoiceCloneLimit)
	}

	// Duplicate email is a conflict
	if _, err := s.CreateUser(ctx, email, "other-hash"); err != ErrConflict {
		t.Errorf("duplicate CreateUser err = %v, want ErrConflict", err)
	}

	got, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("GetUserByEmail returned wrong user")
	}

	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); err != ErrNotFound {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}

	// Display name starts unset and is updatable
	if got.Name != nil {
		t.Errorf("new user name = %v, want unset", *got.Name)
	}
	if err := s.UpdateUserName(ctx, user.ID, "Alice"); err != nil {
		t.Fatalf("UpdateUserName failed: %v", err)
	}
	got, _ = s.GetUserByID(ctx, user.ID)
	if got.Name == nil || *got.Name != "Alice" {
		t.Errorf("name after update = %v, want Alice", got.Name)
	}

	// Plan upgrade updates the quota columns
	if err := s.SetUserPlan(ctx, user.ID, PlanPro); err != nil {
		t.Fatalf("SetUserPlan failed: %v", err)
	}
	got, _ = s.GetUserByID(ctx, user.ID)
	if got.Plan != PlanPro || got.CharacterLimit != PlanQuotas[PlanPro].CharacterLimit {
		t.Errorf("after upgrade: plan=%q limit=%d", got.Plan, got.CharacterLimit)
	}

	if err := s.AddCharacterUsage(ctx, user.ID, 1234); err != nil {
		t.Fatalf("AddCharacterUsage failed: %v", err)
	}
	got, _ = s.GetUserByID(ctx, user.ID)
	if got.CharacterCount != 1234 {
		t.Errorf("character count = %d, want 1234", got.CharacterCount)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, testEmail(), "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	hash := "token-hash-" + uuid.NewString()
	if err := s.CreateSession(ctx, user.ID, hash, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	valid, err := s.IsSessionValid(ctx, hash)
	if err != nil || !valid {
		t.Fatalf("IsSessionValid = %v, %v; want true", valid, err)
	}

	if err := s.RevokeSession(ctx, hash); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	valid, _ = s.IsSessionValid(ctx, hash)
	if valid {
		t.Error("revoked session still valid")
	}

	// Expired sessions are invalid
	expired := "token-hash-" + uuid.NewString()
	if err := s.CreateSession(ctx, user.ID, expired, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	valid, _ = s.IsSessionValid(ctx, expired)
	if valid {
		t.Error("expired session still valid")
	}
}

func TestCredentialUpsert(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, testEmail(), "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	_, ok, err := s.GetCredential(ctx, user.ID, "google")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if ok {
		t.Error("credential reported present before any write")
	}

	if err := s.UpsertCredential(ctx, user.ID, "google", "key-one"); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}
	key, ok, _ := s.GetCredential(ctx, user.ID, "google")
	if !ok || key != "key-one" {
		t.Errorf("GetCredential = %q, %v", key, ok)
	}

	// Second write replaces, not duplicates
	if err := s.UpsertCredential(ctx, user.ID, "google", "key-two"); err != nil {
		t.Fatalf("second UpsertCredential failed: %v", err)
	}
	key, _, _ = s.GetCredential(ctx, user.ID, "google")
	if key != "key-two" {
		t.Errorf("after upsert: key = %q, want key-two", key)
	}

	creds, err := s.ListCredentials(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(creds) != 1 || creds[0].Provider != "google" {
		t.Errorf("ListCredentials = %+v", creds)
	}
}

func TestCloneLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, testEmail(), "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	c, err := s.CreateClone(ctx, user.ID, "prov-voice-1", "My Voice", nil, nil)
	if err != nil {
		t.Fatalf("CreateClone failed: %v", err)
	}
	if c.Status != CloneStatusProcessing {
		t.Errorf("new clone status = %q, want processing", c.Status)
	}

	// Duplicate name for the same user is a conflict
	if _, err := s.CreateClone(ctx, user.ID, "prov-voice-2", "My Voice", nil, nil); err != ErrConflict {
		t.Errorf("duplicate name err = %v, want ErrConflict", err)
	}

	if err := s.UpdateCloneStatus(ctx, c.ID, CloneStatusReady); err != nil {
		t.Fatalf("UpdateCloneStatus failed: %v", err)
	}
	got, err := s.GetClone(ctx, user.ID, c.ID)
	if err != nil {
		t.Fatalf("GetClone failed: %v", err)
	}
	if got.Status != CloneStatusReady {
		t.Errorf("clone status = %q, want ready", got.Status)
	}

	// Status updates only apply from processing; ready stays ready.
	if err := s.UpdateCloneStatus(ctx, c.ID, CloneStatusError); err != ErrNotFound {
		t.Errorf("UpdateCloneStatus on ready clone err = %v, want ErrNotFound", err)
	}

	// Other users cannot see the clone
	other, _ := s.CreateUser(ctx, testEmail(), "hash")
	if _, err := s.GetClone(ctx, other.ID, c.ID); err != ErrNotFound {
		t.Errorf("cross-user GetClone err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteClone(ctx, user.ID, c.ID); err != nil {
		t.Fatalf("DeleteClone failed: %v", err)
	}
	if _, err := s.GetClone(ctx, user.ID, c.ID); err != ErrNotFound {
		t.Errorf("deleted clone err = %v, want ErrNotFound", err)
	}
}

func TestJobStatusIsMonotonic(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, testEmail(), "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	job, err := s.CreateJob(ctx, NewJob{
		UserID:         user.ID,
		VoiceKind:      VoiceKindGoogle,
		VoiceRef:       "en-US-Wavenet-A",
		VoiceLabel:     "en-US-Wavenet-A",
		SourceKind:     "text",
		Language:       "en-US",
		SegmentSize:    200,
		CharacterCount: 11,
		SourceText:     "hello world",
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.Status != JobStatusProcessing {
		t.Errorf("new job status = %q, want processing", job.Status)
	}

	if err := s.CompleteJob(ctx, job.ID, "jobs/x/output.mp3", 1.5); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	got, err := s.GetJob(ctx, user.ID, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != JobStatusCompleted || got.CompletedAt == nil {
		t.Errorf("job = status %q, completed_at %v", got.Status, got.CompletedAt)
	}
	if got.CostCents != 1.5 {
		t.Errorf("cost = %v, want 1.5", got.CostCents)
	}

	// A terminal job cannot transition again.
	if err := s.FailJob(ctx, job.ID, "late failure"); err != ErrNotFound {
		t.Errorf("FailJob on completed job err = %v, want ErrNotFound", err)
	}
	if err := s.CompleteJob(ctx, job.ID, "other-key", 9); err != ErrNotFound {
		t.Errorf("second CompleteJob err = %v, want ErrNotFound", err)
	}
	got, _ = s.GetJob(ctx, user.ID, job.ID)
	if got.Status != JobStatusCompleted || *got.AudioObjectKey != "jobs/x/output.mp3" {
		t.Errorf("terminal job mutated: %+v", got)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, testEmail(), "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := s.CreateJob(ctx, NewJob{
			UserID:         user.ID,
			VoiceKind:      VoiceKindGoogle,
			VoiceRef:       "v",
			VoiceLabel:     "v",
			SourceKind:     "text",
			Language:       "en-US",
			SegmentSize:    200,
			CharacterCount: 1,
			SourceText:     "x",
		})
		if err != nil {
			t.Fatalf("CreateJob %d failed: %v", i, err)
		}
	}

	jobs, err := s.ListJobs(ctx, user.ID, 2)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("ListJobs returned %d jobs, want limit 2", len(jobs))
	}
	if len(jobs) == 2 && jobs[0].CreatedAt.Before(jobs[1].CreatedAt) {
		t.Error("jobs not ordered newest first")
	}
}
