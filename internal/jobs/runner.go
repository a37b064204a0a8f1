// Package jobs executes submitted TTS jobs and polls clone training status
// in the background. Submission handlers never block on synthesis; they
// insert a processing row and the runner picks it up on the next tick.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/minhph/voicestudio/internal/clone"
	"github.com/minhph/voicestudio/internal/costs"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/notifications"
	"github.com/minhph/voicestudio/internal/objstore"
	"github.com/minhph/voicestudio/internal/source"
	"github.com/minhph/voicestudio/internal/store"
	"github.com/minhph/voicestudio/internal/tts"
)

// ClientFactory builds a synthesis client for one user and voice kind. The
// client resolves the user's own provider key, so the runner never handles
// raw credentials.
type ClientFactory func(userID, voiceKind string) tts.Client

// CloneAPI is the subset of the provider clone API the poller needs.
type CloneAPI interface {
	GetVoice(ctx context.Context, voiceID string) (*clone.VoiceInfo, error)
}

// CloneAPIFactory builds a clone API client scoped to one user's credentials.
type CloneAPIFactory func(userID string) CloneAPI

// StatusPublisher pushes job status changes to connected dashboard clients.
type StatusPublisher interface {
	PublishJobStatus(userID string, job *store.TtsJob)
}

// Runner drains processing TTS jobs and updates processing clones.
type Runner struct {
	store     *store.Store
	objects   *objstore.Store
	eventLog  *eventlog.Logger
	discord   *notifications.Discord
	publisher StatusPublisher
	clients   ClientFactory
	cloneAPI  CloneAPIFactory
	logger    *log.Logger
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRunner creates the background runner. objects may be nil, in which case
// synthesized audio is discarded after accounting (useful in tests).
func NewRunner(s *store.Store, objects *objstore.Store, el *eventlog.Logger, discord *notifications.Discord,
	publisher StatusPublisher, clients ClientFactory, cloneAPI CloneAPIFactory,
	logger *log.Logger, interval time.Duration) *Runner {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		store:     s,
		objects:   objects,
		eventLog:  el,
		discord:   discord,
		publisher: publisher,
		clients:   clients,
		cloneAPI:  cloneAPI,
		logger:    logger,
		interval:  interval,
		batchSize: 10,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Printf("jobs: runner started (interval=%v)", r.interval)
}

// Stop gracefully stops the loop, waiting for the in-progress tick.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Println("jobs: runner stopped")
}

func (r *Runner) run() {
	defer r.wg.Done()

	// Run immediately on start
	r.processAll()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processAll()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runner) processAll() {
	ctx := context.Background()
	r.processJobs(ctx)
	r.pollClones(ctx)
}

func (r *Runner) processJobs(ctx context.Context) {
	jobs, err := r.store.ClaimProcessingJobs(ctx, r.batchSize)
	if err != nil {
		r.logger.Printf("jobs: failed to list processing jobs: %v", err)
		return
	}
	for i := range jobs {
		r.processJob(ctx, &jobs[i])
	}
}

// ProcessJob synthesizes one job end to end. Exported for tests.
func (r *Runner) ProcessJob(ctx context.Context, job *store.TtsJob) {
	r.processJob(ctx, job)
}

func (r *Runner) processJob(ctx context.Context, job *store.TtsJob) {
	voiceName := job.VoiceRef
	language := job.Language
	var cloneID string

	if job.VoiceKind == store.VoiceKindClone {
		c, err := r.store.GetClone(ctx, job.UserID, job.VoiceRef)
		if err != nil {
			r.fail(ctx, job, "voice clone no longer exists")
			return
		}
		if c.Status != store.CloneStatusReady {
			// Leave the job queued until the clone finishes training.
			return
		}
		voiceName = c.ProviderVoiceID
		cloneID = c.ID
	}

	rows := splitRows(job.SourceText)
	segments := source.SegmentAll(rows, job.SegmentSize)
	if len(segments) == 0 {
		r.fail(ctx, job, "no content to synthesize")
		return
	}

	client := r.clients(job.UserID, job.VoiceKind)

	synthCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var audio bytes.Buffer
	for _, seg := range segments {
		data, err := client.Synthesize(synthCtx, tts.SynthesizeRequest{
			Text:         seg,
			VoiceName:    voiceName,
			LanguageCode: language,
		})
		if err != nil {
			r.logger.Printf("jobs: job %s synthesis failed: %v", job.ID, err)
			r.fail(ctx, job, fmt.Sprintf("synthesis failed: %v", err))
			return
		}
		audio.Write(data)
	}

	objectKey := fmt.Sprintf("jobs/%s/output.mp3", job.ID)
	if r.objects != nil {
		if err := r.objects.Put(ctx, objectKey, &audio, int64(audio.Len()), "audio/mpeg"); err != nil {
			r.fail(ctx, job, fmt.Sprintf("failed to store audio: %v", err))
			return
		}
	}

	cost := costs.JobCents(job.VoiceKind, job.CharacterCount)
	if err := r.store.CompleteJob(ctx, job.ID, objectKey, cost); err != nil {
		// Already terminal (e.g. concurrent runner); nothing to do.
		r.logger.Printf("jobs: job %s not completed: %v", job.ID, err)
		return
	}
	if err := r.store.AddCharacterUsage(ctx, job.UserID, int64(job.CharacterCount)); err != nil {
		r.logger.Printf("jobs: failed to record usage for job %s: %v", job.ID, err)
	}
	if cloneID != "" {
		if err := r.store.AddCloneUsage(ctx, cloneID, int64(job.CharacterCount)); err != nil {
			r.logger.Printf("jobs: failed to record clone usage for job %s: %v", job.ID, err)
		}
	}

	r.eventLog.LogAsync(job.UserID, eventlog.EventJobCompleted, map[string]any{
		"job_id":     job.ID,
		"characters": job.CharacterCount,
		"cost_cents": cost,
	})
	r.discord.NotifyJobCompleted(ctx, job.ID, job.CharacterCount)
	r.publish(ctx, job.UserID, job.ID)
}

func (r *Runner) fail(ctx context.Context, job *store.TtsJob, message string) {
	if err := r.store.FailJob(ctx, job.ID, message); err != nil {
		r.logger.Printf("jobs: failed to mark job %s failed: %v", job.ID, err)
		return
	}
	r.eventLog.LogAsync(job.UserID, eventlog.EventJobFailed, map[string]any{
		"job_id": job.ID,
		"reason": message,
	})
	r.discord.NotifyJobFailed(ctx, job.ID, message)
	r.publish(ctx, job.UserID, job.ID)
}

// publish refetches the job so subscribers see the stored terminal state.
func (r *Runner) publish(ctx context.Context, userID, jobID string) {
	if r.publisher == nil {
		return
	}
	job, err := r.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return
	}
	r.publisher.PublishJobStatus(userID, job)
}

func (r *Runner) pollClones(ctx context.Context) {
	clones, err := r.store.ListProcessingClones(ctx, r.batchSize)
	if err != nil {
		r.logger.Printf("jobs: failed to list processing clones: %v", err)
		return
	}
	for _, c := range clones {
		api := r.cloneAPI(c.UserID)
		info, err := api.GetVoice(ctx, c.ProviderVoiceID)
		if reason, failed := cloneFailure(info, err); failed {
			r.failClone(ctx, &c, reason)
			continue
		}
		if err != nil {
			// Transient; retry on the next tick.
			r.logger.Printf("jobs: clone %s status poll failed: %v", c.ID, err)
			continue
		}
		if !info.Ready() {
			continue
		}
		if err := r.store.UpdateCloneStatus(ctx, c.ID, store.CloneStatusReady); err != nil {
			r.logger.Printf("jobs: failed to mark clone %s ready: %v", c.ID, err)
			continue
		}
		r.eventLog.LogAsync(c.UserID, eventlog.EventCloneReady, map[string]any{
			"clone_id": c.ID,
			"name":     c.Name,
		})
	}
}

// cloneFailure classifies a poll result as a terminal training failure.
// Transient errors (network, rate limits) are not terminal; the poller
// retries those.
func cloneFailure(info *clone.VoiceInfo, err error) (string, bool) {
	if errors.Is(err, clone.ErrVoiceNotFound) {
		return "voice no longer exists on the provider", true
	}
	if err != nil {
		return "", false
	}
	if info.Failed() {
		return "fine tuning failed on the provider", true
	}
	return "", false
}

func (r *Runner) failClone(ctx context.Context, c *store.VoiceClone, reason string) {
	if err := r.store.UpdateCloneStatus(ctx, c.ID, store.CloneStatusError); err != nil {
		r.logger.Printf("jobs: failed to mark clone %s errored: %v", c.ID, err)
		return
	}
	r.eventLog.LogAsync(c.UserID, eventlog.EventCloneFailed, map[string]any{
		"clone_id": c.ID,
		"name":     c.Name,
		"reason":   reason,
	})
	r.logger.Printf("jobs: clone %s marked errored: %s", c.ID, reason)
}

func splitRows(text string) []string {
	var rows []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			rows = append(rows, line)
		}
	}
	return rows
}
