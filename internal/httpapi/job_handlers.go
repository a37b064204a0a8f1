package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/minhph/voicestudio/internal/catalog"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/source"
	"github.com/minhph/voicestudio/internal/store"
)

// Segment size bounds. Values outside the range are clamped, not rejected,
// so older dashboard builds with stale defaults keep working.
const (
	minSegmentSize     = 100
	maxSegmentSize     = 300
	defaultSegmentSize = 200
)

func clampSegmentSize(n int) int {
	if n <= 0 {
		return defaultSegmentSize
	}
	if n < minSegmentSize {
		return minSegmentSize
	}
	if n > maxSegmentSize {
		return maxSegmentSize
	}
	return n
}

// jobForm carries a validated job submission.
type jobForm struct {
	voiceKind   string
	voiceRef    string
	voiceLabel  string
	sourceKind  source.Kind
	language    string
	segmentSize int
	content     source.Content
}

// parseJobForm validates a submission in a fixed order: source material
// first, then voice selection, then sizing. The first failing rule produces
// the response.
func (r *Router) parseJobForm(req *http.Request) (*jobForm, string, error) {
	if err := req.ParseMultipartForm(8 << 20); err != nil {
		return nil, "invalid multipart form", err
	}

	form := &jobForm{
		voiceKind: strings.TrimSpace(req.FormValue("voice_kind")),
		voiceRef:  strings.TrimSpace(req.FormValue("voice_ref")),
		language:  strings.TrimSpace(req.FormValue("language")),
	}

	form.sourceKind = source.Kind(strings.TrimSpace(req.FormValue("source_kind")))
	if form.sourceKind == "" {
		form.sourceKind = source.KindText
	}
	if !source.ValidKind(form.sourceKind) {
		return nil, fmt.Sprintf("unknown source_kind %q", form.sourceKind), nil
	}

	var content source.Content
	var err error
	switch form.sourceKind {
	case source.KindText:
		content, err = source.FromText(req.FormValue("text"))
	default:
		file, _, ferr := req.FormFile("file")
		if ferr != nil {
			return nil, "source file is required", nil
		}
		defer file.Close()
		if form.sourceKind == source.KindExcel {
			content, err = source.FromExcel(file)
		} else {
			content, err = source.FromTxt(file)
		}
	}
	if err != nil {
		return nil, "source contains no text", nil
	}
	form.content = content

	switch form.voiceKind {
	case store.VoiceKindClone, store.VoiceKindGoogle:
	case "":
		return nil, "voice_kind is required", nil
	default:
		return nil, fmt.Sprintf("unknown voice_kind %q", form.voiceKind), nil
	}
	if form.voiceRef == "" {
		return nil, "voice_ref is required", nil
	}

	sess := getSession(req.Context())
	switch form.voiceKind {
	case store.VoiceKindClone:
		rec, err := r.store.GetClone(req.Context(), sess.UserID, form.voiceRef)
		if err == store.ErrNotFound {
			return nil, "voice clone not found", nil
		}
		if err != nil {
			return nil, "", err
		}
		if rec.Status != store.CloneStatusReady {
			return nil, "voice clone is not ready yet", nil
		}
		// VoiceRef keeps the clone row id; the runner resolves the provider
		// voice id at synthesis time, after ownership re-checks.
		form.voiceLabel = rec.Name
	case store.VoiceKindGoogle:
		if form.language == "" {
			return nil, "language is required for catalog voices", nil
		}
		creds, scope := r.credentialsFor(sess)
		snap := r.catalogs.loaderFor(scope, creds).Ensure(req.Context())
		if snap.State != catalog.StateLoaded {
			return nil, "voice catalog is unavailable; configure a google api key first", nil
		}
		if !catalogHasVoice(snap.Voices, form.voiceRef) {
			return nil, fmt.Sprintf("unknown voice %q", form.voiceRef), nil
		}
		form.voiceLabel = form.voiceRef
	}

	size, _ := strconv.Atoi(req.FormValue("segment_size"))
	form.segmentSize = clampSegmentSize(size)

	return form, "", nil
}

func catalogHasVoice(voices []catalog.Voice, name string) bool {
	for _, v := range voices {
		if v.Name == name {
			return true
		}
	}
	return false
}

// handleCreateJob validates a submission, checks the character quota and
// inserts the job as processing. Synthesis happens in the background runner.
func (r *Router) handleCreateJob(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())

	form, msg, err := r.parseJobForm(req)
	if err != nil {
		captureError(req, err, "create job: parse form")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}
	if user.CharacterCount+int64(form.content.CharacterCount) > user.CharacterLimit {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": fmt.Sprintf("character quota exceeded (%d of %d used)",
				user.CharacterCount, user.CharacterLimit),
			"code": "quota_exceeded",
		})
		return
	}

	n := store.NewJob{
		UserID:         sess.UserID,
		VoiceKind:      form.voiceKind,
		VoiceRef:       form.voiceRef,
		VoiceLabel:     form.voiceLabel,
		SourceKind:     string(form.sourceKind),
		Language:       form.language,
		SegmentSize:    form.segmentSize,
		CharacterCount: form.content.CharacterCount,
		SourceText:     strings.Join(form.content.Rows, "\n"),
	}
	if form.sourceKind != source.KindText {
		rows := form.content.RowCount()
		n.RowCount = &rows
	}

	job, err := r.store.CreateJob(req.Context(), n)
	if err != nil {
		captureError(req, err, "create job: insert")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.eventLog.LogAsync(sess.UserID, eventlog.EventJobSubmitted, map[string]any{
		"job_id":          job.ID,
		"voice_kind":      job.VoiceKind,
		"character_count": job.CharacterCount,
	})
	if r.jobEvents != nil {
		r.jobEvents.PublishJobStatus(sess.UserID, job)
	}

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs returns the caller's jobs, newest first.
func (r *Router) handleListJobs(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())

	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := r.store.ListJobs(req.Context(), sess.UserID, limit)
	if err != nil {
		captureError(req, err, "list jobs")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleGetJob returns one job by ID.
func (r *Router) handleGetJob(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	job, err := r.store.GetJob(req.Context(), sess.UserID, req.PathValue("id"))
	if err == store.ErrNotFound {
		http.Error(w, `{"error": "job not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		captureError(req, err, "get job")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobAudio streams the synthesized audio for a completed job.
func (r *Router) handleJobAudio(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	job, err := r.store.GetJob(req.Context(), sess.UserID, req.PathValue("id"))
	if err == store.ErrNotFound {
		http.Error(w, `{"error": "job not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		captureError(req, err, "job audio: get job")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if job.Status != store.JobStatusCompleted || job.AudioObjectKey == nil {
		http.Error(w, `{"error": "no audio available for this job"}`, http.StatusNotFound)
		return
	}
	if r.objects == nil {
		http.Error(w, `{"error": "audio storage not configured"}`, http.StatusNotFound)
		return
	}

	rc, size, err := r.objects.Get(req.Context(), *job.AudioObjectKey)
	if err != nil {
		captureError(req, err, "job audio: fetch object")
		http.Error(w, `{"error": "failed to read audio"}`, http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "tts-"+job.ID+".mp3"))
	if _, err := io.Copy(w, rc); err != nil {
		r.logger.Printf("job audio stream interrupted for %s: %v", job.ID, err)
	}
}
