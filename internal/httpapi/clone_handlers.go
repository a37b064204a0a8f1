package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minhph/voicestudio/internal/clone"
	"github.com/minhph/voicestudio/internal/credentials"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/store"
)

// handleCreateClone accepts a multipart form with a voice name and an audio
// sample, registers the voice with ElevenLabs and records it as processing.
// Readiness is confirmed later by the background poller.
func (r *Router) handleCreateClone(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	creds := r.store.CredentialStore(sess.UserID)

	_, hasKey, err := creds.Get(req.Context(), credentials.ProviderElevenLabs)
	if err != nil {
		captureError(req, err, "create clone: read credential")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if !hasKey {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "no elevenlabs api key configured",
			"code":  "missing_key",
		})
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, clone.MaxSampleBytes+1<<20)
	if err := req.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	name := strings.TrimSpace(req.FormValue("name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	description := strings.TrimSpace(req.FormValue("description"))

	file, header, err := req.FormFile("sample")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio sample is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !clone.AllowedSampleTypes[contentType] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported audio type %q", contentType),
		})
		return
	}
	if header.Size > clone.MaxSampleBytes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio sample exceeds 50 MiB"})
		return
	}

	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}
	count, err := r.store.CountClones(req.Context(), sess.UserID)
	if err != nil {
		captureError(req, err, "create clone: count")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if count >= user.VoiceCloneLimit {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": fmt.Sprintf("voice clone limit reached (%d)", user.VoiceCloneLimit),
			"code":  "quota_exceeded",
		})
		return
	}

	sample, err := io.ReadAll(io.LimitReader(file, clone.MaxSampleBytes))
	if err != nil {
		captureError(req, err, "create clone: read sample")
		http.Error(w, `{"error": "failed to read sample"}`, http.StatusInternalServerError)
		return
	}

	providerVoiceID, err := r.cloneAPI(creds).CreateVoice(req.Context(), name, description,
		header.Filename, bytes.NewReader(sample))
	if err != nil {
		captureError(req, err, "create clone: provider")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "voice provider rejected the request",
			"code":  "upstream_error",
		})
		return
	}

	var sampleKey *string
	if r.objects != nil {
		key := "clones/" + providerVoiceID + "/sample" + path.Ext(header.Filename)
		if err := r.objects.Put(req.Context(), key, bytes.NewReader(sample),
			int64(len(sample)), contentType); err != nil {
			captureError(req, err, "create clone: store sample")
		} else {
			sampleKey = &key
		}
	}

	var desc *string
	if description != "" {
		desc = &description
	}
	rec, err := r.store.CreateClone(req.Context(), sess.UserID, providerVoiceID, name, desc, sampleKey)
	if err == store.ErrConflict {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a voice with that name already exists"})
		return
	}
	if err != nil {
		captureError(req, err, "create clone: insert")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.eventLog.LogAsync(sess.UserID, eventlog.EventCloneCreated, map[string]any{
		"clone_id": rec.ID,
		"name":     rec.Name,
	})

	writeJSON(w, http.StatusCreated, rec)
}

// handleListClones returns the caller's voice clones.
func (r *Router) handleListClones(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	clones, err := r.store.ListClones(req.Context(), sess.UserID)
	if err != nil {
		captureError(req, err, "list clones")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clones": clones})
}

// handleRenameClone updates a clone's display name.
func (r *Router) handleRenameClone(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	id := req.PathValue("id")

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	err := r.store.RenameClone(req.Context(), sess.UserID, id, body.Name)
	if err == store.ErrNotFound {
		http.Error(w, `{"error": "clone not found"}`, http.StatusNotFound)
		return
	}
	if err == store.ErrConflict {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a voice with that name already exists"})
		return
	}
	if err != nil {
		captureError(req, err, "rename clone")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteClone removes the clone locally and best-effort at the
// provider. A provider failure does not block the local delete.
func (r *Router) handleDeleteClone(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	id := req.PathValue("id")

	rec, err := r.store.GetClone(req.Context(), sess.UserID, id)
	if err == store.ErrNotFound {
		http.Error(w, `{"error": "clone not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		captureError(req, err, "delete clone: get")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	creds := r.store.CredentialStore(sess.UserID)
	if err := r.cloneAPI(creds).DeleteVoice(req.Context(), rec.ProviderVoiceID); err != nil {
		r.logger.Printf("provider delete failed for voice %s: %v", rec.ProviderVoiceID, err)
	}
	if r.objects != nil && rec.SampleObjectKey != nil {
		if err := r.objects.Delete(req.Context(), *rec.SampleObjectKey); err != nil {
			r.logger.Printf("sample delete failed for clone %s: %v", rec.ID, err)
		}
	}

	if err := r.store.DeleteClone(req.Context(), sess.UserID, id); err != nil {
		captureError(req, err, "delete clone")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.eventLog.LogAsync(sess.UserID, eventlog.EventCloneDeleted, map[string]any{
		"clone_id": rec.ID,
		"name":     rec.Name,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
