package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/minhph/voicestudio/internal/credentials"
	"github.com/minhph/voicestudio/internal/eventlog"
)

// handleListCredentials returns which providers have keys configured. Raw
// keys never leave the server; only the masked form is returned.
func (r *Router) handleListCredentials(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	creds, _ := r.credentialsFor(sess)

	out := make([]map[string]any, 0, 2)
	for _, provider := range []string{credentials.ProviderGoogle, credentials.ProviderElevenLabs} {
		key, ok, err := creds.Get(req.Context(), provider)
		if err != nil {
			captureError(req, err, "list credentials")
			http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
			return
		}
		entry := map[string]any{
			"provider":   provider,
			"configured": ok,
		}
		if ok {
			entry["masked_key"] = credentials.Mask(key)
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

// handleSetCredential stores an API key for a provider. Setting a key
// invalidates any cached voice catalog for the caller's scope.
func (r *Router) handleSetCredential(w http.ResponseWriter, req *http.Request) {
	provider := req.PathValue("provider")
	if !credentials.ValidProvider(provider) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		return
	}

	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	body.Key = strings.TrimSpace(body.Key)
	if body.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}

	sess := getSession(req.Context())
	creds, scope := r.credentialsFor(sess)
	if err := creds.Set(req.Context(), provider, body.Key); err != nil {
		captureError(req, err, "set credential")
		http.Error(w, `{"error": "failed to store credential"}`, http.StatusInternalServerError)
		return
	}

	// The old catalog was fetched with the old key; force a refetch next time.
	if provider == credentials.ProviderGoogle {
		r.catalogs.invalidate(scope)
	}

	r.eventLog.LogAsync(scopeUserID(sess), eventlog.EventCredentialUpdated, map[string]any{
		"provider": provider,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"provider":   provider,
		"masked_key": credentials.Mask(body.Key),
	})
}
