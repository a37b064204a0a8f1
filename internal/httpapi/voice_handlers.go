package httpapi

import (
	"errors"
	"net/http"
	"sync"

	"github.com/minhph/voicestudio/internal/catalog"
	"github.com/minhph/voicestudio/internal/credentials"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/session"
)

// catalogRegistry holds one voice catalog loader per credential scope. The
// device scope (empty key) shares a single loader; each authenticated user
// gets their own, since catalogs are fetched with per-user API keys.
type catalogRegistry struct {
	httpClient *http.Client

	mu      sync.Mutex
	loaders map[string]*catalog.Loader
}

func newCatalogRegistry(httpClient *http.Client) *catalogRegistry {
	return &catalogRegistry{
		httpClient: httpClient,
		loaders:    make(map[string]*catalog.Loader),
	}
}

func (cr *catalogRegistry) loaderFor(scope string, creds credentials.Store) *catalog.Loader {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if l, ok := cr.loaders[scope]; ok {
		return l
	}
	l := catalog.NewLoader(catalog.NewGoogleFetcher(creds, cr.httpClient))
	cr.loaders[scope] = l
	return l
}

// invalidate drops the loader for a scope so the next request starts from
// scratch with whatever key is now configured.
func (cr *catalogRegistry) invalidate(scope string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	delete(cr.loaders, scope)
}

// credentialsFor resolves the credential store and catalog scope for a
// session. Anonymous sessions read the device store.
func (r *Router) credentialsFor(sess session.Session) (credentials.Store, string) {
	if sess.IsAuthenticated() {
		return r.store.CredentialStore(sess.UserID), sess.UserID
	}
	return r.deviceCreds, ""
}

// handleListVoices returns the Google voice catalog for the caller's
// credentials, optionally filtered by language and gender. A refresh=true
// query forces a refetch; otherwise a previous result is reused.
func (r *Router) handleListVoices(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	creds, scope := r.credentialsFor(sess)
	loader := r.catalogs.loaderFor(scope, creds)

	gender := req.URL.Query().Get("gender")
	if gender == "" {
		gender = catalog.GenderAll
	}
	if !catalog.ValidGenderFilter(gender) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid gender filter"})
		return
	}

	refresh := req.URL.Query().Get("refresh") == "true"
	var snap catalog.Snapshot
	if refresh {
		snap = loader.Refresh(req.Context())
	} else {
		snap = loader.Ensure(req.Context())
	}

	if snap.State == catalog.StateFailed {
		r.writeCatalogError(w, req, snap.Err)
		r.eventLog.LogAsync(scopeUserID(sess), eventlog.EventCatalogFailed, map[string]any{
			"error": snap.Err.Error(),
		})
		return
	}

	if refresh {
		r.eventLog.LogAsync(scopeUserID(sess), eventlog.EventCatalogFetched, map[string]any{
			"voice_count": len(snap.Voices),
		})
	}

	language := req.URL.Query().Get("language")
	voices := catalog.Filter(snap.Voices, language, gender)

	writeJSON(w, http.StatusOK, map[string]any{
		"state":  snap.State.String(),
		"voices": voices,
	})
}

// handleListLanguages returns the distinct language codes in the catalog.
func (r *Router) handleListLanguages(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	creds, scope := r.credentialsFor(sess)
	loader := r.catalogs.loaderFor(scope, creds)

	snap := loader.Ensure(req.Context())
	if snap.State == catalog.StateFailed {
		r.writeCatalogError(w, req, snap.Err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"languages": catalog.Languages(snap.Voices),
	})
}

// writeCatalogError maps catalog fetch failures onto HTTP statuses. Missing
// or rejected keys are the caller's problem; transport failures are upstream.
func (r *Router) writeCatalogError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrMissingKey):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "no google api key configured",
			"code":  "missing_key",
		})
	case errors.Is(err, catalog.ErrInvalidKey):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "google rejected the configured api key",
			"code":  "invalid_key",
		})
	default:
		captureError(req, err, "catalog fetch")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "voice catalog temporarily unavailable",
			"code":  "upstream_error",
		})
	}
}

// scopeUserID returns the user ID for event logging, empty for device scope.
func scopeUserID(sess session.Session) string {
	if sess.IsAuthenticated() {
		return sess.UserID
	}
	return ""
}
