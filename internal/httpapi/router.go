package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/minhph/voicestudio/internal/clone"
	"github.com/minhph/voicestudio/internal/credentials"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/notifications"
	"github.com/minhph/voicestudio/internal/objstore"
	"github.com/minhph/voicestudio/internal/store"
)

type RouterConfig struct {
	PublicBaseURL string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// DeviceMode allows unauthenticated access to credential and voice
	// endpoints, backed by the local device credential store. Clone and job
	// endpoints always require authentication.
	DeviceMode bool

	// Shared HTTP client for outbound provider calls
	ProviderHTTPClient *http.Client
}

type Router struct {
	cfg         RouterConfig
	logger      *log.Logger
	store       *store.Store
	eventLog    *eventlog.Logger
	discord     *notifications.Discord
	objects     *objstore.Store
	deviceCreds credentials.Store
	catalogs    *catalogRegistry
	jobEvents   *JobEventHub
	cloneAPI    func(credentials.Store) clone.API
	mux         *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger,
	discord *notifications.Discord, objects *objstore.Store, deviceCreds credentials.Store,
	jobEvents *JobEventHub) http.Handler {
	r := &Router{
		cfg:         cfg,
		logger:      logger,
		store:       s,
		eventLog:    eventLog,
		discord:     discord,
		objects:     objects,
		deviceCreds: deviceCreds,
		catalogs:    newCatalogRegistry(cfg.ProviderHTTPClient),
		jobEvents:   jobEvents,
		mux:         http.NewServeMux(),
	}
	r.cloneAPI = func(creds credentials.Store) clone.API {
		return clone.NewElevenLabsClient(creds, cfg.ProviderHTTPClient)
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Auth endpoints (public)
	r.mux.HandleFunc("POST /auth/signup", r.handleSignup)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /auth/refresh", r.handleRefreshToken)
	r.mux.HandleFunc("POST /auth/logout", r.withAuth(r.handleLogout))

	// Profile
	r.mux.HandleFunc("GET /api/me", r.withAuth(r.handleGetMe))
	r.mux.HandleFunc("PATCH /api/me", r.withAuth(r.handleUpdateMe))

	// Credentials (auth or device mode)
	r.mux.HandleFunc("GET /api/credentials", r.withSession(r.handleListCredentials))
	r.mux.HandleFunc("PUT /api/credentials/{provider}", r.withSession(r.handleSetCredential))

	// Voice catalog (auth or device mode)
	r.mux.HandleFunc("GET /api/voices", r.withSession(r.handleListVoices))
	r.mux.HandleFunc("GET /api/voices/languages", r.withSession(r.handleListLanguages))

	// Voice clones (auth only)
	r.mux.HandleFunc("POST /api/clones", r.withAuth(r.handleCreateClone))
	r.mux.HandleFunc("GET /api/clones", r.withAuth(r.handleListClones))
	r.mux.HandleFunc("PATCH /api/clones/{id}", r.withAuth(r.handleRenameClone))
	r.mux.HandleFunc("DELETE /api/clones/{id}", r.withAuth(r.handleDeleteClone))

	// TTS jobs (auth only)
	r.mux.HandleFunc("POST /api/jobs", r.withAuth(r.handleCreateJob))
	r.mux.HandleFunc("GET /api/jobs", r.withAuth(r.handleListJobs))
	r.mux.HandleFunc("GET /api/jobs/events", r.handleJobEventsWS)
	r.mux.HandleFunc("GET /api/jobs/{id}", r.withAuth(r.handleGetJob))
	r.mux.HandleFunc("GET /api/jobs/{id}/audio", r.withAuth(r.handleJobAudio))

	// Billing endpoints (protected)
	r.mux.HandleFunc("POST /api/billing/checkout", r.withAuth(r.handleCreateCheckout))
	r.mux.HandleFunc("POST /api/billing/portal", r.withAuth(r.handleCreatePortal))

	// Stripe webhook (no auth - signature verified)
	r.mux.HandleFunc("POST /webhooks/stripe", r.handleStripeWebhook)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
