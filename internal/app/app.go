package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minhph/voicestudio/internal/clone"
	"github.com/minhph/voicestudio/internal/credentials"
	"github.com/minhph/voicestudio/internal/eventlog"
	"github.com/minhph/voicestudio/internal/httpapi"
	"github.com/minhph/voicestudio/internal/jobs"
	"github.com/minhph/voicestudio/internal/notifications"
	"github.com/minhph/voicestudio/internal/objstore"
	"github.com/minhph/voicestudio/internal/store"
	"github.com/minhph/voicestudio/internal/tts"
)

type App struct {
	cfg         Config
	logger      *log.Logger
	db          *pgxpool.Pool
	store       *store.Store
	eventLog    *eventlog.Logger
	discord     *notifications.Discord
	objects     *objstore.Store
	deviceCreds credentials.Store
	jobEvents   *httpapi.JobEventHub
	runner      *jobs.Runner
	httpClient  *http.Client // Shared HTTP client with connection pooling for provider calls
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)
	discord := notifications.NewDiscord(cfg.DiscordWebhookURL, logger)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	// Shared HTTP client with connection pooling for provider calls.
	// Keeps TCP connections alive to reduce latency for repeated synthesis
	// requests against the Google and ElevenLabs APIs.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	var objects *objstore.Store
	if cfg.MinioEndpoint != "" {
		objects, err = objstore.New(ctx, objstore.Config{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicURL,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Printf("object storage connected (bucket=%s)", cfg.MinioBucket)
	} else {
		logger.Println("object storage not configured; job audio will not be persisted")
	}

	var deviceCreds credentials.Store
	if cfg.DeviceMode {
		deviceCreds = credentials.NewDeviceStore(credentials.NewFileKV(cfg.DeviceKVPath))
		logger.Printf("device mode enabled (keys at %s)", cfg.DeviceKVPath)
	} else {
		deviceCreds = credentials.NewDeviceStore(credentials.NewMemKV())
	}

	jobEvents := httpapi.NewJobEventHub()

	clients := func(userID, voiceKind string) tts.Client {
		creds := s.CredentialStore(userID)
		if voiceKind == store.VoiceKindClone {
			return tts.NewElevenLabsClient(creds, httpClient)
		}
		return tts.NewGoogleClient(creds, httpClient)
	}
	cloneAPI := func(userID string) jobs.CloneAPI {
		return clone.NewElevenLabsClient(s.CredentialStore(userID), httpClient)
	}

	runner := jobs.NewRunner(s, objects, el, discord, jobEvents, clients, cloneAPI,
		logger, cfg.JobPollInterval)

	return &App{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		store:       s,
		eventLog:    el,
		discord:     discord,
		objects:     objects,
		deviceCreds: deviceCreds,
		jobEvents:   jobEvents,
		runner:      runner,
		httpClient:  httpClient,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:      a.cfg.PublicBaseURL,
		JWTSecret:          a.cfg.JWTSecret,
		JWTExpiry:          a.cfg.JWTExpiry,
		DeviceMode:         a.cfg.DeviceMode,
		ProviderHTTPClient: a.httpClient,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, a.discord,
		a.objects, a.deviceCreds, a.jobEvents)
}

// StartBackground launches the job runner.
func (a *App) StartBackground() {
	a.runner.Start()
}

func (a *App) Close() error {
	if a.runner != nil {
		a.runner.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
