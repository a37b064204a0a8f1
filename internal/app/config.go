package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	LogLevel      string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Device mode serves credentials and the voice catalog without a login,
	// backed by a JSON key file on disk. Meant for single-user installs.
	DeviceMode    bool
	DeviceKVPath  string

	// Object storage for synthesized audio and clone samples
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string

	// Background job runner
	JobPollInterval time.Duration

	// Observability
	SentryDSN         string
	DiscordWebhookURL string
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}
	pollInterval, err := time.ParseDuration(getenv("JOB_POLL_INTERVAL", "5s"))
	if err != nil {
		pollInterval = 5 * time.Second
	}

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		DeviceMode:   parseBool(os.Getenv("DEVICE_MODE")),
		DeviceKVPath: getenv("DEVICE_KV_PATH", defaultDeviceKVPath()),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "voicestudio"),
		MinioUseSSL:    parseBool(os.Getenv("MINIO_USE_SSL")),
		MinioPublicURL: getenv("MINIO_PUBLIC_URL", ""),

		JobPollInterval: pollInterval,

		SentryDSN:         getenv("SENTRY_DSN", ""),
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
	}
}

func defaultDeviceKVPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "device-keys.json"
	}
	return home + "/.voicestudio/keys.json"
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
