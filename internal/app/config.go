package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	SentryDSN   string

	// Transcription backends
	DeepgramAPIKey  string
	WhisperBin      string
	WhisperModelDir string
	WhisperModel    string

	// Speaker identification
	EmbeddingURL string

	// Audio handling
	AudioDir   string
	IngestDir  string
	TmpDir     string
	VADEnabled bool

	// Session retention (0 keeps everything)
	RetentionDays int

	// API authentication
	APIKey    string
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string
	APNsProduction    bool
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		// Transcription backends
		DeepgramAPIKey:  getenv("DEEPGRAM_API_KEY", ""),
		WhisperBin:      getenv("WHISPER_BIN", ""),
		WhisperModelDir: getenv("WHISPER_MODEL_DIR", ""),
		WhisperModel:    getenv("WHISPER_MODEL", "small"),

		// Speaker identification
		EmbeddingURL: getenv("EMBEDDING_URL", ""),

		// Audio handling
		AudioDir:   getenv("AUDIO_DIR", "recordings"),
		IngestDir:  getenv("INGEST_DIR", ""),
		TmpDir:     getenv("TMP_DIR", os.TempDir()),
		VADEnabled: getenvBool("VAD_ENABLED", true),

		RetentionDays: getenvInt("RETENTION_DAYS", 0),

		// API authentication
		APIKey:    getenv("API_KEY", ""),
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		// Notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
		APNsKeyPath:       getenv("APNS_KEY_PATH", ""),
		APNsKeyID:         getenv("APNS_KEY_ID", ""),
		APNsTeamID:        getenv("APNS_TEAM_ID", ""),
		APNsBundleID:      getenv("APNS_BUNDLE_ID", ""),
		APNsProduction:    getenvBool("APNS_PRODUCTION", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
