package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingEncryptionKey = errors.New("ENCRYPTION_KEY is required")

// Config holds all runtime settings for the bridge. Values are read from the
// environment, with a .env file loaded first when present.
type Config struct {
	Port         string
	DatabasePath string

	// EncryptionKey is the passphrase the credential cipher derives its key
	// from. Never logged.
	EncryptionKey string

	// ConnectTimeout bounds a single terminal login attempt.
	ConnectTimeout time.Duration

	// SyncInterval is the period of the background sweep over connected
	// accounts.
	SyncInterval time.Duration

	// TerminalPath is the terminal executable launched on demand. Empty
	// disables process management (the terminal is assumed to be running).
	TerminalPath string

	// TerminalRPCURL is the local sidecar the Terminal adapter speaks to.
	TerminalRPCURL string

	// TerminalStartupWait bounds how long a freshly launched terminal is
	// given to come up.
	TerminalStartupWait time.Duration

	// BrokersFile points at the static broker directory (YAML).
	BrokersFile string

	AllowedOrigins []string

	// NATSURL enables event publishing when non-empty.
	NATSURL string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DatabasePath:        getEnv("DATABASE_PATH", "bridge.db"),
		EncryptionKey:       os.Getenv("ENCRYPTION_KEY"),
		ConnectTimeout:      getDuration("CONNECT_TIMEOUT_SECONDS", 60*time.Second),
		SyncInterval:        getDuration("SYNC_INTERVAL_SECONDS", 2*time.Second),
		TerminalPath:        os.Getenv("TERMINAL_PATH"),
		TerminalRPCURL:      getEnv("TERMINAL_RPC_URL", "http://127.0.0.1:18812"),
		TerminalStartupWait: getDuration("TERMINAL_STARTUP_WAIT_SECONDS", 10*time.Second),
		BrokersFile:         getEnv("BROKERS_FILE", "brokers.yaml"),
		NATSURL:             os.Getenv("NATS_URL"),
	}

	if cfg.EncryptionKey == "" {
		return nil, ErrMissingEncryptionKey
	}

	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
