// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default dealer location.
const (
	DefaultDealerHost = "127.0.0.1"
	DefaultDealerPort = 60451
)

// Transport names accepted in DEALER_TRANSPORT.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Config gathers every setting the binaries read from the environment.
type Config struct {
	DealerHost     string
	DealerPort     int
	Transport      string
	WSPath         string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	LogLevel string

	// RedisAddr enables the deck journal when non-empty.
	RedisAddr    string
	RedisDB      int
	JournalQueue string

	PostgresUser     string
	PostgresPassword string
	PGHost           string
	PGPort           string
	PGDatabase       string

	HistorianBatchSize int
	HistorianFlush     time.Duration
}

// Load reads the given env files (missing files are an error) on top of the
// process environment and returns the resulting configuration. Variables
// already set in the environment win over file values.
func Load(files ...string) (Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("failed to load env files %v: %w", files, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment alone.
func FromEnv() (Config, error) {
	cfg := Config{
		DealerHost:   getEnv("DEALER_HOST", DefaultDealerHost),
		DealerPort:   getEnvInt("DEALER_PORT", DefaultDealerPort),
		Transport:    strings.ToLower(getEnv("DEALER_TRANSPORT", TransportTCP)),
		WSPath:       getEnv("DEALER_WS_PATH", "/dealer"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		JournalQueue: getEnv("DECK_JOURNAL_QUEUE", "pickup_decks"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PGHost:           getEnv("PG_HOST", "localhost"),
		PGPort:           getEnv("PG_PORT", "5432"),
		PGDatabase:       os.Getenv("PG_DATABASE"),

		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}

	var err error
	if cfg.ConnectTimeout, err = getEnvDuration("DEALER_CONNECT_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = getEnvDuration("DEALER_READ_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = getEnvDuration("DEALER_WRITE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.Transport != TransportTCP && cfg.Transport != TransportWebSocket {
		return Config{}, fmt.Errorf("invalid DEALER_TRANSPORT %q (want %q or %q)", cfg.Transport, TransportTCP, TransportWebSocket)
	}
	if cfg.DealerPort <= 0 || cfg.DealerPort > 65535 {
		return Config{}, fmt.Errorf("invalid DEALER_PORT %d", cfg.DealerPort)
	}
	if cfg.HistorianBatchSize <= 0 {
		cfg.HistorianBatchSize = 1
	}
	return cfg, nil
}

// PostgresURL assembles the connection string the historian dials.
func (c Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PGHost,
		c.PGPort,
		c.PGDatabase,
	)
}

// JournalEnabled reports whether accepted decks should be pushed to Redis.
func (c Config) JournalEnabled() bool {
	return c.RedisAddr != ""
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses a Go duration ("5s", "250ms"). Unset gives def,
// "0" or "never" turn the timeout off.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	switch s {
	case "":
		return def, nil
	case "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
