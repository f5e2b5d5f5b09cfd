package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
// A .env file in the working directory is loaded first if present.
type Config struct {
	TelegramToken   string
	TelegramChatID  string
	TelegramTimeout time.Duration

	CommCenter     string
	TypePattern    *regexp.Regexp
	CADBaseURL     string
	CADTimeout     time.Duration
	Timezone       *time.Location
	PollInterval   time.Duration
	MissesToClose  int
	MaxDetailChars int

	MergeRadiusMeters float64
	MergeWindow       time.Duration
	Retention         time.Duration

	StateDBPath string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Kafka event sink configuration.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	pollInterval, err := parseDuration("POLL_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	cadTimeout, err := parseDuration("CAD_TIMEOUT", "20s")
	if err != nil {
		return nil, err
	}
	tgTimeout, err := parseDuration("TELEGRAM_TIMEOUT", "20s")
	if err != nil {
		return nil, err
	}
	mergeWindow, err := parseDuration("MERGE_WINDOW", "30m")
	if err != nil {
		return nil, err
	}
	retention, err := parseDuration("RETENTION", "24h")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	typePattern, err := regexp.Compile(envOrDefault("INCIDENT_TYPE_REGEX", `(Collision|Hit\s*(?:&|and)\s*Run)`))
	if err != nil {
		return nil, fmt.Errorf("invalid INCIDENT_TYPE_REGEX: %w", err)
	}

	tz, err := time.LoadLocation(envOrDefault("TIMEZONE", "America/Los_Angeles"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	misses, err := parseInt("MISSES_TO_CLOSE", 2)
	if err != nil {
		return nil, err
	}
	maxDetail, err := parseInt("MAX_DETAIL_CHARS", 2500)
	if err != nil {
		return nil, err
	}
	mergeRadius, err := parseFloat("MERGE_RADIUS_METERS", 100)
	if err != nil {
		return nil, err
	}

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:  os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramTimeout: tgTimeout,

		CommCenter:     envOrDefault("COMM_CENTER", "Inland"),
		TypePattern:    typePattern,
		CADBaseURL:     envOrDefault("CAD_BASE_URL", "https://cad.chp.ca.gov/Traffic.aspx"),
		CADTimeout:     cadTimeout,
		Timezone:       tz,
		PollInterval:   pollInterval,
		MissesToClose:  misses,
		MaxDetailChars: maxDetail,

		MergeRadiusMeters: mergeRadius,
		MergeWindow:       mergeWindow,
		Retention:         retention,

		StateDBPath: envOrDefault("STATE_DB_PATH", "state.db"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers: brokers,
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "incident-updates"),
		KafkaEnabled: kafkaEnabled,
	}

	if cfg.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_TOKEN is required")
	}
	if cfg.TelegramChatID == "" {
		return nil, errors.New("TELEGRAM_CHAT_ID is required")
	}
	if cfg.MissesToClose < 1 {
		return nil, errors.New("MISSES_TO_CLOSE must be at least 1")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
