package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken  = "123456:test-bot-token"
	testChatID = "-1001234567890"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", testToken)
	t.Setenv("TELEGRAM_CHAT_ID", testChatID)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testToken, cfg.TelegramToken)
	assert.Equal(t, testChatID, cfg.TelegramChatID)
	assert.Equal(t, 20*time.Second, cfg.TelegramTimeout)
	assert.Equal(t, "Inland", cfg.CommCenter)
	assert.True(t, cfg.TypePattern.MatchString("Trfc Collision-No Inj"))
	assert.True(t, cfg.TypePattern.MatchString("Hit and Run w/Injuries"))
	assert.False(t, cfg.TypePattern.MatchString("Traffic Hazard"))
	assert.Equal(t, "https://cad.chp.ca.gov/Traffic.aspx", cfg.CADBaseURL)
	assert.Equal(t, 20*time.Second, cfg.CADTimeout)
	assert.Equal(t, "America/Los_Angeles", cfg.Timezone.String())
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 2, cfg.MissesToClose)
	assert.Equal(t, 2500, cfg.MaxDetailChars)
	assert.Equal(t, float64(100), cfg.MergeRadiusMeters)
	assert.Equal(t, 30*time.Minute, cfg.MergeWindow)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, "state.db", cfg.StateDBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "incident-updates", cfg.KafkaTopic)
}

func TestLoad_CustomEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("COMM_CENTER", "Border")
	t.Setenv("INCIDENT_TYPE_REGEX", "Collision")
	t.Setenv("CAD_BASE_URL", "http://localhost:9999/Traffic.aspx")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("MISSES_TO_CLOSE", "3")
	t.Setenv("MAX_DETAIL_CHARS", "1800")
	t.Setenv("MERGE_RADIUS_METERS", "250")
	t.Setenv("MERGE_WINDOW", "15m")
	t.Setenv("RETENTION", "12h")
	t.Setenv("STATE_DB_PATH", "/var/lib/notifier/state.db")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Border", cfg.CommCenter)
	assert.False(t, cfg.TypePattern.MatchString("Hit and Run"))
	assert.Equal(t, "http://localhost:9999/Traffic.aspx", cfg.CADBaseURL)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MissesToClose)
	assert.Equal(t, 1800, cfg.MaxDetailChars)
	assert.Equal(t, float64(250), cfg.MergeRadiusMeters)
	assert.Equal(t, 15*time.Minute, cfg.MergeWindow)
	assert.Equal(t, 12*time.Hour, cfg.Retention)
	assert.Equal(t, "/var/lib/notifier/state.db", cfg.StateDBPath)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", testChatID)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
}

func TestLoad_MissingChatID(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", testToken)
	t.Setenv("TELEGRAM_CHAT_ID", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestLoad_NegativePollInterval(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "-5s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestLoad_InvalidTypeRegex(t *testing.T) {
	setRequired(t)
	t.Setenv("INCIDENT_TYPE_REGEX", "(unclosed")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INCIDENT_TYPE_REGEX")
}

func TestLoad_InvalidTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEZONE")
}

func TestLoad_MissesToCloseBelowOne(t *testing.T) {
	setRequired(t)
	t.Setenv("MISSES_TO_CLOSE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSES_TO_CLOSE")
}

func TestLoad_BrokersImplyKafkaEnabled(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_KafkaExplicitlyDisabled(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "broker1:9092")
	t.Setenv("KAFKA_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
