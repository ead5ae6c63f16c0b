package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadRelay(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
log:
  level: debug
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: marmot.notifications
  worker_count: 0
dispatch:
  on_message: "marmot-hook log"
  timeout: 30s
ledger:
  driver: bolt
  path: /var/lib/marmot/relay.ledger
`)

	cfg, err := LoadRelay(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "marmot-relay", cfg.Kafka.GroupID)
	assert.Equal(t, 1, cfg.Kafka.WorkerCount)
	assert.Equal(t, "marmot-hook log", cfg.Dispatch.OnMessage)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "@hourly", cfg.Ledger.Retention.Cron)
	assert.Equal(t, 168*time.Hour, cfg.Ledger.Retention.MaxAge)
}

func TestLoadRelayRequiresOnMessage(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
kafka:
  brokers: ["localhost:9092"]
`)

	_, err := LoadRelay(path)
	assert.Error(t, err)
}

func TestLoadInbox(t *testing.T) {
	path := writeFile(t, "inbox.yaml", `
http_server:
  port: 9090
  rate_limit:
    rps: 5
auth:
  secret: s3cret
ledger:
  driver: redis
`)

	cfg, err := LoadInbox(path)
	require.NoError(t, err)

	assert.Equal(t, uint16(9090), cfg.HTTPServer.Port)
	assert.Equal(t, "/api/v1", cfg.HTTPServer.BasePath)
	assert.Equal(t, 5.0, cfg.HTTPServer.RateLimit.RPS)
	assert.Equal(t, 20, cfg.HTTPServer.RateLimit.Burst)
	assert.Equal(t, 10*time.Second, cfg.HTTPServer.Timeout.Request)
	assert.Equal(t, "localhost", cfg.Ledger.Redis.Host)
}

func TestLoadInboxRequiresAuth(t *testing.T) {
	path := writeFile(t, "inbox.yaml", "http_server:\n  port: 9090\n")

	_, err := LoadInbox(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadRelay("")
	assert.ErrorIs(t, err, ErrConfigPathIsEmpty)

	_, err = LoadRelay(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/marmot/relay.yaml")

	assert.Equal(t, "local.yaml", ResolvePath("local.yaml"))
	assert.Equal(t, "/etc/marmot/relay.yaml", ResolvePath(""))
}

func TestLoadHandlerDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://example.org/hook")

	cfg, err := LoadHandler("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "marmot-messages.jsonl", cfg.LogFile)
	assert.Equal(t, "https://example.org/hook", cfg.Webhook.URL)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "Echo: ", cfg.Echo.Prefix)
	assert.Equal(t, int64(1<<20), cfg.InputLimit)
}

func TestLoadHandlerEnvFile(t *testing.T) {
	// registers a restore, then clears it so the file can set it
	t.Setenv("MARMOT_LOG_FILE", "")
	require.NoError(t, os.Unsetenv("MARMOT_LOG_FILE"))
	t.Setenv("ECHO_PREFIX", "Bot: ")

	path := writeFile(t, ".env", "MARMOT_LOG_FILE=/tmp/messages.jsonl\nECHO_PREFIX=File: \n")

	cfg, err := LoadHandler(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/messages.jsonl", cfg.LogFile)
	assert.Equal(t, "Bot: ", cfg.Echo.Prefix)
}
