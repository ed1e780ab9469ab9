package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr())
	assert.Equal(t, "http://localhost:3001", cfg.Gateway.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.PollInterval)
	assert.Equal(t, 20, cfg.Engine.HistorySize)
	assert.Equal(t, 8, cfg.Engine.LogSize)
	assert.Equal(t, 200, cfg.Engine.ReviewBacklog)
	assert.Equal(t, uint32(5), cfg.Gateway.CBFailures)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Zero(t, cfg.GRPC.HealthPort)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte(`
server:
  port: 9000
gateway:
  base_url: http://gateway.internal:3001
engine:
  poll_interval: 1s
  layer_delay: 0s
redis:
  addr: redis:6379
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("ENGINE_POLL_INTERVAL", "250ms")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOGGER_FORMAT", "console")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://gateway.internal:3001", cfg.Gateway.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PollInterval)
	assert.Zero(t, cfg.Engine.LayerDelay)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "console", cfg.Logger.Format)
}

func TestLoadConfig_RejectsEmptyGateway(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_BASE_URL", "")

	// Пустая переменная окружения не перекрывает дефолт
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Gateway.BaseURL)

	cfg.Gateway.BaseURL = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateIntervals(t *testing.T) {
	cfg := Config{Gateway: GatewayConfig{BaseURL: "http://x"}}
	assert.Error(t, cfg.Validate())

	cfg.Engine.PollInterval = time.Second
	assert.NoError(t, cfg.Validate())

	cfg.Engine.LayerDelay = -time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
