package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
)

const minimalConfig = `
daemon_id: "purge-1"
redis:
  addr: "localhost:6379"
purger:
  account: "42"
  application: "7"
  site_name: "www.example.com"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "purge-daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPurgeDaemonConfig_Defaults(t *testing.T) {
	cfg, err := LoadPurgeDaemonConfig(writeConfig(t, minimalConfig), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "purge-1", cfg.DaemonID)
	assert.Equal(t, "42", cfg.Purger.Account)
	assert.Equal(t, configtypes.DefaultHostname, cfg.Purger.Hostname)
	assert.Equal(t, configtypes.DefaultProxy, cfg.Purger.Proxy)
	assert.Equal(t, configtypes.DefaultRequestMethod, cfg.Purger.RequestMethod)
	assert.True(t, cfg.Purger.IsBundleTags())

	assert.Equal(t, DefaultTickInterval, cfg.Scheduler.TickInterval.ToDuration())
	assert.Equal(t, DefaultMaxParallelTypes, cfg.Scheduler.MaxParallelTypes)
	assert.Equal(t, DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, DefaultRetryBaseDelay, cfg.Queue.RetryBaseDelay.ToDuration())
	assert.Equal(t, DefaultMaxRetryDelay, cfg.Queue.MaxRetryDelay.ToDuration())
	assert.Equal(t, DefaultRecordTTL, cfg.Queue.RecordTTL.ToDuration())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)

	assert.True(t, cfg.Logging.Console.Enabled)
	assert.Equal(t, configtypes.LogFormatConsole, cfg.Logging.Console.Format)
}

func TestLoadPurgeDaemonConfig_Overrides(t *testing.T) {
	content := minimalConfig + `
scheduler:
  tick_interval: "250ms"
  max_parallel_types: 2
queue:
  max_attempts: 5
  record_ttl: "2d"
http_api:
  enabled: true
  listen: ":10190"
  auth_key: "secret"
metrics:
  enabled: true
  listen: ":10191"
`
	cfg, err := LoadPurgeDaemonConfig(writeConfig(t, content), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.TickInterval.ToDuration())
	assert.Equal(t, 2, cfg.Scheduler.MaxParallelTypes)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 48*time.Hour, cfg.Queue.RecordTTL.ToDuration())
	assert.Equal(t, DefaultRequestTimeout, cfg.HTTPApi.RequestTimeout.ToDuration())
	assert.Equal(t, DefaultMaxExpressions, cfg.HTTPApi.MaxExpressions)
}

func TestLoadPurgeDaemonConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: minimalConfig + "bogus_field: 1\n",
			wantErr: "unknown configuration field",
		},
		{
			name:    "missing daemon id",
			content: "redis:\n  addr: \"localhost:6379\"\n",
			wantErr: "daemon_id must be specified",
		},
		{
			name:    "timeouts too long",
			content: minimalConfig + "  timeout: \"8s\"\n  connect_timeout: \"4s\"\n",
			wantErr: "too negatively",
		},
		{
			name:    "metrics port clash",
			content: minimalConfig + "http_api:\n  enabled: true\n  listen: \":9000\"\n  auth_key: \"k\"\nmetrics:\n  enabled: true\n  listen: \":9000\"\n",
			wantErr: "must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPurgeDaemonConfig(writeConfig(t, tt.content), zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPurgeDaemonConfig_MissingFile(t *testing.T) {
	_, err := LoadPurgeDaemonConfig(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestParsePurgeDaemonConfigFile_Example(t *testing.T) {
	cfg, err := ParsePurgeDaemonConfigFile(filepath.Join("..", "..", "..", "configs", "example", "purge-daemon.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "section-production", cfg.Purger.Name)
	assert.Len(t, cfg.Purger.Types, 9)
	assert.Len(t, cfg.Purger.Headers, 2)
	assert.Equal(t, 24*time.Hour, cfg.Queue.RecordTTL.ToDuration())
	assert.True(t, cfg.HTTPApi.Enabled)
}
