package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/common/yamlutil"
	"github.com/edgecomet/banpurge/pkg/types"
)

// Daemon defaults applied when the YAML leaves a field unset
const (
	DefaultTickInterval     = time.Second
	DefaultMaxParallelTypes = 4
	DefaultMaxAttempts      = 3
	DefaultRetryBaseDelay   = 5 * time.Second
	DefaultMaxRetryDelay    = 10 * time.Minute
	DefaultRecordTTL        = 24 * time.Hour
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMaxExpressions   = 500
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "banpurge"
)

// applyDaemonDefaults applies default values to daemon configuration
func applyDaemonDefaults(config *configtypes.PurgeDaemonConfig) {
	config.Purger.ApplyDefaults()

	if config.Scheduler.TickInterval == 0 {
		config.Scheduler.TickInterval = types.Duration(DefaultTickInterval)
	}
	if config.Scheduler.MaxParallelTypes == 0 {
		config.Scheduler.MaxParallelTypes = DefaultMaxParallelTypes
	}

	if config.Queue.MaxAttempts == 0 {
		config.Queue.MaxAttempts = DefaultMaxAttempts
	}
	if config.Queue.RetryBaseDelay == 0 {
		config.Queue.RetryBaseDelay = types.Duration(DefaultRetryBaseDelay)
	}
	if config.Queue.MaxRetryDelay == 0 {
		config.Queue.MaxRetryDelay = types.Duration(DefaultMaxRetryDelay)
	}
	if config.Queue.RecordTTL == 0 {
		config.Queue.RecordTTL = types.Duration(DefaultRecordTTL)
	}

	if config.HTTPApi.RequestTimeout == 0 {
		config.HTTPApi.RequestTimeout = types.Duration(DefaultRequestTimeout)
	}
	if config.HTTPApi.MaxExpressions == 0 {
		config.HTTPApi.MaxExpressions = DefaultMaxExpressions
	}

	if config.Metrics.Path == "" {
		config.Metrics.Path = DefaultMetricsPath
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = DefaultMetricsNamespace
	}

	// Console is the fallback output when neither is enabled
	if !config.Logging.Console.Enabled && !config.Logging.File.Enabled {
		config.Logging.Console.Enabled = true
	}
	if config.Logging.Console.Format == "" {
		config.Logging.Console.Format = configtypes.LogFormatConsole
	}
	if config.Logging.File.Format == "" {
		config.Logging.File.Format = configtypes.LogFormatText
	}
}

// ParsePurgeDaemonConfig decodes, defaults and validates raw YAML
func ParsePurgeDaemonConfig(data []byte) (*configtypes.PurgeDaemonConfig, error) {
	var config configtypes.PurgeDaemonConfig
	if err := yamlutil.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDaemonDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// ParsePurgeDaemonConfigFile reads and parses the configuration at path
func ParsePurgeDaemonConfigFile(path string) (*configtypes.PurgeDaemonConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParsePurgeDaemonConfig(data)
}

// LoadPurgeDaemonConfig loads purge-daemon configuration from YAML file
func LoadPurgeDaemonConfig(path string, logger *zap.Logger) (*configtypes.PurgeDaemonConfig, error) {
	logger.Info("Loading purge-daemon configuration", zap.String("path", path))

	config, err := ParsePurgeDaemonConfigFile(path)
	if err != nil {
		return nil, err
	}

	logger.Info("Purge-daemon configuration loaded successfully",
		zap.String("daemon_id", config.DaemonID),
		zap.String("purger", config.Purger.Name),
		zap.String("redis_addr", config.Redis.Addr))

	return config, nil
}
