package configtypes

import (
	"fmt"
	"time"

	"github.com/edgecomet/banpurge/pkg/types"
)

// MaxQueueAttempts bounds queue.max_attempts
const MaxQueueAttempts = 20

// PurgeDaemonConfig is the root configuration for purge-daemon service
type PurgeDaemonConfig struct {
	DaemonID  string               `yaml:"daemon_id"` // Unique identifier for this daemon instance
	Redis     RedisConfig          `yaml:"redis"`     // Redis connection configuration
	Purger    PurgerConfig         `yaml:"purger"`    // Proxy API the daemon purges through
	Scheduler PurgeDaemonScheduler `yaml:"scheduler"` // Scheduler configuration
	Queue     PurgeDaemonQueue     `yaml:"queue"`     // Invalidation queue configuration
	HTTPApi   PurgeDaemonHTTPApi   `yaml:"http_api"`  // HTTP API configuration
	Logging   LogConfig            `yaml:"logging"`   // Logging configuration
	Metrics   MetricsConfig        `yaml:"metrics"`   // Metrics configuration
}

// PurgeDaemonScheduler defines scheduler timing configuration
type PurgeDaemonScheduler struct {
	TickInterval     types.Duration `yaml:"tick_interval"`      // How often scheduler runs (min: 100ms, e.g., 1s)
	MaxParallelTypes int            `yaml:"max_parallel_types"` // Invalidation types dispatched concurrently per tick
}

// PurgeDaemonQueue defines invalidation queue configuration
type PurgeDaemonQueue struct {
	MaxAttempts    int            `yaml:"max_attempts"`     // Dispatch attempts before an invalidation stays FAILED (e.g., 3)
	RetryBaseDelay types.Duration `yaml:"retry_base_delay"` // Base delay for exponential backoff (e.g., 5s)
	MaxRetryDelay  types.Duration `yaml:"max_retry_delay"`  // Upper bound for the backoff (e.g., 10m)
	RecordTTL      types.Duration `yaml:"record_ttl"`       // How long invalidation records are kept (e.g., 24h)
}

// PurgeDaemonHTTPApi defines HTTP API configuration
type PurgeDaemonHTTPApi struct {
	Enabled             bool           `yaml:"enabled"`               // Enable/disable HTTP API
	Listen              string         `yaml:"listen"`                // Listen address (e.g., ":10190")
	AuthKey             string         `yaml:"auth_key"`              // Shared X-Internal-Auth key
	RequestTimeout      types.Duration `yaml:"request_timeout"`       // Timeout for incoming API requests (e.g., 30s)
	MaxExpressions      int            `yaml:"max_expressions"`       // Expressions accepted per invalidate request
	SchedulerControlAPI bool           `yaml:"scheduler_control_api"` // Enable scheduler pause/resume API (for testing)
}

// Validate validates purge daemon configuration
func (c *PurgeDaemonConfig) Validate() error {
	if c == nil {
		return nil
	}

	if c.DaemonID == "" {
		return fmt.Errorf("daemon_id must be specified")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be specified")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if err := c.Purger.Validate(); err != nil {
		return err
	}

	tickInterval := time.Duration(c.Scheduler.TickInterval)
	if tickInterval < 100*time.Millisecond {
		return fmt.Errorf("scheduler.tick_interval must be >= 100ms, got %v", tickInterval)
	}
	if c.Scheduler.MaxParallelTypes < 1 {
		return fmt.Errorf("scheduler.max_parallel_types must be >= 1, got %d", c.Scheduler.MaxParallelTypes)
	}

	if c.Queue.MaxAttempts < 1 || c.Queue.MaxAttempts > MaxQueueAttempts {
		return fmt.Errorf("queue.max_attempts must be between 1 and %d, got %d", MaxQueueAttempts, c.Queue.MaxAttempts)
	}
	if time.Duration(c.Queue.RetryBaseDelay) < 0 {
		return fmt.Errorf("queue.retry_base_delay must be >= 0")
	}
	if time.Duration(c.Queue.MaxRetryDelay) < time.Duration(c.Queue.RetryBaseDelay) {
		return fmt.Errorf("queue.max_retry_delay must be >= queue.retry_base_delay (%v), got %v",
			c.Queue.RetryBaseDelay.ToDuration(), c.Queue.MaxRetryDelay.ToDuration())
	}
	if time.Duration(c.Queue.RecordTTL) <= 0 {
		return fmt.Errorf("queue.record_ttl must be > 0")
	}

	var httpApiPort int
	if c.HTTPApi.Enabled {
		if c.HTTPApi.Listen == "" {
			return fmt.Errorf("http_api.listen must be specified when enabled")
		}
		port, err := GetPortFromListen(c.HTTPApi.Listen)
		if err != nil {
			return fmt.Errorf("invalid http_api.listen: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("http_api.listen port must be between 1 and 65535, got %d", port)
		}
		httpApiPort = port

		if c.HTTPApi.AuthKey == "" {
			return fmt.Errorf("http_api.auth_key must be specified when http_api is enabled")
		}
		if time.Duration(c.HTTPApi.RequestTimeout) <= 0 {
			return fmt.Errorf("http_api.request_timeout must be > 0 when http_api is enabled")
		}
		if c.HTTPApi.MaxExpressions < 1 {
			return fmt.Errorf("http_api.max_expressions must be >= 1, got %d", c.HTTPApi.MaxExpressions)
		}
	}

	var metricsPort int
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen must be specified when enabled")
		}
		port, err := GetPortFromListen(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("metrics.listen port must be between 1 and 65535, got %d", port)
		}
		metricsPort = port
	}

	if c.Metrics.Enabled && c.HTTPApi.Enabled && metricsPort == httpApiPort {
		return fmt.Errorf("metrics.listen port (%d) must differ from http_api.listen port (%d) when both enabled", metricsPort, httpApiPort)
	}

	return c.Logging.Validate()
}

// Validate checks log level, formats and rotation settings
func (l *LogConfig) Validate() error {
	validLogLevels := map[string]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}
	if l.Level != "" && !validLogLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got '%s'", l.Level)
	}

	validConsoleFormats := map[string]bool{
		LogFormatJSON:    true,
		LogFormatConsole: true,
	}
	if l.Console.Enabled && l.Console.Format != "" && !validConsoleFormats[l.Console.Format] {
		return fmt.Errorf("logging.console.format must be 'json' or 'console', got '%s'", l.Console.Format)
	}

	if l.File.Enabled {
		if l.File.Path == "" {
			return fmt.Errorf("logging.file.path must be specified when file logging is enabled")
		}

		validFileFormats := map[string]bool{
			LogFormatJSON: true,
			LogFormatText: true,
		}
		if l.File.Format != "" && !validFileFormats[l.File.Format] {
			return fmt.Errorf("logging.file.format must be 'json' or 'text', got '%s'", l.File.Format)
		}

		if l.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("logging.file.rotation.max_size must be >= 0, got %d", l.File.Rotation.MaxSize)
		}
		if l.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("logging.file.rotation.max_age must be >= 0, got %d", l.File.Rotation.MaxAge)
		}
		if l.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("logging.file.rotation.max_backups must be >= 0, got %d", l.File.Rotation.MaxBackups)
		}
	}

	return nil
}
