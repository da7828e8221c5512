package purgedaemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/common/metricsserver"
	"github.com/edgecomet/banpurge/internal/common/redis"
	"github.com/edgecomet/banpurge/internal/purge/purger"
	"github.com/edgecomet/banpurge/internal/purgedaemon/metrics"
)

// PurgeDaemon hosts the invalidation queue: it accepts invalidations over the
// API and feeds them to the purger on every scheduler tick.
type PurgeDaemon struct {
	daemonConfig *configtypes.PurgeDaemonConfig
	redis        *redis.Client
	queue        *Queue
	purger       *purger.Purger
	logger       *zap.Logger
	startTime    time.Time

	lastTickMu    sync.RWMutex
	lastTickTime  time.Time
	cooldownUntil time.Time

	// Metrics
	metricsCollector *metrics.MetricsCollector
	metricsServer    *metricsserver.Server

	// Scheduler control
	schedulerCancel  context.CancelFunc
	schedulerDone    chan struct{}
	schedulerPaused  bool
	schedulerPauseMu sync.RWMutex
}

// NewPurgeDaemon creates a new purge daemon instance. Extra purger options are
// appended after the daemon's own, so tests can replace the sender.
func NewPurgeDaemon(
	daemonCfg *configtypes.PurgeDaemonConfig,
	redisClient *redis.Client,
	logger *zap.Logger,
	purgerOpts ...purger.Option,
) (*PurgeDaemon, error) {
	if daemonCfg == nil {
		return nil, fmt.Errorf("daemon config is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	metricsCollector := metrics.NewMetricsCollector(daemonCfg.Metrics.Namespace, logger)

	opts := append([]purger.Option{purger.WithDispatchObserver(metricsCollector)}, purgerOpts...)
	p, err := purger.New(&daemonCfg.Purger, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create purger: %w", err)
	}

	metricsServer, err := metricsserver.StartMetricsServer(daemonCfg.Metrics, metricsCollector, logger)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info("Purger ready",
		zap.String("purger", p.Label()),
		zap.Int("ideal_conditions_limit", p.IdealConditionsLimit()),
		zap.Duration("cooldown_time", p.CooldownTime()),
		zap.Duration("time_hint", p.TimeHint()))

	return &PurgeDaemon{
		daemonConfig:     daemonCfg,
		redis:            redisClient,
		queue:            NewQueue(redisClient, daemonCfg.Queue.RecordTTL.ToDuration(), logger),
		purger:           p,
		logger:           logger,
		startTime:        time.Now().UTC(),
		metricsCollector: metricsCollector,
		metricsServer:    metricsServer,
	}, nil
}

// Start runs the scheduler in its own goroutine
func (d *PurgeDaemon) Start(ctx context.Context) error {
	d.logger.Info("Starting purge daemon components")

	schedulerCtx, cancel := context.WithCancel(ctx)
	d.schedulerCancel = cancel
	d.schedulerDone = make(chan struct{})

	go func() {
		defer close(d.schedulerDone)
		d.Run(schedulerCtx)
	}()

	d.logger.Info("Purge daemon components started")
	return nil
}

// Shutdown stops the scheduler, waits for the running tick and closes the purger
func (d *PurgeDaemon) Shutdown() error {
	d.logger.Info("Shutting down purge daemon")

	if d.metricsServer != nil {
		d.logger.Info("Shutting down separate metrics server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.ShutdownWithContext(ctx); err != nil {
			d.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		cancel()
	}

	if d.schedulerCancel != nil {
		d.schedulerCancel()
		<-d.schedulerDone
	}

	if err := d.purger.Close(); err != nil {
		d.logger.Error("Failed to close purger", zap.Error(err))
	}

	d.logger.Info("Purge daemon shutdown complete")
	return nil
}

// Queue returns the invalidation queue
func (d *PurgeDaemon) Queue() *Queue {
	return d.queue
}

// Purger returns the purger invalidations are dispatched through
func (d *PurgeDaemon) Purger() *purger.Purger {
	return d.purger
}

// PauseScheduler pauses the scheduler processing loop
func (d *PurgeDaemon) PauseScheduler() {
	d.schedulerPauseMu.Lock()
	defer d.schedulerPauseMu.Unlock()
	d.schedulerPaused = true
	d.logger.Info("Scheduler paused")
}

// ResumeScheduler resumes the scheduler processing loop
func (d *PurgeDaemon) ResumeScheduler() {
	d.schedulerPauseMu.Lock()
	defer d.schedulerPauseMu.Unlock()
	d.schedulerPaused = false
	d.logger.Info("Scheduler resumed")
}

// IsSchedulerPaused returns true if scheduler is paused
func (d *PurgeDaemon) IsSchedulerPaused() bool {
	d.schedulerPauseMu.RLock()
	defer d.schedulerPauseMu.RUnlock()
	return d.schedulerPaused
}
