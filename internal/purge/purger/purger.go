package purger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/purge/banexpr"
	"github.com/edgecomet/banpurge/internal/purge/batcher"
	"github.com/edgecomet/banpurge/internal/purge/dispatch"
	"github.com/edgecomet/banpurge/internal/purge/events"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/measure"
	"github.com/edgecomet/banpurge/internal/purge/request"
	"github.com/edgecomet/banpurge/internal/purge/secrets"
	"github.com/edgecomet/banpurge/internal/purge/tokens"
)

// Time hint bounds for measured durations
const (
	minTimeHint = 100 * time.Millisecond
	maxTimeHint = 10 * time.Second
)

// Sender delivers one ban request. *dispatch.Dispatcher is the production implementation.
type Sender interface {
	Send(ctx context.Context, req *request.Request, expr banexpr.Expression, targets ...invalidation.Invalidation) error
}

// Option configures a Purger
type Option func(*options)

type options struct {
	sender    Sender
	lookup    secrets.Lookup
	observers []dispatch.Observer
	emitter   events.Emitter
}

// WithSender replaces the HTTP dispatcher
func WithSender(s Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithSecrets replaces the key repository built from the config
func WithSecrets(l secrets.Lookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithDispatchObserver is notified after every ban request
func WithDispatchObserver(obs dispatch.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithEmitter overrides the audit emitter built from the config
func WithEmitter(e events.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// Purger turns same-type invalidations into ban requests against one proxy API
type Purger struct {
	cfg        *configtypes.PurgerConfig
	compiler   *banexpr.Compiler
	batcher    *batcher.Batcher
	builder    *request.Builder
	sender     Sender
	dispatcher *dispatch.Dispatcher
	runtime    *measure.MovingAverage
	types      []invalidation.Type
	logger     *zap.Logger
}

// New wires the compiler, batcher, request builder and dispatcher for cfg.
// cfg must have defaults applied and be valid.
func New(cfg *configtypes.PurgerConfig, logger *zap.Logger, opts ...Option) (*Purger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("purger config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	supported, err := parseTypes(cfg.Types)
	if err != nil {
		return nil, err
	}

	lookup := o.lookup
	if lookup == nil {
		lookup = secrets.NewKeyRepository(cfg.IdentityFile)
	}
	builder, err := request.NewBuilder(cfg, tokens.NewRenderer(), lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to create request builder: %w", err)
	}

	p := &Purger{
		cfg:      cfg,
		compiler: banexpr.NewCompiler(cfg.SiteName, cfg.TagsHeader, cfg.RawTagsHeader),
		batcher:  batcher.NewBatcher(batcher.BatchLimit, logger),
		builder:  builder,
		runtime:  measure.NewMovingAverage(measure.DefaultAlpha),
		types:    supported,
		logger:   logger,
	}

	p.sender = o.sender
	if p.sender == nil {
		emitter := o.emitter
		if emitter == nil && cfg.AuditLog.Enabled {
			fileEmitter, err := events.NewFileEmitter(cfg.AuditLog, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create audit log: %w", err)
			}
			emitter = fileEmitter
		}

		dispatchOpts := []dispatch.Option{
			dispatch.WithEmitter(emitter),
			dispatch.WithObserver(dispatch.ObserverFunc(p.observeRuntime)),
		}
		for _, obs := range o.observers {
			dispatchOpts = append(dispatchOpts, dispatch.WithObserver(obs))
		}

		d, err := dispatch.New(cfg, logger, dispatchOpts...)
		if err != nil {
			return nil, err
		}
		p.dispatcher = d
		p.sender = d
	}

	return p, nil
}

func parseTypes(names []string) ([]invalidation.Type, error) {
	if len(names) == 0 {
		return append([]invalidation.Type(nil), invalidation.AllTypes...), nil
	}
	seen := make(map[invalidation.Type]bool, len(names))
	types := make([]invalidation.Type, 0, len(names))
	for _, name := range names {
		t, err := invalidation.ParseType(name)
		if err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types, nil
}

func (p *Purger) observeRuntime(result dispatch.Result) {
	if result.Outcome == events.OutcomeSucceeded {
		p.runtime.Observe(result.Duration)
	}
}

// Label is the configured purger name
func (p *Purger) Label() string {
	return p.cfg.Name
}

// Types returns the advertised invalidation types
func (p *Purger) Types() []invalidation.Type {
	return append([]invalidation.Type(nil), p.types...)
}

// Supports reports whether t is advertised
func (p *Purger) Supports(t invalidation.Type) bool {
	for _, st := range p.types {
		if st == t {
			return true
		}
	}
	return false
}

// Compiler exposes the expression compiler, e.g. for config testing
func (p *Purger) Compiler() *banexpr.Compiler {
	return p.compiler
}

// Builder exposes the request builder, e.g. for config testing
func (p *Purger) Builder() *request.Builder {
	return p.builder
}

// IdealConditionsLimit is the number of invalidations the caller should
// hand over in one run
func (p *Purger) IdealConditionsLimit() int {
	return p.cfg.MaxRequests
}

// CooldownTime is the advisory pause after a burst of requests
func (p *Purger) CooldownTime() time.Duration {
	return p.cfg.CooldownTime.ToDuration()
}

// HasRuntimeMeasurement reports whether TimeHint uses measured durations
func (p *Purger) HasRuntimeMeasurement() bool {
	return p.cfg.IsRuntimeMeasurement()
}

// TimeHint estimates the cost of one ban request. Without measurements it
// is the worst case of connect timeout plus request timeout.
func (p *Purger) TimeHint() time.Duration {
	if p.HasRuntimeMeasurement() {
		if measured, ok := p.runtime.Value(); ok {
			return clampDuration(measured, minTimeHint, maxTimeHint)
		}
	}
	return p.cfg.ConnectTimeout.ToDuration() + p.cfg.Timeout.ToDuration()
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Close releases the dispatcher's connections and audit log
func (p *Purger) Close() error {
	if p.dispatcher != nil {
		return p.dispatcher.Close()
	}
	return nil
}
