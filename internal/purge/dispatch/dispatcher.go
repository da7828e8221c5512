package dispatch

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/common/requestid"
	"github.com/edgecomet/banpurge/internal/purge/banexpr"
	"github.com/edgecomet/banpurge/internal/purge/events"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/request"
)

const maxLoggedBody = 512

// Result describes one finished ban request
type Result struct {
	RequestID  string
	Type       invalidation.Type
	Items      int
	Outcome    string
	StatusCode int
	Duration   time.Duration
}

// Observer is notified after every ban request
type Observer interface {
	ObserveDispatch(result Result)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Result)

func (f ObserverFunc) ObserveDispatch(result Result) { f(result) }

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithEmitter sets the audit emitter
func WithEmitter(e events.Emitter) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.emitter = e
		}
	}
}

// Dispatcher sends ban requests and moves the targeted invalidations to
// their final state. It never retries.
type Dispatcher struct {
	client    *fasthttp.Client
	label     string
	logger    *zap.Logger
	observers []Observer
	emitter   events.Emitter
}

// New creates a dispatcher whose transport honours the purger's timeouts and TLS settings
func New(cfg *configtypes.PurgerConfig, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("purger config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	connectTimeout := cfg.ConnectTimeout.ToDuration()
	timeout := cfg.Timeout.ToDuration()

	client := &fasthttp.Client{
		Name:                   request.UserAgent,
		ReadTimeout:            timeout,
		WriteTimeout:           timeout,
		MaxIdleConnDuration:    10 * time.Second,
		DisablePathNormalizing: true,
		Dial: func(addr string) (net.Conn, error) {
			return fasthttp.DialTimeout(addr, connectTimeout)
		},
	}
	if cfg.Scheme == "https" {
		client.TLSConfig = &tls.Config{
			InsecureSkipVerify: !cfg.IsVerify(),
			MinVersion:         tls.VersionTLS12,
		}
	}

	d := &Dispatcher{
		client:  client,
		label:   cfg.Name,
		logger:  logger,
		emitter: events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Send issues one ban request for expr and sets every target to SUCCEEDED
// or FAILED. A non-nil error is always a *DispatchError and is already logged.
func (d *Dispatcher) Send(ctx context.Context, req *request.Request, expr banexpr.Expression, targets ...invalidation.Invalidation) (err error) {
	uri := req.URI + expr.QueryEscaped()
	start := time.Now()
	statusCode := 0

	defer func() {
		if r := recover(); r != nil {
			err = d.remoteError(req, uri, 0, fmt.Errorf("panic during dispatch: %v", r))
		}
		d.finish(expr, targets, statusCode, time.Since(start), err)
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return d.connectionFailure(uri, ctxErr)
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(uri)
	httpReq.Header.SetMethod(req.Method)
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if req.HasAuth() {
		credentials := base64.StdEncoding.EncodeToString([]byte(req.Username + ":" + req.Password))
		httpReq.Header.Set("Authorization", "Basic "+credentials)
	}
	if req.Body != "" {
		httpReq.SetBodyString(req.Body)
	}

	deadline := start.Add(req.Options.ConnectTimeout + req.Options.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if doErr := d.client.DoDeadline(httpReq, httpResp, deadline); doErr != nil {
		if isConnectionFailure(doErr) {
			return d.connectionFailure(uri, doErr)
		}
		return d.remoteError(req, uri, 0, doErr)
	}

	statusCode = httpResp.StatusCode()
	if req.Options.HTTPErrors && statusCode >= fasthttp.StatusBadRequest {
		body := httpResp.Body()
		if len(body) > maxLoggedBody {
			body = body[:maxLoggedBody]
		}
		return d.remoteError(req, uri, statusCode, fmt.Errorf("unexpected status %d: %s", statusCode, body))
	}

	d.logger.Debug("Ban request succeeded",
		zap.String("uri", uri),
		zap.String("method", req.Method),
		zap.Int("status_code", statusCode),
		zap.Int("invalidations", len(targets)))
	return nil
}

func (d *Dispatcher) connectionFailure(uri string, err error) error {
	d.logger.Error("CRITICAL: proxy API unreachable",
		zap.String("uri", uri),
		zap.Error(err))
	return &DispatchError{Kind: ConnectionFailure, URI: uri, Err: err}
}

func (d *Dispatcher) remoteError(req *request.Request, uri string, statusCode int, err error) error {
	options := map[string]interface{}{
		"connect_timeout": req.Options.ConnectTimeout.Seconds(),
		"timeout":         req.Options.Timeout.Seconds(),
		"http_errors":     req.Options.HTTPErrors,
		"auth":            req.HasAuth(),
	}
	if req.Options.Verify != nil {
		options["verify"] = *req.Options.Verify
	}

	fields := []zap.Field{
		zap.String("message", err.Error()),
		zap.String("uri", uri),
		zap.String("method", req.Method),
		zap.Any("options", options),
		zap.Any("headers", req.Headers),
	}
	if statusCode > 0 {
		fields = append(fields, zap.Int("status_code", statusCode))
	}
	d.logger.Error("Ban request failed", fields...)

	return &DispatchError{Kind: RemoteError, URI: uri, StatusCode: statusCode, Err: err}
}

func (d *Dispatcher) finish(expr banexpr.Expression, targets []invalidation.Invalidation, statusCode int, elapsed time.Duration, err error) {
	state := invalidation.StateSucceeded
	outcome := events.OutcomeSucceeded
	if err != nil {
		state = invalidation.StateFailed
		outcome = events.OutcomeRemoteError
		if de, ok := err.(*DispatchError); ok && de.Kind == ConnectionFailure {
			outcome = events.OutcomeConnectionFailure
		}
	}
	for _, inv := range targets {
		inv.SetState(state)
	}

	var typ invalidation.Type
	if len(targets) > 0 {
		typ = targets[0].Type()
	}

	result := Result{
		RequestID:  requestid.Generate(string(typ)),
		Type:       typ,
		Items:      len(targets),
		Outcome:    outcome,
		StatusCode: statusCode,
		Duration:   elapsed,
	}
	for _, o := range d.observers {
		o.ObserveDispatch(result)
	}

	event := &events.DispatchEvent{
		RequestID:  result.RequestID,
		Purger:     d.label,
		Type:       string(typ),
		Items:      result.Items,
		Outcome:    outcome,
		StatusCode: statusCode,
		Duration:   elapsed,
		Expression: expr.String(),
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	d.emitter.Emit(event)
}

// Close releases idle connections and closes the audit emitter
func (d *Dispatcher) Close() error {
	d.client.CloseIdleConnections()
	return d.emitter.Close()
}
