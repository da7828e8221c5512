package events

import "time"

// Dispatch outcomes
const (
	OutcomeSucceeded         = "succeeded"
	OutcomeConnectionFailure = "connection_failure"
	OutcomeRemoteError       = "remote_error"
)

// DispatchEvent describes one ban request sent to the proxy API
type DispatchEvent struct {
	RequestID  string
	Purger     string
	Type       string
	Items      int
	Outcome    string
	StatusCode int
	Duration   time.Duration
	Expression string
	Error      string
	CreatedAt  time.Time
}

// Emitter records dispatch events. Emit is fire-and-forget.
type Emitter interface {
	Emit(event *DispatchEvent)
	Close() error
}

// NoopEmitter discards events
type NoopEmitter struct{}

func (NoopEmitter) Emit(*DispatchEvent) {}

func (NoopEmitter) Close() error { return nil }
