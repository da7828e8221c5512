package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/valyala/fasthttp"
)

var (
	// ErrConnectionFailure means the proxy API could not be reached
	ErrConnectionFailure = errors.New("connection failure")
	// ErrRemote means the proxy API answered with an error or the client failed otherwise
	ErrRemote = errors.New("remote error")
)

// Kind classifies a failed ban request
type Kind int

const (
	ConnectionFailure Kind = iota + 1
	RemoteError
)

func (k Kind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection failure"
	case RemoteError:
		return "remote error"
	default:
		return "unknown"
	}
}

// DispatchError is returned by Send for every failed ban request
type DispatchError struct {
	Kind       Kind
	URI        string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s returned status %d", e.Kind, e.URI, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URI, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	sentinel := ErrRemote
	if e.Kind == ConnectionFailure {
		sentinel = ErrConnectionFailure
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// isConnectionFailure reports whether err means the request never got an answer
func isConnectionFailure(err error) bool {
	if errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrConnectionClosed) ||
		errors.Is(err, fasthttp.ErrNoFreeConns) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
