package metricsserver

import (
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
)

// MetricsHandler interface for metrics collectors
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is a running metrics listener
type Server struct {
	*fasthttp.Server
	addr string
}

// Addr returns the bound address, useful when listening on port 0
func (s *Server) Addr() string {
	return s.addr
}

// StartMetricsServer binds cfg.Listen and serves the collector on cfg.Path.
// It returns nil when metrics are disabled. Bind errors are returned
// synchronously instead of surfacing in the serving goroutine.
func StartMetricsServer(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("metrics handler is required")
	}

	listenAddr, err := configtypes.NormalizeListen(cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics listen address: %w", err)
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	srv := &Server{
		Server: &fasthttp.Server{
			Handler:            createMetricsHandler(cfg.Path, handler),
			Name:               "banpurge-metrics",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			MaxRequestBodySize: 1 * 1024,
			TCPKeepalive:       true,
			TCPKeepalivePeriod: 30 * time.Second,
			MaxConnsPerIP:      100,
			Concurrency:        100,
		},
		addr: ln.Addr().String(),
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", srv.addr),
			zap.String("path", cfg.Path))

		if err := srv.Serve(ln); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", srv.addr),
				zap.Error(err))
		}
	}()

	return srv, nil
}

func createMetricsHandler(metricsPath string, collector MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == metricsPath {
			collector.ServeHTTP(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
