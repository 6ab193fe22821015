package environment

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// metricsServer serves the Prometheus endpoint
type metricsServer struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
	done     chan struct{}
}

func startMetricsServer(addr string, handler http.Handler, logger zerolog.Logger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	s := &metricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Metrics server started")
	return s, nil
}

// Addr returns the bound address
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *metricsServer) stop(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop metrics server")
	}
	<-s.done
}
