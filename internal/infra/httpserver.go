package infra

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPServer owns the API listener. WriteTimeout and the shutdown drain must
// both leave room for a full generation plus persistence since /v1/tryon
// holds the request open while polling.
type HTTPServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	writeTimeout := cfg.HTTPWriteTimeout
	if cfg.GenerationTimeout > 0 && writeTimeout > 0 && writeTimeout <= cfg.GenerationTimeout {
		writeTimeout = cfg.GenerationTimeout + 30*time.Second
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	if cfg.GenerationTimeout > 0 && shutdown <= cfg.GenerationTimeout {
		shutdown = cfg.GenerationTimeout + 30*time.Second
	}
	return &HTTPServer{server: srv, shutdownTimeout: shutdown}
}

// Start serves until Shutdown is called. A graceful stop returns nil.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by the configured timeout.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) WriteTimeout() time.Duration {
	return s.server.WriteTimeout
}

func (s *HTTPServer) ShutdownTimeout() time.Duration {
	return s.shutdownTimeout
}
