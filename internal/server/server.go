package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"social-backend/internal/projection"
	"social-backend/internal/service"
)

const shutdownTimeout = 15 * time.Second

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer returns new Server serving mutations of svc and views of views
func NewServer(logger *zap.SugaredLogger, svc *service.Service, views *projection.Builder, opts ...Option) *Server {
	h := &handler{
		logger: logger,
		svc:    svc,
		views:  views,
	}

	cfg := &config{
		httpServer: &http.Server{
			Addr: "0.0.0.0:9000",
		},
		handlers:     h.routes(),
		plain:        make(map[string]http.Handler),
		maxBodyBytes: 16 << 20,
	}

	for _, o := range opts {
		o.apply(cfg)
	}

	// middlewares apply inside out: log runs first, then body checks
	applyEnforcePostJson().apply(cfg)
	applyLog(logger.Desugar()).apply(cfg)
	registerHandlers().apply(cfg)

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		afterShutdown: cfg.afterShutdown,
	}
}

// Handler returns the root http.Handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
