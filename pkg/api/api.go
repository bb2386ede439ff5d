package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/reportoor/pkg/archive"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/provider"
	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second

	// streamPollInterval is the fixed interval between store snapshots
	// on the SSE stream. Low-latency push is deliberately out of scope;
	// polling keeps the channel trivially cancellable.
	streamPollInterval = 2 * time.Second
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	provider   provider.Client
	archiver   archive.Archiver
	httpServer *http.Server
	wg         sync.WaitGroup

	// pollInterval is overridable in tests.
	pollInterval time.Duration
}

// NewServer creates a new API server. The store, provider client, and
// optional archiver are constructed by the caller and injected here;
// handlers never reach for ambient state.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	pc provider.Client,
	arch archive.Archiver,
) Server {
	return &server{
		log:          log.WithField("component", "api"),
		cfg:          cfg,
		store:        st,
		provider:     pc,
		archiver:     arch,
		pollInterval: streamPollInterval,
	}
}

// Start binds the listener and starts serving requests.
func (s *server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return err
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
