// Package server exposes the sync core to local clients over HTTP, with a
// WebSocket feed of sync and connectivity events.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/virtuallab/labsync/internal/connectivity"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/metrics"
	"github.com/virtuallab/labsync/internal/offline"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
	"github.com/virtuallab/labsync/internal/sync/queue"
	"github.com/virtuallab/labsync/internal/sync/scheduler"
)

const shutdownTimeout = 5 * time.Second

// Deps are the components the server exposes.
type Deps struct {
	Service   *offline.Service
	Scheduler *scheduler.Scheduler
	Engine    syncpkg.SyncEngineInterface
	Queue     *queue.Queue
	Monitor   *connectivity.Monitor
	Metrics   *metrics.LatencyTracker
	Logger    *logging.Logger
}

// Server is the local HTTP surface.
type Server struct {
	hub     *WSHub
	handler http.Handler
	logger  *logging.Logger

	detach []func()
}

// New builds the routes and subscribes the WebSocket hub to engine and
// connectivity events. Call Close to unsubscribe.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logging.Get()
	}
	logger = logger.With(map[string]interface{}{"component": "server"})

	hub := NewWSHub(logger)
	sh := &SyncHandler{
		service:   d.Service,
		scheduler: d.Scheduler,
		queue:     d.Queue,
		monitor:   d.Monitor,
		metrics:   d.Metrics,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", sh.GetHealth)
	mux.HandleFunc("/api/sync/status", sh.GetStatus)
	mux.HandleFunc("/api/sync", sh.TriggerSync)
	mux.HandleFunc("/api/queue", sh.ListQueue)
	mux.HandleFunc("/api/queue/{id}", sh.DeleteQueued)
	mux.HandleFunc("/api/offline-mode", sh.OfflineMode)
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	return &Server{
		hub:     hub,
		handler: mux,
		logger:  logger,
		detach: []func(){
			d.Engine.AddEventHandler(hub),
			d.Monitor.Subscribe(hub.OnConnectivity),
		},
	}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub { return s.hub }

// Close unsubscribes the hub from event sources.
func (s *Server) Close() {
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "failed to listen on "+addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}
