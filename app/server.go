package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"collabrelay/pkg/config"
	"collabrelay/pkg/crdt"
	"collabrelay/pkg/logging"
	"collabrelay/pkg/room"
	"collabrelay/pkg/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires the relay's components together: the Sync Engine, the Room
// Registry, the Upgrade Gate, and the HTTP router that fronts them.
type Server struct {
	router   *mux.Router
	httpSrv  *http.Server
	config   *config.Config
	registry *room.Registry
	log      *zap.Logger
}

// NewServer builds a fully-wired Server from cfg.
func NewServer(cfg *config.Config) *Server {
	log := logging.L()

	engine := crdt.NewEngine()
	registry := room.NewRegistry(cfg.Capacity, engine)
	gate := session.NewGate(cfg, registry)

	r := mux.NewRouter()
	r.Handle(cfg.RelayPath, gate)
	r.HandleFunc("/healthz", healthzHandler(registry)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		router:   r,
		config:   cfg,
		registry: registry,
		log:      log,
		httpSrv: &http.Server{
			Addr:    cfg.GetServerAddr(),
			Handler: r,
		},
	}
}

// healthzHandler reports liveness plus the current room count, a cheap
// signal for deployment tooling that the relay is actually serving rooms
// rather than just accepting TCP connections.
func healthzHandler(registry *room.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"rooms":  registry.RoomCount(),
		})
	}
}

// Start runs the HTTP server until the process receives a shutdown signal
// via ctx, then drains in-flight connections for up to 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("collaboration relay listening", zap.String("addr", s.httpSrv.Addr), zap.String("path", s.config.RelayPath))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
