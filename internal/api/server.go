// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package api exposes the daemon's operational HTTP surface: health,
// Prometheus metrics, a manual sync trigger and engine status. It is a
// local control plane, not a user-facing API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/connectivity"
	"github.com/offcourse/offcourse/internal/facade"
	"github.com/offcourse/offcourse/internal/gateway"
	"github.com/offcourse/offcourse/internal/logging"
	"github.com/offcourse/offcourse/internal/session"
	syncengine "github.com/offcourse/offcourse/internal/sync"
)

// Engine is the slice of the sync engine the API exposes.
type Engine interface {
	State() syncengine.State
	LastSyncTime() time.Time
	LastResult() *syncengine.Result
}

// Trigger requests an asynchronous sync pass.
type Trigger interface {
	TriggerSync() bool
}

// QueueLen reports the mutation queue depth.
type QueueLen interface {
	Len() (int, error)
}

// ConnectivityStatus reports the monitor's last known status.
type ConnectivityStatus interface {
	Status() connectivity.Status
}

// Server is the local HTTP server: the operational control plane plus the
// content surface an embedding UI shell consumes. Implements suture.Service.
type Server struct {
	cfg     *config.ServerConfig
	engine  Engine
	trigger Trigger
	queue   QueueLen
	monitor ConnectivityStatus

	facade   *facade.Facade
	gw       gateway.Gateway
	sessions *session.Manager
}

// NewServer wires the server. facade, gw and sessions may be nil, which
// disables the content surface and leaves only the control plane.
func NewServer(cfg *config.ServerConfig, engine Engine, trigger Trigger,
	q QueueLen, monitor ConnectivityStatus,
	f *facade.Facade, gw gateway.Gateway, sessions *session.Manager) *Server {
	return &Server{
		cfg: cfg, engine: engine, trigger: trigger, queue: q, monitor: monitor,
		facade: f, gw: gw, sessions: sessions,
	}
}

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Timeout))
	r.Use(requestLogger)
	// The UI shell runs in a webview with a file:// or app:// origin, so
	// the loopback API still needs CORS headers.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		// A stuck UI retry loop must not turn into a local DoS on the
		// daemon or the backend behind it.
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Post("/sync", s.handleTriggerSync)
		r.Get("/status", s.handleStatus)
		if s.facade != nil {
			s.contentRoutes(r)
		}
	})
	return r
}

// requestLogger emits one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", ww.Status()).Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info().Str("addr", s.cfg.Addr).Msg("operational API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "api-server" }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("write API response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Len(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.trigger.TriggerSync() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}
	// A trigger is already queued or a pass is running.
	writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"})
}

type statusResponse struct {
	State          syncengine.State   `json:"state"`
	LastSync       *time.Time         `json:"last_sync,omitempty"`
	LastResult     *syncengine.Result `json:"last_result,omitempty"`
	QueueDepth     int                `json:"queue_depth"`
	Online         bool               `json:"online"`
	ConnectionType string             `json:"connection_type"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:      s.engine.State(),
		LastResult: s.engine.LastResult(),
	}
	if t := s.engine.LastSyncTime(); !t.IsZero() {
		resp.LastSync = &t
	}
	if depth, err := s.queue.Len(); err == nil {
		resp.QueueDepth = depth
	}
	status := s.monitor.Status()
	resp.Online = status.Online
	resp.ConnectionType = string(status.Type)

	writeJSON(w, http.StatusOK, resp)
}
