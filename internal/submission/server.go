// Package submission implements the task submission HTTP boundary (spec.md
// §6): POST /tasks writes a row and publishes a new_task notification; the
// core treats this only as a producer of rows and notifications. It also
// supplements spec.md with a read-only live dashboard over the same data.
package submission

import (
	"context"
	stdtls "crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/churroqueue/fcs/internal/auth"
	"github.com/churroqueue/fcs/internal/db"
	"github.com/churroqueue/fcs/internal/task"
	"github.com/churroqueue/fcs/internal/tls"
)

// Gateway is the slice of the Database Gateway the submission endpoint
// depends on.
type Gateway interface {
	CreateTask(ctx context.Context, def json.RawMessage, scheduledAt *time.Time) (uuid.UUID, error)
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
}

// Config holds submission server configuration.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP server exposing the submission boundary and dashboard.
type Server struct {
	config Config
	server *http.Server
	hub    *Hub
	gw     Gateway
}

// New constructs a Server. authCfg gates every route except its SkipPaths
// (by default /healthz) with bearer-token auth when enabled; tlsCfg gates the listener itself,
// mirroring the Postgres connection's TLS gate in cmd/fcs.
func New(cfg Config, gw Gateway, authCfg auth.Config, tlsCfg tls.Config) (*Server, error) {
	s := &Server{
		config: cfg,
		hub:    NewHub(),
		gw:     gw,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/tasks", s.routeTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	var handler http.Handler = mux
	if authCfg.Enabled {
		handler = auth.NewMiddleware(authCfg).Wrap(mux)
	}

	var serverTLS *stdtls.Config
	if tlsCfg.Enabled {
		loaded, err := tls.LoadServerTLS(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("load server tls config: %w", err)
		}
		serverTLS = loaded
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    serverTLS,
	}

	return s, nil
}

// routeTasks dispatches POST /tasks and GET /tasks to their handlers, since
// both share the bare /tasks path.
func (s *Server) routeTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handleSubmit(w, r)
		return
	}
	s.handleList(w, r)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" {
		s.routeTasks(w, r)
		return
	}
	s.handleGet(w, r, id)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()

	serve := s.server.ListenAndServe
	if s.server.TLSConfig != nil {
		// Certificates are already loaded into TLSConfig by LoadServerTLS;
		// empty paths tell ListenAndServeTLS to use them as-is.
		serve = func() error { return s.server.ListenAndServeTLS("", "") }
	}

	log.Info().Str("addr", s.config.ListenAddr).Bool("tls", s.server.TLSConfig != nil).Msg("submission server starting")
	if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("submission server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Stop()
	return s.server.Shutdown(ctx)
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}
