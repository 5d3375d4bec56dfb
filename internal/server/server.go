package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"secuflow/internal/logger"
	"secuflow/internal/logstore"
	"secuflow/internal/metrics"
	"secuflow/internal/service"
	"secuflow/internal/templates"
	"secuflow/pkg/models"
)

const defaultSampleLimit = 10

// Triage is the set of operations exposed over HTTP.
type Triage interface {
	Analyze(ctx context.Context, window int) (models.Report, error)
	Template(eventID string) (models.TemplateMatch, error)
	Sample(ctx context.Context, limit int) ([]models.LogRecord, error)
	DefaultWindow() int
}

// Config controls the HTTP API.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	TokenHashes   []string
	MetricsPath   string // empty disables /metrics
}

// Server serves the triage API.
type Server struct {
	cfg     Config
	triage  Triage
	metrics *metrics.Metrics
	auth    *tokenAuth
	router  *mux.Router
	srv     *http.Server
}

// New creates a server and registers its routes.
func New(cfg Config, triage Triage, m *metrics.Metrics) *Server {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8000"
	}
	if m == nil {
		cfg.MetricsPath = ""
	}

	s := &Server{
		cfg:     cfg,
		triage:  triage,
		metrics: m,
		auth:    newTokenAuth(cfg.TokenHashes),
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/logs/sample", s.handleSample).Methods(http.MethodGet)
	r.HandleFunc("/event/template/{event_id}", s.handleTemplate).Methods(http.MethodGet)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.Use(requestIDMiddleware, s.instrumentMiddleware, s.authMiddleware)
	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	logger.Infof("HTTP API listening on %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultSampleLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := s.triage.Sample(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	match, err := s.triage.Template(mux.Vars(r)["event_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	window, err := queryLimit(r, s.triage.DefaultWindow())
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.triage.Analyze(r.Context(), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// queryLimit parses the limit query parameter. Range checks are left to the service.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &limitError{raw: raw}
	}
	return n, nil
}

type limitError struct {
	raw string
}

func (e *limitError) Error() string {
	return "limit must be an integer, got " + strconv.Quote(e.raw)
}

func (e *limitError) Unwrap() error {
	return service.ErrInvalidLimit
}

// errorStatus maps missing sources and configuration or validation problems to 200
// with an error payload, and everything else to 500.
func errorStatus(err error) int {
	var colErr *templates.ColumnsError
	switch {
	case errors.Is(err, logstore.ErrNotFound),
		errors.Is(err, templates.ErrNotFound),
		errors.Is(err, service.ErrInvalidLimit),
		errors.As(err, &colErr):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithFields(logger.Fields{
			"request_id": RequestID(r.Context()),
			"path":       r.URL.Path,
		}).Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}
