package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/rs/cors"
)

// JobService is the job lifecycle used by the HTTP layer.
type JobService interface {
	Run(ctx context.Context, req domain.RunRequest) (domain.JobID, error)
	Wait(ctx context.Context, id domain.JobID) (domain.JobStatus, error)
	Job(ctx context.Context, id domain.JobID) (domain.Job, error)
}

// FileService is the workdir file synchronization used by the HTTP layer.
type FileService interface {
	Diff(ctx context.Context, workdir string, hashes map[string]string) ([]string, error)
	Push(ctx context.Context, workdir string, files map[string]domain.FileUpload) error
	Pull(ctx context.Context, workdir, name string) (string, error)
}

// Config holds the server configuration
type Config struct {
	Addr             string
	SocketPath       string // if set, listen on this Unix socket instead of Addr
	MaxBodyBytes     int64 // zero disables the limit
	ValidateRequests bool
	CORSOrigins      []string // CORS is disabled when empty
}

// Server is the HTTP surface of the agent.
type Server struct {
	logger *slog.Logger
	cfg    Config
	jobs   JobService
	files  FileService
	oapi   routers.Router // nil when request validation is off
	server *http.Server
}

func NewServer(logger *slog.Logger, cfg Config, jobs JobService, files FileService) (*Server, error) {
	s := &Server{
		logger: logger,
		cfg:    cfg,
		jobs:   jobs,
		files:  files,
	}

	if cfg.ValidateRequests {
		router, err := loadRouter()
		if err != nil {
			return nil, err
		}
		s.oapi = router
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.limitBody)
	if s.oapi != nil {
		r.Use(s.validator)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, fmt.Errorf("route %s %w", r.URL.Path, domain.ErrNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, withStatus(http.StatusMethodNotAllowed,
			fmt.Errorf("%w: method %s not allowed on %s", domain.ErrValidation, r.Method, r.URL.Path)))
	})

	r.Get("/ping", s.handlePing)
	r.Post("/run", s.handleRun)
	r.Get("/wait-run/{id}", s.handleWaitRun)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/offer-files", s.handleOfferFiles)
	r.Post("/send-files", s.handleSendFiles)
	r.Post("/get-file", s.handleGetFile)
	r.Get("/openapi.yaml", s.handleOpenAPI)

	if len(s.cfg.CORSOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("agent server error: %w", err)
	}
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.SocketPath == "" {
		listener, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
		}
		s.logger.Info("listening on tcp", "addr", listener.Addr().String())
		return listener, nil
	}

	// stale socket from a previous run
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		s.logger.Warn("failed to chmod socket", "path", s.cfg.SocketPath, "error", err)
	}
	s.logger.Info("listening on unix socket", "path", s.cfg.SocketPath)
	return listener, nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
