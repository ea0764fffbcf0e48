// Package server exposes the conversion pipeline over HTTP. Uploads become
// background jobs whose status and results are polled by ID.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/edoardograci/track-loop-main/internal/audio"
	"github.com/edoardograci/track-loop-main/internal/logging"
	"github.com/edoardograci/track-loop-main/internal/pipeline"
)

// Config holds server configuration
type Config struct {
	Port           int
	JobTTL         time.Duration
	MaxUpload      int64
	AllowedOrigins []string
	OutputDir      string // Root for job directories (system temp when empty)

	// Pipeline is the template every job's pipeline config is derived from.
	Pipeline pipeline.Config
}

// Server is the HTTP server
type Server struct {
	config Config
	router *chi.Mux
	log    logrus.FieldLogger
	jobs   *JobManager
}

// New creates a new server. newExec builds the executor for each job.
func New(cfg Config, newExec ExecutorFactory, log logrus.FieldLogger) *Server {
	log = logging.OrDiscard(log)
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = audio.MaxFileSize
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		log:    log,
		jobs:   NewJobManager(cfg.OutputDir, cfg.JobTTL, cfg.Pipeline, newExec, log),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	// API
	r.Post("/upload", s.handleUpload)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/download/{id}", s.handleDownload)
	r.Get("/download/{id}/midi", s.handleDownloadMIDI)
}

// Handler returns the router wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// Jobs exposes the job manager
func (s *Server) Jobs() *JobManager { return s.jobs }

// Run serves until ctx is cancelled, then shuts down gracefully and
// removes job files.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("port", s.config.Port).Info("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Error("shutdown error")
	}
	s.jobs.Close()
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).Round(time.Millisecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
