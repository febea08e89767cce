// Package server exposes the knowledge base over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/matsen/kbase/internal/answer"
	"github.com/matsen/kbase/internal/graph"
	"github.com/matsen/kbase/internal/index"
	"github.com/matsen/kbase/internal/kb"
	"github.com/matsen/kbase/internal/loader"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
)

// MaxUploadBytes bounds a single multipart upload.
const MaxUploadBytes = 64 << 20

const shutdownTimeout = 10 * time.Second

// KnowledgeBase is the subset of kb.Service the handlers use.
type KnowledgeBase interface {
	Upload(ctx context.Context, name string, r io.Reader) (*kb.UploadResult, error)
	Search(ctx context.Context, query string) (*answer.Answer, error)
	Documents() ([]kb.DocumentInfo, error)
	KnowledgeGraph(ctx context.Context, labels []string) (*graph.Graph, error)
	IndexStats() index.Stats
}

// Server routes requests to a KnowledgeBase.
type Server struct {
	kb      KnowledgeBase
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New returns a Server. logger and m may be nil.
func New(base KnowledgeBase, logger *logging.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{kb: base, logger: logger, metrics: m}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/upload", s.upload)
	r.Post("/search", s.search)
	r.Get("/documents", s.documents)
	r.Get("/knowledge-graph", s.knowledgeGraph)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// observe logs each request and records it under its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, d)
		s.logger.Info("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", d,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"index":  s.kb.IndexStats(),
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: reading multipart field \"file\": %w", kb.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	res, err := s.kb.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	a, err := s.kb.Search(r.Context(), r.FormValue("query"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) documents(w http.ResponseWriter, r *http.Request) {
	docs, err := s.kb.Documents()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) knowledgeGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.kb.KnowledgeGraph(r.Context(), graph.SplitLabels(r.URL.Query().Get("types")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// fail writes err as {"detail": ...} with a status derived from its kind.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", r.URL.Path, "error", err)
	} else {
		s.logger.Warn("request rejected", "route", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, kb.ErrInvalidInput), loader.IsUnsupportedFormat(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
