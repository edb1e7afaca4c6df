package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reelvault/internal/api"
	"reelvault/internal/config"
	"reelvault/internal/logging"
	"reelvault/internal/services"
	"reelvault/internal/storage"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	limiter *uploadLimiter

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		limiter: newUploadLimiter(cfg.Upload.RatePerMinute, cfg.Upload.RateBurst),
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads and range downloads stream for as long as the client needs,
		// so there is no whole-request read or write deadline.
		IdleTimeout: 60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(observe(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/jobs", s.handleJobs)
		r.Post("/associate", s.handleAssociate)
		r.Post("/purge", s.handlePurge)
		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.handleListFiles)
			r.With(s.limiter.middleware).Post("/", s.handleUpload)
			r.Get("/{id}", s.handleGetFile)
			r.Delete("/{id}", s.handleDeleteFile)
			r.Get("/{id}/status", s.handleJobStatus)
			r.Post("/{id}/transcode", s.handleTrigger)
		})
	})

	r.Get("/files/{id}", s.handleOriginal)
	r.Get("/hls/{id}/{name}", s.handleDerived)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart the daemon"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.shutdown()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

// writeServiceError answers with the status services.HTTPStatus assigns to
// err. Server-side failures get a generic message; the detail goes to the log.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error, generic string) {
	status := services.HTTPStatus(err)
	if errors.Is(err, storage.ErrTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), generic, "api_request_failed",
			logging.Error(err),
			logging.String("route", routePattern(r)),
		)
		s.writeError(w, status, generic)
		return
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorBody(message))
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func errorBody(message string) api.ErrorResponse {
	return api.ErrorResponse{Error: message}
}
