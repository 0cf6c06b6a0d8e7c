package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/spacesedan/sentiflow-worker/internal/worker"
)

type HealthChecker interface {
	Check(ctx context.Context) models.HealthSnapshot
}

type StatusProvider interface {
	Status(ctx context.Context) worker.Status
}

func NewRouter(health HealthChecker, status StatusProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		snapshot := health.Check(req.Context())
		code := http.StatusOK
		if !snapshot.Healthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, snapshot)
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, status.Status(req.Context()))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[HealthServer] Failed to encode response", slog.String("error", err.Error()))
	}
}

// Serve runs the health server until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[HealthServer] Listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("[HealthServer] Shutting down")
	return srv.Shutdown(shutdownCtx)
}
