// Package server is the minimal HTTP surface SPEC_FULL.md §2 allows:
// /healthz and /metrics only, no batch CRUD, no auth — that whole
// presentation layer is explicitly out of scope. Grounded on the
// teacher's server.StartServer for the chi router and graceful-shutdown
// shape, generalized to take the same ctx the Supervisor's component
// loops run under instead of registering its own signal handler.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts it down gracefully.
func Run(ctx context.Context, port string, log *logger.Entry) error {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("http server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
