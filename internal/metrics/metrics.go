package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownGrace = 5 * time.Second

// Handler serves /healthz and /metrics. A nil reg uses the default gatherer;
// a nil health always reports ok.
func Handler(reg *prometheus.Registry, health func() error) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exposition(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func exposition(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Serve starts the metrics listener in the background and shuts it down
// when ctx ends. An empty addr disables it.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, health func() error, log *zap.Logger) {
	log = log.Named("metrics")
	if addr == "" {
		log.Info("disabled: empty listen addr")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(reg, health),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	go func() {
		log.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("shutdown", zap.Error(err))
			return
		}
		log.Info("stopped")
	}()
}
