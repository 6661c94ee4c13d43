// Package observability bundles structured logging and Prometheus
// metrics for the session runtime.
package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
)

// Config is the subset of configuration this package needs.
type Config struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Observability holds the logger, the metrics registry, and the
// shutdown coordinator for everything started here.
type Observability struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	Shutdown *ShutdownCoordinator
}

// New initializes logging and metrics. When cfg.MetricsAddr is set,
// a /metrics endpoint is served there until Close.
func New(cfg Config, w io.Writer) *Observability {
	o := &Observability{
		Logger:   SetupLogger(cfg.LogLevel, cfg.LogFormat, w),
		Metrics:  NewMetrics(),
		Shutdown: &ShutdownCoordinator{},
	}
	if cfg.MetricsAddr != "" {
		o.serveMetrics(cfg.MetricsAddr)
	}
	return o
}

// Close runs all registered shutdown handlers.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

func (o *Observability) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		o.Logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.Logger.Error("metrics server error", "error", err)
		}
	}()

	o.Shutdown.Register("metrics-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
}
