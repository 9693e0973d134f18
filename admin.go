package racetelem

import (
	"context"
	"github.com/heptiolabs/healthcheck"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"net/http"
	"time"
)

// NewAdminHandler serves /metrics from reg plus /live and /ready. The writer
// is live while its store is mapped and ready while its frame source is open.
func NewAdminHandler(reg *prometheus.Registry, p *Processor) http.Handler {
	health := healthcheck.NewMetricsHandler(reg, metricsNamespace)
	health.AddLivenessCheck("store-mapped", func() error {
		_, err := p.store.Read(sensors.SteeringWheel)
		return err
	})
	health.AddReadinessCheck("source-open", func() error {
		if !p.SourceUp() {
			return errors.New("frame source is not open")
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	return mux
}

// ServeAdmin runs the admin HTTP server until ctx is cancelled. It returns
// only after in-flight requests have finished.
func ServeAdmin(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithField("err", err).Warn("unable to shut down admin server")
		}
	}()
	log.WithField("addr", addr).Info("admin server listening")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Wrap(err, "admin server failed")
	}
	<-shutdownDone
	return nil
}
