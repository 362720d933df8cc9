package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/g-uva/sgesim/pkg/core"
)

const namespace = "sgesim"

// Recorder holds the Prometheus collectors for one or more simulated runs,
// labelled by strategy.
type Recorder struct {
	registry *prometheus.Registry

	slots    *prometheus.GaugeVec
	clock    *prometheus.GaugeVec
	jobs     *prometheus.GaugeVec
	ticks    *prometheus.CounterVec
	admitted *prometheus.CounterVec
	finished *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		slots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots",
			Help:      "Execution slots available to the simulated user.",
		}, []string{"strategy"}),
		clock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock",
			Help:      "Simulated time after the latest tick.",
		}, []string{"strategy"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs by status after the latest tick.",
		}, []string{"strategy", "status"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks executed.",
		}, []string{"strategy"}),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Jobs admitted into a slot.",
		}, []string{"strategy"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finished_total",
			Help:      "Jobs that ran to completion.",
		}, []string{"strategy"}),
	}
	r.registry.MustRegister(r.slots, r.clock, r.jobs, r.ticks, r.admitted, r.finished)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observer returns a core.Observer feeding this recorder under strategy.
func (r *Recorder) Observer(strategy string) core.Observer {
	return &strategyObserver{r: r, strategy: strategy}
}

type strategyObserver struct {
	r        *Recorder
	strategy string
}

func (o *strategyObserver) ObserveTick(rep core.TickReport) {
	r := o.r
	r.slots.WithLabelValues(o.strategy).Set(float64(rep.Capacity))
	r.clock.WithLabelValues(o.strategy).Set(float64(rep.Clock))
	r.ticks.WithLabelValues(o.strategy).Inc()
	r.admitted.WithLabelValues(o.strategy).Add(float64(len(rep.Admitted)))
	r.finished.WithLabelValues(o.strategy).Add(float64(len(rep.Finished)))
	for status, n := range rep.Counts {
		r.jobs.WithLabelValues(o.strategy, status.String()).Set(float64(n))
	}
}

// Handler exposes the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("[Prometheus] Metrics server shutdown failed")
		}
	}()

	log.Infof("[Prometheus] Starting metrics server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serving metrics on %s", addr)
	}
	return nil
}
