// Package telemetry exposes live run metrics in the Prometheus text format.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "vugate"

// Collector implements stats.Observer, checks.Observer and runner.VUGauge.
// It registers on its own registry so several runs in one process (tests)
// do not collide.
type Collector struct {
	reg *prometheus.Registry

	reqsTotal   prometheus.Counter
	failedTotal prometheus.Counter
	checksTotal *prometheus.CounterVec

	reqDuration prometheus.Histogram

	vus prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		reqsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_reqs_total",
			Help:      "Total number of HTTP requests issued by virtual users.",
		}),
		failedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_req_failed_total",
			Help:      "Requests that errored or returned a failed status.",
		}),
		checksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Check evaluations by check name and result.",
		}, []string{"check", "result"}),
		reqDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_req_duration_seconds",
			Help:      "Latency distribution of HTTP requests.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}),
		vus: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Current number of running virtual users.",
		}),
	}
}

func (c *Collector) ObserveRequest(latency time.Duration, failed bool) {
	c.reqsTotal.Inc()
	if failed {
		c.failedTotal.Inc()
	}
	c.reqDuration.Observe(latency.Seconds())
}

func (c *Collector) ObserveCheck(name string, passed bool) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	c.checksTotal.WithLabelValues(name, result).Inc()
}

func (c *Collector) SetVUs(n int) {
	c.vus.Set(float64(n))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	log.WithField("addr", addr).Info("metrics endpoint listening")

	select {
	case err := <-errCh:
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
