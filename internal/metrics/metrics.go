// Package metrics exposes pipeline progress as Prometheus metrics. The
// collector observes runs, serves /metrics for the long-running process and
// pushes to a Pushgateway after one-shot batch runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/zulandar/empatia/internal/pipeline"
)

// Collector bundles the pipeline metrics. It implements pipeline.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Dates       *prometheus.CounterVec
	DateSeconds *prometheus.HistogramVec
	Orbits      *prometheus.CounterVec
	Uncompleted *prometheus.GaugeVec
	LastRun     *prometheus.GaugeVec
	LastSuccess *prometheus.GaugeVec
}

var _ pipeline.Observer = (*Collector)(nil)

// New registers the metrics against reg, the default registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}

	var err error
	if c.Dates, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emp_dates_total",
		Help: "Processed dates by pipeline and outcome.",
	}, []string{"pipeline", "outcome"})); err != nil {
		return nil, err
	}
	if c.DateSeconds, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emp_date_duration_seconds",
		Help:    "Wall time spent on one date.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if c.Orbits, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emp_orbits_total",
		Help: "Eligible orbits by what became of them.",
	}, []string{"pipeline", "result"})); err != nil {
		return nil, err
	}
	if c.Uncompleted, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "emp_uncompleted_dates",
		Help: "Dates queued for retry in the checkpoint after the last run.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if c.LastRun, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "emp_last_run_timestamp_seconds",
		Help: "Unix time the last run finished.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	if c.LastSuccess, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "emp_last_success_timestamp_seconds",
		Help: "Unix time the last run with every date done finished.",
	}, []string{"pipeline"})); err != nil {
		return nil, err
	}
	return c, nil
}

// DateFinished counts the date and its orbits.
func (c *Collector) DateFinished(_ context.Context, _, pipelineID string, res pipeline.DateResult) {
	c.Dates.WithLabelValues(pipelineID, string(res.Outcome)).Inc()
	c.DateSeconds.WithLabelValues(pipelineID).Observe(res.Duration.Seconds())
	for result, n := range map[string]int{
		"rejected": res.Rejected,
		"produced": res.Produced,
		"failed":   res.Failures,
	} {
		if n > 0 {
			c.Orbits.WithLabelValues(pipelineID, result).Add(float64(n))
		}
	}
}

// RunFinished records the checkpoint backlog and run timestamps.
func (c *Collector) RunFinished(_ context.Context, report *pipeline.RunReport) {
	id := report.PipelineID
	if report.Saved {
		c.Uncompleted.WithLabelValues(id).Set(float64(len(report.Checkpoint.UncompletedDates)))
	}
	ts := float64(report.Finished.Unix())
	c.LastRun.WithLabelValues(id).Set(ts)
	if report.OK() {
		c.LastSuccess.WithLabelValues(id).Set(ts)
	}
}

// Handler serves the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Push sends the current metrics to a Pushgateway under job. Batch runs
// call it once before exiting.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(c.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("metrics: collector already registered with incompatible type")
		}
		return existing, nil
	}
	return c, nil
}
