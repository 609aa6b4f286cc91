package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fliupa/cni-scrapy/internal/progress"
)

// PrometheusSink exports run and fetch progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchRetries  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	checkpoints   *prometheus.CounterVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Harvest runs that scheduled at least one URL.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Harvest runs that ended, partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_active",
			Help: "Harvest runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per harvest run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1200, 1800, 3600, 7200},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fetches_total",
			Help: "Finished URL fetches partitioned by site and result.",
		}, []string{"site", "result"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fetch_retries_total",
			Help: "Retried attempts per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Time per URL including retries, partitioned by site and result.",
			Buckets: []float64{1, 2, 5, 10, 20, 45, 90, 180},
		}, []string{"site", "result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_checkpoint_events_total",
			Help: "Checkpoint saves reported by runs, partitioned by result.",
		}, []string{"result"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.fetches,
		s.fetchRetries,
		s.fetchDuration,
		s.checkpoints,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.markRunning(evt.RunID, true) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.endRun(evt, "success")
	case progress.StageRunError:
		s.endRun(evt, "error")
	case progress.StageFetchRetry:
		s.fetchRetries.WithLabelValues(site).Inc()
	case progress.StageFetchDone:
		s.observeFetch(site, "ok", evt)
	case progress.StageFetchFailed:
		s.observeFetch(site, "failed", evt)
	case progress.StageCheckpoint:
		result := "ok"
		if evt.Note != "" {
			result = "error"
		}
		s.checkpoints.WithLabelValues(result).Inc()
	}
}

func (s *PrometheusSink) endRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.markRunning(evt.RunID, false) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observeFetch(site, result string, evt progress.Event) {
	s.fetches.WithLabelValues(site, result).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, result).Observe(evt.Dur.Seconds())
	}
}

// markRunning adds or removes id and reports whether the set changed.
func (s *PrometheusSink) markRunning(id [16]byte, running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.running[id]
	if running == present {
		return false
	}
	if running {
		s.running[id] = struct{}{}
	} else {
		delete(s.running, id)
	}
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
