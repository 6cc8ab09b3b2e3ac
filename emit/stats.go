package emit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsEmitter records evaluation-pipeline and cranker events as Prometheus
// counters/histograms, keyed off event.Msg. Every event is counted under
// its own Msg as the label value; there is no fixed list of names and no
// catch-all counter.
type StatsEmitter struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewStatsEmitter registers its metrics on reg (use prometheus.NewRegistry()
// in tests to avoid collisions with the default global registry).
func NewStatsEmitter(reg prometheus.Registerer) *StatsEmitter {
	s := &StatsEmitter{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ao_cu",
			Name:      "events_total",
			Help:      "Count of evaluation/cranker events by name.",
		}, []string{"msg"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ao_cu",
			Name:      "event_duration_ms",
			Help:      "Duration in milliseconds recorded on events that carry a duration_ms meta field.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"msg"}),
	}
	reg.MustRegister(s.events, s.durations)
	return s
}

func (s *StatsEmitter) Emit(event Event) {
	s.events.WithLabelValues(event.Msg).Inc()
	if d, ok := event.Meta["duration_ms"]; ok {
		if f, ok := toFloat(d); ok {
			s.durations.WithLabelValues(event.Msg).Observe(f)
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *StatsEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.Emit(e)
	}
	return nil
}

func (s *StatsEmitter) Flush(context.Context) error { return nil }
