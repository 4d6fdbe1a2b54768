package core

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"commitwatch/internal/dispatch"
	"commitwatch/pkg/domain"
)

// MetricsRecorder observes engine activity.
type MetricsRecorder interface {
	dispatch.Recorder
	RecordsDrained(n int)
	RolledBack(n int)
}

var (
	_ MetricsRecorder = NoopMetrics{}
	_ MetricsRecorder = (*PrometheusRecorder)(nil)
	_ MetricsRecorder = (*ExpvarRecorder)(nil)
)

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) HandlerInvoked(string, domain.ChangeKind, time.Duration, error) {}
func (NoopMetrics) CycleCompleted(int, int, time.Duration, error)                  {}
func (NoopMetrics) RecordsDrained(int)                                             {}
func (NoopMetrics) RolledBack(int)                                                 {}

// PrometheusRecorder exports engine metrics as Prometheus collectors.
type PrometheusRecorder struct {
	handlers  *prometheus.CounterVec
	handlerMS *prometheus.HistogramVec
	cycles    *prometheus.CounterVec
	cycleDur  prometheus.Histogram
	drained   prometheus.Counter
	discarded prometheus.Counter
}

// NewPrometheusRecorder creates the collectors under namespace and registers
// them with reg. A nil reg leaves them unregistered.
func NewPrometheusRecorder(namespace string, reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "commitwatch"
	}
	r := &PrometheusRecorder{
		handlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Handler invocations by node, change kind and result.",
		}, []string{"node", "kind", "result"}),
		handlerMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time by node.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"node"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Dispatch cycles by result.",
		}, []string{"result"}),
		cycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Duration of a whole dispatch cycle, nested cycles included.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_drained_total",
			Help:      "Changed records drained at commit.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_discarded_total",
			Help:      "Changed records discarded by rollback.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{r.handlers, r.handlerMS, r.cycles, r.cycleDur, r.drained, r.discarded} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("register collector: %w", err)
			}
		}
	}
	return r, nil
}

// HandlerInvoked implements dispatch.Recorder.
func (r *PrometheusRecorder) HandlerInvoked(node string, kind domain.ChangeKind, took time.Duration, err error) {
	r.handlers.WithLabelValues(node, kind.String(), result(err)).Inc()
	r.handlerMS.WithLabelValues(node).Observe(took.Seconds())
}

// CycleCompleted implements dispatch.Recorder.
func (r *PrometheusRecorder) CycleCompleted(_, _ int, took time.Duration, err error) {
	r.cycles.WithLabelValues(result(err)).Inc()
	r.cycleDur.Observe(took.Seconds())
}

// RecordsDrained implements MetricsRecorder.
func (r *PrometheusRecorder) RecordsDrained(n int) { r.drained.Add(float64(n)) }

// RolledBack implements MetricsRecorder.
func (r *PrometheusRecorder) RolledBack(n int) { r.discarded.Add(float64(n)) }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
