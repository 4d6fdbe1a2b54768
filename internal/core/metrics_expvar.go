package core

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"commitwatch/pkg/domain"
)

var expvarSeq uint64

// ExpvarRecorder publishes engine counters through expvar, for deployments
// that read /debug/vars rather than scrape Prometheus.
type ExpvarRecorder struct {
	name string

	mu        sync.Mutex
	handlerMS map[string]float64
	handlers  map[string]map[string]int64
	cycles    map[string]int64
	cycleMS   float64
	drained   int64
	discarded int64
}

// ExpvarSnapshot is a read-only copy of the recorded counters.
type ExpvarSnapshot struct {
	HandlerMS  map[string]float64          `json:"handler_ms_total"`
	Handlers   map[string]map[string]int64 `json:"handler_results_total"`
	Cycles     map[string]int64            `json:"dispatch_cycles_total"`
	CycleMS    float64                     `json:"dispatch_cycle_ms_total"`
	Drained    int64                       `json:"records_drained_total"`
	Discarded  int64                       `json:"records_discarded_total"`
	RecordedAt time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes a recorder under name. expvar names are
// process-global, so an empty name is replaced by a generated unique one.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("commitwatch_engine_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	r := &ExpvarRecorder{
		name:      name,
		handlerMS: make(map[string]float64),
		handlers:  make(map[string]map[string]int64),
		cycles:    make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return r.Snapshot() }))
	return r
}

// Name returns the expvar variable name.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot copies the current counters.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlerMS := make(map[string]float64, len(r.handlerMS))
	for node, ms := range r.handlerMS {
		handlerMS[node] = ms
	}
	handlers := make(map[string]map[string]int64, len(r.handlers))
	for node, results := range r.handlers {
		cpy := make(map[string]int64, len(results))
		for k, v := range results {
			cpy[k] = v
		}
		handlers[node] = cpy
	}
	cycles := make(map[string]int64, len(r.cycles))
	for k, v := range r.cycles {
		cycles[k] = v
	}
	return ExpvarSnapshot{
		HandlerMS:  handlerMS,
		Handlers:   handlers,
		Cycles:     cycles,
		CycleMS:    r.cycleMS,
		Drained:    r.drained,
		Discarded:  r.discarded,
		RecordedAt: time.Now().UTC(),
	}
}

// HandlerInvoked implements dispatch.Recorder. Results are keyed
// "<kind>_<result>", e.g. "insert_success".
func (r *ExpvarRecorder) HandlerInvoked(node string, kind domain.ChangeKind, took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlerMS[node] += float64(took) / float64(time.Millisecond)
	results, ok := r.handlers[node]
	if !ok {
		results = make(map[string]int64, 2)
		r.handlers[node] = results
	}
	results[kind.String()+"_"+result(err)]++
}

// CycleCompleted implements dispatch.Recorder.
func (r *ExpvarRecorder) CycleCompleted(_, _ int, took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles[result(err)]++
	r.cycleMS += float64(took) / float64(time.Millisecond)
}

// RecordsDrained implements MetricsRecorder.
func (r *ExpvarRecorder) RecordsDrained(n int) {
	r.mu.Lock()
	r.drained += int64(n)
	r.mu.Unlock()
}

// RolledBack implements MetricsRecorder.
func (r *ExpvarRecorder) RolledBack(n int) {
	r.mu.Lock()
	r.discarded += int64(n)
	r.mu.Unlock()
}
