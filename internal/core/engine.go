// Package core wires the subscription registry, per-connection accumulators
// and the dispatcher into the Engine the persistence host talks to.
package core

import (
	"context"
	"time"

	"commitwatch/internal/dispatch"
	"commitwatch/internal/registry"
	"commitwatch/internal/tracking"
	"commitwatch/internal/txstate"
	"commitwatch/pkg/domain"
	"commitwatch/pkg/log"
)

// Engine receives lifecycle hooks from the persistence host, accumulates the
// changes of each connection's transaction and dispatches node handlers once
// per commit.
//
// Hooks for one connection must be raised from one goroutine at a time.
// Different connections may be driven concurrently.
type Engine struct {
	registry   *registry.Registry
	table      *txstate.Table
	dispatcher *dispatch.Dispatcher
	logger     log.Logger
	metrics    MetricsRecorder
	nowFn      func() time.Time
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger   log.Logger
	metrics  MetricsRecorder
	maxDepth int
	nowFn    func() time.Time
}

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) Option {
	return func(c *engineConfig) { c.logger = log.OrNoop(l) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMaxDepth bounds nested dispatch cycles triggered by handlers that
// commit tracked changes on the same connection. Zero, the default, leaves
// recursion unbounded; a handler that keeps re-triggering its own node then
// recurses until the process runs out of stack.
func WithMaxDepth(n int) Option {
	return func(c *engineConfig) { c.maxDepth = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		if now != nil {
			c.nowFn = now
		}
	}
}

// NewEngine builds an engine over reg and seals it: every node must be
// registered before the engine is constructed.
func NewEngine(reg *registry.Registry, opts ...Option) *Engine {
	cfg := engineConfig{
		logger:  log.NoopLogger{},
		metrics: NoopMetrics{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if reg == nil {
		reg = registry.New()
	}
	reg.Seal()
	return &Engine{
		registry: reg,
		table:    txstate.NewTable(),
		dispatcher: dispatch.New(reg,
			dispatch.WithLogger(cfg.logger),
			dispatch.WithRecorder(cfg.metrics),
			dispatch.WithMaxDepth(cfg.maxDepth),
			dispatch.WithClock(cfg.nowFn),
		),
		logger:  cfg.logger,
		metrics: cfg.metrics,
		nowFn:   cfg.nowFn,
	}
}

// Registry returns the sealed subscription registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// BeforeCreate records the insertion of rec on conn.
func (e *Engine) BeforeCreate(conn domain.ConnID, rec tracking.Trackable) {
	subs := e.subscriptions(rec)
	if subs == nil {
		return
	}
	rec.Tracker().OnCreate(rec, subs, e.table.For(conn))
}

// BeforeUpdate records attribute writes on rec. Changes carry the value each
// attribute had before this write.
func (e *Engine) BeforeUpdate(conn domain.ConnID, rec tracking.Trackable, changes []domain.AttributeChange) {
	subs := e.subscriptions(rec)
	if subs == nil {
		return
	}
	rec.Tracker().OnUpdate(rec, changes, subs, e.table.For(conn))
}

// BeforeDestroy records the deletion of rec on conn.
func (e *Engine) BeforeDestroy(conn domain.ConnID, rec tracking.Trackable) {
	subs := e.subscriptions(rec)
	if subs == nil {
		return
	}
	rec.Tracker().OnDestroy(rec, subs, e.table.For(conn))
}

// AfterCommit drains conn's accumulated changes and dispatches them. It is
// safe to call more than once per commit; only the first call dispatches.
// Handler errors are returned after the data commit is already durable.
func (e *Engine) AfterCommit(ctx context.Context, conn domain.ConnID) error {
	acc, ok := e.table.Peek(conn)
	if !ok {
		return nil
	}
	records, err := acc.DrainAndDispatchOnce(ctx, e.dispatcher)
	if records > 0 {
		e.metrics.RecordsDrained(records)
		e.logger.Debug("commit drained", log.String("conn", string(conn)), log.Int("records", records))
	}
	return err
}

// AfterRollback discards conn's accumulated changes without dispatching.
func (e *Engine) AfterRollback(conn domain.ConnID) {
	acc, ok := e.table.Peek(conn)
	if !ok {
		return
	}
	if n := acc.Discard(); n > 0 {
		e.metrics.RolledBack(n)
		e.logger.Debug("rollback discarded changes", log.String("conn", string(conn)), log.Int("records", n))
	}
}

// Release forgets conn, typically when the connection is closed.
func (e *Engine) Release(conn domain.ConnID) {
	e.table.Release(conn)
}

// Pending returns the number of records with undispatched changes on conn.
func (e *Engine) Pending(conn domain.ConnID) int {
	acc, ok := e.table.Peek(conn)
	if !ok {
		return 0
	}
	return acc.Len()
}

// Dispatch delivers an already resolved change set. Hosts normally rely on
// AfterCommit; this is exposed for replaying resolved sets.
func (e *Engine) Dispatch(ctx context.Context, set *domain.ChangeSet) error {
	return e.dispatcher.Dispatch(ctx, set)
}

func (e *Engine) subscriptions(rec tracking.Trackable) *registry.Subscriptions {
	subs := e.registry.Subscriptions(rec.Class())
	if subs.Empty() {
		return nil
	}
	return subs
}
