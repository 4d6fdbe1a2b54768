package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"commitwatch/pkg/domain"
	"commitwatch/pkg/log"
)

// Recorder observes dispatch activity. Implementations must be safe for
// concurrent use because different connections dispatch independently.
type Recorder interface {
	HandlerInvoked(node string, kind domain.ChangeKind, took time.Duration, err error)
	CycleCompleted(nodes, changes int, took time.Duration, err error)
}

type noopRecorder struct{}

func (noopRecorder) HandlerInvoked(string, domain.ChangeKind, time.Duration, error) {}
func (noopRecorder) CycleCompleted(int, int, time.Duration, error)                  {}

// Dispatcher invokes node handlers for a resolved change set.
type Dispatcher struct {
	lookup   Lookup
	logger   log.Logger
	recorder Recorder
	maxDepth int
	nowFn    func() time.Time
	cycleID  func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l log.Logger) Option {
	return func(d *Dispatcher) { d.logger = log.OrNoop(l) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithMaxDepth bounds how deeply dispatch cycles may nest when handlers
// commit further tracked changes. Zero leaves recursion unbounded.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) { d.maxDepth = n }
}

// WithClock overrides the time source used for scopes and timings.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.nowFn = now
		}
	}
}

// New constructs a dispatcher resolving nodes through lookup.
func New(lookup Lookup, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lookup:   lookup,
		logger:   log.NoopLogger{},
		recorder: noopRecorder{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		cycleID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaxDepth returns the configured recursion bound, zero when unbounded.
func (d *Dispatcher) MaxDepth() int { return d.maxDepth }

// Dispatch delivers every change in set. Nodes are processed in set order;
// the first error aborts the remaining handlers of this cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, set *domain.ChangeSet) (err error) {
	if set.Empty() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	depth := Depth(ctx) + 1
	if d.maxDepth > 0 && depth > d.maxDepth {
		return domain.RecursionLimitError{Depth: depth}
	}
	ctx = withDepth(ctx, depth)

	nodes := set.Nodes()
	cycle := d.cycleID()
	started := d.nowFn()
	defer func() {
		d.recorder.CycleCompleted(len(nodes), set.Len(), d.nowFn().Sub(started), err)
	}()

	for _, id := range nodes {
		node, err := d.lookup.Lookup(id)
		if err != nil {
			return err
		}
		if err := d.runNode(ctx, node, cycle, set.For(id)); err != nil {
			d.logger.Error("dispatch aborted", log.String("node", id), log.Int("depth", depth), log.Err(err))
			return err
		}
	}
	d.logger.Debug("dispatch cycle complete",
		log.Int("nodes", len(nodes)), log.Int("changes", set.Len()), log.Int("depth", depth))
	return nil
}

func (d *Dispatcher) runNode(ctx context.Context, node Node, cycle string, changes []domain.Change) error {
	scope := openScope(node.ID(), cycle, node.NewState(), d.nowFn())
	defer scope.close()

	run := func(ctx context.Context) error {
		for _, change := range changes {
			handler, err := node.HandlerFor(change.Record.Class())
			if err != nil {
				return err
			}
			if !handler.Accepts(change.Kind) {
				continue
			}
			scope.deliver(change)
			began := d.nowFn()
			err = handler.Fn(ctx, scope, change)
			d.recorder.HandlerInvoked(node.ID(), change.Kind, d.nowFn().Sub(began), err)
			if err != nil {
				return fmt.Errorf("node %s: %s handler for %s: %w",
					node.ID(), change.Kind, change.Record.Class().Name(), err)
			}
		}
		return nil
	}

	wrap := node.Wrapper()
	if wrap == nil {
		return run(ctx)
	}
	return wrap(ctx, scope, run)
}
