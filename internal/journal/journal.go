// Package journal records dispatched changes to a blob store. A Writer is
// attached to a node as its wrap hook and writes one JSON document per
// dispatch cycle of that node after its handlers succeed.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"commitwatch/internal/blob"
	"commitwatch/internal/dispatch"
	"commitwatch/pkg/domain"
	"commitwatch/pkg/log"
)

const defaultPrefix = "cycles"

// Entry is the document written for one node in one dispatch cycle.
type Entry struct {
	Cycle        string        `json:"cycle"`
	Node         string        `json:"node"`
	DispatchedAt time.Time     `json:"dispatched_at"`
	Changes      []EntryChange `json:"changes"`
}

// EntryChange is the serialized form of a domain.Change.
type EntryChange struct {
	Kind  string          `json:"kind"`
	Class string          `json:"class"`
	ID    string          `json:"id"`
	Diff  map[string]Pair `json:"diff,omitempty"`
}

// Pair holds the before and after value of one attribute.
type Pair struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Writer persists journal entries.
type Writer struct {
	store  blob.Store
	prefix string
	logger log.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithPrefix sets the key prefix entries are written under.
func WithPrefix(prefix string) Option {
	return func(w *Writer) {
		if prefix != "" {
			w.prefix = prefix
		}
	}
}

// WithLogger sets the writer logger.
func WithLogger(l log.Logger) Option {
	return func(w *Writer) { w.logger = log.OrNoop(l) }
}

// NewWriter returns a writer backed by store.
func NewWriter(store blob.Store, opts ...Option) *Writer {
	w := &Writer{store: store, prefix: defaultPrefix, logger: log.NoopLogger{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Key returns the blob key of the entry for node in cycle.
func (w *Writer) Key(cycle, node string) string {
	return path.Join(w.prefix, cycle, node+".json")
}

// Wrap returns a wrap hook that runs next (or the handlers directly when next
// is nil) and journals the delivered changes when they succeed. Cycles that
// deliver nothing, because every change was filtered out, are not written.
func (w *Writer) Wrap(next dispatch.WrapFunc) dispatch.WrapFunc {
	return func(ctx context.Context, scope *dispatch.Scope, run func(context.Context) error) error {
		var err error
		if next != nil {
			err = next(ctx, scope, run)
		} else {
			err = run(ctx)
		}
		if err != nil {
			return err
		}
		changes := scope.Changes()
		if len(changes) == 0 {
			return nil
		}
		return w.Write(ctx, NewEntry(scope.Cycle(), scope.Node(), scope.Opened(), changes))
	}
}

// Write stores e.
func (w *Writer) Write(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	key := w.Key(e.Cycle, e.Node)
	if _, err := w.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"node": e.Node, "cycle": e.Cycle},
	}); err != nil {
		w.logger.Error("journal write failed", log.String("key", key), log.Err(err))
		return fmt.Errorf("write journal %s: %w", key, err)
	}
	w.logger.Debug("journal entry written", log.String("key", key), log.Int("changes", len(e.Changes)))
	return nil
}

// Entries reads back every entry, ordered by key.
func (w *Writer) Entries(ctx context.Context) ([]Entry, error) {
	infos, err := w.store.List(ctx, w.prefix+"/")
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		e, err := w.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (w *Writer) read(ctx context.Context, key string) (Entry, error) {
	_, rc, err := w.store.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, nil
}

// NewEntry converts delivered changes into a journal entry.
func NewEntry(cycle, node string, at time.Time, changes []domain.Change) Entry {
	e := Entry{Cycle: cycle, Node: node, DispatchedAt: at, Changes: make([]EntryChange, 0, len(changes))}
	for _, c := range changes {
		ec := EntryChange{Kind: c.Kind.String(), Class: c.Record.Class().Name(), ID: c.Record.ID()}
		if len(c.Diff) > 0 {
			ec.Diff = make(map[string]Pair, len(c.Diff))
			for attr, d := range c.Diff {
				ec.Diff[attr] = Pair{Before: d.Before, After: d.After}
			}
		}
		e.Changes = append(e.Changes, ec)
	}
	return e
}
