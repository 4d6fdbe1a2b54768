package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"commitwatch/internal/blob"
	"commitwatch/internal/config"
	"commitwatch/internal/core"
	"commitwatch/internal/dispatch"
	"commitwatch/internal/infra/persistence/memory"
	"commitwatch/internal/journal"
	"commitwatch/internal/registry"
	"commitwatch/pkg/domain"
	"commitwatch/pkg/log"
)

var (
	recordClass  = domain.NewClass("Record", nil)
	postClass    = domain.NewClass("Post", recordClass)
	commentClass = domain.NewClass("Comment", recordClass)
)

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted blog workload and print what each node receives",
		Long: strings.TrimSpace(`
Registers two nodes: post_comment_count keeps Post.comment_count in step with
inserted and deleted comments, and post_audit prints every net change to a
post's title or comment count. The script then creates, updates and destroys
records in a few transactions, including one that is rolled back.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.demo(cmd.Context())
		},
	}
}

type demo struct {
	out    io.Writer
	logger log.Logger
	store  core.HostStore
}

func (a *app) demo(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &demo{out: a.stdout, logger: a.logger}

	var writer *journal.Writer
	if a.cfg.JournalEnabled() {
		store, err := blob.Open(ctx, a.cfg.BlobConfig())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		writer = journal.NewWriter(store, journal.WithPrefix(a.cfg.Journal.Prefix), journal.WithLogger(a.logger))
	}

	counter := registry.NewNode("post_comment_count").
		DependsOn(commentClass, registry.None).
		WithState(func() any { return map[string]int{} }).
		Handle(commentClass, d.countComment)
	audit := registry.NewNode("post_audit").
		DependsOn(postClass, "title", "comment_count").
		Handle(postClass, d.auditPost)
	if writer != nil {
		counter.Wrap(writer.Wrap(d.applyCounts))
		audit.Wrap(writer.Wrap(nil))
	} else {
		counter.Wrap(d.applyCounts)
	}
	reg := registry.New()
	if err := reg.Register(counter); err != nil {
		return err
	}
	if err := reg.Register(audit); err != nil {
		return err
	}

	opts := []core.Option{core.WithLogger(a.logger), core.WithMaxDepth(a.cfg.Dispatch.MaxDepth)}
	var (
		gatherer *prometheus.Registry
		vars     *core.ExpvarRecorder
	)
	switch {
	case !a.cfg.Metrics.Enabled:
	case a.cfg.Metrics.Backend == config.MetricsExpvar:
		vars = core.NewExpvarRecorder("")
		opts = append(opts, core.WithMetrics(vars))
	default:
		gatherer = prometheus.NewRegistry()
		rec, err := core.NewPrometheusRecorder(a.cfg.Metrics.Namespace, gatherer)
		if err != nil {
			return err
		}
		opts = append(opts, core.WithMetrics(rec))
	}
	engine := core.NewEngine(reg, opts...)

	store, err := engine.OpenStore(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close store", log.Err(err))
		}
	}()
	d.store = store
	a.logger.Info("demo starting", log.String("storage", a.cfg.Storage.Driver), log.Bool("journal", writer != nil))

	if err := d.script(ctx); err != nil {
		return err
	}
	if writer != nil {
		entries, err := writer.Entries(ctx)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		fmt.Fprintf(d.out, "journal: %d entries\n", len(entries))
	}
	switch {
	case gatherer != nil:
		return writeMetrics(d.out, gatherer)
	case vars != nil:
		enc := json.NewEncoder(d.out)
		enc.SetIndent("", "  ")
		return enc.Encode(vars.Snapshot())
	}
	return nil
}

func (d *demo) script(ctx context.Context) error {
	conn := d.store.Open()
	defer func() { _ = conn.Close() }()

	post := memory.NewEntity(postClass, map[string]any{"title": "Hello", "comment_count": 0})
	if err := conn.Create(ctx, post); err != nil {
		return fmt.Errorf("create post: %w", err)
	}

	var first *memory.Entity
	err := conn.RunInTransaction(ctx, func(tx *memory.Tx) error {
		for i, body := range []string{"first!", "nice post"} {
			c := memory.NewEntity(commentClass, map[string]any{"post_id": post.ID(), "body": body})
			if err := tx.Create(c); err != nil {
				return err
			}
			if i == 0 {
				first = c
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add comments: %w", err)
	}

	err = conn.RunInTransaction(ctx, func(tx *memory.Tx) error {
		if err := tx.Update(post, map[string]any{"title": "Hello, world"}); err != nil {
			return err
		}
		return tx.Update(post, map[string]any{"title": "Hello again"})
	})
	if err != nil {
		return fmt.Errorf("retitle post: %w", err)
	}

	if err := conn.Destroy(ctx, first); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}

	err = conn.RunInTransaction(ctx, func(tx *memory.Tx) error {
		c := memory.NewEntity(commentClass, map[string]any{"post_id": post.ID(), "body": "spam"})
		if err := tx.Create(c); err != nil {
			return err
		}
		return tx.Destroy(c)
	})
	if err != nil {
		return fmt.Errorf("transient comment: %w", err)
	}

	errAbandon := errors.New("abandoned")
	err = conn.RunInTransaction(ctx, func(tx *memory.Tx) error {
		if err := tx.Create(memory.NewEntity(commentClass, map[string]any{"post_id": post.ID(), "body": "draft"})); err != nil {
			return err
		}
		return errAbandon
	})
	if !errors.Is(err, errAbandon) {
		return fmt.Errorf("rolled back comment: %w", err)
	}

	final, err := conn.Find(postClass, post.ID())
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "post %s: title=%q comment_count=%d\n", final.ID(), final.Attr("title"), toInt(final.Attr("comment_count")))
	return nil
}

func (d *demo) countComment(_ context.Context, scope *dispatch.Scope, change domain.Change) error {
	postID, _ := change.Record.Attr("post_id").(string)
	counts := scope.State().(map[string]int)
	switch change.Kind {
	case domain.Insert:
		counts[postID]++
	case domain.Delete:
		counts[postID]--
	}
	return nil
}

// applyCounts runs the comment handlers, then writes the accumulated deltas
// to each post in a nested commit that post_audit observes.
func (d *demo) applyCounts(ctx context.Context, scope *dispatch.Scope, run func(context.Context) error) error {
	if err := run(ctx); err != nil {
		return err
	}
	counts := scope.State().(map[string]int)
	ids := make([]string, 0, len(counts))
	for id, delta := range counts {
		if delta != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	conn := d.store.Open()
	defer func() { _ = conn.Close() }()
	for _, id := range ids {
		post, err := conn.Find(postClass, id)
		var missing memory.ErrNotFound
		if errors.As(err, &missing) {
			d.logger.Warn("comment for unknown post", log.String("post", id))
			continue
		}
		if err != nil {
			return err
		}
		next := toInt(post.Attr("comment_count")) + counts[id]
		if err := conn.Update(ctx, post, map[string]any{"comment_count": next}); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) auditPost(_ context.Context, scope *dispatch.Scope, change domain.Change) error {
	line := fmt.Sprintf("%s %s %s %s", scope.Node(), change.Kind, change.Record.Class().Name(), change.Record.ID())
	attrs := make([]string, 0, len(change.Diff))
	for attr := range change.Diff {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		diff := change.Diff[attr]
		line += fmt.Sprintf(" %s: %v -> %v", attr, diff.Before, diff.After)
	}
	fmt.Fprintln(d.out, line)
	d.logger.Debug("post change", log.String("kind", change.Kind.String()), log.String("id", change.Record.ID()))
	return nil
}

// toInt accepts the numeric shapes a count takes in memory and after a JSON
// round trip through a persistent store.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
