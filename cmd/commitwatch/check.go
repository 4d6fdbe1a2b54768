package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"commitwatch/internal/config"
	"commitwatch/internal/dispatch"
	"commitwatch/pkg/domain"
	"commitwatch/pkg/log"
)

func newCheckCmd(a *app) *cobra.Command {
	var (
		path  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a subscription table",
		Long: strings.TrimSpace(`
Load a subscription table, register every node and report malformed
declarations together with dependencies whose class has no handler on the
node or any of the class's ancestors.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !watch {
				return a.check(path)
			}
			return a.watchCheck(cmd.Context(), path)
		},
	}
	cmd.Flags().StringVar(&path, "subscriptions", "subscriptions.toml", "path to the subscription table")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-check whenever the file changes until interrupted")
	return cmd
}

func placeholderHandler(string, *domain.Class) dispatch.HandlerFunc {
	return func(context.Context, *dispatch.Scope, domain.Change) error { return nil }
}

func (a *app) check(path string) error {
	file, err := config.LoadSubscriptions(path)
	if err != nil {
		return err
	}
	reg, classes, err := file.Build(placeholderHandler)
	if reg == nil {
		return err
	}
	var problems []error
	if err != nil {
		problems = append(problems, err)
	}
	problems = append(problems, reg.Check()...)
	for _, p := range problems {
		fmt.Fprintf(a.stdout, "problem: %v\n", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %d problem(s)", path, len(problems))
	}
	fmt.Fprintf(a.stdout, "ok: %d classes, %d nodes\n", len(classes), len(reg.Nodes()))
	for _, id := range reg.Nodes() {
		node, err := reg.Find(id)
		if err != nil {
			return err
		}
		for _, class := range node.Classes() {
			fmt.Fprintf(a.stdout, "  %s <- %s %s\n", id, class.Name(), strings.Join(node.Attributes(class), ","))
		}
	}
	a.logger.Debug("subscription table valid")
	return nil
}

func (a *app) watchCheck(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	recheck := func() {
		if err := a.check(path); err != nil {
			a.logger.Warn("subscription table invalid", log.String("path", path), log.Err(err))
		}
	}
	recheck()
	a.logger.Info("watching subscription table", log.String("path", path))
	return config.WatchSubscriptions(ctx, path, 100*time.Millisecond, recheck, a.logger)
}
