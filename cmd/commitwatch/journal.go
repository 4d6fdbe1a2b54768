package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"commitwatch/internal/blob"
	"commitwatch/internal/journal"
)

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the dispatch journal",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List journaled dispatch cycles in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.JournalEnabled() {
				return fmt.Errorf("journal disabled; set journal.driver")
			}
			ctx := cmd.Context()
			store, err := blob.Open(ctx, a.cfg.BlobConfig())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			entries, err := journal.NewWriter(store, journal.WithPrefix(a.cfg.Journal.Prefix)).Entries(ctx)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "%s %s %s %d change(s)\n",
					e.DispatchedAt.Format(time.RFC3339), e.Cycle, e.Node, len(e.Changes))
				for _, c := range e.Changes {
					fmt.Fprintf(a.stdout, "  %s %s %s\n", c.Kind, c.Class, c.ID)
				}
			}
			return nil
		},
	})
	return cmd
}
