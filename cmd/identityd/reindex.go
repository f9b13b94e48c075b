package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var dryRun bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Wipe and rebuild the uniqueness index from identity records",
	Long: `Rebuilds the username and email index from the Primary store.

This is an offline maintenance command: stop every server that writes to the
same stores first. A running server only serializes rebuilds with its own
registrations and updates, and a rebuild from another process can drop a
reservation it holds. A server can instead rebuild at boot with
REINDEX_ON_START.

With --dry-run the index is computed and reported but not written. Dry runs
only read and are safe at any time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStores(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.close()
		a := newApp(cfg, st)

		if dryRun {
			img, records, dups, err := a.builder.Compute(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "records: %d\nentries: %d\nduplicates: %d\n", records, img.Size(), dups)
			return nil
		}

		stats, err := a.builder.RebuildFull(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("records", stats.Records).Int("entries", stats.Entries).
			Int("duplicates", stats.Duplicates).Dur("took", stats.Duration).Msg("reindex done")
		fmt.Fprintf(cmd.OutOrStdout(), "records: %d\nentries: %d\nduplicates: %d\n", stats.Records, stats.Entries, stats.Duplicates)
		return nil
	},
}

func init() {
	reindexCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the index without writing it")
	rootCmd.AddCommand(reindexCmd)
}
