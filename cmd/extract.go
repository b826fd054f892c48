package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/features"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Compute topology features and rebuild the feature table",
	Long: `Walks each segment's downstream links to the ocean sink, derives the
topology feature group, attaches ground-truth labels, and rebuilds the
region's feature rows in full. Segments whose downstream chain never
terminates are excluded and recorded.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		regions, err := regionsFromFlags(cmd)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		workers, _ := cmd.Flags().GetInt("workers")
		if workers == 0 {
			workers = cfg.Extract.Workers
		}
		opts := features.Options{
			MaxDownstreamHops: cfg.Extract.MaxDownstreamHops,
			Workers:           workers,
		}

		if err := features.ExtractRegions(ctx, store, regions, opts); err != nil {
			return eris.Wrap(err, "extract")
		}
		fmt.Printf("extracted %d region(s)\n", len(regions))
		return nil
	},
}

func init() {
	addRegionFlags(extractCmd)
	extractCmd.Flags().Int("workers", 0, "parallel regions (default: from config)")
	rootCmd.AddCommand(extractCmd)
}
