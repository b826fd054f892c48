package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-region ingestion, feature and prediction counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.RegionStats(ctx)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("store is empty, run ingest first")
			return nil
		}

		fmt.Printf("%-8s %10s %10s %10s %12s\n",
			"Region", "Segments", "Labeled", "Predicted", "FeatureRows")
		fmt.Println(strings.Repeat("-", 54))
		for _, s := range stats {
			fmt.Printf("%-8s %10d %10d %10d %12d\n",
				s.Region, s.Segments, s.Labeled, s.Predicted, s.FeatureRows)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
