package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load river-network and coastal-transect shapefiles into the store",
	Long: `Reads one macro-region's river network shapefile and, optionally, the
global coastal transect shapefile, and loads them into the segment store.
Re-ingesting a region rejects duplicate segment ids rather than silently
overwriting.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		log := zap.L().With(zap.String("command", "ingest"))

		regionStr, _ := cmd.Flags().GetString("region")
		segmentsPath, _ := cmd.Flags().GetString("segments")
		transectsPath, _ := cmd.Flags().GetString("transects")

		if segmentsPath != "" {
			region := model.Region(regionStr)
			if !model.ValidRegion(region) {
				return eris.Errorf("unknown region %q", regionStr)
			}
			n, err := segment.IngestRegion(ctx, store, region, segmentsPath)
			if err != nil {
				return eris.Wrap(err, "ingest: segments")
			}
			log.Info("segments ingested", zap.String("region", regionStr), zap.Int64("count", n))
			fmt.Printf("ingested %d segments into %s\n", n, regionStr)
		}

		if transectsPath != "" {
			n, err := segment.IngestTransects(ctx, store, transectsPath)
			if err != nil {
				return eris.Wrap(err, "ingest: transects")
			}
			log.Info("transects ingested", zap.Int64("count", n))
			fmt.Printf("ingested %d transects\n", n)
		}

		if segmentsPath == "" && transectsPath == "" {
			return eris.New("nothing to ingest: pass --segments and/or --transects")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("region", "", "macro-region code for --segments")
	ingestCmd.Flags().String("segments", "", "river network shapefile (.shp)")
	ingestCmd.Flags().String("transects", "", "coastal transect shapefile (.shp)")
	rootCmd.AddCommand(ingestCmd)
}
