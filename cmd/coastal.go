package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/coastal"
)

var coastalCmd = &cobra.Command{
	Use:   "coastal",
	Short: "Attach nearest-transect coastal features",
	Long: `Indexes the coastal transect dataset and widens each region's feature
rows with the attributes of the nearest transect within the association
radius. Segments farther than the radius keep null coastal columns.`,
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

		radius, _ := cmd.Flags().GetFloat64("radius-km")
		if radius == 0 {
			radius = cfg.Coastal.MaxAssociationKM
		}
		opts := coastal.Options{
			MaxAssociationKM: radius,
			Workers:          cfg.Coastal.Workers,
		}

		if err := coastal.IntegrateRegions(ctx, store, regions, opts); err != nil {
			return eris.Wrap(err, "coastal")
		}
		fmt.Printf("coastal features integrated for %d region(s)\n", len(regions))
		return nil
	},
}

func init() {
	addRegionFlags(coastalCmd)
	coastalCmd.Flags().Float64("radius-km", 0, "association radius in km (default: from config)")
	rootCmd.AddCommand(coastalCmd)
}
