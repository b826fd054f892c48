package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/physics"
)

var physicsCmd = &cobra.Command{
	Use:   "physics",
	Short: "Attach physical-model discharge, salinity and temperature",
	Long: `Samples the physical-model grids at each segment midpoint and widens the
feature rows with the sanitized physics group. Fill sentinels and values
beyond the plausibility ceilings become missing, never clipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		regions, err := regionsFromFlags(cmd)
		if err != nil {
			return err
		}

		gridDir, _ := cmd.Flags().GetString("grid")
		if gridDir == "" {
			gridDir = cfg.Physics.GridDir
		}
		if gridDir == "" {
			return eris.New("no grid directory: pass --grid or set physics.grid_dir")
		}
		grids, err := physics.OpenGridSet(gridDir)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		opts := physics.Options{
			Policy: physics.Policy{
				FillValue:       cfg.Physics.FillValue,
				MaxSalinityPSU:  cfg.Physics.MaxSalinityPSU,
				MaxDischargeM3S: cfg.Physics.MaxDischargeM3S,
				MinTempC:        cfg.Physics.MinTempC,
				MaxTempC:        cfg.Physics.MaxTempC,
			},
			Workers: cfg.Extract.Workers,
		}

		if err := physics.IntegrateRegions(ctx, store, grids, regions, opts); err != nil {
			return eris.Wrap(err, "physics")
		}
		fmt.Printf("physics integrated for %d region(s)\n", len(regions))
		return nil
	},
}

func init() {
	addRegionFlags(physicsCmd)
	physicsCmd.Flags().String("grid", "", "physical-model grid directory (default: from config)")
	rootCmd.AddCommand(physicsCmd)
}
