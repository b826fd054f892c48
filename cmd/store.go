package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/model"
	"github.com/estuary-atlas/estuary-cli/internal/segment"
)

// openStore connects the configured segment store backend and ensures the
// schema is migrated.
func openStore(ctx context.Context) (segment.Store, error) {
	var (
		store segment.Store
		err   error
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		store, err = segment.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		store, err = segment.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// addRegionFlags wires the shared --region / --all-regions pair.
func addRegionFlags(cmd *cobra.Command) {
	cmd.Flags().String("region", "", "macro-region code (AF AS EU NA SA SI SP)")
	cmd.Flags().Bool("all-regions", false, "process every macro-region")
}

// regionsFromFlags resolves the shared pair into a region list.
func regionsFromFlags(cmd *cobra.Command) ([]model.Region, error) {
	all, _ := cmd.Flags().GetBool("all-regions")
	if all {
		return model.AllRegions, nil
	}
	code, _ := cmd.Flags().GetString("region")
	if code == "" {
		return nil, eris.New("one of --region or --all-regions is required")
	}
	region := model.Region(code)
	if !model.ValidRegion(region) {
		return nil, eris.Errorf("unknown region %q", code)
	}
	return []model.Region{region}, nil
}
