package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/estuary-atlas/estuary-cli/internal/config"
)

var cfg *config.Config

// errValidationFailed distinguishes a model that failed validation from a
// pipeline error; the two map to different exit codes.
var errValidationFailed = errors.New("validation failed")

var rootCmd = &cobra.Command{
	Use:   "estuary-cli",
	Short: "Global river-segment salinity and tidal-influence classification",
	Long: "Fuses network topology, physical-model output and coastal transect data\n" +
		"into per-segment features, trains a spatially held-out tree ensemble, and\n" +
		"classifies every river segment by Venice System salinity class.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errValidationFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
