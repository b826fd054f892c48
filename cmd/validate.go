package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the post-prediction validation methods",
	Long: `Runs each validation method independently: holdout accuracy against the
ground truth the model never saw, distance-stratified plausibility of the
predictions, cross-signal agreement with the physical model, and the
discharge-proxy check. Exits 2 when a binding method fails.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		modelPath, _ := cmd.Flags().GetString("model")
		artifact, err := ml.LoadArtifact(modelPath)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		opts := validate.Options{
			MinHoldoutAccuracy: cfg.Validation.MinHoldoutAccuracy,
			DistanceBins:       cfg.Validation.DistanceBins,
		}

		report, err := validate.Run(ctx, store, artifact, opts)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		out, _ := cmd.Flags().GetString("out")
		if err := report.Write(out); err != nil {
			return err
		}

		fmt.Println(report.Summary())
		if !report.Pass {
			return errValidationFailed
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	validateCmd.Flags().String("model", "model.json", "trained artifact path")
	validateCmd.Flags().String("out", "report.yaml", "validation report output path")
	rootCmd.AddCommand(validateCmd)
}
