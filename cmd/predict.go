package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/predict"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify segments with a trained model artifact",
	Long: `Applies the artifact's ensemble to each region's feature rows and stores
the predicted class with its bucketed confidence. Each region's predictions
are replaced in one transaction; label and confidence always land together.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		regions, err := regionsFromFlags(cmd)
		if err != nil {
			return err
		}

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

		opts := predict.Options{
			Confidence: cfg.Predict.Confidence,
			Workers:    cfg.Extract.Workers,
		}
		if err := predict.Regions(ctx, store, artifact, regions, opts); err != nil {
			return eris.Wrap(err, "predict")
		}
		fmt.Printf("predicted %d region(s) with model %s\n", len(regions), artifact.ID)
		return nil
	},
}

func init() {
	addRegionFlags(predictCmd)
	predictCmd.Flags().String("model", "model.json", "trained artifact path")
	rootCmd.AddCommand(predictCmd)
}
