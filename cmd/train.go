package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/estuary-atlas/estuary-cli/internal/ml"
	"github.com/estuary-atlas/estuary-cli/internal/model"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the salinity classifier with a spatial holdout",
	Long: `Trains the bagged tree ensemble on labeled feature rows from every region
except the holdout. Hyperparameters are selected by k-fold cross-validation
strictly inside the non-holdout rows; the holdout region never appears in
any fold. Writes an immutable model artifact.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		holdoutStr, _ := cmd.Flags().GetString("holdout")
		if holdoutStr == "" {
			holdoutStr = cfg.Train.HoldoutRegion
		}
		holdout := model.Region(holdoutStr)
		if !model.ValidRegion(holdout) {
			return eris.Errorf("unknown holdout region %q", holdoutStr)
		}

		opts := ml.TrainOptions{
			HoldoutRegion:  holdout,
			MinLabeledRows: cfg.Train.MinLabeledRows,
			CVFolds:        cfg.Train.CVFolds,
			Seed:           cfg.Train.Seed,
			Grid: ml.ExpandGrid(
				cfg.Train.Grid.Trees,
				cfg.Train.Grid.MaxDepth,
				cfg.Train.Grid.MinLeafSize,
			),
		}

		artifact, err := ml.Train(ctx, store, opts)
		if err != nil {
			return eris.Wrap(err, "train")
		}

		out, _ := cmd.Flags().GetString("out")
		if err := artifact.Save(out); err != nil {
			return err
		}

		fmt.Printf("model %s trained on %d rows (holdout %s, cv accuracy %.3f)\n",
			artifact.ID, artifact.TrainedRows, artifact.HoldoutRegion, artifact.CVAccuracy)
		fmt.Println("top features:")
		for i, imp := range artifact.Importances {
			if i == 10 {
				break
			}
			fmt.Printf("  %-22s %.4f\n", imp.Name, imp.Score)
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().String("holdout", "", "holdout region code (default: from config)")
	trainCmd.Flags().String("out", "model.json", "artifact output path")
	rootCmd.AddCommand(trainCmd)
}
