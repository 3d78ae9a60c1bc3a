// converter-infer scores a trained Converter checkpoint on the test split of
// an LRA task.
//
// Usage:
//
//	converter-infer --task=listops
//	converter-infer --task=text --weights=Converter_text.pt
package main

import (
	"context"
	"fmt"
	"os"

	"converter_lib/data"
	"converter_lib/nn"
	"converter_lib/train"
	"converter_lib/utils"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var task, configPath, weights string
	cmd := &cobra.Command{
		Use:          "converter-infer",
		Short:        "Evaluate a Converter checkpoint on an LRA test split",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := utils.ResolveConfig(viper.New(), cmd.Flags(), task, configPath)
			if err != nil {
				return err
			}
			if weights == "" {
				weights = utils.CheckpointPath(cfg.CheckpointPrefix, cfg.DatasetName)
			}
			return run(cmd.Context(), cfg, weights)
		},
	}
	cmd.Flags().StringVar(&task, "task", "listops", fmt.Sprintf("LRA task preset, one of %v", utils.Tasks()))
	cmd.Flags().StringVar(&configPath, "config", "", "YAML file overriding the task preset")
	cmd.Flags().StringVar(&weights, "weights", "", "checkpoint file (default <checkpoint_prefix>_<task>.pt)")

	def, err := utils.TaskConfig("listops")
	if err != nil {
		panic(err)
	}
	utils.RegisterFlags(cmd.Flags(), def)
	return cmd
}

func run(ctx context.Context, cfg *utils.Config, weights string) error {
	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	rng := utils.NewRNG(cfg.Seed)

	test, err := data.Load(data.SourceFromConfig(cfg), data.Test)
	if err != nil {
		return fmt.Errorf("load %s test split: %w", cfg.DatasetName, err)
	}
	model, err := nn.NewModel(cfg, rng)
	if err != nil {
		return err
	}
	if err := utils.LoadParams(weights, model.Params()); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"weights": weights, "samples": test.Len()}).Info("Checkpoint loaded")

	tr, err := train.NewTrainer(cfg, model, rng, logger)
	if err != nil {
		return err
	}
	loader, err := data.NewLoader(test, cfg.BatchSize, false, nil)
	if err != nil {
		return err
	}
	res, err := tr.Evaluate(ctx, loader)
	if err != nil {
		return err
	}
	tr.Log.WithFields(logrus.Fields{
		"test_loss": res.Loss,
		"test_acc":  res.Accuracy,
		"mcc":       res.MCC,
		"f1":        res.F1,
		"samples":   res.Samples,
		"criteria":  cfg.Criteria,
		"passed":    res.Accuracy >= cfg.Criteria,
	}).Info("Test finished")
	return nil
}
