package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/graymatterlab/voxclass/internal/config"
	"github.com/graymatterlab/voxclass/internal/dataset"
	"github.com/graymatterlab/voxclass/internal/eval"
	"github.com/graymatterlab/voxclass/internal/manifest"
	"github.com/graymatterlab/voxclass/internal/model"
	"github.com/graymatterlab/voxclass/internal/transform"
	"github.com/graymatterlab/voxclass/internal/writer"
)

var (
	cfgPath   string
	verbose   bool
	overrides config.Overrides

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "voxclass",
	Short: "3D volume classifier evaluation",
	Long: `voxclass evaluates a pretrained 3D convolutional classifier on a
NIfTI dataset described by a FHIR-style JSON manifest. It runs batched
inference over the validation split, writes per-sample predictions to
CSV, and reports the final accuracy.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate the classifier on the validation split",
	RunE:  runEval,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	evalCmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML config (defaults match the reference IXI run)")
	evalCmd.Flags().StringVar(&overrides.ManifestPath, "manifest", "", "override manifest path")
	evalCmd.Flags().StringVar(&overrides.DataRoot, "data-root", "", "override image data root")
	evalCmd.Flags().StringVar(&overrides.ModelPath, "model", "", "override checkpoint path")
	evalCmd.Flags().StringVar(&overrides.MetadataPath, "metadata", "", "override model metadata path")
	evalCmd.Flags().StringVar(&overrides.OutputDir, "output-dir", "", "override predictions output directory")
	evalCmd.Flags().IntVar(&overrides.BatchSize, "batch-size", 0, "override batch size")
	evalCmd.Flags().IntVar(&overrides.NumWorkers, "num-workers", 0, "override prefetch workers")

	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("starting evaluation",
		zap.String("manifest", cfg.ManifestPath),
		zap.String("data_root", cfg.DataRoot),
		zap.String("model", cfg.ModelPath),
		zap.String("output_dir", cfg.OutputDir),
		zap.Int("split_start", cfg.SplitStart),
		zap.Int("split_end", cfg.SplitEnd),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("num_workers", cfg.NumWorkers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}
	samples, err := m.Split(cfg.SplitStart, cfg.SplitEnd, cfg.DataRoot)
	if err != nil {
		return err
	}

	pipeline := transform.Compose{
		transform.ScaleIntensity{},
		transform.Resize{Depth: cfg.ResizeDepth, Height: cfg.ResizeHeight, Width: cfg.ResizeWidth},
	}
	loader, err := dataset.NewLoader(dataset.New(samples, pipeline, nil), cfg.BatchSize, cfg.NumWorkers)
	if err != nil {
		return err
	}

	clf, err := model.NewSession(cfg.ModelPath, cfg.MetadataPath)
	if err != nil {
		return err
	}
	defer clf.Close()
	logger.Info("model loaded",
		zap.String("path", cfg.ModelPath),
		zap.Strings("classes", clf.Metadata().Classes))

	saver, err := writer.NewCSVSaver(cfg.OutputDir)
	if err != nil {
		return err
	}

	res, err := eval.NewDriver(loader, clf, saver, logger).Run(ctx)
	if err != nil {
		if errors.Is(err, eval.ErrEmptySplit) {
			return fmt.Errorf("%w (split [%d, %d))", err, cfg.SplitStart, cfg.SplitEnd)
		}
		return err
	}

	fmt.Println(res.MetricLine())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
