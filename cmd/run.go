package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/pipeline"
	"github.com/dart-isr/donor-geo/pkg/geocode"
)

var (
	runInput     string
	runInterests string
	runMaster    string
	runLayersDir string
	runDryRun    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile an export into the master dataset and rebuild layers",
	Long: "Loads the export and the master dataset, matches and merges records, geocodes stale " +
		"addresses, and commits the master, layer and review files together.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags()
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		cache, err := openCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer cache.Close() //nolint:errcheck

		client, err := newGeocoder(cfg.Geocode)
		if err != nil {
			return err
		}

		orch := pipeline.New(geocode.NewCachedClient(client, cache),
			pipeline.WithWorkers(cfg.Geocode.Workers),
			pipeline.WithIngestOptions(ingestOptions(cfg.Input)),
			pipeline.WithInterestColumns(interestColumns(cfg.Input.Columns)),
			pipeline.WithAbortOnOutage(cfg.Geocode.AbortOnOutage),
			pipeline.WithOutput(cmd.OutOrStdout()),
		)

		summary, err := orch.Run(ctx, pipeline.Inputs{
			ExportPath:    cfg.Input.Path,
			Sheet:         cfg.Input.Sheet,
			InterestsPath: cfg.Input.InterestsPath,
			MasterPath:    cfg.Master.Path,
			LayersDir:     cfg.Output.LayersDir,
			Formats:       cfg.Output.Formats,
			ReviewPath:    cfg.Output.ReviewPath,
			SummaryPath:   cfg.Output.SummaryPath,
			MetricsPath:   cfg.Metrics.Textfile,
			DryRun:        runDryRun,
		})
		if err != nil {
			return err
		}
		if summary.Counts.Ambiguous > 0 {
			zap.L().Warn("rows held for review",
				zap.Int("ambiguous", summary.Counts.Ambiguous),
				zap.String("review", cfg.Output.ReviewPath),
			)
		}
		return nil
	},
}

// applyRunFlags lets command-line flags override config for this run.
func applyRunFlags() {
	if runInput != "" {
		cfg.Input.Path = runInput
	}
	if runInterests != "" {
		cfg.Input.InterestsPath = runInterests
	}
	if runMaster != "" {
		cfg.Master.Path = runMaster
	}
	if runLayersDir != "" {
		cfg.Output.LayersDir = runLayersDir
	}
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "export file (.csv or .xlsx), overrides input.path")
	runCmd.Flags().StringVar(&runInterests, "interests", "", "interests file, overrides input.interests_path")
	runCmd.Flags().StringVar(&runMaster, "master", "", "master dataset file, overrides master.path")
	runCmd.Flags().StringVar(&runLayersDir, "layers-dir", "", "layer output directory, overrides output.layers_dir")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "reconcile and geocode without writing outputs")
	rootCmd.AddCommand(runCmd)
}
