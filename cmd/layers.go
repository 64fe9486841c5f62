package main

import (
	"github.com/spf13/cobra"

	"github.com/dart-isr/donor-geo/internal/pipeline"
)

var (
	layersMaster string
	layersDir    string
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Rebuild layer files from the master dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if layersMaster != "" {
			cfg.Master.Path = layersMaster
		}
		if layersDir != "" {
			cfg.Output.LayersDir = layersDir
		}
		if err := cfg.Validate("layers"); err != nil {
			return err
		}

		orch := pipeline.New(nil, pipeline.WithOutput(cmd.OutOrStdout()))
		_, err := orch.RebuildLayers(cmd.Context(), pipeline.Inputs{
			MasterPath:  cfg.Master.Path,
			LayersDir:   cfg.Output.LayersDir,
			Formats:     cfg.Output.Formats,
			SummaryPath: cfg.Output.SummaryPath,
		})
		return err
	},
}

func init() {
	layersCmd.Flags().StringVar(&layersMaster, "master", "", "master dataset file, overrides master.path")
	layersCmd.Flags().StringVar(&layersDir, "layers-dir", "", "layer output directory, overrides output.layers_dir")
	rootCmd.AddCommand(layersCmd)
}
