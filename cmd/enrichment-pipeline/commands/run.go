package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-pipeline/ui"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/rows"
)

var (
	runInput      string
	runPreProcess bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline over a CSV or XLSX file",
	Long:  "Stream every row of a catalog file through the pipeline and report per-stage failures.",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "path to a .csv or .xlsx catalog file (required)")
	runCmd.Flags().BoolVar(&runPreProcess, "pre-process", false, "replace descriptions with their NLP description")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closer, err := rows.Open(runInput)
	if err != nil {
		return err
	}
	defer closer.Close()

	components, err := loadComponents(ctx)
	if err != nil {
		return err
	}
	defer components.Close()
	if cmd.Flags().Changed("pre-process") {
		components.Config.Pipeline.PreProcess = runPreProcess
	}

	ui.Section("Product enrichment")
	ui.Info("Input: %s", runInput)
	ui.Info("Workers per stage: %d", components.Config.Pipeline.Workers)

	bar := ui.NewProgressBar(-1, "Reading rows")
	res, err := components.Pipeline().Run(ctx, progressSource{src: src, bar: bar})
	bar.Finish()
	if res != nil {
		printResult(res)
	}
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}
	return nil
}
