// Package commands implements the enrichment pipeline CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-pipeline/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
	workers int
)

var rootCmd = &cobra.Command{
	Use:   "enrichment-pipeline",
	Short: "Product enrichment pipeline - ingest catalog rows into the metadata store and vector index",
	Long: `The enrichment pipeline normalizes raw catalog rows, re-hosts product images,
computes multimodal embeddings and writes products to the metadata store and
vector index. Rows are read from CSV/XLSX files or from a message channel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "goroutines per stage (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
