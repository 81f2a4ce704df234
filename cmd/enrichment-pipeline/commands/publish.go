package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-pipeline/ui"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/rows"
)

var (
	publishInput   string
	publishChannel string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the rows of a catalog file to a channel",
	Long:  "Read a CSV or XLSX catalog file and publish every row as a JSON message for a subscribed pipeline.",
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringVarP(&publishInput, "input", "i", "", "path to a .csv or .xlsx catalog file (required)")
	publishCmd.Flags().StringVar(&publishChannel, "channel", "", "channel to publish to (defaults to pipeline.input_channel)")
	_ = publishCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	src, closer, err := rows.Open(publishInput)
	if err != nil {
		return err
	}
	defer closer.Close()

	records, err := rows.Collect(ctx, src)
	if err != nil {
		return fmt.Errorf("read %s: %w", publishInput, err)
	}

	components, err := loadComponents(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	channel := publishChannel
	if channel == "" {
		channel = components.Config.Pipeline.InputChannel
	}

	bar := ui.NewProgressBar(int64(len(records)), "Publishing rows")
	for _, row := range records {
		if err := components.Bus.Publish(ctx, channel, row); err != nil {
			bar.Finish()
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	ui.Success("Published %d rows to %s", len(records), channel)
	return nil
}
