package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-pipeline/ui"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/rows"
)

var subscribeChannel string

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Run the pipeline on rows published to a channel",
	Long:  "Subscribe to a message channel and stream every published row through the pipeline until interrupted.",
	RunE:  runSubscribe,
}

func init() {
	subscribeCmd.Flags().StringVar(&subscribeChannel, "channel", "", "channel to subscribe to (defaults to pipeline.input_channel)")
	rootCmd.AddCommand(subscribeCmd)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := loadComponents(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	channel := subscribeChannel
	if channel == "" {
		channel = components.Config.Pipeline.InputChannel
	}
	if components.Config.Cache.Driver != "redis" {
		ui.Warning("cache driver is %q; only publishers in this process can reach the channel", components.Config.Cache.Driver)
	}

	ui.Section("Product enrichment")
	ui.Info("Subscribed to %s, press Ctrl+C to stop", channel)

	bar := ui.NewProgressBar(-1, "Receiving rows")
	src := rows.NewBusSource(components.Bus, channel, components.Logger)
	res, err := components.Pipeline().Run(ctx, progressSource{src: src, bar: bar})
	bar.Finish()
	if res != nil {
		printResult(res)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
