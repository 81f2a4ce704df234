package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-pipeline/ui"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/rows"
)

var imagesInput string

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Check that every image of a catalog file downloads",
	Long:  "Download every image URL of a catalog file in parallel and report the ones that fail.",
	RunE:  runImages,
}

func init() {
	imagesCmd.Flags().StringVarP(&imagesInput, "input", "i", "", "path to a .csv or .xlsx catalog file (required)")
	_ = imagesCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(imagesCmd)
}

func runImages(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closer, err := rows.Open(imagesInput)
	if err != nil {
		return err
	}
	defer closer.Close()

	records, err := rows.Collect(ctx, src)
	if err != nil {
		return fmt.Errorf("read %s: %w", imagesInput, err)
	}

	var urls []string
	for _, row := range records {
		for _, img := range catalog.ParseImages(row.Get(catalog.ColImage)) {
			if img.URL != "" {
				urls = append(urls, img.OriginURL)
			}
		}
	}

	components, err := loadComponents(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	ui.Section("Image check")
	ui.Info("Downloading %d images from %d rows", len(urls), len(records))

	summary := components.Materializer().DownloadAll(ctx, urls)
	for _, d := range summary.Failed() {
		ui.Error("%s: %v", d.URL, d.Err)
	}
	if len(summary.Failed()) > 0 {
		ui.Warning("Downloaded %s images", summary)
	} else {
		ui.Success("Downloaded %s images", summary)
	}
	return nil
}
