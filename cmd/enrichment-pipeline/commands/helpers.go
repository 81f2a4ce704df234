package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spherical-ai/spherical/libs/product-enrichment/cmd/enrichment-pipeline/ui"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/app"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/config"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/pipeline"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/rows"
)

// loadComponents loads configuration and builds the shared components.
// Logs go to stderr so they do not interleave with command output.
func loadComponents(ctx context.Context) (*app.Components, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if workers > 0 {
		cfg.Pipeline.Workers = workers
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})

	return app.New(ctx, cfg, logger)
}

// progressSource advances a progress bar for every row it forwards.
type progressSource struct {
	src rows.Source
	bar *ui.ProgressBar
}

func (s progressSource) Stream(ctx context.Context, out chan<- catalog.Row) error {
	inner := make(chan catalog.Row)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.src.Stream(ctx, inner)
		close(inner)
	}()

	for row := range inner {
		select {
		case out <- row:
			s.bar.Add(1)
		case <-ctx.Done():
		}
	}
	return <-errCh
}

func printResult(res *pipeline.RunResult) {
	ui.Section("Run summary")
	ui.KeyValue("Job", res.JobID.String())
	ui.KeyValue("Duration", ui.FormatDuration(res.Duration))
	ui.Table([]string{"Outcome", "Rows"}, [][]string{
		{"read", strconv.FormatInt(res.Read, 10)},
		{"rejected", strconv.FormatInt(res.Rejected, 10)},
		{"parse failed", strconv.FormatInt(res.ParseFailed, 10)},
		{"image failed", strconv.FormatInt(res.ImageFailed, 10)},
		{"embed failed", strconv.FormatInt(res.EmbedFailed, 10)},
		{"write failed", strconv.FormatInt(res.WriteFailed, 10)},
		{"written", strconv.FormatInt(res.Written, 10)},
	})

	if res.Failed() > 0 {
		ui.Warning("%d rows failed; see the failure log for details", res.Failed())
	} else {
		ui.Success("%d rows written", res.Written)
	}
}
