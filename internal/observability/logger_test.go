package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "enrich-test"})

	ctx := ContextWithRequestID(context.Background(), "req-42")
	logger.WithContext(ctx).WithStage("image").Warn().Str("url", "http://x/image/1.jpg").Msg("download failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "enrich-test", entry["service"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "image", entry["stage"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "download failed", entry["message"])
}

func TestLogger_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("hidden too")
	assert.Empty(t, buf.String())

	logger.Error().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_WithJob(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Output: &buf}).WithOperation("pipeline").WithJob("job-7")

	logger.Info().Int64("written", 2).Msg("Pipeline run completed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job-7", entry["job_id"])
	assert.Equal(t, "pipeline", entry["operation"])
}
