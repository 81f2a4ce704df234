// Package rows reads raw product records from files and message streams.
package rows

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/broker"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/catalog"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
)

// ErrUnsupportedFormat is returned by Open for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported row file format")

// Source streams raw rows. Stream sends every row to out and returns when
// the input is exhausted or ctx ends. It does not close out.
type Source interface {
	Stream(ctx context.Context, out chan<- catalog.Row) error
}

// CSVSource reads rows from a CSV document with a header line.
type CSVSource struct {
	r io.Reader
}

// NewCSVSource creates a CSV source.
func NewCSVSource(r io.Reader) *CSVSource {
	return &CSVSource{r: r}
}

// Stream implements Source.
func (s *CSVSource) Stream(ctx context.Context, out chan<- catalog.Row) error {
	reader := csv.NewReader(s.r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	headers = cleanHeaders(headers)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv line %d: %w", line, err)
		}

		if err := send(ctx, out, toRow(headers, record)); err != nil {
			return err
		}
	}
}

// XLSXSource reads rows from a spreadsheet. The first sheet is used unless
// Sheet is set.
type XLSXSource struct {
	r     io.Reader
	Sheet string
}

// NewXLSXSource creates a spreadsheet source.
func NewXLSXSource(r io.Reader) *XLSXSource {
	return &XLSXSource{r: r}
}

// Stream implements Source.
func (s *XLSXSource) Stream(ctx context.Context, out chan<- catalog.Row) error {
	f, err := excelize.OpenReader(s.r)
	if err != nil {
		return fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := s.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return errors.New("xlsx has no sheets")
		}
		sheet = sheets[0]
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(records) == 0 {
		return nil
	}

	headers := cleanHeaders(records[0])
	for _, record := range records[1:] {
		if err := send(ctx, out, toRow(headers, record)); err != nil {
			return err
		}
	}
	return nil
}

// BusSource reads rows published as JSON objects on a broker channel. It
// runs until the subscription closes or ctx ends.
type BusSource struct {
	bus     broker.Bus
	channel string
	logger  *observability.Logger
}

// NewBusSource creates a source that subscribes to channel.
func NewBusSource(bus broker.Bus, channel string, logger *observability.Logger) *BusSource {
	return &BusSource{bus: bus, channel: channel, logger: logger}
}

// Stream implements Source. Messages that are not JSON objects are logged
// and skipped.
func (s *BusSource) Stream(ctx context.Context, out chan<- catalog.Row) error {
	msgs, stop, err := s.bus.Subscribe(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			row, err := decodeRow(data)
			if err != nil {
				s.logger.Warn().Err(err).Str("channel", s.channel).Msg("Skipping undecodable row message")
				continue
			}
			if err := send(ctx, out, row); err != nil {
				return nil
			}
		}
	}
}

// Open picks a file source by extension.
func Open(path string) (Source, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return NewCSVSource(f), f, nil
	case ".xlsx":
		return NewXLSXSource(f), f, nil
	default:
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Collect drains a source into a slice.
func Collect(ctx context.Context, src Source) ([]catalog.Row, error) {
	out := make(chan catalog.Row)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Stream(ctx, out)
		close(out)
	}()

	var rows []catalog.Row
	for r := range out {
		rows = append(rows, r)
	}
	return rows, <-errCh
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, h := range headers {
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return cleaned
}

func toRow(headers, record []string) catalog.Row {
	row := make(catalog.Row, len(headers))
	for i, value := range record {
		if i < len(headers) && headers[i] != "" {
			row[headers[i]] = value
		}
	}
	return row
}

// decodeRow accepts a JSON object whose values are strings, numbers, bools
// or null.
func decodeRow(data []byte) (catalog.Row, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}

	row := make(catalog.Row, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			row[k] = val
		default:
			b, _ := json.Marshal(val)
			row[k] = string(b)
		}
	}
	return row, nil
}

func send(ctx context.Context, out chan<- catalog.Row, row catalog.Row) error {
	select {
	case out <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
