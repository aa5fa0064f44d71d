package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"

	"github.com/roman-kulish/rig-telemetry/internal/storage"
	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

const (
	// Extension is appended to every destination name
	Extension = ".xlsx"

	// DefaultSheetName is the name of the worksheet holding the samples
	DefaultSheetName = "Telemetry"

	// defaultSheet is the worksheet excelize creates with a new workbook
	defaultSheet = "Sheet1"
)

// ErrInvalidName is returned when a destination name cannot be used as a file name
var ErrInvalidName = errors.New("invalid destination name")

// Source reads stored samples, oldest first
type Source interface {
	ReadSamples(ctx context.Context, opts ...storage.ReaderOption) (*storage.SqliteSampleReader, error)
}

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) func(*Exporter) {
	return func(e *Exporter) {
		e.logger = logger.With(slog.String("component", "export"))
	}
}

// WithSheetName sets the worksheet name
func WithSheetName(name string) func(*Exporter) {
	return func(e *Exporter) {
		if name != "" {
			e.sheetName = name
		}
	}
}

// Exporter writes stored samples to XLSX workbooks in a directory
type Exporter struct {
	source    Source
	directory string
	sheetName string
	logger    *slog.Logger
}

// NewExporter creates an Exporter writing into directory
func NewExporter(source Source, directory string, options ...func(*Exporter)) *Exporter {
	e := Exporter{
		source:    source,
		directory: directory,
		sheetName: DefaultSheetName,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Header returns the header row: one column per telemetry field in frame order, then date and time
func Header() []string {
	header := make([]string, 0, len(telemetry.Fields)+2)
	for _, f := range telemetry.Fields {
		header = append(header, f.Key)
	}
	return append(header, "date", "time")
}

// ExportAll writes every stored sample to <directory>/<destinationName>.xlsx,
// replacing an existing file, and returns the path written.
func (e *Exporter) ExportAll(ctx context.Context, destinationName string) (path string, err error) {
	name, err := fileName(destinationName)
	if err != nil {
		return "", err
	}

	if err = os.MkdirAll(e.directory, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path = filepath.Join(e.directory, name)

	reader, err := e.source.ReadSamples(ctx)
	if err != nil {
		return "", fmt.Errorf("reading samples: %w", err)
	}
	defer closeWithError(reader, &err)

	f := excelize.NewFile()
	defer closeWithError(f, &err)

	rows, err := e.writeSheet(ctx, f, reader)
	if err != nil {
		return "", err
	}

	if err = f.SaveAs(path); err != nil {
		return "", fmt.Errorf("saving workbook: %w", err)
	}

	e.logger.Info("workbook written",
		slog.String("path", path),
		slog.String("rows", humanize.Comma(int64(rows))))
	return path, nil
}

func (e *Exporter) writeSheet(ctx context.Context, f *excelize.File, reader storage.SampleReader) (int, error) {
	if err := f.SetSheetName(defaultSheet, e.sheetName); err != nil {
		return 0, fmt.Errorf("naming sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(e.sheetName)
	if err != nil {
		return 0, fmt.Errorf("creating stream writer: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("creating header style: %w", err)
	}

	header := Header()

	// column and pane settings must precede the first row
	if err = sw.SetColWidth(1, len(header), 18); err != nil {
		return 0, fmt.Errorf("setting column width: %w", err)
	}
	if err = sw.SetPanes(&excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return 0, fmt.Errorf("freezing header: %w", err)
	}

	values := make([]interface{}, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err = sw.SetRow("A1", values, excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	row := 1
	for reader.Next(ctx) {
		row++

		s := reader.Current().Sample
		for i, field := range telemetry.Fields {
			values[i] = field.Any(s)
		}
		values[len(telemetry.Fields)] = s.Date
		values[len(telemetry.Fields)+1] = s.Time

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return 0, err
		}
		if err = sw.SetRow(cell, values); err != nil {
			return 0, fmt.Errorf("writing row %d: %w", row, err)
		}
	}
	if err = reader.Error(); err != nil {
		return 0, fmt.Errorf("reading samples: %w", err)
	}

	if err = sw.Flush(); err != nil {
		return 0, fmt.Errorf("flushing sheet: %w", err)
	}
	return row - 1, nil
}

func fileName(destinationName string) (string, error) {
	name := strings.TrimSpace(destinationName)
	name = strings.TrimSuffix(name, Extension)

	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, destinationName)
	}
	return name + Extension, nil
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
