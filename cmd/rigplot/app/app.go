package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/rig-telemetry/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.ListSessions {
		return listSessions(ctx, store, config, logger)
	}

	if config.SessionID != 0 {
		session, err := store.Session(ctx, config.SessionID)
		if err != nil {
			return fmt.Errorf("reading session: %w", err)
		}
		if session == nil {
			return fmt.Errorf("session %d does not exist", config.SessionID)
		}
		logger.Info("plotting session",
			slog.Int64("id", session.ID),
			slog.String("port", session.PortID),
			slog.String("started", session.StartTime.In(config.Location).Format(time.DateTime)))
	}

	chart, err := readChart(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer, err := NewChartRenderer(RenderConfig{
		Width:    config.Width,
		Height:   config.Height,
		Location: config.Location,
	})
	if err != nil {
		return fmt.Errorf("creating chart renderer: %w", err)
	}

	logger.Info("rendering chart",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(chart)
	if err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}

	return writeImage(config.OutputFile, config.Format, img)
}

func listSessions(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("reading sessions: %w", err)
	}

	for _, session := range sessions {
		summary, err := store.Summary(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("summarizing session %d: %w", session.ID, err)
		}

		attrs := []any{
			slog.Int64("id", session.ID),
			slog.String("port", session.PortID),
			slog.Int("baudRate", session.BaudRate),
			slog.String("started", session.StartTime.In(config.Location).Format(time.DateTime)),
			slog.String("samples", humanize.Comma(summary.Count)),
		}
		if summary.Count > 0 {
			attrs = append(attrs,
				slog.String("first", summary.First.In(config.Location).Format(time.DateTime)),
				slog.String("last", summary.Last.In(config.Location).Format(time.DateTime)))
		}
		logger.Info("session", attrs...)
	}

	total, err := store.Summary(ctx, 0)
	if err != nil {
		return fmt.Errorf("summarizing samples: %w", err)
	}
	logger.Info("stored samples",
		slog.Int("sessions", len(sessions)),
		slog.String("samples", humanize.Comma(total.Count)))

	return nil
}

func readChart(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*ChartData, error) {
	var opts []storage.ReaderOption
	filters := []any{slog.Int64("session", config.SessionID)}

	if config.SessionID != 0 {
		opts = append(opts, storage.WithSession(config.SessionID))
	}

	switch {
	case config.From != nil && config.To != nil:
		opts = append(opts, storage.WithTimeRange(config.From.UTC(), config.To.UTC()))

		filters = append(filters,
			slog.String("from", config.From.UTC().Format(time.DateTime)),
			slog.String("to", config.To.UTC().Format(time.DateTime)))

	case config.From != nil:
		opts = append(opts, storage.WithStartTime(config.From.UTC()))
		filters = append(filters, slog.String("from", config.From.UTC().Format(time.DateTime)))

	case config.To != nil:
		opts = append(opts, storage.WithEndTime(config.To.UTC()))
		filters = append(filters, slog.String("to", config.To.UTC().Format(time.DateTime)))
	}

	keys := make([]string, len(config.Channels))
	for i, f := range config.Channels {
		keys[i] = f.Key
	}
	filters = append(filters, slog.String("channels", strings.Join(keys, ",")))

	logger.Info("reader configuration", filters...)

	reader, err := store.ReadSamples(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	chart := NewChartData(config.Channels)
	for reader.Next(ctx) {
		chart.Update(reader.Current())
	}
	if err = reader.Error(); err != nil {
		return nil, err
	}

	if chart.Points() == 0 {
		return nil, fmt.Errorf("%w: no values for the selected channels in %s samples", ErrNoData, formatCount(chart.Samples))
	}

	logger.Info("finished reading samples",
		slog.Group("stats",
			slog.String("samples", formatCount(chart.Samples)),
			slog.String("points", formatCount(chart.Points())),
			slog.String("start", chart.TimestampStart.In(config.Location).Format(time.DateTime)),
			slog.String("end", chart.TimestampEnd.In(config.Location).Format(time.DateTime)),
			slog.String("min", formatValue(chart.Bounds.Min, 0)),
			slog.String("max", formatValue(chart.Bounds.Max, 0)),
		))

	return chart, nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	switch format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})

	default:
		err = fmt.Errorf("invalid image format: %s", format)
	}
	return err
}
