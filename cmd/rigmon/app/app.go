package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/api"
	"github.com/roman-kulish/rig-telemetry/internal/export"
	"github.com/roman-kulish/rig-telemetry/internal/influx"
	"github.com/roman-kulish/rig-telemetry/internal/ingest"
	"github.com/roman-kulish/rig-telemetry/internal/session"
	"github.com/roman-kulish/rig-telemetry/internal/storage"
	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
	"github.com/roman-kulish/rig-telemetry/internal/transport"
)

const (
	shutdownTimeout = 10 * time.Second
	dialTimeout     = 10 * time.Second
)

// Run wires storage, sinks, the session controller and the API server,
// and serves until ctx is done.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	loc, err := telemetry.LoadLocation(config.Settings.TimeZone)
	if err != nil {
		return fmt.Errorf("loading time zone: %w", err)
	}

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	sinks := []func(*ingest.Recorder){
		ingest.WithSink("sqlite", store),
	}

	if config.Influx.Enabled {
		sink, err := createInfluxSink(ctx, &config.Influx, logger)
		if err != nil {
			return fmt.Errorf("failed to create influx sink: %w", err)
		}
		defer sink.Close()

		sinks = append(sinks, ingest.WithSink("influx", sink))
	}

	recorder := ingest.NewRecorder(append(sinks,
		ingest.WithQueueSize(config.Storage.QueueSize),
		ingest.WithMaxBatchSize(config.Storage.MaxBatchSize),
		ingest.WithRecorderLogger(logger))...)
	recorder.Start()
	defer recorder.Close()

	latest := &telemetry.Latest{}
	exporter := export.NewExporter(store, config.Export.Directory, export.WithLogger(logger))

	controller := session.NewController(createTransport(&config.Serial, logger), latest, recorder,
		session.WithLogger(logger),
		session.WithBaudRate(config.Serial.BaudRate),
		session.WithMaxFrameSize(int(config.Frames.MaxFrameSize)),
		session.WithLocation(loc),
		session.WithSessionStore(store),
		session.WithExporter(exporter),
		session.WithReconnect(session.ReconnectPolicy{
			Enabled:         config.Reconnect.Enabled,
			InitialInterval: time.Duration(config.Reconnect.InitialInterval),
			MaxInterval:     time.Duration(config.Reconnect.MaxInterval),
		}))
	defer controller.Close()

	monitor := newMonitor(controller, recorder, logger)
	go monitor.Run(ctx)

	if config.Serial.AutoConnect {
		if err = controller.Connect(ctx, config.Serial.Port); err != nil {
			logger.Error(fmt.Sprintf("auto-connect failed: %s", err.Error()), slog.String("port", config.Serial.Port))
		}
	}

	server := &http.Server{
		Addr:              config.HTTP.Listen,
		Handler:           api.NewRouter(api.NewHandler(controller, latest, api.WithLogger(logger))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("address", config.HTTP.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(fmt.Sprintf("api shutdown: %s", err.Error()))
	}
	if err = controller.Close(); err != nil {
		logger.Warn(fmt.Sprintf("closing controller: %s", err.Error()))
	}

	monitor.Wait()
	return nil
}

func createTransport(config *SerialConfig, logger *slog.Logger) transport.Transport {
	if config.ReplayDirectory != "" {
		logger.Info("replaying captured frames", slog.String("directory", config.ReplayDirectory))
		return transport.NewReplay(config.ReplayDirectory,
			transport.WithReplayInterval(time.Duration(config.ReplayInterval)),
			transport.WithReplayLoop(config.ReplayLoop),
			transport.WithReplayLogger(logger))
	}

	return transport.NewSerial(
		transport.WithReadTimeout(time.Duration(config.ReadTimeout)),
		transport.WithLogger(logger))
}

func createInfluxSink(ctx context.Context, config *InfluxConfig, logger *slog.Logger) (*influx.Sink, error) {
	token := os.Getenv(config.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%s environment variable is not set", config.TokenEnv)
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	return influx.Dial(ctx, config.URL, token, config.Org, config.Bucket, influx.WithLogger(logger))
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbPath := config.DataDirectory
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(wd, dbPath)
	}

	stat, err := os.Stat(dbPath)
	switch {
	case os.IsNotExist(err):
		if err = os.MkdirAll(dbPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory '%s': %w", dbPath, err)
		}
	case err != nil:
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	case !stat.IsDir():
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	store := storage.NewSqliteStore(filepath.Join(dbPath, config.FileName),
		storage.WithMaxBatchSize(config.MaxBatchSize))
	if err = store.Init(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	return store, nil
}
