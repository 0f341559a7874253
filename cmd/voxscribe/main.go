// Command voxscribe streams raw PCM audio to the real-time transcription
// service and archives the resulting transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/app"
	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/publish"
	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/pkg/storage"
	"github.com/MrWong99/voxscribe/pkg/storage/memory"
	"github.com/MrWong99/voxscribe/pkg/storage/postgres"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: environment and defaults only)")
	input := flag.String("input", "", "raw s16le PCM input, \"-\" for stdin (overrides capture.path)")
	output := flag.String("out", "", "file to write the final transcript to (overrides transcript.output)")
	language := flag.String("language", "", "language code (overrides language)")
	record := flag.String("record", "", "record to archive the transcript in (overrides storage.record)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxscribe: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxscribe: %v\n", err)
		}
		return 1
	}
	overlay := func(c *config.Config) { applyFlags(c, *input, *output, *language, *record) }
	overlay(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxscribe: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	level.Set(cfg.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxscribe starting",
		"version", version,
		"config", *configPath,
		"region", cfg.Region,
		"language", cfg.Language,
		"storage", cfg.Storage.Backend,
	)

	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, config.ApplyReload(&level, slog.Default()),
			config.WithOverlay(overlay))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinStores(reg)
	store, err := reg.CreateStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to create storage backend", "backend", cfg.Storage.Backend, "err", err)
		return 1
	}
	opts := []app.Option{app.WithStore(store), app.WithMetrics(telemetry.Metrics)}
	if c, ok := store.(interface{ Close() }); ok {
		opts = append(opts, app.WithCloser(func() error { c.Close(); return nil }))
	}

	if cfg.MQTT.Broker != "" {
		pub, err := publish.NewMQTT(ctx, publish.MQTTConfig{
			BrokerURL:   cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, slog.Default())
		if err != nil {
			slog.Error("failed to connect MQTT publisher", "err", err)
			return 1
		}
		breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "mqtt"})
		opts = append(opts, app.WithPublisher(publish.Guard(pub, breaker)))
	}

	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})
	var exitCode int

	g.Go(func() error {
		defer close(runDone)
		res, err := application.Run(gctx)
		if res.Transcript != "" {
			fmt.Println(res.Transcript)
		}
		if err != nil {
			slog.Error("transcription failed", "message", res.Message(), "err", err)
			exitCode = 1
			return nil
		}
		slog.Info(res.Message())
		return nil
	})

	if addr := cfg.Telemetry.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           application.TelemetryHandler(telemetry.Registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("telemetry server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-runDone:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return exitCode
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return config.Load(path)
}

func applyFlags(cfg *config.Config, input, output, language, record string) {
	if input != "" {
		cfg.Capture.Path = input
	}
	if output != "" {
		cfg.Transcript.Output = output
	}
	if language != "" {
		cfg.Language = language
	}
	if record != "" {
		cfg.Storage.Record = record
	}
}

// postgresOptions is the storage.options block of the postgres backend.
type postgresOptions struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

func registerBuiltinStores(reg *config.Registry) {
	reg.RegisterStore("memory", func(context.Context, config.StorageConfig) (storage.Store, error) {
		return memory.New(), nil
	})
	reg.RegisterStore("postgres", func(ctx context.Context, sc config.StorageConfig) (storage.Store, error) {
		var opts postgresOptions
		if err := config.DecodeOptions(sc.Options, &opts); err != nil {
			return nil, err
		}
		if opts.DSN == "" {
			opts.DSN = os.Getenv("DATABASE_URL")
		}
		if opts.DSN == "" {
			return nil, errors.New("postgres: storage.options.dsn or DATABASE_URL is required")
		}
		return postgres.NewStore(ctx, opts.DSN, postgres.Options{Table: opts.Table})
	})
	for _, name := range reg.Backends() {
		slog.Debug("registered storage backend", "name", name)
	}
}
