// trackerd runs the hazard tracking engine as a standalone daemon: a
// simulated or replayed location feed drives the full pipeline against a
// real backend, which is how the engine is soaked before it ships inside
// the mobile host.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/accesspath/tracking/internal/api"
	"github.com/accesspath/tracking/internal/config"
	"github.com/accesspath/tracking/internal/dispatcher"
	"github.com/accesspath/tracking/internal/index"
	"github.com/accesspath/tracking/internal/influx"
	"github.com/accesspath/tracking/internal/logging"
	"github.com/accesspath/tracking/internal/match"
	"github.com/accesspath/tracking/internal/model"
	"github.com/accesspath/tracking/internal/monitor"
	"github.com/accesspath/tracking/internal/notify"
	intOtel "github.com/accesspath/tracking/internal/otel"
	"github.com/accesspath/tracking/internal/sampler"
	"github.com/accesspath/tracking/internal/store"
	"github.com/accesspath/tracking/internal/tracker"
	"github.com/accesspath/tracking/internal/validation"
)

var configFileHint = config.ConfigFileName

// promptTimeout bounds how long a headless prompt stays open before it is
// dismissed, so the pipeline never stalls on an unanswerable question.
const promptTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "trackerd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseCLI(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return err
	}

	sessionStart := time.Now().UTC()
	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	logFile, err := os.Create(logging.LogFilePath(cfg.LogsDir, "trackerd", sessionStart))
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	var otelLogFile *os.File
	if cfg.Otel.Enabled {
		otelLogFile, err = os.Create(logging.LogFilePath(cfg.LogsDir, "trackerd.otel", sessionStart))
		if err != nil {
			return fmt.Errorf("failed to create otel log file: %w", err)
		}
		defer otelLogFile.Close()
	}

	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:      cfg.Otel.Enabled,
		ServiceName:  cfg.Otel.ServiceName,
		BatchTimeout: cfg.Otel.BatchTimeout,
		LogWriter:    otelLogFile,
		Endpoint:     cfg.Otel.Endpoint,
		Insecure:     cfg.Otel.Insecure,
	})
	if err != nil {
		return err
	}
	defer otelProvider.Shutdown(context.Background())

	slogMgr := logging.NewSlogManager()
	slogMgr.Setup(logFile, cfg.LogLevel, otelProvider.LoggerProvider())
	log := slogMgr.Logger()
	defer slogMgr.Flush(context.Background())

	zlog := zerolog.New(logFile).With().Timestamp().Logger()

	// Persistence: Postgres when reachable, SQLite otherwise. A dead
	// database degrades to memory-only state, it never stops the engine.
	db := store.NewManager(cfg.DB, zlog)
	if err := db.Connect(); err != nil {
		log.Warn("Database unavailable, running with in-memory state only", "error", err)
	}
	defer db.Close()

	var gormDB = db.DB
	if !db.IsValid {
		gormDB = nil
	}
	cooldowns := store.NewCooldownStore(gormDB, cfg.Engine.CooldownDuration)
	locations := store.NewLocationStore(gormDB)
	submissions := store.NewSubmissionLog(gormDB)

	client := api.New(cfg.API, cfg.Engine.FetchTimeout)
	idx := index.New(client,
		cfg.Engine.SearchRadiusMeters,
		cfg.Engine.FetchTimeout,
		cfg.Engine.MinRefreshDistanceMeters,
		cfg.Engine.RefreshInterval,
		log,
	)
	matcher := match.New(cfg.Engine.ProximityThresholdMeters, cooldowns)

	var bridge *notify.WSBridge
	var osNotifier notify.Notifier
	var publisher tracker.StatePublisher
	if cfg.WS.Enabled {
		bridge = notify.NewWSBridge(log)
		if err := bridge.Dial(cfg.WS.URL, cfg.WS.Secret); err != nil {
			log.Warn("UI websocket unavailable", "error", err)
			bridge = nil
		} else {
			defer bridge.Close()
			osNotifier = bridge
			publisher = bridge
		}
	}

	notifier := notify.New(cooldowns, osNotifier, log)
	validator := validation.New(client, submissions, notifier, log)

	events, err := dispatcher.New(logging.NewDispatcherLogger(zlog))
	if err != nil {
		return err
	}
	defer events.Close()

	var provider sampler.Provider
	if opts.replayPath != "" {
		provider, err = newReplayProvider(opts.replayPath)
		if err != nil {
			return err
		}
		log.Info("Replaying recorded locations", "file", opts.replayPath)
	} else {
		provider = newWalkProvider(opts.startLat, opts.startLon, opts.dropRate)
		log.Info("Simulating pedestrian walk",
			"lat", opts.startLat, "lon", opts.startLon, "dropRate", opts.dropRate)
	}

	var mgr *tracker.Manager
	samp := sampler.New(provider, locations,
		func(s model.LocationSample) { mgr.EmitSample(s) },
		cfg.Engine.SampleInterval,
		cfg.Engine.GpsFixTimeout,
		cfg.Engine.BackgroundTracking,
		log,
	)

	mgr = tracker.New(tracker.Options{
		Config:    cfg.Engine,
		Sampler:   samp,
		Index:     idx,
		Matcher:   matcher,
		Cooldowns: cooldowns,
		Locations: locations,
		Notifier:  notifier,
		Validator: validator,
		Events:    events,
		Publisher: publisher,
		Log:       log,
	})

	// Daemon-level log lines carry the live tracking phase from here on.
	log = slog.New(logging.NewContextHandler(log.Handler(), func() []slog.Attr {
		return []slog.Attr{slog.String("phase", string(mgr.Phase()))}
	}))

	// Headless prompt handling: log it, dismiss after the timeout if
	// nothing over the websocket answered first.
	mgr.RegisterValidationHandler(func(req model.ValidationRequest) {
		log.Info("Validation prompt",
			"obstacleType", req.ObstacleType,
			"markers", req.MarkerCount,
			"reported", req.TimeAgoLabel,
		)
		go func() {
			time.Sleep(promptTimeout)
			if err := mgr.Dismiss(); err == nil {
				log.Debug("Prompt timed out, dismissed")
			}
		}()
	})

	var influxMgr *influx.Manager
	if cfg.Influx.Enabled {
		influxMgr = influx.NewManager(cfg.Influx, zlog,
			logging.LogFilePath(cfg.LogsDir, "influx_backup", sessionStart)+".gz")
		if err := influxMgr.Connect(); err != nil {
			log.Warn("Influx export unavailable", "error", err)
			influxMgr = nil
		} else {
			defer influxMgr.Close()
		}
	}

	status := monitor.NewService(monitor.Dependencies{
		State:     mgr,
		Cooldowns: cooldowns,
		Index:     idx,
		Validator: validator,
		Prompts:   notifier,
		Sampler:   samp,
		Influx:    influxMgr,
	})
	status.Start(time.Minute)
	defer status.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("tracking failed to start: %w", err)
	}
	defer mgr.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", "signal", sig.String())

	if out, err := status.StatusJSON(); err == nil {
		log.Info("Final engine status", "status", out)
	}
	return nil
}
