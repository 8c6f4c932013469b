package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/eod-ingest-service/internal/api"
	"github.com/trogers1052/eod-ingest-service/internal/browser"
	"github.com/trogers1052/eod-ingest-service/internal/calendar"
	"github.com/trogers1052/eod-ingest-service/internal/config"
	"github.com/trogers1052/eod-ingest-service/internal/database"
	"github.com/trogers1052/eod-ingest-service/internal/gate"
	"github.com/trogers1052/eod-ingest-service/internal/kafka"
	"github.com/trogers1052/eod-ingest-service/internal/logging"
	"github.com/trogers1052/eod-ingest-service/internal/metrics"
	"github.com/trogers1052/eod-ingest-service/internal/models"
	"github.com/trogers1052/eod-ingest-service/internal/pipeline"
	"github.com/trogers1052/eod-ingest-service/internal/pubsub"
	"github.com/trogers1052/eod-ingest-service/internal/reconcile"
	"github.com/trogers1052/eod-ingest-service/internal/scheduler"
	"github.com/trogers1052/eod-ingest-service/internal/secrets"
	"github.com/trogers1052/eod-ingest-service/internal/storage"
)

// secretEnvPrefix is prepended to secret names when secrets come from the environment
const secretEnvPrefix = "EOD_SECRET_"

// artifactBackend is what both the ingest loop and the reconciler need from the bucket
type artifactBackend interface {
	pipeline.ArtifactStore
	reconcile.ArtifactSource
}

func main() {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		slog.Error("Failed to init logger", slog.Any("error", err))
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("EOD ingest service stopped with error", slog.Any("error", err))
		closer.Close()
		os.Exit(1)
	}
	logger.Info("EOD ingest service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	m := metrics.New()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	holidays, err := newHolidayOracle(ctx, cfg.Calendar, db, logger)
	if err != nil {
		return err
	}

	secretSource, err := newSecretSource(ctx, cfg.Secrets)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	batchGate, closeGate := newGate(cfg.Redis, logger)
	defer closeGate()

	reconciler := reconcile.New(store, db, cfg.Storage.Prefix, m, logger)

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		User:           cfg.Portal.User,
		PasswordSecret: cfg.Portal.PasswordSecret,
		Processor: pipeline.ProcessorConfig{
			Feed:             cfg.Portal.FeedName,
			Prefix:           cfg.Storage.Prefix,
			DownloadDir:      cfg.Portal.DownloadDir,
			Wait:             pipeline.FileWaiter{Timeout: cfg.Wait.FileTimeout, Interval: cfg.Wait.FileInterval},
			DownloadInterval: cfg.Portal.DownloadInterval,
		},
	}, pipeline.Deps{
		Sessions:   sessionOpener(cfg, logger),
		Store:      store,
		Holidays:   holidays,
		Secrets:    secretSource,
		Reconciler: reconciler,
		Notifier:   notifier,
		Recorder:   db,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	backfillStart, err := models.ParseTradingDate(cfg.Portal.BackfillStart)
	if err != nil {
		return fmt.Errorf("invalid backfill start: %w", err)
	}
	loc := cfg.Portal.Location()
	service := pipeline.NewService(runner, batchGate, loc, backfillStart, logger)

	sched := scheduler.NewScheduler(ctx, service, reconciler, loc, logger)
	if err := sched.RegisterAll(cfg.Schedule.DailyCron, cfg.Schedule.ReconcileCron); err != nil {
		return err
	}

	handler := api.NewHandler(service, db, reconciler, cfg.Calendar.Market, logger)
	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.SetupRoutes(handler, m.Handler()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		if cfg.Schedule.RunOnStart {
			go sched.RunDailyNow()
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, stopping...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("EOD ingest service is running",
		slog.String("storage", cfg.Storage.Backend),
		slog.String("notify", cfg.Notify.Backend),
		slog.String("calendar", cfg.Calendar.Source))
	return g.Wait()
}

func newStore(ctx context.Context, cfg config.StorageConfig) (artifactBackend, error) {
	if cfg.Backend == "local" {
		s, err := storage.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.NewGCSStore(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newHolidayOracle(ctx context.Context, cfg config.CalendarConfig, db *database.DB, logger *slog.Logger) (pipeline.HolidayOracle, error) {
	if cfg.Source == "file" {
		return calendar.NewFileOracle(cfg.File), nil
	}
	if err := seedHolidays(ctx, cfg, db, logger); err != nil {
		return nil, err
	}
	return calendar.NewDBOracle(db, cfg.Market), nil
}

// seedHolidays loads the calendar file into the warehouse when one is present
func seedHolidays(ctx context.Context, cfg config.CalendarConfig, db *database.DB, logger *slog.Logger) error {
	data, err := os.ReadFile(cfg.File)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("No holiday file to seed, using calendar years already in the database",
			slog.String("file", cfg.File))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read holiday file: %w", err)
	}

	cal, err := calendar.ParseFile(data)
	if err != nil {
		return err
	}
	if err := calendar.Seed(ctx, db, cal, cfg.Market); err != nil {
		return err
	}
	logger.Info("Seeded holiday calendar",
		slog.Int("holidays", len(cal.Holidays)),
		slog.Any("years", cal.Years),
		slog.String("file", cfg.File))
	return nil
}

func newSecretSource(ctx context.Context, cfg config.SecretsConfig) (pipeline.SecretSource, error) {
	if cfg.Backend == "env" {
		return secrets.NewEnvSource(secretEnvPrefix), nil
	}
	sm, err := secrets.NewSecretManager(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	return sm, nil
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Notifier, func(), error) {
	switch cfg.Notify.Backend {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Notify.Timeout, logger)
		return p, func() { p.Close() }, nil
	case "pubsub":
		n, err := pubsub.NewNotifier(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic, cfg.Notify.Timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return n, func() {}, nil
	}
	return nil, func() {}, nil
}

func newGate(cfg config.RedisConfig, logger *slog.Logger) (gate.Gate, func()) {
	if cfg.Addr == "" {
		return gate.NewLocal(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return gate.NewRedis(client, cfg.LockKey, cfg.LockTTL, logger), func() { client.Close() }
}

func sessionOpener(cfg *config.Config, logger *slog.Logger) pipeline.SessionOpener {
	portal := browser.DefaultPortal()
	portal.LoginURL = cfg.Portal.LoginURL
	portal.DownloadURL = cfg.Portal.DownloadURL
	portal.SecurityType = cfg.Portal.SecurityType
	portal.Format = cfg.Portal.Format

	opts := browser.Options{
		DownloadDir:   cfg.Portal.DownloadDir,
		Headless:      cfg.Portal.Headless,
		Portal:        portal,
		MarkerTimeout: cfg.Wait.MarkerTimeout,
		CloseGrace:    cfg.Portal.CloseGrace,
		Logger:        logger,
	}
	return pipeline.SessionOpenerFunc(func(ctx context.Context) (pipeline.Session, error) {
		s, err := browser.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
