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
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/eod-ingest-service/internal/config"
	"github.com/trogers1052/eod-ingest-service/internal/database"
	"github.com/trogers1052/eod-ingest-service/internal/kafka"
	"github.com/trogers1052/eod-ingest-service/internal/logging"
	"github.com/trogers1052/eod-ingest-service/internal/metrics"
	"github.com/trogers1052/eod-ingest-service/internal/reconcile"
	"github.com/trogers1052/eod-ingest-service/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadReconciler()
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
		logger.Error("Reconciler stopped with error", slog.Any("error", err))
		closer.Close()
		os.Exit(1)
	}
	logger.Info("Reconciler stopped")
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
	}

	var source reconcile.ArtifactSource
	if cfg.Storage.Backend == "local" {
		s, err := storage.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			return err
		}
		source = s
	} else {
		s, err := storage.NewGCSStore(ctx, cfg.Storage.Bucket)
		if err != nil {
			return err
		}
		source = s
	}

	m := metrics.New()
	reconciler := reconcile.New(source, db, cfg.Storage.Prefix, m, logger)
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, reconciler, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Reconciler consuming completion events",
			slog.String("topic", cfg.Kafka.Topic),
			slog.String("group_id", cfg.Kafka.GroupID))
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Catch up on anything stored while the daemon was down
	if _, err := reconciler.Reconcile(ctx); err != nil {
		logger.Warn("Startup reconcile failed", slog.Any("error", err))
	}

	return g.Wait()
}
