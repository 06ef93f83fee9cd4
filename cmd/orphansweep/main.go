// Command orphansweep reports, and optionally deletes, stored lesion images
// that have no upload record.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/bootstrap"
	"github.com/example/lesion-intake/internal/config"
	"github.com/example/lesion-intake/internal/logging"
	"github.com/example/lesion-intake/internal/reconcile"
	"github.com/example/lesion-intake/internal/repository"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := bootstrap.OpenDatabase(startCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	store, closeStore, err := bootstrap.OpenStore(startCtx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open blob store", zap.Error(err))
	}
	defer closeStore() //nolint:errcheck

	sweeper := reconcile.NewSweeper(store, repository.NewUploadRepository(db, logger), cfg.Sweep.GracePeriod, cfg.Sweep.Delete, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		if _, err := sweeper.Run(ctx); err != nil {
			logger.Error("sweep failed", zap.Error(err))
		}
	}

	if *once {
		run()
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Sweep.Schedule, run); err != nil {
		logger.Fatal("invalid sweep schedule", zap.String("schedule", cfg.Sweep.Schedule), zap.Error(err))
	}
	c.Start()
	logger.Info("orphan sweep scheduled",
		zap.String("schedule", cfg.Sweep.Schedule),
		zap.Duration("grace_period", cfg.Sweep.GracePeriod),
		zap.Bool("delete", cfg.Sweep.Delete))

	<-ctx.Done()
	logger.Info("stopping orphan sweep")
	<-c.Stop().Done()
}
