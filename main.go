package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/auth"
	"github.com/example/lesion-intake/internal/bootstrap"
	"github.com/example/lesion-intake/internal/classifier"
	"github.com/example/lesion-intake/internal/config"
	"github.com/example/lesion-intake/internal/grpcclient"
	"github.com/example/lesion-intake/internal/handlers"
	"github.com/example/lesion-intake/internal/intake"
	"github.com/example/lesion-intake/internal/logging"
	"github.com/example/lesion-intake/internal/repository"
	"github.com/example/lesion-intake/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	repo := repository.NewUploadRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	requestLogs := repository.NewRequestLogRepository(db)

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient, err := bootstrap.OpenRedis(redisCtx, cfg.Redis)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()

	model, conn, err := grpcclient.DialModel(ctx, cfg.Classifier.Addr, cfg.Classifier.DialTimeout, logger)
	if err != nil {
		logger.Fatal("failed to connect to model server", zap.Error(err))
	}
	defer conn.Close()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open blob store", zap.Error(err))
	}
	defer closeStore() //nolint:errcheck

	imageValidator := validator.New(cfg.Upload.MaxBytes)
	pipeline := intake.NewPipeline(
		imageValidator,
		classifier.New(model, logger),
		store,
		repo,
		intake.NewRedisCache(redisClient),
		logger,
		intake.WithRecordTTL(cfg.Redis.RecordTTL),
	)

	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(requestLogs, logger))
	r.MaxMultipartMemory = imageValidator.MaxBytes()

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, handlers.New(pipeline, store, imageValidator.MaxBytes(), logger), authMiddleware)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("lesion intake API listening", zap.String("addr", cfg.HTTP.Addr), zap.String("storage_backend", cfg.Storage.Backend))
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
