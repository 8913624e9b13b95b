package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"promptvault/internal/app"
	"promptvault/internal/config"
	"promptvault/internal/server"
	"promptvault/internal/util"
	"promptvault/pkg/genai"
	"promptvault/pkg/queue"
	"promptvault/pkg/storage"
	"promptvault/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recordStore, err := store.NewGormStore(cfg.DatabaseURL, cfg.Collection)
	if err != nil {
		log.Fatalf("failed to init record store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:         recordStore,
		Objects:       objects,
		Generator:     genai.NewClient(cfg.GenServiceURL),
		PublicBaseURL: cfg.PublicBaseURL,
		MediaAccess:   cfg.MediaAccess,
		Bucket:        cfg.MinioBucket,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := server.HTTPServer(addr, httpServer.Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.AMQPURL != "" {
		consumer, err := queue.NewAMQPConsumer(queue.AMQPConsumerConfig{
			URL:     cfg.AMQPURL,
			Queue:   cfg.AMQPQueue,
			Handler: appCore.IngestRaw,
			IsPermanent: func(err error) bool {
				var decodeErr *app.DecodeError
				return errors.As(err, &decodeErr)
			},
		})
		if err != nil {
			log.Fatalf("failed to init amqp consumer: %v", err)
		}
		g.Go(func() error {
			err := consumer.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "err", err)
	}
}
