package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"oldruby-market/internal/config"
	"oldruby-market/internal/database"
	"oldruby-market/internal/events"
	"oldruby-market/internal/logger"
	"oldruby-market/internal/server"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// broker is the RabbitMQ publisher, or a no-op when no URL is configured
type broker interface {
	server.Broker
	Close() error
}

type nopBroker struct{ events.Nop }

func (nopBroker) Close() error { return nil }

func connectBroker(cfg config.RabbitMQConfig, log *zap.Logger) (broker, error) {
	if cfg.URL == "" {
		log.Warn("RABBITMQ_URL not set, repairs are left to the reconciler")
		return nopBroker{}, nil
	}
	publisher, err := events.NewPublisher(cfg.URL, cfg.RepairQueue, cfg.EventsQueue, log)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
	log.Info("Graceful shutdown complete")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting marketplace API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbService, err := database.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	log.Info("Database health check", zap.Any("health", dbService.Health(ctx)))

	if err := database.RunMigrations(dbService.DB(), log); err != nil {
		dbService.Close()
		return err
	}

	mq, err := connectBroker(cfg.RabbitMQ, log)
	if err != nil {
		dbService.Close()
		return err
	}
	defer func() {
		if err := mq.Close(); err != nil {
			log.Warn("Failed to close broker connection", zap.Error(err))
		}
	}()

	srv := server.NewServer(cfg, log, dbService, mq)
	defer srv.Close()

	for _, email := range cfg.Admin.Emails {
		if err := srv.Coordinator().EnsureAdmin(ctx, email); err != nil {
			return err
		}
		log.Info("Admin ensured", zap.String("email", email))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		return srv.Reconciler().Run(gctx)
	})

	if cfg.RabbitMQ.URL != "" {
		consumer := events.NewRepairConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.RepairQueue, srv.Coordinator(), log)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	return g.Wait()
}
