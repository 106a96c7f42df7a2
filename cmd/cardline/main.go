package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ravaka/cardline/internal/api"
	"github.com/ravaka/cardline/internal/config"
	"github.com/ravaka/cardline/internal/core"
	"github.com/ravaka/cardline/internal/db"
	"github.com/ravaka/cardline/internal/events"
	"github.com/ravaka/cardline/internal/logger"
	"github.com/ravaka/cardline/internal/render"
	"github.com/ravaka/cardline/internal/storage"
	"github.com/ravaka/cardline/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	slogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slogger.Info("starting cardline", "port", cfg.Server.Port, "db", cfg.Database.Path)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	store := storage.New(cfg.Storage.Root, int64(cfg.Storage.LargeDirThresholdMB), slogger)
	renderer := render.NewClient(cfg.Renderer.URL, cfg.Renderer.Timeout, slogger)

	var notifier core.Notifier = core.NopNotifier{}
	var sender *webhook.Notifier
	if len(cfg.Webhooks.Endpoints) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.Webhooks.Endpoints))
		for _, ep := range cfg.Webhooks.Endpoints {
			endpoints = append(endpoints, webhook.Endpoint{
				Name:   ep.Name,
				URL:    ep.URL,
				Secret: ep.Secret,
				Events: ep.Events,
			})
		}
		sender = webhook.NewNotifier(endpoints, webhook.Config{
			Timeout:     cfg.Webhooks.Timeout,
			MaxRetries:  cfg.Webhooks.MaxRetries,
			RetryDelay:  cfg.Webhooks.RetryDelay,
			WorkerCount: cfg.Webhooks.WorkerCount,
			QueueSize:   cfg.Webhooks.QueueSize,
		}, slogger)
		sender.Start()
		defer sender.Stop()
		notifier = sender
	}

	workflow := core.NewWorkflow(store, renderer, notifier, cfg.Queue.QANoteMinLength, slogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Events.Enabled {
		consumer := events.NewConsumer(cfg.Events, workflow, slogger)
		if err := consumer.Connect(); err != nil {
			return fmt.Errorf("failed to connect event consumer: %w", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slogger.Error("event consumer stopped", "error", err)
				stop()
			}
		}()
	}

	router, err := api.NewRouter(workflow, store, slogger)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slogger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slogger.Info("shutdown complete")
	return nil
}
