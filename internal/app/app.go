package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-relay-go/internal/batch"
	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/drive"
	"invoice-relay-go/internal/handlers"
	"invoice-relay-go/internal/invoice"
	"invoice-relay-go/internal/mailbox"
	"invoice-relay-go/internal/metrics"
	"invoice-relay-go/internal/mutualser"
	"invoice-relay-go/internal/scheduler"
	"invoice-relay-go/internal/server"
	"invoice-relay-go/internal/sheets"
	"invoice-relay-go/internal/store"
)

// pipeline bundles the wired orchestrator with what must be closed on exit.
type pipeline struct {
	orchestrator *batch.Orchestrator
	source       mailbox.Source
	store        *store.Store
}

// build wires every collaborator from configuration.
func build(cfg *config.Config) (*pipeline, error) {
	var source mailbox.Source
	var err error
	if cfg.Gmail.UseIMAP {
		source, err = mailbox.NewIMAPSource(&cfg.Gmail, cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to create IMAP source: %w", err)
		}
		logrus.Info("Using IMAP for the inbox")
	} else {
		source, err = mailbox.NewGmailSource(&cfg.Gmail, cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail source: %w", err)
		}
		logrus.Info("Using the Gmail API for the inbox")
	}

	notifier, err := mailbox.NewNotifier(&cfg.Gmail, cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	publisher, err := drive.NewPublisher(&cfg.Gmail, cfg.Drive)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive publisher: %w", err)
	}

	reporter, err := sheets.NewReporter(&cfg.Gmail, cfg.Sheets)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets reporter: %w", err)
	}

	uploader := mutualser.NewClient(&cfg.Vendor)

	var st *store.Store
	var archiver batch.Archiver
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open report archive: %w", err)
		}
		archiver = st
	}

	m := metrics.NewMetrics()

	orchestrator := batch.NewOrchestrator(cfg.Batch, cfg.Vendor.NIT, source, invoice.NewParser(),
		uploader, publisher, reporter, notifier, archiver, m)

	return &pipeline{orchestrator: orchestrator, source: source, store: st}, nil
}

// Run starts the daemon: scheduled batches plus the ops HTTP server, with
// graceful shutdown on SIGINT/SIGTERM.
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Invoice Relay Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	p, err := build(cfg)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(&cfg.Scheduler, p.orchestrator)

	h := handlers.NewHandlers(sched, p.store)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := p.source.Close(); err != nil {
		logrus.Errorf("Failed to close mailbox source: %v", err)
	}

	logrus.Info("Stopped gracefully")
	return nil
}

// RunOnce executes a single batch and returns. Per-message failures are
// reported, not fatal; only a setup or batch-level failure yields an error.
func RunOnce() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	p, err := build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.source.Close(); err != nil {
			logrus.Errorf("Failed to close mailbox source: %v", err)
		}
	}()

	_, err = p.orchestrator.Run(context.Background())
	return err
}
