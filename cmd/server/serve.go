package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dili-feedback-server/internal/api"
	"github.com/dili-feedback-server/internal/auth"
	"github.com/dili-feedback-server/internal/feedback"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/dili-feedback-server/internal/mlclient"
	"github.com/dili-feedback-server/internal/progress"
	"github.com/dili-feedback-server/internal/storage"
	"github.com/dili-feedback-server/internal/training"
	"github.com/dili-feedback-server/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// maxLimitedClients bounds the per-IP login limiter table
const maxLimitedClients = 10000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	_, cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	stores, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}()

	authService, err := auth.NewService(stores.Users, cfg.Auth, logger)
	if err != nil {
		return err
	}
	limiter, err := auth.NewLoginLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginBurst, maxLimitedClients)
	if err != nil {
		return err
	}

	ml := mlclient.NewClient(cfg.ML, m.External, logger)
	recorder := feedback.NewRecorder(stores.Feedback, m.Feedback, logger)
	ledger := version.NewLedger(stores.Versions, m.Versions, logger)

	hub := progress.NewHub(m.HTTP, logger)
	var publisher progress.Publisher = hub
	if cfg.Progress.RedisURL != "" {
		bus, err := progress.NewRedisBus(ctx, cfg.Progress.RedisURL, cfg.Progress.RedisChannel, hub, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		if err := bus.StartForwarder(ctx); err != nil {
			return err
		}
		publisher = bus
	}

	orchestrator, err := training.NewOrchestrator(ledger, recorder, ml, publisher, cfg.Training, m.Training, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, api.Dependencies{
		Auth:      authService,
		Limiter:   limiter,
		Feedback:  recorder,
		Versions:  ledger,
		Training:  orchestrator,
		ML:        ml,
		Hub:       hub,
		Metrics:   m,
		BatchSize: cfg.Training.BatchSize,
		Critical:  map[string]api.HealthCheck{"storage": stores.Health},
		Optional:  map[string]api.HealthCheck{"ml": mlHealth(ml)},
	}, logger)

	logger.WithFields(logrus.Fields{
		"storage": cfg.Storage.Driver,
		"ml":      cfg.ML.BaseURL,
	}).Info("Starting DILI feedback server")

	serveErr := server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Training did not settle before shutdown")
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("Server stopped")
	return nil
}

// mlHealth fails fast while any endpoint breaker is open
func mlHealth(ml *mlclient.Client) api.HealthCheck {
	return func(ctx context.Context) error {
		for endpoint, state := range ml.BreakerStates() {
			if state == "open" {
				return fmt.Errorf("%s circuit open", endpoint)
			}
		}
		return ml.Health(ctx)
	}
}

var _ api.Predictor = (*mlclient.Client)(nil)
