package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"

	"github.com/campfire/backend/internal/auth"
	"github.com/campfire/backend/internal/gamification"
	"github.com/campfire/backend/internal/handlers"
	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/notify"
	"github.com/campfire/backend/internal/payout"
	"github.com/campfire/backend/internal/repository"
	"github.com/campfire/backend/internal/router"
	"github.com/campfire/backend/internal/services"
	"github.com/campfire/backend/internal/webhook"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations on start")
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	if !skipMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		slog.Info("migrations applied")
	}

	// Repositories
	taskRepo := repository.NewTaskRepo(db.Pool)
	userRepo := repository.NewUserRepo(db.Pool)
	attachmentRepo := repository.NewAttachmentRepo(db.Pool)
	cashoutRepo := repository.NewCashoutRepo(db.Pool)
	reviewRepo := repository.NewReviewRepo(db.Pool)

	// Ledger
	ledgerSvc := ledger.NewService(db, ledger.NewRepository(db.Pool), logger)

	// Jobs: the River client is bound after the workers that need these services exist.
	inserter := jobs.NewInserter()

	engine := lifecycle.New(lifecycle.Policy{PlatformFeeBPS: cfg.Ledger.PlatformFeeBPS})
	transitions := services.NewTransitionService(db, taskRepo, ledgerSvc, userRepo, attachmentRepo, inserter, engine, logger)
	claims := services.NewClaimCoordinator(transitions)
	payoutHook := webhook.New(cfg.Payout.WebhookURL, cfg.Payout.Timeout)
	cashouts := services.NewCashoutService(db, cashoutRepo, ledgerSvc, userRepo, inserter, payoutHook.Enabled(), logger)
	reviews := services.NewReviewService(db, taskRepo, reviewRepo, userRepo)
	tasks := services.NewTaskService(taskRepo, userRepo, logger)
	progress := gamification.NewAccumulator(gamification.NewRepository(db.Pool), logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, gamification.NewWorker(progress))
	river.AddWorker(workers, notify.NewWorker(webhook.New(cfg.Notify.WebhookURL, cfg.Notify.Timeout), logger))
	river.AddWorker(workers, payout.NewWorker(cashouts, payoutHook, logger))
	river.AddWorker(workers, ledger.NewReconcileWorker(ledgerSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(db.Pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			jobs.QueueGamification: {MaxWorkers: cfg.River.MaxWorkers},
			jobs.QueueNotify:       {MaxWorkers: cfg.River.MaxWorkers},
			jobs.QueuePayout:       {MaxWorkers: cfg.River.MaxWorkers},
			jobs.QueueMaintenance:  {MaxWorkers: 1},
		},
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.Ledger.ReconcileInterval),
				func() (river.JobArgs, *river.InsertOpts) { return jobs.ReconcileLedgerArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Workers: workers,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	inserter.Bind(riverClient)

	validator, err := services.NewValidator()
	if err != nil {
		return err
	}

	handler := router.New(router.Deps{
		Tokens: auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Auth:   auth.NewHandler(userRepo, logger),
		Tasks: &handlers.TaskHandler{
			Lifecycle: transitions,
			Campfire:  claims,
			Tasks:     tasks,
			Reviews:   reviews,
			Validator: validator,
			Logger:    logger,
		},
		Ledger: &handlers.LedgerHandler{
			Accounts:  ledgerSvc,
			Cashouts:  cashouts,
			Roles:     userRepo,
			Validator: validator,
			Logger:    logger,
		},
		Progress:       &handlers.ProgressHandler{Progress: progress, Logger: logger},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("river shutdown", "error", err)
	}
	return nil
}
