// Command splynx-tickets runs the ticket-orchestration service: the
// webhook ingestion HTTP surface, the assignment/escalation/reconciliation
// workers, and the cron scheduler that drives them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhernandezbas/splynx-tickets/internal/api"
	"github.com/rhernandezbas/splynx-tickets/internal/assignment"
	"github.com/rhernandezbas/splynx-tickets/internal/buildinfo"
	"github.com/rhernandezbas/splynx-tickets/internal/clock"
	"github.com/rhernandezbas/splynx-tickets/internal/config"
	"github.com/rhernandezbas/splynx-tickets/internal/configstore"
	"github.com/rhernandezbas/splynx-tickets/internal/db"
	"github.com/rhernandezbas/splynx-tickets/internal/escalation"
	"github.com/rhernandezbas/splynx-tickets/internal/ingestion"
	"github.com/rhernandezbas/splynx-tickets/internal/messaging"
	"github.com/rhernandezbas/splynx-tickets/internal/pausestate"
	"github.com/rhernandezbas/splynx-tickets/internal/repository"
	"github.com/rhernandezbas/splynx-tickets/internal/scheduler"
	"github.com/rhernandezbas/splynx-tickets/internal/shiftlifecycle"
	"github.com/rhernandezbas/splynx-tickets/internal/syncworker"
	"github.com/rhernandezbas/splynx-tickets/internal/ticketsvc"
)

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if level, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}
	logger.Info("starting splynx-tickets", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	sqlDB, err := db.Open(cfg.DB)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.Migrate(sqlDB); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	repo := repository.New(sqlDB)
	configs := configstore.New(repo)

	clk, err := clock.New(configs)
	if err != nil {
		logger.Error("failed to initialize clock", "error", err)
		os.Exit(1)
	}

	var ticketOpts []ticketsvc.Option
	ticketOpts = append(ticketOpts, ticketsvc.WithLogger(logger))
	if !cfg.Splynx.SSLVerify {
		ticketOpts = append(ticketOpts, ticketsvc.WithInsecureSkipVerify())
	}
	tickets := ticketsvc.New(cfg.Splynx.BaseURL, cfg.Splynx.User, cfg.Splynx.Password, ticketOpts...)

	messages := messaging.New(cfg.Evolution.BaseURL, cfg.Evolution.APIKey, cfg.Evolution.InstanceName, repo)

	assignmentEngine := assignment.New(repo, configs, clk, logger)
	ingester := ingestion.New(repo, configs, assignmentEngine, tickets, messages, clk, logger)
	syncWorker := syncworker.New(repo, tickets, messages, configs, clk, logger)
	reopenChecker := syncworker.NewReopenChecker(repo, tickets, messages, configs, clk, logger)
	escalationWorker := escalation.New(repo, tickets, messages, configs, clk, logger)
	shiftLifeWorker := shiftlifecycle.New(repo, tickets, messages, configs, clk, logger)
	pause := pausestate.New("/var/lib/splynx-tickets/system_state.json")

	sched := scheduler.New(scheduler.Deps{
		Repo:       repo,
		Tickets:    tickets,
		Configs:    configs,
		Clock:      clk,
		Pause:      pause,
		Ingester:   ingester,
		Assignment: assignmentEngine,
		Sync:       syncWorker,
		Reopen:     reopenChecker,
		Escalation: escalationWorker,
		ShiftLife:  shiftLifeWorker,
		Log:        logger,
	}, cfg.LockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	server := api.New(cfg.Listen.Address, cfg.Listen.Port, ingester, pause, sched, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.Error("API server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("splynx-tickets stopped")
}
