// Command agentcheck serves the operator console, the license API and the
// Trello webhook, and consumes queued card jobs.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/agentcheck/captcha"
	"github.com/hazyhaar/agentcheck/config"
	"github.com/hazyhaar/agentcheck/dbopen"
	"github.com/hazyhaar/agentcheck/httpapi"
	"github.com/hazyhaar/agentcheck/jobs"
	"github.com/hazyhaar/agentcheck/lia"
	"github.com/hazyhaar/agentcheck/observability"
	"github.com/hazyhaar/agentcheck/shield"
	"github.com/hazyhaar/agentcheck/trello"
	"github.com/hazyhaar/agentcheck/verify"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agentcheck", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("AGENTCHECK_CONFIG"), "YAML configuration file")
	logLevel := flag.String("log-level", "", "override log level (debug|info|warn|error)")
	maintenance := flag.String("maintenance", "", "set maintenance mode (on|off) and exit")
	maintenanceMsg := flag.String("maintenance-message", "", "message shown while in maintenance")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	lvl, _ := config.ParseLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath(),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(jobs.Schema),
		dbopen.WithSchema(shield.Schema),
	)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	stack, mm, rl := shield.DefaultStack(db)
	if *maintenance != "" {
		return setMaintenance(ctx, mm, *maintenance, *maintenanceMsg)
	}

	metrics := observability.NewMetrics(nil)

	cfg.Browser.Logger = logger
	sessions := lia.NewRodSessions(cfg.Browser)
	defer sessions.Close()

	loc := cfg.Location()
	orch := lia.NewOrchestrator(cfg.Query.Config, sessions.Open,
		captcha.NewHTTPSolver(cfg.OCR, logger),
		lia.WithLogger(logger),
		lia.WithClock(func() time.Time { return time.Now().In(loc) }),
	)

	cards := trello.NewClient(cfg.Trello, logger)
	if !cards.Configured() {
		logger.Warn("trello not configured, card input and webhook reporting disabled")
	}

	svc := verify.New(orch,
		verify.WithCards(cards),
		verify.WithMetrics(metrics),
		verify.WithLogger(logger),
		verify.WithMaxConcurrent(cfg.Query.MaxConcurrent),
		verify.WithMaxRetries(cfg.Query.MaxRetries),
		verify.WithTimeout(cfg.Query.Timeout),
	)

	queue := jobs.New(db, jobs.Options{
		Visibility:   cfg.Queue.Visibility,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryBackoff: cfg.Queue.RetryBackoff,
		Logger:       logger,
	})
	go queue.Run(ctx, func(ctx context.Context, job *jobs.Job) error {
		return svc.ProcessCard(ctx, job.Card.CardID)
	})

	mm.StartReloader(ctx.Done())
	rl.StartReloader(ctx.Done())

	deps := httpapi.Deps{
		Service:    svc,
		Queue:      queue,
		Webhook:    cfg.Trello,
		Metrics:    metrics,
		Console:    httpapi.Console{User: cfg.Server.ConsoleUser, PasswordHash: cfg.Server.ConsolePasswordHash},
		Middleware: stack,
		Ready:      func(ctx context.Context) error { return ping(ctx, db) },
		Logger:     logger,
	}
	if cfg.Server.DebugRoutes {
		deps.Probe = orch.ProbeCaptcha
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		// A console check holds the connection for the whole query.
		WriteTimeout: cfg.Query.Timeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agentcheck listening", "addr", srv.Addr,
			"trello", cards.Configured(), "console_auth", cfg.Server.ConsoleUser != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func setMaintenance(ctx context.Context, mm *shield.MaintenanceMode, state, msg string) error {
	var active bool
	switch state {
	case "on":
		active = true
	case "off":
	default:
		return fmt.Errorf("-maintenance must be on or off, got %q", state)
	}
	if err := mm.Set(ctx, active, msg); err != nil {
		return err
	}
	slog.Info("maintenance mode updated", "active", active)
	return nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
