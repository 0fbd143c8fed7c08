package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optiondesk/internal/app"
	"optiondesk/internal/event"
	"optiondesk/internal/infra"
	"optiondesk/internal/state"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", infra.DefaultConfigPath, "path to the yaml config")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Metrics endpoint
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: bootstrap.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("Metrics server started", slog.String("listen", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	// 5. Sequencer (the only writer of view state)
	event.Warmup()
	desk := app.NewDesk(bootstrap, func(c state.Commit) {
		if c.Kind == state.CommitTracked || c.Kind == state.CommitCleared {
			slog.Debug("View committed", slog.String("kind", c.Kind.String()), slog.Uint64("seq", c.Seq))
		}
	})
	defer desk.Close()
	// Outlives ctx so the logout below is still applied.
	seqCtx, seqCancel := context.WithCancel(context.Background())
	defer seqCancel()
	go desk.Run(seqCtx)
	slog.InfoContext(ctx, "Sequencer started")

	// 6. Session
	if err := desk.Login(ctx, cfg.Creds()); err != nil {
		slog.Error("Login failed", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Startup.Symbol != "" {
		if err := desk.LoadChain(ctx, cfg.Startup.Symbol); err != nil {
			slog.Error("Failed to load option chain", slog.String("symbol", cfg.Startup.Symbol), slog.Any("error", err))
		}
	}

	slog.InfoContext(ctx, "optiondesk running. Press Ctrl+C to exit.")
	<-ctx.Done()

	slog.Info("Shutting down gracefully...")
	logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()
	if err := desk.Logout(logoutCtx); err != nil {
		slog.Warn("Logout failed", slog.Any("error", err))
	}
}
