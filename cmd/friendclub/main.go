package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"friendclub/internal/config"
	"friendclub/internal/observability"
	"friendclub/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting friendclub",
		slog.String("collection", cfg.Collection),
		slog.String("storage", cfg.StorageAdapter))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     a.router,
		ReadTimeout: 60 * time.Second,
		// media uploads are transcoded inline
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	a.tree.AddAPIService(supervisor.NewHTTPServerService(srv, 10*time.Second))

	slog.Info("friendclub listening", slog.String("port", cfg.Port))

	if err := a.tree.Serve(ctx); err != nil && ctx.Err() == nil {
		slog.Error("supervisor stopped", slog.String("error", err.Error()))
	}

	if report, err := a.tree.UnstoppedServiceReport(); err == nil {
		for _, svc := range report {
			slog.Warn("service did not stop in time", slog.String("service", svc.Name))
		}
	}

	slog.Info("server stopped gracefully")
}
