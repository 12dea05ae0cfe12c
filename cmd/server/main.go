// Command server runs the transmission sync agent with its HTTP API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/config"
	httpapi "github.com/micro-ha/transmission-sync/internal/http"
	"github.com/micro-ha/transmission-sync/internal/http/handlers"
	"github.com/micro-ha/transmission-sync/internal/logging"
	"github.com/micro-ha/transmission-sync/internal/transmission"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("")
	if err != nil {
		logging.New(config.Default().LogLevel).Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.NewWithFormat(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	agent, err := app.New(ctx, app.Options{
		Config:    cfg,
		Logger:    logger,
		Confirmer: transmission.ConsentConfirmer,
	})
	if err != nil {
		logger.Error("failed to initialize agent", "err", err)
		os.Exit(1)
	}
	defer agent.Close()

	if err := agent.Start(ctx); err != nil {
		logger.Error("failed to start agent", "err", err)
		agent.Close()
		os.Exit(1)
	}

	api := handlers.New(agent, agent.Transport(), agent.Client(), agent.Journal(), logger)
	httpServer := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(api, httpapi.RouterOptions{
		RequestLimit: 600,
		Window:       time.Minute,
	}))

	logger.Info("server starting", "addr", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		agent.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
