package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/nekosync/adapter/cli"
	cliLicense "github.com/felixgeelhaar/nekosync/adapter/cli/license"
	cliSync "github.com/felixgeelhaar/nekosync/adapter/cli/sync"
	"github.com/felixgeelhaar/nekosync/internal/app"
	"github.com/felixgeelhaar/nekosync/pkg/config"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	cliLicense.SetService(container.LicenseService)
	cliSync.SetDeps(cliSync.Deps{
		Coordinator: container.Coordinator,
		Scheduler:   container.Scheduler,
		Validation:  container.Validation,
		Health:      container.Health,
		LibraryPath: cfg.LibraryPath,
		HealthAddr:  cfg.HealthAddr,
		Logger:      logger,
	})

	cli.AddCommand(cliLicense.Cmd)
	cli.AddCommand(cliSync.Cmd)

	cli.Execute(ctx)
}
