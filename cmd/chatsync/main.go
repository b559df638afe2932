package main

import (
	"context"
	"os"
	"runtime"
	"time"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"

	"github.com/joho/godotenv"
)

// set at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	eff, err := config.LoadEffectiveConfig(flags)
	if err != nil {
		shutdown.Abort("config_load_failed", err)
	}
	if err := config.ValidateConfig(eff); err != nil {
		shutdown.Abort("config_invalid", err)
	}

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level, eff.Config.Logging.Format)
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)
	logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

	ver := version
	if commit != "none" {
		ver += " (" + commit + ")"
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	a, err := app.New(ctx, eff, ver)
	if err != nil {
		shutdown.Abort("app_init_failed", err)
	}
	if err := a.Run(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		shutdown.Abort("app_run_failed", err)
	}

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
}
