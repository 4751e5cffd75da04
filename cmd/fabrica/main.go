package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/logger"
	"github.com/fabrica-io/fabrica/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("FABRICA_CONFIG")
	}

	if err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Named("main")

	if err := database.Initialize(&cfg.Database); err != nil {
		log.Error("database initialization failed", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Plugins.Directory, 0o755); err != nil {
		log.Error("plugin directory unavailable", "dir", cfg.Plugins.Directory, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
