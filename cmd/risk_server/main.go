package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"risk_engine/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/risk_engine.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "API listen address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("risk_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "risk_server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	}()

	if addr != "" {
		app.Cfg.Server.Addr = addr
	}

	app.Logger.Info("Starting risk_server",
		"version", version,
		"feed", app.Cfg.Feed.Type,
		"store", app.Cfg.Store.Type,
		"cache", app.Cfg.Cache.Type,
		"addr", app.Cfg.Server.Addr,
	)

	components, err := bootstrap.BuildComponents(app.Cfg, app.Logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		components.Close(ctx)
	}()

	return app.Run(components.Runners()...)
}
