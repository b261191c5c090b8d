package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"commodity-desk/internal/adapters/cli"
	"commodity-desk/internal/app"
	"commodity-desk/internal/config"
	"commodity-desk/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalf("config: %v", err)
	}
	// Keep stdout for command output; only warnings and errors are logged.
	log := logger.NewWithOutput("warn", os.Stderr)

	ctx := context.Background()
	rt, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	actor := os.Getenv("CNF_ACTOR")
	if actor == "" {
		actor = "cli"
	}

	err = cli.Run(ctx, rt.Service, os.Args[1:], actor, os.Stdout)
	_ = rt.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
