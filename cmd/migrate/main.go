// migrate applies the embedded goose migrations and prints their status.
//
// Usage: go run ./cmd/migrate [status]
package main

import (
	"context"
	"os"
	"time"

	"commodity-desk/internal/config"
	"commodity-desk/internal/db"
	"commodity-desk/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalf("config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer pool.Close()
	log.Info("[CONNECT] success")

	if len(os.Args) < 2 || os.Args[1] != "status" {
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatalf("[MIGRATE] %v", err)
		}
		log.Info("[MIGRATE] all migrations applied")
	}

	if err := db.MigrationStatus(ctx, pool); err != nil {
		log.Fatalf("[STATUS] %v", err)
	}
}
