// verify-ledger runs the read-only consistency audit and exits non-zero on findings.
//
// Usage: go run ./cmd/verify-ledger
package main

import (
	"context"
	"encoding/json"
	"os"

	"commodity-desk/internal/config"
	"commodity-desk/internal/core"
	"commodity-desk/internal/db"
	"commodity-desk/internal/logger"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalf("config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	findings, err := core.NewLedgerAuditor(pool).Run(ctx)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, f := range findings {
		_ = enc.Encode(f)
	}

	log.WithFields(logrus.Fields{"findings": len(findings)}).Info("ledger audit finished")
	if len(findings) > 0 {
		pool.Close()
		os.Exit(1)
	}
}
