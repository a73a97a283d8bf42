package main

import (
	"flag"
	"fmt"
	"os"

	"token-ledger/config"
	pgStorage "token-ledger/internal/adapter/storage/postgres"
	"token-ledger/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default: ./config.yaml or ./config/config.yaml)")
		command    = flag.String("command", "up", "migration command (up, down)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	switch *command {
	case "up":
		err = pgStorage.Migrate(cfg.Database.MigrateURL(), log)
	case "down":
		err = pgStorage.Rollback(cfg.Database.MigrateURL(), log)
	default:
		log.Fatal().Str("command", *command).Msg("Unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", *command).Msg("Migration failed")
	}
}
