// migrate applies or rolls back the embedded PostgreSQL schema migrations.
//
//	migrate up
//	migrate down
//	migrate to 1
//	migrate version
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Database.DSN, "dsn", cfg.Database.DSN, "PostgreSQL connection string")
	flagSet.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "minimum log level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate [--dsn DSN] up|down|to VERSION|version")
	}

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.Log.Level))
	cfg.Database.Driver = "postgres"

	db, err := database.Open(context.Background(), cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := migrations.NewRunner(db, log)
	defer runner.Close()

	switch args[0] {
	case "up":
		return runner.MigrateUp()
	case "down":
		if err := runner.MigrateDown(); err != nil {
			return err
		}
		log.Info("MIGRATE", "All migrations rolled back")
		return nil
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("to needs a version")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("version %q: %w", args[1], err)
		}
		return runner.MigrateTo(uint(v))
	case "version":
		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
