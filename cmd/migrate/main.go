package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/pribylovaa/go-auth-session/internal/config"
	"github.com/pribylovaa/go-auth-session/internal/storage/postgres"
)

func main() {
	var (
		configPath string
		dsn        string
		direction  string
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&dsn, "dsn", "", "postgres url (default: $DATABASE_URL, then db.db_url)")
	flag.StringVar(&direction, "direction", "up", "up or down")
	flag.Parse()

	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		dsn = cfg.DB.DatabaseURL
	}

	if err := postgres.Migrate(dsn, direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	fmt.Printf("migrations applied (%s)\n", direction)
}
