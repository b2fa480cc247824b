package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/repository/postgres"

	_ "github.com/lib/pq"
)

func main() {
	listOnly := flag.Bool("list", false, "print the embedded migrations and exit")
	flag.Parse()

	if *listOnly {
		files, err := postgres.Migrations()
		if err != nil {
			fatal("list migrations", err)
		}
		for _, f := range files {
			fmt.Println(" ", f)
		}
		fmt.Printf("Total: %d migrations\n", len(files))
		return
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fatal("connect", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fatal("ping", err)
	}
	logger.Info("connected to database")

	applied, err := postgres.Migrate(ctx, db)
	for _, name := range applied {
		fmt.Printf("  %s ... OK\n", name)
	}
	if err != nil {
		fatal("migrate", err)
	}
	logger.Info("migrations complete", "applied", len(applied))
}

func fatal(step string, err error) {
	logger.Error("migration failed", "step", step, "error", err)
	logger.Sync()
	os.Exit(1)
}
