// Package main provides a CLI to manage the chat archive schema.
//
// Usage:
//
//	migrate-archive [-down] [-status]
//
// Flags:
//
//	-down:   roll back the most recent migration (drops archived messages)
//	-status: print the current schema version and exit
//
// Without flags all pending migrations are applied.
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/vimm-chat/db"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv("DB_DSN"), os.Stdout); err != nil {
		slog.Error("migrate-archive failed", slog.Any("err", err))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, dsn string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate-archive", flag.ContinueOnError)
	down := fs.Bool("down", false, "Roll back the most recent migration")
	status := fs.Bool("status", false, "Print the schema version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *down && *status {
		return errors.New("-down and -status are mutually exclusive")
	}
	if dsn == "" {
		return errors.New("DB_DSN environment variable is required")
	}

	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Warn("failed to close database", slog.Any("err", err))
		}
	}()

	switch {
	case *down:
		err = db.MigrateDown(database)
	case !*status:
		err = db.Migrate(database)
	}
	if err != nil {
		return err
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version=%d\ndirty=%t\n", version, dirty)
	return nil
}
