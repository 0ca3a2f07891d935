package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/tutorhub/tutorhub/pkg/cli"
	"github.com/tutorhub/tutorhub/pkg/storage/postgres"
)

// pgBackend runs the admin commands against PostgreSQL
type pgBackend struct {
	*postgres.Store
	db *sql.DB
}

func (b *pgBackend) Migrate(ctx context.Context) (int64, error) {
	if err := postgres.Migrate(ctx, b.db); err != nil {
		return 0, err
	}
	return postgres.MigrationVersion(ctx, b.db)
}

func (b *pgBackend) Close() error {
	return b.db.Close()
}

func connect(ctx context.Context) (cli.Backend, error) {
	url := os.Getenv("TUTORHUB_DATABASE_URL")
	if url == "" {
		return nil, errors.New("TUTORHUB_DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &pgBackend{Store: postgres.NewStore(db), db: db}, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand(connect, os.Stdout)
	if err := rootCmd.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
