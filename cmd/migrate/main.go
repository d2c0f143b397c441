package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "FULFILLMENT_POSTGRES_DSN"
)

var errUsage = errors.New("usage")

// migrator — операции Store, которые использует CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

type options struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseFlags(args []string, getenv func(string) string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%w: %s (or -dsn) is required", errUsage, envPostgresDSN)
	}
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("%w: unsupported direction %s (use up|down|status)", errUsage, opts.direction)
	}
	return opts, nil
}

func run(ctx context.Context, m migrator, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := m.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := m.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, count, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, count)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
