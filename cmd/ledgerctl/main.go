// Command ledgerctl runs one-off maintenance against the portfolio engine
// database: stats sweeps, XP resets, promotional credits, split adjustments
// and price snapshot ingestion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snips/portfolio-engine/internal/account"
	"github.com/snips/portfolio-engine/internal/config"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/xp"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "")
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(int(commander.Execute(ctx, &app{})))
}

// app lazily connects to the database the first time a command needs it.
type app struct {
	pool     *pgxpool.Pool
	ledger   *ledger.Engine
	stats    *stats.Aggregator
	xp       *xp.Engine
	accounts *account.Service
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	a.pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	st := store.NewPostgresStore(a.pool)
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	a.stats = stats.New(st, cfg.Stats, nil)
	a.ledger = ledger.New(st, cfg.Ledger, ledger.WithStats(a.stats))
	a.xp = xp.New(st, cfg.XP, nil, nil)
	a.accounts = account.New(st, cfg.Account, a.xp, nil)
	return nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// run opens the app, runs fn and maps the outcome to an exit status.
func run(ctx context.Context, args []interface{}, fn func(*app) error) subcommands.ExitStatus {
	a := args[0].(*app)
	if err := a.open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.close()
	if err := fn(a); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
