package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/ethbank/internal/config"
	"github.com/roach88/ethbank/internal/ledger"
	"github.com/roach88/ethbank/internal/memstore"
	"github.com/roach88/ethbank/internal/pgstore"
	"github.com/roach88/ethbank/internal/store"
)

// ledgerStore is a ledger.Store that owns a connection.
type ledgerStore interface {
	ledger.Store
	Close() error
}

// setupLogging installs the process logger: text on stderr, Debug with
// --verbose, Info otherwise.
func setupLogging(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		File:    opts.ConfigFile,
		EnvFile: opts.EnvFile,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openLedger opens the configured store and applies the genesis block if the
// ledger is empty.
func openLedger(ctx context.Context, cfg *config.Config) (ledgerStore, error) {
	var (
		st  ledgerStore
		err error
	)

	switch cfg.Store.Driver {
	case config.DriverSQLite:
		slog.Info("opening database", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
		st, err = store.Open(cfg.Store.Path)
	case config.DriverPostgres:
		slog.Info("opening database", "driver", cfg.Store.Driver)
		st, err = pgstore.Open(ctx, cfg.Store.DSN)
	case config.DriverMemory:
		st = memstore.New()
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	alloc, err := cfg.GenesisAccounts()
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid genesis", err)
	}
	applied, err := ledger.ApplyGenesis(ctx, st, alloc)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to apply genesis", err)
	}
	if applied {
		slog.Info("genesis applied", "accounts", len(alloc))
	}

	return st, nil
}

// withLedger loads config, opens the store, runs fn and closes the store.
func withLedger(ctx context.Context, opts *RootOptions, fn func(*config.Config, ledgerStore) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	st, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	return fn(cfg, st)
}

func commandContext(ctxFn func() context.Context) context.Context {
	if ctx := ctxFn(); ctx != nil {
		return ctx
	}
	return context.Background()
}
