package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mcpresso/mcpresso-oauth/server"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/storage/memory"
	"github.com/mcpresso/mcpresso-oauth/storage/sqlstore"
	"github.com/mcpresso/mcpresso-oauth/storage/valkey"
)

const driverMemory = "memory"

type storeFlags struct {
	driver         string
	dsn            string
	valkeyAddr     string
	valkeyPassword string
	valkeyPrefix   string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.driver, "driver", sqlstore.DriverSQLite, "Storage backend (memory, sqlite, postgres, valkey)")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "Database DSN for the sqlite and postgres drivers")
	cmd.Flags().StringVar(&f.valkeyAddr, "valkey-addr", "localhost:6379", "Valkey server address")
	cmd.Flags().StringVar(&f.valkeyPassword, "valkey-password", "", "Valkey password")
	cmd.Flags().StringVar(&f.valkeyPrefix, "valkey-prefix", "", "Valkey key prefix (default mcpresso:)")
}

// open returns the selected store and a function releasing it.
func (f *storeFlags) open(logger *slog.Logger) (storage.Store, func(), error) {
	switch f.driver {
	case driverMemory:
		return memory.New(logger), func() {}, nil
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		if f.dsn == "" {
			return nil, nil, fmt.Errorf("--dsn is required for the %s driver", f.driver)
		}
		store, err := sqlstore.Open(f.driver, f.dsn, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}, nil
	case "valkey":
		store, err := valkey.New(valkey.Config{
			Address:   f.valkeyAddr,
			Password:  f.valkeyPassword,
			KeyPrefix: f.valkeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", f.driver)
	}
}

type cleanupOutput struct {
	Removed *server.CleanupResult `json:"removed,omitempty"`
	Stats   *storage.Stats        `json:"stats"`
}

func newCleanupCmd(opts *globalOptions) *cobra.Command {
	var (
		store      storeFlags
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired authorization codes and tokens from a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			cfg := server.DefaultConfig("http://localhost")
			if configPath != "" {
				if cfg, err = server.LoadConfig(configPath); err != nil {
					return err
				}
			}

			backend, release, err := store.open(logger)
			if err != nil {
				return err
			}
			defer release()

			srv, err := server.New(backend, cfg, logger)
			if err != nil {
				return err
			}
			return runCleanup(cmd, opts, srv, dryRun)
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&configPath, "config", "", "Server configuration file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report store statistics")
	return cmd
}

func runCleanup(cmd *cobra.Command, opts *globalOptions, srv *server.Server, dryRun bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var out cleanupOutput
	if !dryRun {
		result, err := srv.Cleanup(ctx)
		if err != nil {
			return err
		}
		out.Removed = &result
	}
	stats, err := srv.GetStats(ctx)
	if err != nil {
		return err
	}
	out.Stats = &stats

	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	if out.Removed != nil {
		fmt.Fprintf(w, "removed: %d authorization codes, %d access tokens, %d refresh tokens\n",
			out.Removed.AuthorizationCodes, out.Removed.AccessTokens, out.Removed.RefreshTokens)
	}
	fmt.Fprintf(w, "remaining: %d clients, %d users, %d authorization codes, %d access tokens, %d refresh tokens\n",
		stats.Clients, stats.Users, stats.AuthorizationCodes, stats.AccessTokens, stats.RefreshTokens)
	return nil
}
