package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/nanostyle/internal/catalog"
	"github.com/ashureev/nanostyle/internal/config"
	"github.com/ashureev/nanostyle/internal/session"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions idle longer than SESSION_TTL and exit",
		Long: `Sweep runs one expiry pass against a persistent store. It is meant
for deployments that run the server with several replicas and schedule the
sweep externally instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.StoreMemory {
				return fmt.Errorf("sweep needs a persistent store, STORE_DRIVER is %q", cfg.Store.Driver)
			}

			repo, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := repo.Close(); closeErr != nil {
					slog.Error("Failed to close store", "error", closeErr)
				}
			}()

			svc := session.NewService(repo, catalog.Default(), session.WithLogger(logger))
			removed, err := svc.SweepExpired(ctx, cfg.Session.TTL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired session(s)\n", removed)
			return nil
		},
	}
}
