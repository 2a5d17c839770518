// NanoStyle - guided image refinement server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/nanostyle/internal/config"
	"github.com/ashureev/nanostyle/internal/store"
)

var envFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nanostyle",
		Short: "Guided image refinement server",
		Long: `NanoStyle walks a user through a template and three refinement
questions, synthesizes an image prompt from the answers and renders it
through the NanoBanana image provider.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newTemplatesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file if present, loads configuration and
// installs the JSON logger at the configured level.
func loadConfig(ctx context.Context) (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// openStore opens the configured session store.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		return store.NewSQLite(cfg.Store.DBPath)
	case config.StoreRedis:
		return store.NewRedis(store.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			TTL:      cfg.Session.TTL,
		})
	default:
		return store.NewMemory(), nil
	}
}
