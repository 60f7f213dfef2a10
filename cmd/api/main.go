// Command api runs the campfire task core: the HTTP API, the River workers and the
// operator commands that share its configuration.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/campfire/backend/internal/config"
	"github.com/campfire/backend/internal/database"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "Campfire task lifecycle and ledger service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, toml or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// openDB loads config and connects. Callers close the returned DB.
func openDB(ctx context.Context) (*config.Config, *database.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(ctx, cfg.Database.URL, cfg.Database.LockTimeout)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
