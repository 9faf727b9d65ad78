package main

import (
	"fmt"
	"os"

	"mavedb/auth"
	"mavedb/internal/config"
	"mavedb/internal/db"
	"mavedb/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appName = "mavedb"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "MaveDB API server and maintenance tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(seedCmd())
	cmd.AddCommand(validateCmd())
	return cmd
}

// bootstrap loads the configuration, builds the logger and connects to the
// database. Callers must call db.CloseDb when done.
func bootstrap() (*zap.Logger, error) {
	config.LoadConfig()

	log, err := logging.New(config.AppConfig.Environment, config.AppConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	auth.SetSecret(config.AppConfig.JWTSecret)

	if err := db.ConnectDb(log); err != nil {
		return nil, err
	}
	return log, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.CloseDb(log)

			if err := db.Migrate(db.AppDb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("database schema migrated")
			return nil
		},
	}
}
