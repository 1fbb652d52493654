package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taskloom/taskloom/loom/config"
	loomdb "github.com/taskloom/taskloom/loom/db"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "taskloom",
		Short:   "TaskLoom - task tracking with a conversational assistant",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and applies the global logging settings.
func setup() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	config.ApplyLogLevel(cfg.Log.Level)
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			// Connect runs migrations as part of opening the database.
			handle, err := loomdb.Connect(cfg.Database)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer handle.Close()

			log.Info().Str("path", cfg.Database.Path).Msg("database schema is up to date")
			return nil
		},
	}
}

func closeQuietly(handle *sql.DB) {
	if err := handle.Close(); err != nil {
		log.Warn().Err(err).Msg("database close failed")
	}
}
