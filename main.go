package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "melodyquest",
		Short:         "Multiplayer music quiz server.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config.json", "optional JSON config file")
	root.PersistentFlags().String("log-level", "info", "log level (env: LOG_LEVEL)")
	root.PersistentFlags().String("db-driver", "postgres", "postgres or mysql (env: DB_DRIVER)")
	root.PersistentFlags().String("database-url", "", "database DSN, overrides the DB_* settings (env: DATABASE_URL)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the realtime gateway and the janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFile, cmd.Flags())
		},
	}
	serve.Flags().String("http-addr", ":8080", "address to listen on (env: HTTP_ADDR)")
	serve.Flags().String("bus-driver", "redis", "redis or memory (env: BUS_DRIVER)")
	serve.Flags().Bool("auto-migrate", false, "create or update tables on start (env: AUTO_MIGRATE)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to a postgres database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configFile, cmd.Flags())
		},
	}

	root.AddCommand(serve, migrate)
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}
