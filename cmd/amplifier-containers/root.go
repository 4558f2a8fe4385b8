package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/microsoft/amplifier-bundle-containers/internal/app"
	"github.com/microsoft/amplifier-bundle-containers/internal/config"
	"github.com/microsoft/amplifier-bundle-containers/internal/logger"
)

type contextKey string

const appKey = contextKey("app")

var rootCmd = &cobra.Command{
	Use:           "amplifier-containers",
	Short:         "Provision and manage tool containers",
	Long:          "Creates ready-to-work development containers with credentials, dotfiles, and toolchains provisioned, and manages their full lifecycle.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logInstance := logger.SetupLogger(&cfg.Logging)

		application, err := app.New(cfg, logInstance)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}
		ctx := context.WithValue(cmd.Context(), appKey, application)
		cmd.SetContext(ctx)
		return nil
	},
}

func appFrom(cmd *cobra.Command) *app.App {
	return cmd.Context().Value(appKey).(*app.App)
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "INFO", "set log level (e.g. INFO, DEBUG, WARN)")
	viper.BindPFlag("log.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Execution error: %v\n", err)
		os.Exit(1)
	}
}
