package main

import (
	"os"

	"github.com/bwise1/civic_patrol/config"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:           "civic_patrol",
		Short:         "Civic issue reporting API and live sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.New()
			return logger.Init(cfg.Env, cfg.LogLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().String("token", "", "access token (defaults to API_TOKEN)")
	rootCmd.AddCommand(serveCmd, tokenCmd, watchCmd)
	rootCmd.AddCommand(actionCmds()...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
