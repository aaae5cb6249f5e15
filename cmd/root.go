package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/testnet/services/points/config"
)

var rootCmd = &cobra.Command{
	Use:   "points",
	Short: "Testnet points service",
	Long:  `Event ledger, points reconciliation worker and leaderboard API for the incentivized testnet`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging configures the global logger from config.
func setupLogging(cfg config.Config) {
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
