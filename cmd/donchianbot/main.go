package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"donchianbot/internal/config"
	"donchianbot/internal/util"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:           "donchianbot",
	Short:         "Donchian/ADX breakout signals with position and trade tracking",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("donchianbot")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override app.log_level")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit JSON logs instead of console output")
	rootCmd.AddCommand(backtestCmd, liveCmd, configCmd, runsCmd)
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(configPath)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.App.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if jsonLogs {
		return util.NewLogger(level, os.Stdout).With().Str("app", cfg.App.Name).Logger()
	}
	return util.NewConsoleLogger(level).With().Str("app", cfg.App.Name).Logger()
}
