package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"donchianbot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := *cfg
		if redacted.Broker.APISecret != "" {
			redacted.Broker.APISecret = "****"
		}
		if redacted.MarketData.ClickHouse.Password != "" {
			redacted.MarketData.ClickHouse.Password = "****"
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&redacted)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init PATH",
	Short: "Write a config file populated with defaults",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(args[0], config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
