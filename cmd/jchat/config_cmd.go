package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		path, _ := configPath()
		fmt.Printf("Config file: %s\n\n", path)
		fmt.Println("[default]")
		fmt.Printf("  base_url  = %s\n", orDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Println("[auth]")
		fmt.Printf("  user_id   = %s\n", orDefault(cfg.Auth.UserID, "(not set)"))
		fmt.Printf("  user_name = %s\n", orDefault(cfg.Auth.UserName, "(not set)"))
		fmt.Printf("  token     = %s\n", maskToken(cfg.Auth.Token))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (dot notation, e.g. default.base_url)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := saveConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s\n", args[0])
	},
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
