// Package cmd provides the CLI commands for the hub.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hatago/hatago/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hatago",
	Short: "hatago - MCP hub and proxy",
	Long: `hatago fronts many upstream MCP servers behind a single endpoint,
aggregating their tools, resources, and prompts into one namespace-disambiguated
surface that speaks MCP itself.

Configuration is loaded from hatago.jsonc (or hatago.json) in the current
directory, $HOME/.hatago/, or /etc/hatago/. Environment variables with the
HATAGO_ prefix override individual fields.

Commands:
  init        Write a starter hatago.jsonc
  serve       Run the hub, over HTTP or stdio
  mcp         Manage upstream server entries in the config file`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./hatago.jsonc)")
}
