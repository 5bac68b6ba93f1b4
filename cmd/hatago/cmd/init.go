package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `{
  // hatago.jsonc - generated by "hatago init". This starter only wires one
  // example stdio upstream.
  "version": 1,
  "logLevel": "info",
  "http": {
    "port": 8080,
    "host": "127.0.0.1"
  },
  "mcpServers": {
    "example": {
      "command": "npx",
      "args": ["-y", "@modelcontextprotocol/server-everything"]
    }
  },
  "toolNaming": {
    "strategy": "namespace",
    "separator": "_"
  },
  "session": {
    "ttlSeconds": 3600
  }
}
`

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter hatago.jsonc in the current directory",
	RunE: func(c *cobra.Command, args []string) error {
		path := "hatago.jsonc"
		if cfgFile != "" {
			path = cfgFile
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
