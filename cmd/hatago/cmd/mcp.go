package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hatago/hatago/internal/config"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage upstream server entries in the config file",
}

var mcpAddCommand string
var mcpAddURL string
var mcpAddArgs []string
var mcpAddEnv []string
var mcpAddTags []string

var mcpAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add an upstream server entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id := args[0]
		if mcpAddCommand == "" && mcpAddURL == "" {
			return fmt.Errorf("one of --command or --url is required")
		}
		if mcpAddCommand != "" && mcpAddURL != "" {
			return fmt.Errorf("--command and --url are mutually exclusive")
		}

		path, cfg, err := loadConfigFileForEdit()
		if err != nil {
			return err
		}
		if _, exists := cfg.MCPServers[id]; exists {
			return fmt.Errorf("upstream %q already exists; remove it first", id)
		}

		entry := config.MCPServerEntry{Tags: mcpAddTags}
		if mcpAddCommand != "" {
			entry.Command = mcpAddCommand
			entry.Args = mcpAddArgs
			entry.Env = parseEnvPairs(mcpAddEnv)
		} else {
			entry.URL = mcpAddURL
		}

		if cfg.MCPServers == nil {
			cfg.MCPServers = make(map[string]config.MCPServerEntry)
		}
		cfg.MCPServers[id] = entry

		if err := writeConfigFile(path, cfg); err != nil {
			return err
		}
		fmt.Printf("added upstream %q to %s\n", id, path)
		return nil
	},
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an upstream server entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id := args[0]
		path, cfg, err := loadConfigFileForEdit()
		if err != nil {
			return err
		}
		if _, exists := cfg.MCPServers[id]; !exists {
			return fmt.Errorf("no such upstream %q", id)
		}
		delete(cfg.MCPServers, id)
		if err := writeConfigFile(path, cfg); err != nil {
			return err
		}
		fmt.Printf("removed upstream %q from %s\n", id, path)
		return nil
	},
}

var mcpGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one upstream server entry as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id := args[0]
		_, cfg, err := loadConfigFileForEdit()
		if err != nil {
			return err
		}
		entry, ok := cfg.MCPServers[id]
		if !ok {
			return fmt.Errorf("no such upstream %q", id)
		}
		enc, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	},
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured upstream server ids",
	RunE: func(c *cobra.Command, args []string) error {
		_, cfg, err := loadConfigFileForEdit()
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(cfg.MCPServers)+len(cfg.Servers))
		for id := range cfg.MCPServers {
			ids = append(ids, id)
		}
		for _, s := range cfg.Servers {
			ids = append(ids, s.ID)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	mcpAddCmd.Flags().StringVar(&mcpAddCommand, "command", "", "local process command to launch (stdio upstream)")
	mcpAddCmd.Flags().StringVar(&mcpAddURL, "url", "", "remote server URL (HTTP/SSE/streamable-http upstream)")
	mcpAddCmd.Flags().StringSliceVar(&mcpAddArgs, "arg", nil, "argument to pass to --command, may be repeated")
	mcpAddCmd.Flags().StringSliceVar(&mcpAddEnv, "env", nil, "KEY=VALUE environment variable for --command, may be repeated")
	mcpAddCmd.Flags().StringSliceVar(&mcpAddTags, "tags", nil, "tags for this upstream")

	mcpCmd.AddCommand(mcpAddCmd, mcpRemoveCmd, mcpGetCmd, mcpListCmd)
	rootCmd.AddCommand(mcpCmd)
}

// loadConfigFileForEdit resolves the config path the same way LoadConfig
// does but skips defaults/validation, since a partial edit (e.g. removing
// the last upstream) may not yet satisfy them.
func loadConfigFileForEdit() (string, *config.Config, error) {
	cfg, err := config.LoadConfigRaw(cfgFile)
	if err != nil {
		return "", nil, err
	}
	return config.ConfigFileUsed(), cfg, nil
}

// writeConfigFile overwrites path with cfg as formatted JSON. This drops
// any comments the original JSONC file carried; the CLI trades that off
// for edits it can round-trip reliably.
func writeConfigFile(path string, cfg *config.Config) error {
	enc, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, append(enc, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

func parseEnvPairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		out[k] = v
	}
	return out
}
