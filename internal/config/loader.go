package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

// envRefPattern matches the ${env:VAR} substitution syntax.
var envRefPattern = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// InitViper initializes Viper's environment-variable override layer. It
// does not touch the config file itself, which is JSONC and parsed
// separately by LoadConfig; viper here only resolves the HATAGO_*-prefixed
// overrides applied on top of the parsed file.
func InitViper() {
	viper.SetEnvPrefix("HATAGO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("http.port")
	_ = viper.BindEnv("http.host")
	_ = viper.BindEnv("loglevel")
	_ = viper.BindEnv("session.ttlseconds")
	_ = viper.BindEnv("timeouts.spawnms")
	_ = viper.BindEnv("timeouts.healthcheckms")
	_ = viper.BindEnv("timeouts.toolcallms")
	_ = viper.BindEnv("concurrency.global")
}

// findConfigFile searches standard locations for a hatago.json(c) file.
// The search requires an explicit extension to avoid matching the binary
// itself in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".hatago"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "hatago"))
		}
	} else {
		paths = append(paths, "/etc/hatago")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for hatago.jsonc or
// hatago.json, preferring the .jsonc extension. Returns the full path of
// the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".jsonc", ".json"} {
			path := filepath.Join(dir, "hatago"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// expandEnvRefs replaces every ${env:VAR} occurrence with the value of the
// named environment variable. An unset variable expands to the empty
// string, matching the "missing env vars become empty" behavior documented
// for the config file's substitution syntax.
func expandEnvRefs(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envRefPattern.FindSubmatch(match)[1]
		return []byte(jsonEscape(os.Getenv(string(name))))
	})
}

// jsonEscape escapes a raw string value for direct splicing into a JSON
// document; expandEnvRefs runs before json.Unmarshal so the substituted
// value must itself already be a valid JSON string body.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// applyEnvOverrides layers HATAGO_*-prefixed environment variables on top
// of an already-parsed Config, for the handful of scalar settings ops
// commonly want to override without editing the file (e.g. in a container).
func applyEnvOverrides(cfg *Config) {
	if viper.IsSet("http.port") {
		cfg.HTTP.Port = viper.GetInt("http.port")
	}
	if viper.IsSet("http.host") {
		cfg.HTTP.Host = viper.GetString("http.host")
	}
	if viper.IsSet("loglevel") {
		cfg.LogLevel = viper.GetString("loglevel")
	}
	if viper.IsSet("session.ttlseconds") {
		cfg.Session.TTLSeconds = viper.GetInt64("session.ttlseconds")
	}
	if viper.IsSet("timeouts.spawnms") {
		cfg.Timeouts.SpawnMs = viper.GetInt64("timeouts.spawnms")
	}
	if viper.IsSet("timeouts.healthcheckms") {
		cfg.Timeouts.HealthcheckMs = viper.GetInt64("timeouts.healthcheckms")
	}
	if viper.IsSet("timeouts.toolcallms") {
		cfg.Timeouts.ToolCallMs = viper.GetInt64("timeouts.toolcallms")
	}
	if viper.IsSet("concurrency.global") {
		cfg.Concurrency.Global = viper.GetInt("concurrency.global")
	}
}

// LoadConfig reads and parses a JSONC configuration file at path (searching
// standard locations when path is empty), applies ${env:VAR} expansion and
// HATAGO_*-prefixed environment overrides, sets defaults, and validates the
// result.
func LoadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigRaw(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads and parses the JSONC file but does not apply defaults
// or validation, for callers (e.g. the CLI) that need to layer flag
// overrides before those steps run.
func LoadConfigRaw(path string) (*Config, error) {
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil, fmt.Errorf("no hatago.json(c) found in standard locations")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	stripped := jsonc.ToJSON(raw)
	expanded := expandEnvRefs(stripped)

	var cfg Config
	if err := json.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	lastLoadedPath = path
	return &cfg, nil
}

// lastLoadedPath records the path most recently loaded by LoadConfig(Raw),
// mirroring viper.ConfigFileUsed for callers (e.g. the mcp subcommands) that
// need it without threading the path through separately.
var lastLoadedPath string

// ConfigFileUsed returns the path of the configuration file most recently
// loaded by LoadConfig or LoadConfigRaw. Returns an empty string if none has
// been loaded yet.
func ConfigFileUsed() string {
	return lastLoadedPath
}
