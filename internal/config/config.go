// Package config loads and validates the hub's JSONC configuration file and
// converts it into the upstream specs and runtime settings the rest of the
// hub consumes.
package config

import (
	"fmt"

	"github.com/hatago/hatago/internal/domain/upstream"
)

// Config is the top-level shape of the hub's configuration file.
type Config struct {
	// Version must be 1. Reserved so future incompatible schema changes can
	// be detected before the rest of the file is even parsed.
	Version int `json:"version" validate:"required,eq=1"`

	// LogLevel sets the minimum level emitted by the structured logger.
	LogLevel string `json:"logLevel,omitempty" validate:"omitempty,oneof=error warn info debug trace"`

	HTTP HTTPConfig `json:"http,omitempty"`

	// MCPServers is the compact map form, one entry per upstream id, modeled
	// after the config format popularized by desktop MCP clients.
	MCPServers map[string]MCPServerEntry `json:"mcpServers,omitempty" validate:"omitempty,dive"`

	// Servers is the detailed array form, for upstreams that need activation
	// policy, idle policy, tool filtering, tags, or naming overrides that the
	// compact form can't express.
	Servers []ServerSpec `json:"servers,omitempty" validate:"omitempty,dive"`

	ToolNaming  ToolNamingConfig  `json:"toolNaming,omitempty"`
	Session     SessionConfig     `json:"session,omitempty"`
	Timeouts    TimeoutsConfig    `json:"timeouts,omitempty"`
	Concurrency ConcurrencyConfig `json:"concurrency,omitempty"`
	Security    SecurityConfig    `json:"security,omitempty"`
}

// HTTPConfig configures the inbound Streamable HTTP transport listener.
type HTTPConfig struct {
	Port int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Host string `json:"host,omitempty" validate:"omitempty,hostname|ip"`
}

// MCPServerEntry is one entry of the compact mcpServers map. Either Command
// (a local process) or URL (a remote server) is set, never both.
type MCPServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	URL     string            `json:"url,omitempty" validate:"omitempty,url"`
	Headers map[string]string `json:"headers,omitempty"`
	Auth    map[string]string `json:"auth,omitempty"`

	// Type selects the wire transport for a URL entry. Defaults to
	// streamable-http when URL is set. Ignored for Command entries (always
	// stdio).
	Type string `json:"type,omitempty" validate:"omitempty,oneof=http sse streamable-http"`

	Tags     []string `json:"tags,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// ServerSpec is the detailed array form of one upstream, a JSON-serializable
// mirror of upstream.Spec.
type ServerSpec struct {
	ID   string `json:"id" validate:"required,upstream_id"`
	Kind string `json:"kind" validate:"required,oneof=stdio http sse streamable-http"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	URL     string            `json:"url,omitempty" validate:"omitempty,url"`
	Headers map[string]string `json:"headers,omitempty"`
	Auth    map[string]string `json:"auth,omitempty"`

	ActivationPolicy string           `json:"activationPolicy,omitempty" validate:"omitempty,oneof=always onDemand manual"`
	IdlePolicy       IdlePolicyConfig `json:"idlePolicy,omitempty"`

	Tools ToolFilterConfig `json:"tools,omitempty"`

	Tags     []string `json:"tags,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`

	NamingStrategy  string `json:"namingStrategy,omitempty" validate:"omitempty,oneof=namespace alias error"`
	NamingSeparator string `json:"namingSeparator,omitempty"`
}

// IdlePolicyConfig mirrors upstream.IdlePolicy.
type IdlePolicyConfig struct {
	IdleMs   int64  `json:"idleMs,omitempty" validate:"omitempty,min=0"`
	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=shutdown keepWarm"`
}

// ToolFilterConfig mirrors upstream.ToolFilter.
type ToolFilterConfig struct {
	Include []string          `json:"include,omitempty"`
	Exclude []string          `json:"exclude,omitempty"`
	Prefix  string            `json:"prefix,omitempty"`
	Aliases map[string]string `json:"aliases,omitempty"`
}

// ToolNamingConfig sets the hub-wide default naming strategy; individual
// ServerSpec entries may override Strategy/Separator.
type ToolNamingConfig struct {
	Strategy  string            `json:"strategy,omitempty" validate:"omitempty,oneof=namespace alias error"`
	Separator string            `json:"separator,omitempty"`
	Format    string            `json:"format,omitempty"`
	Aliases   map[string]string `json:"aliases,omitempty"`
}

// SessionConfig configures the hub's inbound session registry.
type SessionConfig struct {
	TTLSeconds int64  `json:"ttlSeconds,omitempty" validate:"omitempty,min=1"`
	Persist    bool   `json:"persist,omitempty"`
	Store      string `json:"store,omitempty" validate:"omitempty,oneof=memory file"`
}

// TimeoutsConfig sets the hub's operation deadlines, in milliseconds.
type TimeoutsConfig struct {
	SpawnMs       int64 `json:"spawnMs,omitempty" validate:"omitempty,min=1"`
	HealthcheckMs int64 `json:"healthcheckMs,omitempty" validate:"omitempty,min=1"`
	ToolCallMs    int64 `json:"toolCallMs,omitempty" validate:"omitempty,min=1"`
}

// ConcurrencyConfig bounds outstanding requests per upstream.
type ConcurrencyConfig struct {
	Global    int            `json:"global,omitempty" validate:"omitempty,min=1"`
	PerServer map[string]int `json:"perServer,omitempty" validate:"omitempty,dive,min=1"`
}

// SecurityConfig configures cross-cutting safety controls.
type SecurityConfig struct {
	// RedactKeys names additional JSON field names the audit sink and logger
	// must mask, on top of its built-in default list.
	RedactKeys []string `json:"redactKeys,omitempty"`

	// AllowNet restricts outbound HTTP/SSE upstreams to these host patterns.
	// An empty list means no restriction.
	AllowNet []string `json:"allowNet,omitempty"`
}

// Defaults per the timeout and concurrency model: 8s spawn, 2s healthcheck,
// 20s tool call, hour-long sessions, concurrency of 8 per upstream unless
// overridden.
const (
	DefaultSpawnMs        = 8000
	DefaultHealthcheckMs  = 2000
	DefaultToolCallMs     = 20000
	DefaultSessionTTLSec  = 3600
	DefaultConcurrency    = 8
	DefaultHTTPPort       = 8080
	DefaultHTTPHost       = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultNamingStrategy = "namespace"
)

// SetDefaults fills in zero-valued fields with the hub's documented
// defaults. Applied after unmarshaling and before validation so required
// fields are satisfied without forcing every file to spell them out.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.Host == "" {
		c.HTTP.Host = DefaultHTTPHost
	}

	if c.ToolNaming.Strategy == "" {
		c.ToolNaming.Strategy = DefaultNamingStrategy
	}
	if c.ToolNaming.Separator == "" {
		c.ToolNaming.Separator = upstream.DefaultSeparator
	}

	if c.Session.TTLSeconds == 0 {
		c.Session.TTLSeconds = DefaultSessionTTLSec
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}

	if c.Timeouts.SpawnMs == 0 {
		c.Timeouts.SpawnMs = DefaultSpawnMs
	}
	if c.Timeouts.HealthcheckMs == 0 {
		c.Timeouts.HealthcheckMs = DefaultHealthcheckMs
	}
	if c.Timeouts.ToolCallMs == 0 {
		c.Timeouts.ToolCallMs = DefaultToolCallMs
	}

	if c.Concurrency.Global == 0 {
		c.Concurrency.Global = DefaultConcurrency
	}
	for i, spec := range c.Servers {
		if spec.ActivationPolicy == "" {
			c.Servers[i].ActivationPolicy = string(upstream.PolicyOnDemand)
		}
	}
}

// ConcurrencyFor returns the configured outstanding-request bound for a
// given upstream id, falling back to the global default.
func (c *Config) ConcurrencyFor(id string) int {
	if n, ok := c.Concurrency.PerServer[id]; ok && n > 0 {
		return n
	}
	if c.Concurrency.Global > 0 {
		return c.Concurrency.Global
	}
	return DefaultConcurrency
}

// ToSpecs converts the compact mcpServers map and the detailed servers array
// into the flat list of upstream.Spec the hub's registry consumes. An id
// appearing in both forms is rejected: each upstream should be configured
// exactly one way.
func (c *Config) ToSpecs() ([]*upstream.Spec, error) {
	specs := make([]*upstream.Spec, 0, len(c.MCPServers)+len(c.Servers))
	seen := make(map[string]struct{}, len(c.MCPServers)+len(c.Servers))

	for id, entry := range c.MCPServers {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("mcpServers: duplicate upstream id %q", id)
		}
		seen[id] = struct{}{}
		specs = append(specs, c.compactToSpec(id, entry))
	}

	for _, s := range c.Servers {
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("servers: duplicate upstream id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		specs = append(specs, c.detailedToSpec(s))
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("upstream %q: %w", spec.ID, err)
		}
	}

	return specs, nil
}

func (c *Config) compactToSpec(id string, e MCPServerEntry) *upstream.Spec {
	spec := &upstream.Spec{
		ID:               id,
		ActivationPolicy: upstream.PolicyOnDemand,
		Tags:             e.Tags,
		Disabled:         e.Disabled,
		NamingStrategy:   upstream.NamingStrategy(c.ToolNaming.Strategy),
		NamingSeparator:  c.ToolNaming.Separator,
	}
	if e.Command != "" {
		spec.Kind = upstream.KindStdio
		spec.Local = &upstream.LocalProcess{
			Command: e.Command,
			Args:    e.Args,
			Env:     e.Env,
			Cwd:     e.Cwd,
		}
		return spec
	}
	kind := upstream.KindStreamableHTTP
	if e.Type != "" {
		kind = upstream.Kind(e.Type)
	}
	spec.Kind = kind
	spec.Remote = &upstream.RemoteServer{
		URL:     e.URL,
		Headers: e.Headers,
		Auth:    e.Auth,
	}
	return spec
}

func (c *Config) detailedToSpec(s ServerSpec) *upstream.Spec {
	spec := &upstream.Spec{
		ID:               s.ID,
		Kind:             upstream.Kind(s.Kind),
		ActivationPolicy: upstream.ActivationPolicy(s.ActivationPolicy),
		IdlePolicy: upstream.IdlePolicy{
			IdleMs:   s.IdlePolicy.IdleMs,
			Strategy: upstream.IdleStrategy(s.IdlePolicy.Strategy),
		},
		Tools: upstream.ToolFilter{
			Include: s.Tools.Include,
			Exclude: s.Tools.Exclude,
			Prefix:  s.Tools.Prefix,
			Aliases: s.Tools.Aliases,
		},
		Tags:            s.Tags,
		Disabled:        s.Disabled,
		NamingStrategy:  upstream.NamingStrategy(s.NamingStrategy),
		NamingSeparator: s.NamingSeparator,
	}
	if spec.NamingStrategy == "" {
		spec.NamingStrategy = upstream.NamingStrategy(c.ToolNaming.Strategy)
	}
	if spec.NamingSeparator == "" {
		spec.NamingSeparator = c.ToolNaming.Separator
	}

	if spec.Kind == upstream.KindStdio {
		spec.Local = &upstream.LocalProcess{
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			Cwd:     s.Cwd,
		}
		return spec
	}
	spec.Remote = &upstream.RemoteServer{
		URL:     s.URL,
		Headers: s.Headers,
		Auth:    s.Auth,
	}
	return spec
}
