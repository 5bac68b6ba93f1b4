// Package upstream contains the domain types describing a configured
// upstream MCP server and its runtime state.
package upstream

import (
	"fmt"
	"regexp"
	"time"
)

// Kind identifies the wire transport an upstream speaks.
type Kind string

const (
	// KindStdio is a local child process speaking newline-delimited JSON
	// over stdin/stdout.
	KindStdio Kind = "stdio"
	// KindHTTP is a remote server speaking plain request/response HTTP.
	KindHTTP Kind = "http"
	// KindSSE is a remote server speaking a GET event stream with a
	// companion POST sender.
	KindSSE Kind = "sse"
	// KindStreamableHTTP is a remote server speaking the same GET/POST/DELETE
	// shape the hub itself exposes downstream.
	KindStreamableHTTP Kind = "streamable-http"
)

// ActivationPolicy decides when an upstream should be running.
type ActivationPolicy string

const (
	// PolicyAlways converges the upstream to ready at hub startup and keeps
	// reconnecting on unexpected exit.
	PolicyAlways ActivationPolicy = "always"
	// PolicyOnDemand starts the upstream on first triggering use and shuts
	// it down after an idle period if IdlePolicy.Strategy is shutdown.
	PolicyOnDemand ActivationPolicy = "onDemand"
	// PolicyManual never starts the upstream except via an explicit
	// activation call.
	PolicyManual ActivationPolicy = "manual"
)

// IdleStrategy decides what happens to an onDemand upstream after it has
// been idle for IdlePolicy.IdleMs.
type IdleStrategy string

const (
	// IdleShutdown stops the upstream once it has been idle.
	IdleShutdown IdleStrategy = "shutdown"
	// IdleKeepWarm leaves a connected upstream running indefinitely.
	IdleKeepWarm IdleStrategy = "keepWarm"
)

// NamingStrategy controls how an upstream's tool/prompt names are mapped
// into the hub's flat public namespace.
type NamingStrategy string

const (
	// StrategyNamespace appends the upstream id as a suffix: "name_upstream".
	StrategyNamespace NamingStrategy = "namespace"
	// StrategyAlias prepends the upstream id as a prefix: "upstream_name".
	StrategyAlias NamingStrategy = "alias"
	// StrategyError performs no renaming; colliding names are rejected.
	StrategyError NamingStrategy = "error"
)

const (
	idMaxLength   = 100
	nameMaxLength = 200
	// DefaultSeparator joins upstream id and original name under the
	// namespace/alias strategies.
	DefaultSeparator = "_"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// IdlePolicy governs onDemand shutdown of an otherwise-idle upstream.
type IdlePolicy struct {
	IdleMs   int64
	Strategy IdleStrategy
}

// ToolFilter narrows and renames the tools an upstream contributes to the
// hub's capability registry.
type ToolFilter struct {
	Include []string
	Exclude []string
	Prefix  string
	Aliases map[string]string
}

// LocalProcess describes a child-process upstream (Kind == KindStdio).
type LocalProcess struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// RemoteServer describes a network upstream (Kind != KindStdio).
type RemoteServer struct {
	URL     string
	Headers map[string]string
	Auth    map[string]string
}

// Spec is the immutable description of one configured upstream. Exactly one
// of Local or Remote is populated, matching Kind.
type Spec struct {
	ID   string
	Kind Kind

	Local  *LocalProcess
	Remote *RemoteServer

	ActivationPolicy ActivationPolicy
	IdlePolicy       IdlePolicy

	Tools ToolFilter

	Tags     []string
	Disabled bool

	NamingStrategy  NamingStrategy
	NamingSeparator string
}

// Validate checks the structural invariants of a Spec: exactly one
// transport populated, id well-formed, enums recognized.
func (s *Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(s.ID) > idMaxLength {
		return fmt.Errorf("id must be %d characters or less", idMaxLength)
	}
	if !idPattern.MatchString(s.ID) {
		return fmt.Errorf("id contains invalid characters (allowed: alphanumeric, dot, hyphen, underscore)")
	}

	hasLocal := s.Local != nil
	hasRemote := s.Remote != nil
	if hasLocal == hasRemote {
		return fmt.Errorf("exactly one of local or remote transport must be set")
	}

	switch s.Kind {
	case KindStdio:
		if !hasLocal {
			return fmt.Errorf("kind %q requires a local process", s.Kind)
		}
		if s.Local.Command == "" {
			return fmt.Errorf("command is required for stdio upstream")
		}
	case KindHTTP, KindSSE, KindStreamableHTTP:
		if !hasRemote {
			return fmt.Errorf("kind %q requires a remote server", s.Kind)
		}
		if s.Remote.URL == "" {
			return fmt.Errorf("url is required for %q upstream", s.Kind)
		}
	default:
		return fmt.Errorf("unrecognized kind %q", s.Kind)
	}

	switch s.ActivationPolicy {
	case PolicyAlways, PolicyOnDemand, PolicyManual, "":
	default:
		return fmt.Errorf("unrecognized activationPolicy %q", s.ActivationPolicy)
	}

	switch s.NamingStrategy {
	case StrategyNamespace, StrategyAlias, StrategyError, "":
	default:
		return fmt.Errorf("unrecognized naming strategy %q", s.NamingStrategy)
	}

	for original, alias := range s.Tools.Aliases {
		if len(alias) > nameMaxLength {
			return fmt.Errorf("alias for %q exceeds %d characters", original, nameMaxLength)
		}
	}

	return nil
}

// Separator returns the configured naming separator, falling back to the
// package default when unset.
func (s *Spec) Separator() string {
	if s.NamingSeparator == "" {
		return DefaultSeparator
	}
	return s.NamingSeparator
}

// MatchesTags reports whether the spec satisfies a tag filter. An empty
// filter matches everything; otherwise the spec must carry at least one of
// the requested tags.
func (s *Spec) MatchesTags(filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	want := make(map[string]struct{}, len(filter))
	for _, t := range filter {
		want[t] = struct{}{}
	}
	for _, t := range s.Tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}

// ActualState is the runtime lifecycle state of an upstream connection.
type ActualState string

const (
	ActualStopped  ActualState = "stopped"
	ActualStarting ActualState = "starting"
	ActualReady    ActualState = "ready"
	ActualFailing  ActualState = "failing"
	ActualStopping ActualState = "stopping"
)

// DesiredState is the state the activation manager is trying to converge
// the upstream toward.
type DesiredState string

const (
	DesiredStopped DesiredState = "stopped"
	DesiredRunning DesiredState = "running"
)

// Capabilities caches what an upstream advertised on its last successful
// initialize + listing round trip.
type Capabilities struct {
	Tools           []DiscoveredTool
	Resources       []DiscoveredResource
	Prompts         []DiscoveredPrompt
	ServerInfo      map[string]any
	ProtocolVersion string
}

// DiscoveredTool is one tool as reported by an upstream's tools/list.
type DiscoveredTool struct {
	Name        string
	Description string
	InputSchema []byte
}

// DiscoveredResource is one resource as reported by resources/list.
type DiscoveredResource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
}

// DiscoveredPrompt is one prompt as reported by prompts/list.
type DiscoveredPrompt struct {
	Name        string
	Description string
}

// State is the mutable runtime record tracked for each Spec, one per id,
// owned by the activation manager.
type State struct {
	ID string

	Desired DesiredState
	Actual  ActualState

	LastError  string
	RetryAfter time.Time

	Activations    int64
	LastActivityAt time.Time

	Capabilities Capabilities
}

// NewState returns the zero-value runtime state for a freshly observed spec.
func NewState(id string) *State {
	return &State{
		ID:      id,
		Desired: DesiredStopped,
		Actual:  ActualStopped,
	}
}
