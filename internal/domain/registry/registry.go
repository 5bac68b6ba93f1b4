// Package registry implements the hub's capability registry: the per-hub
// map from public name to (upstream id, original name, descriptor) for
// tools, resources, and prompts, per the request router and capability
// registry subsystem.
package registry

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hatago/hatago/internal/domain/hub"
	"github.com/hatago/hatago/internal/domain/upstream"
)

// maxParseCache bounds the LRU that memoizes parsePublicName lookups, per
// the spec's "bounded LRU cache (<=1000 entries)" requirement.
const maxParseCache = 1000

// ToolEntry is a capability-registry entry for a tool.
type ToolEntry struct {
	PublicName   string
	UpstreamID   string
	OriginalName string
	Descriptor   upstream.DiscoveredTool
}

// ResourceEntry is a capability-registry entry for a resource.
type ResourceEntry struct {
	PublicURI   string
	UpstreamID  string
	OriginalURI string
	Descriptor  upstream.DiscoveredResource
}

// PromptEntry is a capability-registry entry for a prompt.
type PromptEntry struct {
	PublicName   string
	UpstreamID   string
	OriginalName string
	Descriptor   upstream.DiscoveredPrompt
}

type parsedName struct {
	upstreamID   string
	originalName string
}

// Registry is the hub's single capability registry. One instance is shared
// across the whole hub; all operations are synchronous under one mutex, per
// spec §4.C and §5 ("Capability registry (C): one RW mutex").
type Registry struct {
	mu sync.RWMutex

	strategy  upstream.NamingStrategy
	separator string

	tools     map[string]*ToolEntry
	resources map[string]*ResourceEntry
	prompts   map[string]*PromptEntry

	toolsByUpstream     map[string][]string
	resourcesByUpstream map[string][]string
	promptsByUpstream   map[string][]string

	parseCache *lru.Cache[string, parsedName]

	revision int64
}

// New constructs an empty Registry using the given naming strategy and
// separator for generating and parsing public names.
func New(strategy upstream.NamingStrategy, separator string) *Registry {
	cache, err := lru.New[string, parsedName](maxParseCache)
	if err != nil {
		// Only returns an error for a non-positive size, which maxParseCache
		// never is.
		panic(fmt.Sprintf("registry: building parse cache: %v", err))
	}
	return &Registry{
		strategy:            strategy,
		separator:           separator,
		tools:               make(map[string]*ToolEntry),
		resources:           make(map[string]*ResourceEntry),
		prompts:             make(map[string]*PromptEntry),
		toolsByUpstream:     make(map[string][]string),
		resourcesByUpstream: make(map[string][]string),
		promptsByUpstream:   make(map[string][]string),
		parseCache:          cache,
	}
}

// Revision returns the current toolset revision counter. Every mutation
// increments it; callers use changes in this value to decide whether to
// emit a list_changed notification.
func (r *Registry) Revision() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// RegisterUpstream inserts entries for everything one upstream discovered,
// applying the current naming strategy and any per-upstream alias overrides.
// Under the error strategy a colliding name causes registration to fail
// entirely for that upstream (no partial registration), returning a
// *hub.Error with KindConfigError; the caller is responsible for marking the
// upstream as failing.
func (r *Registry) RegisterUpstream(upstreamID string, spec *upstream.Spec, caps upstream.Capabilities) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregisterUpstreamLocked(upstreamID)

	strategy := r.strategy
	if spec.NamingStrategy != "" {
		strategy = spec.NamingStrategy
	}
	sep := r.separator
	if spec.NamingSeparator != "" {
		sep = spec.NamingSeparator
	}

	toolNames := make([]string, 0, len(caps.Tools))
	for _, t := range caps.Tools {
		if !toolIncluded(spec.Tools, t.Name) {
			continue
		}
		public, err := upstream.GeneratePublicName(upstreamID, t.Name, strategy, sep)
		if err != nil {
			r.unregisterUpstreamLocked(upstreamID)
			return hub.Wrap(hub.KindConfigError, upstreamID, err)
		}
		if alias, ok := spec.Tools.Aliases[t.Name]; ok {
			public = alias
		}
		if existing, ok := r.tools[public]; ok && existing.UpstreamID != upstreamID {
			if strategy == upstream.StrategyError {
				r.unregisterUpstreamLocked(upstreamID)
				return hub.Newf(hub.KindConfigError, "tool name %q collides with upstream %q", public, existing.UpstreamID)
			}
		}
		r.tools[public] = &ToolEntry{PublicName: public, UpstreamID: upstreamID, OriginalName: t.Name, Descriptor: t}
		toolNames = append(toolNames, public)
	}
	r.toolsByUpstream[upstreamID] = toolNames

	resourceNames := make([]string, 0, len(caps.Resources))
	for _, res := range caps.Resources {
		public := upstream.GenerateResourceURI(upstreamID, res.URI, sep)
		if existing, ok := r.resources[public]; ok && existing.UpstreamID != upstreamID {
			if strategy == upstream.StrategyError {
				r.unregisterUpstreamLocked(upstreamID)
				return hub.Newf(hub.KindConfigError, "resource uri %q collides with upstream %q", public, existing.UpstreamID)
			}
		}
		r.resources[public] = &ResourceEntry{PublicURI: public, UpstreamID: upstreamID, OriginalURI: res.URI, Descriptor: res}
		resourceNames = append(resourceNames, public)
	}
	r.resourcesByUpstream[upstreamID] = resourceNames

	promptNames := make([]string, 0, len(caps.Prompts))
	for _, p := range caps.Prompts {
		public, err := upstream.GeneratePublicName(upstreamID, p.Name, strategy, sep)
		if err != nil {
			r.unregisterUpstreamLocked(upstreamID)
			return hub.Wrap(hub.KindConfigError, upstreamID, err)
		}
		if existing, ok := r.prompts[public]; ok && existing.UpstreamID != upstreamID {
			if strategy == upstream.StrategyError {
				r.unregisterUpstreamLocked(upstreamID)
				return hub.Newf(hub.KindConfigError, "prompt name %q collides with upstream %q", public, existing.UpstreamID)
			}
		}
		r.prompts[public] = &PromptEntry{PublicName: public, UpstreamID: upstreamID, OriginalName: p.Name, Descriptor: p}
		promptNames = append(promptNames, public)
	}
	r.promptsByUpstream[upstreamID] = promptNames

	r.revision++
	return nil
}

func toolIncluded(filter upstream.ToolFilter, name string) bool {
	if len(filter.Include) > 0 && !matchesAny(filter.Include, name) {
		return false
	}
	if len(filter.Exclude) > 0 && matchesAny(filter.Exclude, name) {
		return false
	}
	return true
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := matchPattern(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// UnregisterUpstream removes every entry contributed by upstreamID.
func (r *Registry) UnregisterUpstream(upstreamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterUpstreamLocked(upstreamID)
	r.revision++
}

func (r *Registry) unregisterUpstreamLocked(upstreamID string) {
	for _, name := range r.toolsByUpstream[upstreamID] {
		delete(r.tools, name)
	}
	delete(r.toolsByUpstream, upstreamID)

	for _, uri := range r.resourcesByUpstream[upstreamID] {
		delete(r.resources, uri)
	}
	delete(r.resourcesByUpstream, upstreamID)

	for _, name := range r.promptsByUpstream[upstreamID] {
		delete(r.prompts, name)
	}
	delete(r.promptsByUpstream, upstreamID)
}

// ResolveTool looks up publicName, first by exact match, then — on miss —
// by parsing it under the active naming strategy and verifying the
// reconstructed name is actually registered (so a syntactically plausible
// but unregistered name never routes anywhere), per spec §4.C resolution
// precedence.
func (r *Registry) ResolveTool(publicName string) (*ToolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.tools[publicName]; ok {
		return entry, true
	}
	parsed, ok := r.parsePublicName(publicName)
	if !ok {
		return nil, false
	}
	entry, ok := r.tools[publicName]
	if !ok {
		return nil, false
	}
	return entry, entry.UpstreamID == parsed.upstreamID
}

// ResolveResource looks up a public resource URI the same way ResolveTool
// resolves a tool name.
func (r *Registry) ResolveResource(publicURI string) (*ResourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.resources[publicURI]
	return entry, ok
}

// ResolvePrompt looks up a public prompt name the same way ResolveTool
// resolves a tool name.
func (r *Registry) ResolvePrompt(publicName string) (*PromptEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.prompts[publicName]; ok {
		return entry, true
	}
	parsed, ok := r.parsePublicName(publicName)
	if !ok {
		return nil, false
	}
	entry, ok := r.prompts[publicName]
	if !ok {
		return nil, false
	}
	return entry, entry.UpstreamID == parsed.upstreamID
}

// parsePublicName inverts the naming strategy, memoizing results in a
// bounded LRU so hot-path routing stays allocation-free. Must be called
// with r.mu held (read lock suffices; the LRU has its own internal lock).
func (r *Registry) parsePublicName(publicName string) (parsedName, bool) {
	if cached, ok := r.parseCache.Get(publicName); ok {
		return cached, true
	}
	upstreamID, originalName, ok := upstream.ParsePublicName(publicName, r.strategy, r.separator)
	if !ok {
		return parsedName{}, false
	}
	result := parsedName{upstreamID: upstreamID, originalName: originalName}
	r.parseCache.Add(publicName, result)
	return result, true
}

// ListAllTools returns every registered tool in deterministic order:
// primary by upstream id, secondary by original name.
func (r *Registry) ListAllTools() []ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolEntry, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, *e)
	}
	sortEntries(out, func(e ToolEntry) (string, string) { return e.UpstreamID, e.OriginalName })
	return out
}

// ListAllResources returns every registered resource in deterministic order.
func (r *Registry) ListAllResources() []ResourceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceEntry, 0, len(r.resources))
	for _, e := range r.resources {
		out = append(out, *e)
	}
	sortEntries(out, func(e ResourceEntry) (string, string) { return e.UpstreamID, e.OriginalURI })
	return out
}

// ListAllPrompts returns every registered prompt in deterministic order.
func (r *Registry) ListAllPrompts() []PromptEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PromptEntry, 0, len(r.prompts))
	for _, e := range r.prompts {
		out = append(out, *e)
	}
	sortEntries(out, func(e PromptEntry) (string, string) { return e.UpstreamID, e.OriginalName })
	return out
}

func sortEntries[T any](entries []T, key func(T) (string, string)) {
	sort.Slice(entries, func(i, j int) bool {
		ui, ni := key(entries[i])
		uj, nj := key(entries[j])
		if ui != uj {
			return ui < uj
		}
		return ni < nj
	})
}
