// Package hub implements the hub core (component G): the stateless glue
// between an inbound JSON-RPC request and the router, plus the hub's
// init/start/stop lifecycle and notification fan-out to server-push
// transports.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hatago/hatago/internal/domain/registry"
	"github.com/hatago/hatago/internal/domain/upstream"
	"github.com/hatago/hatago/internal/service/activation"
	"github.com/hatago/hatago/internal/service/router"
	"github.com/hatago/hatago/pkg/mcpwire"
)

const protocolVersion = "2025-06-18"

// AuditSink records a lifecycle or request event, per component I. The hub
// core calls it at start/stop and lets the router's caller (the HTTP
// server) call it per request; a nil sink is a silent no-op.
type AuditSink interface {
	Record(ctx context.Context, kind, upstreamID, message string)
}

// Hub wires the capability registry (C), activation manager (E), and
// router (D) together and exposes the single Handle entry point the
// downstream transport (F) or a stdio loop calls into.
type Hub struct {
	logger     *slog.Logger
	registry   *registry.Registry
	activation *activation.Manager
	router     *router.Router
	audit      AuditSink

	clientFactory activation.ClientFactory

	specsMu sync.RWMutex
	specs   map[string]*upstream.Spec

	subsMu sync.Mutex
	subs   map[int]func(sessionID string, msg *mcpwire.Message)
	nextID int

	started bool
}

// Option configures a Hub at construction.
type Option func(*Hub)

// WithAuditSink installs the audit log sink (component I).
func WithAuditSink(sink AuditSink) Option {
	return func(h *Hub) { h.audit = sink }
}

// WithClientFactory overrides how the activation manager builds transport
// clients; tests use this to substitute a fake upstream.
func WithClientFactory(factory activation.ClientFactory) Option {
	return func(h *Hub) { h.clientFactory = factory }
}

// New constructs a Hub. Call Init with the configured upstream specs, then
// Start to begin connecting.
func New(strategy upstream.NamingStrategy, separator string, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	reg := registry.New(strategy, separator)
	h := &Hub{
		logger:   logger,
		registry: reg,
		specs:    make(map[string]*upstream.Spec),
		subs:     make(map[int]func(sessionID string, msg *mcpwire.Message)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.activation = activation.New(reg, h.clientFactory, logger)
	h.activation.SetOnCapabilitiesChanged(h.onCapabilitiesChanged)
	h.router = router.New(reg, h.activation, logger, router.WithProgressPublisher(h.publishProgress))
	h.registerLocals()
	return h
}

// Init installs upstream specs without connecting to any of them, per spec
// §4.G. Disabled upstreams and those excluded by tags are skipped
// entirely — they are never observed by the activation manager.
func (h *Hub) Init(specs []*upstream.Spec, tags []string) error {
	h.specsMu.Lock()
	defer h.specsMu.Unlock()
	for _, spec := range specs {
		if spec.Disabled || !matchesTags(spec.Tags, tags) {
			continue
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("upstream %q: %w", spec.ID, err)
		}
		h.specs[spec.ID] = spec
	}
	return nil
}

func matchesTags(specTags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	want := make(map[string]bool, len(filter))
	for _, t := range filter {
		want[t] = true
	}
	for _, t := range specTags {
		if want[t] {
			return true
		}
	}
	return false
}

// Start activates every `always`-policy upstream and marks the hub ready to
// serve requests. It does not open any listener — that is the caller's
// (component F's) responsibility.
func (h *Hub) Start(ctx context.Context) error {
	h.specsMu.RLock()
	specs := make([]*upstream.Spec, 0, len(h.specs))
	for _, s := range h.specs {
		specs = append(specs, s)
	}
	h.specsMu.RUnlock()

	for _, spec := range specs {
		h.activation.Observe(spec)
	}
	h.activation.StartIdleSweep()
	h.started = true
	if h.audit != nil {
		h.audit.Record(ctx, "hub_start", "", fmt.Sprintf("%d upstreams configured", len(specs)))
	}
	return nil
}

// Stop closes every upstream session and records a hub_stop audit event. It
// does not close the audit sink; the sink's owner does that.
func (h *Hub) Stop(ctx context.Context) error {
	err := h.activation.Close()
	if h.audit != nil {
		h.audit.Record(ctx, "hub_stop", "", "")
	}
	h.started = false
	return err
}

// Handle routes a single JSON-RPC request through the router. The caller
// (a transport adapter) is responsible for deciding whether msg warrants a
// response at all (notifications do not).
func (h *Hub) Handle(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	return h.router.Handle(ctx, msg)
}

// HandleBatch routes each element of a JSON-RPC batch through the router in
// order, per spec §4.G, dropping notifications (which produce no
// response) from the result.
func (h *Hub) HandleBatch(ctx context.Context, msgs []*mcpwire.Message) ([]*mcpwire.Message, error) {
	responses := make([]*mcpwire.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.IsNotification() {
			if _, err := h.router.Handle(ctx, msg); err != nil {
				h.logger.Error("notification handling failed", "method", msg.Method(), "error", err)
			}
			continue
		}
		resp, err := h.router.Handle(ctx, msg)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// Registry exposes the capability registry for callers that need direct
// read access (e.g. the HTTP server's metadata priming).
func (h *Hub) Registry() *registry.Registry { return h.registry }

// Activation exposes the activation manager for callers that read upstream
// states directly (e.g. the HTTP server's health endpoint).
func (h *Hub) Activation() *activation.Manager { return h.activation }

// Router exposes the router so further local or `_internal/*` handlers can
// be registered outside of New.
func (h *Hub) Router() *router.Router { return h.router }

// Subscribe registers fn to receive every server-initiated notification the
// hub emits: list-changed broadcasts (sessionID == "", deliver to every
// session) and progress relays from B scoped to one downstream session
// (sessionID set, per spec §4.F's progress-token routing). Returns an
// unsubscribe function. Used by the HTTP server's GET-SSE stream.
func (h *Hub) Subscribe(fn func(sessionID string, msg *mcpwire.Message)) func() {
	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.subsMu.Unlock()
	return func() {
		h.subsMu.Lock()
		delete(h.subs, id)
		h.subsMu.Unlock()
	}
}

func (h *Hub) publish(sessionID string, msg *mcpwire.Message) {
	h.subsMu.Lock()
	fns := make([]func(string, *mcpwire.Message), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subsMu.Unlock()
	for _, fn := range fns {
		fn(sessionID, msg)
	}
}

// publishProgress is the router's progress publisher (per component D's
// forward, which subscribes to the owning upstream session for the
// duration of a call carrying a progressToken). It hands each
// notifications/progress event to subscribers tagged with the downstream
// session that originated the call, so the HTTP transport can route it to
// that session's stream instead of broadcasting it to everyone.
func (h *Hub) publishProgress(sessionID string, msg *mcpwire.Message) {
	if sessionID == "" {
		return
	}
	h.publish(sessionID, msg)
}

// onCapabilitiesChanged is the activation manager's notify hook: it emits
// the three list-changed notifications spec §4.E's last bullet requires.
func (h *Hub) onCapabilitiesChanged(upstreamID string) {
	for _, method := range []string{
		"notifications/tools/list_changed",
		"notifications/resources/list_changed",
		"notifications/prompts/list_changed",
	} {
		notif, err := mcpwire.NewNotification(method, nil)
		if err != nil {
			h.logger.Error("failed to build list-changed notification", "method", method, "error", err)
			continue
		}
		h.publish("", notif)
	}
}

// registerLocals installs the hub-local method handlers the router
// dispatches directly (spec §6's initialize/ping/shutdown, plus the
// `_internal/*` management surface).
func (h *Hub) registerLocals() {
	h.router.RegisterLocal("initialize", h.handleInitialize)
	h.router.RegisterLocal("ping", h.handlePing)
	h.router.RegisterLocal("shutdown", h.handleShutdown)
	h.router.RegisterLocal("notifications/initialized", h.handleInitialized)
	h.router.RegisterLocal("_internal/status", h.handleInternalStatus)
}

func (h *Hub) handleInitialize(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true},
			"prompts":   map[string]any{"listChanged": true},
		},
		"serverInfo": map[string]any{
			"name":    "hatago",
			"version": "dev",
		},
	}
	return mcpwire.NewResultResponse(msg, result)
}

func (h *Hub) handlePing(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	return mcpwire.NewResultResponse(msg, map[string]any{})
}

func (h *Hub) handleShutdown(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	return mcpwire.NewResultResponse(msg, map[string]any{})
}

func (h *Hub) handleInitialized(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	return mcpwire.NewResultResponse(msg, map[string]any{})
}

// handleInternalStatus reports each observed upstream's runtime state, for
// operational visibility via the `_internal/*` management surface.
func (h *Hub) handleInternalStatus(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	h.specsMu.RLock()
	ids := make([]string, 0, len(h.specs))
	for id := range h.specs {
		ids = append(ids, id)
	}
	h.specsMu.RUnlock()

	type upstreamStatus struct {
		ID     string `json:"id"`
		Actual string `json:"actual"`
		Error  string `json:"error,omitempty"`
	}
	statuses := make([]upstreamStatus, 0, len(ids))
	for _, id := range ids {
		state, ok := h.activation.State(id)
		if !ok {
			continue
		}
		statuses = append(statuses, upstreamStatus{ID: id, Actual: string(state.Actual), Error: state.LastError})
	}
	return mcpwire.NewResultResponse(msg, map[string]any{"upstreams": statuses})
}
