// Package router implements the request router (component D): parses an
// inbound method, decides between hub-local handling, server-prefixed
// direct addressing, and public-name resolution, then dispatches to the
// owning upstream session or aggregates across all of them.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hatago/hatago/internal/domain/hub"
	"github.com/hatago/hatago/internal/domain/registry"
	"github.com/hatago/hatago/internal/service/activation"
	"github.com/hatago/hatago/pkg/mcpwire"
)

// prefixSeparator is the two-underscore delimiter spec §4.D uses for
// "{upstreamId}__{method}" direct addressing. Distinct from the tool
// public-naming separator, which is configurable per upstream.
const prefixSeparator = "__"

// hubLocalMethods are handled in-process without touching any upstream.
var hubLocalMethods = map[string]bool{
	"initialize":                true,
	"ping":                      true,
	"shutdown":                  true,
	"notifications/initialized": true,
}

// LocalHandler answers a hub-local method. Registered per method name so
// the hub core (component G) can own initialize/ping/shutdown semantics and
// the `_internal/*` management surface without the router importing them.
type LocalHandler func(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error)

// Router dispatches inbound JSON-RPC requests per spec §4.D.
type Router struct {
	registry   *registry.Registry
	activation *activation.Manager
	locals     map[string]LocalHandler
	logger     *slog.Logger

	activationTimeout time.Duration
	toolCallTimeout   time.Duration

	progressPublish func(sessionID string, msg *mcpwire.Message)
}

// Option configures a Router.
type Option func(*Router)

// WithActivationTimeout overrides the default wait for a lazy upstream to
// become ready (spec §4.D: spawnMs + healthcheckMs).
func WithActivationTimeout(d time.Duration) Option {
	return func(r *Router) { r.activationTimeout = d }
}

// WithToolCallTimeout overrides the deadline applied to each forwarded
// upstream call (config's timeouts.toolCallMs, default 20s).
func WithToolCallTimeout(d time.Duration) Option {
	return func(r *Router) { r.toolCallTimeout = d }
}

// WithProgressPublisher installs the callback the router hands each
// notifications/progress event to while a call carrying a progressToken is
// in flight, per spec §4.F. fn receives the downstream session id the
// forwarded request carried, so the caller (the hub core) can route the
// notification to that session's stream rather than broadcasting it.
func WithProgressPublisher(fn func(sessionID string, msg *mcpwire.Message)) Option {
	return func(r *Router) { r.progressPublish = fn }
}

// New constructs a Router.
func New(reg *registry.Registry, act *activation.Manager, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry:          reg,
		activation:        act,
		locals:            make(map[string]LocalHandler),
		logger:            logger,
		activationTimeout: 30 * time.Second,
		toolCallTimeout:   20 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterLocal installs the handler for a hub-local or `_internal/*`
// method. Calling it for a method name not in hubLocalMethods also makes
// that method hub-local, so the management surface (component G) can
// extend the set without the router hardcoding it.
func (r *Router) RegisterLocal(method string, handler LocalHandler) {
	r.locals[method] = handler
}

func (r *Router) isHubLocal(method string) bool {
	if hubLocalMethods[method] {
		return true
	}
	if _, ok := r.locals[method]; ok {
		return true
	}
	if strings.HasPrefix(method, "_internal/") {
		return true
	}
	return false
}

// Handle routes a single JSON-RPC message and returns its response. Safe
// for concurrent callers; per-upstream serialization happens in the
// activation manager and upstream session beneath it.
func (r *Router) Handle(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
	if !msg.IsRequest() {
		return nil, fmt.Errorf("router: message is not a request")
	}
	method := msg.Method()

	if r.isHubLocal(method) {
		if handler, ok := r.locals[method]; ok {
			return handler(ctx, msg)
		}
		return mcpwire.NewErrorResponse(msg, hub.KindUnsupportedFeature.JSONRPCCode(), fmt.Sprintf("no local handler registered for %q", method)), nil
	}

	if upstreamID, rest, ok := strings.Cut(method, prefixSeparator); ok {
		return r.handlePrefixed(ctx, msg, upstreamID, rest)
	}

	switch method {
	case "tools/list":
		return r.handleListTools(msg)
	case "resources/list":
		return r.handleListResources(msg)
	case "prompts/list":
		return r.handleListPrompts(msg)
	case "tools/call":
		return r.handleToolCall(ctx, msg, "")
	case "resources/read":
		return r.handleResourceRead(ctx, msg, "")
	case "prompts/get":
		return r.handlePromptGet(ctx, msg, "")
	default:
		return mcpwire.NewErrorResponse(msg, -32601, fmt.Sprintf("method not found: %s", method)), nil
	}
}

// handlePrefixed dispatches a "{upstreamId}__{method}" addressed request.
// tools/call, resources/read, and prompts/get still resolve the public
// name carried in params, but the lookup is constrained to upstreamID so a
// caller can disambiguate a collided name. Any other method forwards
// verbatim to that upstream's session.
func (r *Router) handlePrefixed(ctx context.Context, msg *mcpwire.Message, upstreamID, method string) (*mcpwire.Message, error) {
	switch method {
	case "tools/call":
		return r.handleToolCall(ctx, msg, upstreamID)
	case "resources/read":
		return r.handleResourceRead(ctx, msg, upstreamID)
	case "prompts/get":
		return r.handlePromptGet(ctx, msg, upstreamID)
	default:
		return r.forward(ctx, upstreamID, method, msg, activation.Trigger{Type: "manual"})
	}
}

func (r *Router) handleListTools(msg *mcpwire.Message) (*mcpwire.Message, error) {
	entries := r.registry.ListAllTools()
	tools := make([]toolEntry, 0, len(entries))
	for _, e := range entries {
		tools = append(tools, toolEntry{
			Name:        e.PublicName,
			Description: e.Descriptor.Description,
			InputSchema: e.Descriptor.InputSchema,
		})
	}
	return mcpwire.NewResultResponse(msg, toolsListResult{Tools: tools})
}

func (r *Router) handleListResources(msg *mcpwire.Message) (*mcpwire.Message, error) {
	entries := r.registry.ListAllResources()
	resources := make([]resourceEntry, 0, len(entries))
	for _, e := range entries {
		resources = append(resources, resourceEntry{
			URI:         e.PublicURI,
			Name:        e.Descriptor.Name,
			Description: e.Descriptor.Description,
			MIMEType:    e.Descriptor.MIMEType,
		})
	}
	return mcpwire.NewResultResponse(msg, resourcesListResult{Resources: resources})
}

func (r *Router) handleListPrompts(msg *mcpwire.Message) (*mcpwire.Message, error) {
	entries := r.registry.ListAllPrompts()
	prompts := make([]promptEntry, 0, len(entries))
	for _, e := range entries {
		prompts = append(prompts, promptEntry{
			Name:        e.PublicName,
			Description: e.Descriptor.Description,
		})
	}
	return mcpwire.NewResultResponse(msg, promptsListResult{Prompts: prompts})
}

func (r *Router) handleToolCall(ctx context.Context, msg *mcpwire.Message, scopeUpstream string) (*mcpwire.Message, error) {
	params := msg.ParseParams()
	name, _ := params["name"].(string)
	if name == "" {
		return mcpwire.NewErrorResponse(msg, hub.KindToolNotFound.JSONRPCCode(), "tools/call missing \"name\""), nil
	}

	entry, ok := r.registry.ResolveTool(name)
	if !ok || (scopeUpstream != "" && entry.UpstreamID != scopeUpstream) {
		return mcpwire.NewErrorResponse(msg, hub.KindToolNotFound.JSONRPCCode(), fmt.Sprintf("tool not found: %s", name)), nil
	}

	forwardParams := cloneParams(params)
	forwardParams["name"] = entry.OriginalName
	return r.forward(ctx, entry.UpstreamID, "tools/call", msgWithParams(msg, forwardParams), activation.Trigger{Type: "tool_call", ToolName: entry.OriginalName})
}

func (r *Router) handleResourceRead(ctx context.Context, msg *mcpwire.Message, scopeUpstream string) (*mcpwire.Message, error) {
	params := msg.ParseParams()
	uri, _ := params["uri"].(string)
	if uri == "" {
		return mcpwire.NewErrorResponse(msg, hub.KindResourceNotFound.JSONRPCCode(), "resources/read missing \"uri\""), nil
	}

	entry, ok := r.registry.ResolveResource(uri)
	if !ok || (scopeUpstream != "" && entry.UpstreamID != scopeUpstream) {
		return mcpwire.NewErrorResponse(msg, hub.KindResourceNotFound.JSONRPCCode(), fmt.Sprintf("resource not found: %s", uri)), nil
	}

	forwardParams := cloneParams(params)
	forwardParams["uri"] = entry.OriginalURI
	return r.forward(ctx, entry.UpstreamID, "resources/read", msgWithParams(msg, forwardParams), activation.Trigger{Type: "resource_read"})
}

func (r *Router) handlePromptGet(ctx context.Context, msg *mcpwire.Message, scopeUpstream string) (*mcpwire.Message, error) {
	params := msg.ParseParams()
	name, _ := params["name"].(string)
	if name == "" {
		return mcpwire.NewErrorResponse(msg, hub.KindPromptNotFound.JSONRPCCode(), "prompts/get missing \"name\""), nil
	}

	entry, ok := r.registry.ResolvePrompt(name)
	if !ok || (scopeUpstream != "" && entry.UpstreamID != scopeUpstream) {
		return mcpwire.NewErrorResponse(msg, hub.KindPromptNotFound.JSONRPCCode(), fmt.Sprintf("prompt not found: %s", name)), nil
	}

	forwardParams := cloneParams(params)
	forwardParams["name"] = entry.OriginalName
	return r.forward(ctx, entry.UpstreamID, "prompts/get", msgWithParams(msg, forwardParams), activation.Trigger{Type: "manual"})
}

// forward activates upstreamID if needed and issues method/params over its
// live session, translating the upstream's raw JSON-RPC response into a
// Message carrying the downstream's original request id.
func (r *Router) forward(ctx context.Context, upstreamID, method string, msg *mcpwire.Message, trig activation.Trigger) (*mcpwire.Message, error) {
	activateCtx, cancel := context.WithTimeout(ctx, r.activationTimeout)
	defer cancel()
	if err := r.activation.Activate(activateCtx, upstreamID, trig); err != nil {
		return mcpwire.NewErrorResponse(msg, hub.KindOf(err).JSONRPCCode(), err.Error()), nil
	}

	session, err := r.activation.Session(upstreamID)
	if err != nil {
		return mcpwire.NewErrorResponse(msg, hub.KindOf(err).JSONRPCCode(), err.Error()), nil
	}

	parsed := msg.ParseParams()
	var params any
	if parsed != nil {
		params = parsed
	}

	if token := msg.ProgressToken; token != "" && r.progressPublish != nil {
		sessionID := msg.SessionID
		session.SubscribeProgress(token, func(notif *mcpwire.Message) {
			r.progressPublish(sessionID, notif)
		})
		defer session.UnsubscribeProgress(token)
	}

	upstreamResp, err := session.Call(ctx, method, params, r.toolCallTimeout)
	r.activation.Deactivate(upstreamID)
	if err != nil {
		return mcpwire.NewErrorResponse(msg, hub.KindOf(err).JSONRPCCode(), err.Error()), nil
	}

	resp := upstreamResp.Response()
	if resp == nil {
		return mcpwire.NewErrorResponse(msg, hub.KindInternal.JSONRPCCode(), "upstream returned a non-response message"), nil
	}
	if resp.Error != nil {
		return mcpwire.NewErrorResponse(msg, hub.KindToolInvocation.JSONRPCCode(), resp.Error.Message), nil
	}
	return mcpwire.NewResultResponse(msg, json.RawMessage(resp.Result))
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// msgWithParams re-encodes msg's request with params replacing the
// original, preserving method and id. Used so forward() always sees a
// Message whose decoded request carries the rewritten public→original
// name, without the router hand-building JSON-RPC request bytes inline.
func msgWithParams(msg *mcpwire.Message, params map[string]any) *mcpwire.Message {
	req := msg.Request()
	if req == nil {
		return msg
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return msg
	}
	raw, err := json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}{JSONRPC: "2.0", ID: msg.RawID(), Method: req.Method, Params: paramsJSON})
	if err != nil {
		return msg
	}
	return mcpwire.Wrap(raw, msg.Direction, msg.SessionID)
}

type toolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type toolsListResult struct {
	Tools []toolEntry `json:"tools"`
}

type resourceEntry struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

type resourcesListResult struct {
	Resources []resourceEntry `json:"resources"`
}

type promptEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type promptsListResult struct {
	Prompts []promptEntry `json:"prompts"`
}
