// Package activation implements the activation manager (component E): one
// state machine per upstream id, converging actual state toward desired
// state under the upstream's activation policy, with exponential-backoff
// reconnection and idle shutdown.
package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hatago/hatago/internal/adapter/outbound/transport"
	"github.com/hatago/hatago/internal/domain/hub"
	"github.com/hatago/hatago/internal/domain/registry"
	"github.com/hatago/hatago/internal/domain/upstream"
)

const (
	backoffBase       = time.Second
	backoffCap        = 30 * time.Second
	backoffJitter     = 0.3
	defaultMaxRetries = 10
	idleSweepInterval = 30 * time.Second
	initializeTimeout = 10 * time.Second
	listTimeout       = 10 * time.Second
)

// ClientFactory creates the transport client for a spec. The default is
// transport.NewClient; tests substitute a fake.
type ClientFactory func(spec *upstream.Spec) (*transport.UpstreamSession, error)

// DefaultClientFactory builds a real transport client and wraps it in an
// UpstreamSession.
func DefaultClientFactory(spec *upstream.Spec) (*transport.UpstreamSession, error) {
	client, err := transport.NewClient(spec)
	if err != nil {
		return nil, err
	}
	return transport.NewUpstreamSession(client), nil
}

// connection holds the per-upstream runtime bookkeeping the manager guards
// with its own mutex, mirroring the teacher's upstreamConnection.
type connection struct {
	mu sync.Mutex

	spec  *upstream.Spec
	state *upstream.State

	session *transport.UpstreamSession

	retryCount  int
	cancelRetry context.CancelFunc
	readyWaiter chan struct{} // closed when the connection leaves "starting"
}

// Manager owns one state machine per upstream id.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*connection
	registry    *registry.Registry
	factory     ClientFactory
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	maxRetries int
	closed     bool

	onCapabilitiesChanged func(upstreamID string)
}

// SetOnCapabilitiesChanged installs the callback invoked after an upstream
// successfully registers discovered capabilities (on activation, and on
// every reconnect) — the hub core wires this to its list-changed
// notification fan-out.
func (m *Manager) SetOnCapabilitiesChanged(fn func(upstreamID string)) {
	m.mu.Lock()
	m.onCapabilitiesChanged = fn
	m.mu.Unlock()
}

// New constructs a Manager. reg receives tool/resource/prompt registrations
// on every successful activation.
func New(reg *registry.Registry, factory ClientFactory, logger *slog.Logger) *Manager {
	if factory == nil {
		factory = DefaultClientFactory
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connections: make(map[string]*connection),
		registry:    reg,
		factory:     factory,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		maxRetries:  defaultMaxRetries,
	}
}

// StartIdleSweep launches the 30 s idle-shutdown sweep (spec §4.E).
func (m *Manager) StartIdleSweep() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(idleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.sweepIdle()
			}
		}
	}()
}

// Observe registers a spec with the manager, creating its state machine.
// Upstreams with PolicyAlways converge to ready immediately.
func (m *Manager) Observe(spec *upstream.Spec) {
	m.mu.Lock()
	conn, exists := m.connections[spec.ID]
	if !exists {
		conn = &connection{spec: spec, state: upstream.NewState(spec.ID)}
		m.connections[spec.ID] = conn
	} else {
		conn.mu.Lock()
		conn.spec = spec
		conn.mu.Unlock()
	}
	m.mu.Unlock()

	if spec.Disabled {
		return
	}
	if spec.ActivationPolicy == upstream.PolicyAlways {
		conn.mu.Lock()
		conn.state.Desired = upstream.DesiredRunning
		conn.mu.Unlock()
		m.startConnection(conn)
	}
}

// Trigger is an activation cause from the router: a tool call, a resource
// read, hub startup, or an explicit manual activation request.
type Trigger struct {
	Type     string // "tool_call", "resource_read", "startup", "manual"
	ToolName string
}

// Activate ensures upstreamID is converging toward ready, starting it if its
// policy allows activation on trig and it isn't already starting/ready. It
// blocks until the upstream becomes ready, fails, or ctx is done.
func (m *Manager) Activate(ctx context.Context, upstreamID string, trig Trigger) error {
	m.mu.RLock()
	conn, ok := m.connections[upstreamID]
	m.mu.RUnlock()
	if !ok {
		return hub.Newf(hub.KindConfigError, "unknown upstream %q", upstreamID)
	}

	conn.mu.Lock()
	policy := conn.spec.ActivationPolicy
	actual := conn.state.Actual
	if actual == upstream.ActualReady {
		conn.state.Activations++
		conn.state.LastActivityAt = time.Now()
		conn.mu.Unlock()
		return nil
	}
	if policy == upstream.PolicyManual && trig.Type != "manual" {
		conn.mu.Unlock()
		return hub.Newf(hub.KindUnsupportedFeature, "upstream %q requires manual activation", upstreamID)
	}
	var waiter chan struct{}
	starting := actual == upstream.ActualStarting
	if starting {
		waiter = conn.readyWaiter
	}
	conn.state.Desired = upstream.DesiredRunning
	conn.mu.Unlock()

	if !starting {
		m.startConnection(conn)
		conn.mu.Lock()
		waiter = conn.readyWaiter
		conn.mu.Unlock()
	}

	if waiter == nil {
		return m.checkReady(conn)
	}
	select {
	case <-waiter:
		return m.checkReady(conn)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) checkReady(conn *connection) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state.Actual != upstream.ActualReady {
		return hub.Newf(hub.KindTransport, "upstream %q failed to activate: %s", conn.spec.ID, conn.state.LastError)
	}
	conn.state.Activations++
	conn.state.LastActivityAt = time.Now()
	return nil
}

// Deactivate marks activity ended for idle-shutdown accounting.
func (m *Manager) Deactivate(upstreamID string) {
	m.mu.RLock()
	conn, ok := m.connections[upstreamID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.state.LastActivityAt = time.Now()
	conn.mu.Unlock()
}

// Session returns the live UpstreamSession for a ready upstream.
func (m *Manager) Session(upstreamID string) (*transport.UpstreamSession, error) {
	m.mu.RLock()
	conn, ok := m.connections[upstreamID]
	m.mu.RUnlock()
	if !ok {
		return nil, hub.Newf(hub.KindConfigError, "unknown upstream %q", upstreamID)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state.Actual != upstream.ActualReady || conn.session == nil {
		return nil, hub.ErrUpstreamNotReady
	}
	return conn.session, nil
}

// State returns a snapshot of an upstream's runtime state.
func (m *Manager) State(upstreamID string) (upstream.State, bool) {
	m.mu.RLock()
	conn, ok := m.connections[upstreamID]
	m.mu.RUnlock()
	if !ok {
		return upstream.State{}, false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return *conn.state, true
}

// States returns a snapshot of every observed upstream's runtime state, for
// operational surfaces like the health endpoint and `_internal/status`.
func (m *Manager) States() []upstream.State {
	m.mu.RLock()
	conns := make([]*connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	states := make([]upstream.State, 0, len(conns))
	for _, conn := range conns {
		conn.mu.Lock()
		states = append(states, *conn.state)
		conn.mu.Unlock()
	}
	return states
}

// Stop converges upstreamID to stopped, cancelling any pending retry.
func (m *Manager) Stop(upstreamID string) error {
	m.mu.RLock()
	conn, ok := m.connections[upstreamID]
	m.mu.RUnlock()
	if !ok {
		return hub.Newf(hub.KindConfigError, "unknown upstream %q", upstreamID)
	}
	m.stopConnection(conn, upstream.DesiredStopped)
	return nil
}

// Remove stops and forgets an upstream entirely (called on config removal).
func (m *Manager) Remove(upstreamID string) {
	m.mu.Lock()
	conn, ok := m.connections[upstreamID]
	delete(m.connections, upstreamID)
	m.mu.Unlock()
	if ok {
		m.stopConnection(conn, upstream.DesiredStopped)
		m.registry.UnregisterUpstream(upstreamID)
	}
}

// Close stops every managed upstream and the idle sweep.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*connection)
	m.mu.Unlock()

	for _, c := range conns {
		m.stopConnection(c, upstream.DesiredStopped)
	}
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) startConnection(conn *connection) {
	conn.mu.Lock()
	if conn.state.Actual == upstream.ActualStarting || conn.state.Actual == upstream.ActualReady {
		conn.mu.Unlock()
		return
	}
	conn.state.Actual = upstream.ActualStarting
	conn.readyWaiter = make(chan struct{})
	spec := conn.spec
	conn.mu.Unlock()

	go m.attemptConnect(conn, spec)
}

func (m *Manager) attemptConnect(conn *connection, spec *upstream.Spec) {
	session, err := m.factory(spec)
	if err != nil {
		m.failConnect(conn, fmt.Errorf("create client: %w", err))
		return
	}
	if err := session.Start(m.ctx); err != nil {
		m.failConnect(conn, fmt.Errorf("start transport: %w", err))
		return
	}

	caps, err := m.discover(session)
	if err != nil {
		_ = session.Close()
		m.failConnect(conn, fmt.Errorf("discover capabilities: %w", err))
		return
	}

	if err := m.registry.RegisterUpstream(spec.ID, spec, caps); err != nil {
		_ = session.Close()
		m.failConnect(conn, fmt.Errorf("register capabilities: %w", err))
		return
	}

	conn.mu.Lock()
	conn.session = session
	conn.state.Actual = upstream.ActualReady
	conn.state.LastError = ""
	conn.retryCount = 0
	conn.state.Capabilities = caps
	conn.state.LastActivityAt = time.Now()
	waiter := conn.readyWaiter
	conn.readyWaiter = nil
	conn.mu.Unlock()
	if waiter != nil {
		close(waiter)
	}

	m.logger.Info("upstream ready", "upstream_id", spec.ID)

	m.mu.RLock()
	notify := m.onCapabilitiesChanged
	m.mu.RUnlock()
	if notify != nil {
		notify(spec.ID)
	}

	m.wg.Add(1)
	go m.monitorHealth(conn, session)
}

// discover performs the initialize + tools/resources/prompts listing round
// trip spec §4.E requires on every successful activation.
func (m *Manager) discover(session *transport.UpstreamSession) (upstream.Capabilities, error) {
	var caps upstream.Capabilities

	initResp, err := session.Call(m.ctx, "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "hatago", "version": "dev"},
	}, initializeTimeout)
	if err != nil {
		return caps, err
	}
	var initResult struct {
		ProtocolVersion string         `json:"protocolVersion"`
		ServerInfo      map[string]any `json:"serverInfo"`
	}
	if resp := initResp.Response(); resp != nil && resp.Result != nil {
		_ = json.Unmarshal(resp.Result, &initResult)
	}
	caps.ProtocolVersion = initResult.ProtocolVersion
	caps.ServerInfo = initResult.ServerInfo

	if tools, err := m.listTools(session); err == nil {
		caps.Tools = tools
	}
	if resources, err := m.listResources(session); err == nil {
		caps.Resources = resources
	}
	if prompts, err := m.listPrompts(session); err == nil {
		caps.Prompts = prompts
	}
	return caps, nil
}

func (m *Manager) listTools(session *transport.UpstreamSession) ([]upstream.DiscoveredTool, error) {
	msg, err := session.Call(m.ctx, "tools/list", nil, listTimeout)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if resp := msg.Response(); resp != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, err
		}
	}
	out := make([]upstream.DiscoveredTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, upstream.DiscoveredTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

func (m *Manager) listResources(session *transport.UpstreamSession) ([]upstream.DiscoveredResource, error) {
	msg, err := session.Call(m.ctx, "resources/list", nil, listTimeout)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []struct {
			URI         string `json:"uri"`
			Name        string `json:"name"`
			Description string `json:"description"`
			MIMEType    string `json:"mimeType"`
		} `json:"resources"`
	}
	if resp := msg.Response(); resp != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, err
		}
	}
	out := make([]upstream.DiscoveredResource, 0, len(result.Resources))
	for _, r := range result.Resources {
		out = append(out, upstream.DiscoveredResource{URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType})
	}
	return out, nil
}

func (m *Manager) listPrompts(session *transport.UpstreamSession) ([]upstream.DiscoveredPrompt, error) {
	msg, err := session.Call(m.ctx, "prompts/list", nil, listTimeout)
	if err != nil {
		return nil, err
	}
	var result struct {
		Prompts []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"prompts"`
	}
	if resp := msg.Response(); resp != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, err
		}
	}
	out := make([]upstream.DiscoveredPrompt, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		out = append(out, upstream.DiscoveredPrompt{Name: p.Name, Description: p.Description})
	}
	return out, nil
}

func (m *Manager) failConnect(conn *connection, err error) {
	conn.mu.Lock()
	conn.state.Actual = upstream.ActualFailing
	conn.state.LastError = err.Error()
	waiter := conn.readyWaiter
	conn.readyWaiter = nil
	conn.mu.Unlock()
	if waiter != nil {
		close(waiter)
	}
	m.logger.Error("upstream activation failed", "upstream_id", conn.spec.ID, "error", err)
	m.scheduleRetry(conn)
}

func (m *Manager) scheduleRetry(conn *connection) {
	conn.mu.Lock()
	if conn.state.Desired != upstream.DesiredRunning {
		conn.mu.Unlock()
		return
	}
	if conn.spec.ActivationPolicy != upstream.PolicyAlways {
		conn.state.Actual = upstream.ActualStopped
		conn.mu.Unlock()
		return
	}
	if conn.retryCount >= m.maxRetries {
		conn.state.LastError = fmt.Sprintf("max retries (%d) exceeded", m.maxRetries)
		conn.mu.Unlock()
		m.logger.Error("max retries exceeded", "upstream_id", conn.spec.ID)
		return
	}
	delay := backoffDelay(conn.retryCount)
	conn.retryCount++
	spec := conn.spec
	retryCtx, cancel := context.WithCancel(m.ctx)
	conn.cancelRetry = cancel
	conn.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(delay):
		case <-retryCtx.Done():
			return
		}
		m.mu.RLock()
		_, stillManaged := m.connections[spec.ID]
		m.mu.RUnlock()
		if !stillManaged {
			return
		}
		m.startConnection(conn)
	}()
}

// backoffDelay computes base*2^n capped at backoffCap, plus up to 30% jitter.
func backoffDelay(retryCount int) time.Duration {
	delay := backoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(float64(delay) * backoffJitter)))
	return delay + jitter
}

func (m *Manager) monitorHealth(conn *connection, session *transport.UpstreamSession) {
	defer m.wg.Done()
	_ = session.Wait()

	conn.mu.Lock()
	if conn.session != session {
		conn.mu.Unlock()
		return // replaced by a newer connection attempt
	}
	conn.session = nil
	conn.state.Actual = upstream.ActualStopped
	conn.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}
	m.registry.UnregisterUpstream(conn.spec.ID)
	m.logger.Warn("upstream connection lost", "upstream_id", conn.spec.ID)
	m.scheduleRetry(conn)
}

func (m *Manager) stopConnection(conn *connection, desired upstream.DesiredState) {
	conn.mu.Lock()
	conn.state.Desired = desired
	if conn.cancelRetry != nil {
		conn.cancelRetry()
		conn.cancelRetry = nil
	}
	session := conn.session
	conn.session = nil
	conn.state.Actual = upstream.ActualStopping
	conn.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			m.logger.Error("failed to close upstream session", "upstream_id", conn.spec.ID, "error", err)
		}
	}

	conn.mu.Lock()
	conn.state.Actual = upstream.ActualStopped
	conn.mu.Unlock()
}

func (m *Manager) sweepIdle() {
	m.mu.RLock()
	conns := make([]*connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, conn := range conns {
		conn.mu.Lock()
		eligible := conn.spec.ActivationPolicy == upstream.PolicyOnDemand &&
			conn.spec.IdlePolicy.Strategy == upstream.IdleShutdown &&
			conn.state.Actual == upstream.ActualReady &&
			conn.spec.IdlePolicy.IdleMs > 0 &&
			now.Sub(conn.state.LastActivityAt) >= time.Duration(conn.spec.IdlePolicy.IdleMs)*time.Millisecond
		conn.mu.Unlock()
		if eligible {
			m.stopConnection(conn, upstream.DesiredStopped)
		}
	}
}
