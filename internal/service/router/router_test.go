package router

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hatago/hatago/internal/adapter/outbound/transport"
	"github.com/hatago/hatago/internal/domain/registry"
	"github.com/hatago/hatago/internal/domain/upstream"
	"github.com/hatago/hatago/internal/service/activation"
	"github.com/hatago/hatago/pkg/mcpwire"
)

// fakeUpstream is a canned JSON-RPC responder wired through in-memory
// pipes, standing in for a real subprocess upstream across the activation
// manager and router.
type fakeUpstream struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser

	serverIn  io.ReadCloser
	serverOut io.WriteCloser
}

func newFakeUpstream() *fakeUpstream {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	return &fakeUpstream{stdin: outW, stdout: inR, serverIn: outR, serverOut: inW}
}

func (f *fakeUpstream) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	return f.stdin, f.stdout, nil
}
func (f *fakeUpstream) Wait() error { return nil }
func (f *fakeUpstream) Close() error {
	_ = f.stdin.Close()
	_ = f.serverOut.Close()
	return f.stdout.Close()
}

func (f *fakeUpstream) serve(t *testing.T) {
	scanner := bufio.NewScanner(f.serverIn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params map[string]any  `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		var result string
		switch req.Method {
		case "initialize":
			result = `{"protocolVersion":"2025-06-18","serverInfo":{"name":"fake"}}`
		case "tools/list":
			result = `{"tools":[{"name":"search","description":"search things"}]}`
		case "resources/list":
			result = `{"resources":[{"uri":"file:///a","name":"a"}]}`
		case "prompts/list":
			result = `{"prompts":[{"name":"greet"}]}`
		case "tools/call":
			name, _ := req.Params["name"].(string)
			if meta, ok := req.Params["_meta"].(map[string]any); ok {
				if tok, ok := meta["progressToken"].(string); ok {
					notif := []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":"` + tok + `","progress":1}}` + "\n")
					_, _ = f.serverOut.Write(notif)
				}
			}
			result = `{"content":[{"type":"text","text":"called ` + name + `"}]}`
		default:
			result = `{}`
		}
		resp := []byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + "}\n")
		if _, err := f.serverOut.Write(resp); err != nil {
			return
		}
	}
}

func newTestRouter(t *testing.T, opts ...Option) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New(upstream.StrategyNamespace, "_")
	factory := func(spec *upstream.Spec) (*transport.UpstreamSession, error) {
		fu := newFakeUpstream()
		go fu.serve(t)
		return transport.NewUpstreamSession(fu), nil
	}
	mgr := activation.New(reg, factory, slog.Default())
	t.Cleanup(func() { _ = mgr.Close() })

	spec := &upstream.Spec{ID: "weather", Kind: upstream.KindStdio, Local: &upstream.LocalProcess{Command: "fake"}, ActivationPolicy: upstream.PolicyAlways}
	mgr.Observe(spec)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := mgr.State("weather"); ok && state.Actual == upstream.ActualReady {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	allOpts := append([]Option{WithActivationTimeout(2 * time.Second)}, opts...)
	r := New(reg, mgr, slog.Default(), allOpts...)
	return r, reg
}

// decodedResponse is the minimal JSON-RPC response shape the tests inspect.
// mcpwire.NewErrorResponse/NewResultResponse build raw bytes without
// populating Message.Decoded, so assertions decode Raw directly rather than
// calling Message.Response() (which only works for messages that went
// through mcpwire.Wrap, such as an upstream's own replies).
type decodedResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeResponse(t *testing.T, msg *mcpwire.Message) decodedResponse {
	t.Helper()
	var dr decodedResponse
	if err := json.Unmarshal(msg.Raw, &dr); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, msg.Raw)
	}
	return dr
}

func requestMsg(t *testing.T, id int, method string, params any) *mcpwire.Message {
	t.Helper()
	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return mcpwire.Wrap(raw, mcpwire.ClientToServer, "")
}

func TestRouterToolCallResolvesAndForwards(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Prime the registry by listing tools once, which activates "weather".
	if _, err := r.Handle(ctx, requestMsg(t, 1, "tools/list", map[string]any{})); err != nil {
		t.Fatalf("tools/list error: %v", err)
	}

	resp, err := r.Handle(ctx, requestMsg(t, 2, "tools/call", map[string]any{"name": "search_weather", "arguments": map[string]any{}}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	jr := decodeResponse(t, resp)
	if jr.Error != nil {
		t.Fatalf("response = %+v, want success", jr)
	}
}

func TestRouterToolCallUnknownNameReturnsNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := r.Handle(ctx, requestMsg(t, 1, "tools/call", map[string]any{"name": "nonexistent"}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	jr := decodeResponse(t, resp)
	if jr.Error == nil {
		t.Fatalf("response = %+v, want TOOL_NOT_FOUND error", jr)
	}
}

func TestRouterUnknownTopLevelMethod(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := r.Handle(ctx, requestMsg(t, 1, "bogus/method", nil))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	jr := decodeResponse(t, resp)
	if jr.Error == nil || jr.Error.Code != -32601 {
		t.Fatalf("response = %+v, want -32601", jr)
	}
}

func TestRouterHubLocalInitialize(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterLocal("initialize", func(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error) {
		return mcpwire.NewResultResponse(msg, map[string]any{"protocolVersion": "2025-06-18"})
	})

	resp, err := r.Handle(context.Background(), requestMsg(t, 1, "initialize", map[string]any{}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if jr := decodeResponse(t, resp); jr.Error != nil {
		t.Fatalf("response = %+v, want success", jr)
	}
}

func TestRouterPrefixedDirectAddressing(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := r.Handle(ctx, requestMsg(t, 1, "weather__ping", map[string]any{}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if jr := decodeResponse(t, resp); jr.Error != nil {
		t.Fatalf("response = %+v, want success", jr)
	}
}

func TestRouterForwardRoutesProgressNotificationsByToken(t *testing.T) {
	type event struct {
		sessionID string
		msg       *mcpwire.Message
	}
	events := make(chan event, 8)
	r, _ := newTestRouter(t, WithProgressPublisher(func(sessionID string, msg *mcpwire.Message) {
		events <- event{sessionID, msg}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := r.Handle(ctx, requestMsg(t, 1, "tools/list", map[string]any{})); err != nil {
		t.Fatalf("tools/list error: %v", err)
	}

	req := requestMsg(t, 2, "tools/call", map[string]any{
		"name":      "search_weather",
		"arguments": map[string]any{},
		"_meta":     map[string]any{"progressToken": "tok-1"},
	})
	req.SessionID = "sess-abc"

	resp, err := r.Handle(ctx, req)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if jr := decodeResponse(t, resp); jr.Error != nil {
		t.Fatalf("response = %+v, want success", jr)
	}

	select {
	case ev := <-events:
		if ev.sessionID != "sess-abc" {
			t.Errorf("sessionID = %q, want sess-abc", ev.sessionID)
		}
		if ev.msg.Method() != "notifications/progress" {
			t.Errorf("method = %q, want notifications/progress", ev.msg.Method())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress publish")
	}
}

func TestRouterListAggregationAfterActivation(t *testing.T) {
	r, reg := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := r.Handle(ctx, requestMsg(t, 1, "resources/list", map[string]any{})); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if entries := reg.ListAllResources(); len(entries) != 1 {
		t.Fatalf("ListAllResources() = %+v, want one entry", entries)
	}
}
