// Package mcpwire provides MCP/JSON-RPC message types and codec helpers
// shared by the router, upstream sessions, and the streamable HTTP server.
package mcpwire

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates which way a message is flowing through the hub.
type Direction int

const (
	// ClientToServer indicates a message flowing from a downstream client
	// toward an upstream (or the hub's own local handling).
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from an upstream (or the
	// hub itself) back to the downstream client.
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with hub metadata. Raw bytes are
// retained so well-formed upstream payloads can be forwarded byte-for-byte
// without re-encoding.
type Message struct {
	// Raw is the original wire bytes.
	Raw []byte

	// Direction records which way this message is travelling.
	Direction Direction

	// Decoded is either *jsonrpc.Request or *jsonrpc.Response, or nil if
	// decoding failed (the raw bytes are still forwarded in that case).
	Decoded jsonrpc.Message

	// Timestamp records when the hub observed this message.
	Timestamp time.Time

	// ParsedParams caches the decoded params object for a request, set by
	// ParseParams on first call.
	ParsedParams map[string]any

	// ProgressToken is the value of params._meta.progressToken for a
	// request, if present. Cached by ParseParams.
	ProgressToken string

	// SessionID identifies the downstream session this message belongs to,
	// set by the inbound transport.
	SessionID string
}

// IsRequest reports whether the decoded message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse reports whether the decoded message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// IsNotification reports whether the decoded message is a request without
// an id (no response expected). It inspects the raw bytes rather than the
// SDK's ID type, which does not round-trip cleanly through interface{}.
func (m *Message) IsNotification() bool {
	if !m.IsRequest() {
		return false
	}
	return len(m.RawID()) == 0
}

// Method returns the method name if this is a request, or "" otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// Request returns the underlying *jsonrpc.Request, or nil.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying *jsonrpc.Response, or nil.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// ParseParams parses the request's params into a map, caching the result
// (and the progress token, if present) for reuse. Safe to call repeatedly.
func (m *Message) ParseParams() map[string]any {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.ParsedParams = params
	// A request carries its progress token under _meta.progressToken (MCP's
	// convention for attaching it to an arbitrary call); the
	// notifications/progress event it produces carries progressToken as a
	// top-level params field instead. Check both so the same accessor works
	// for either direction.
	if meta, ok := params["_meta"].(map[string]any); ok {
		if tok, ok := meta["progressToken"].(string); ok {
			m.ProgressToken = tok
		}
	}
	if m.ProgressToken == "" {
		if tok, ok := params["progressToken"].(string); ok {
			m.ProgressToken = tok
		}
	}
	return params
}

// RawID extracts the "id" field from the raw bytes as json.RawMessage.
// Using the raw bytes (rather than jsonrpc.ID, which marshals oddly through
// interface{}) preserves the original number/string/null shape verbatim.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}
