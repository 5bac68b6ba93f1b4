package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hatago/hatago/internal/domain/session"
	"github.com/hatago/hatago/pkg/mcpwire"
)

// MCPProtocolVersion is the MCP protocol version this handler supports.
const MCPProtocolVersion = "2025-06-18"

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// MCPSessionIDHeader is the header for session identification.
const MCPSessionIDHeader = "Mcp-Session-Id"

// MCPProtocolVersionHeader is the header for protocol version.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// postGuardTimeout bounds how long a single POST dispatch may take before
// the handler gives up and returns a timeout error, per spec §5's request
// guard. A tool call that legitimately runs long should use progress
// notifications over the GET-SSE stream rather than block the POST.
const postGuardTimeout = 120 * time.Second

// dispatcher is the subset of the hub core the HTTP handler needs, kept as
// an interface so handler tests can substitute a fake without building a
// full Hub.
type dispatcher interface {
	Handle(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error)
	HandleBatch(ctx context.Context, msgs []*mcpwire.Message) ([]*mcpwire.Message, error)
}

// mcpHandler creates the main HTTP handler for MCP Streamable HTTP
// transport. It routes requests by HTTP method to the appropriate handler.
func mcpHandler(d dispatcher, sessions *session.Manager, metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlePost(w, r, d, sessions)
		case http.MethodGet:
			handleGet(w, r, sessions, metrics)
		case http.MethodDelete:
			handleDelete(w, r, sessions)
		case http.MethodOptions:
			handleOptions(w, r)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// handlePost processes one JSON-RPC request, notification, or batch from
// the client, per the Streamable HTTP spec's POST semantics.
func handlePost(w http.ResponseWriter, r *http.Request, d dispatcher, sessions *session.Manager) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		writeJSONRPCError(w, nil, -32700, "Parse error: content type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, nil, -32700, "Parse error: request body too large (max 1MB)")
			return
		}
		writeJSONRPCError(w, nil, -32700, "Parse error: failed to read request body")
		return
	}

	if len(body) == 0 {
		writeJSONRPCError(w, nil, -32700, "Parse error: empty request body")
		return
	}

	if !json.Valid(body) {
		writeJSONRPCError(w, nil, -32700, "Parse error: invalid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), postGuardTimeout)
	defer cancel()

	sessionID := r.Header.Get(MCPSessionIDHeader)

	// A batch is a JSON array; everything else is a single message.
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		handlePostBatch(ctx, w, body, d, sessionID)
		return
	}
	handlePostSingle(ctx, w, r, body, d, sessions, sessionID)
}

func handlePostSingle(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte, d dispatcher, sessions *session.Manager, sessionID string) {
	var rpcRequest struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &rpcRequest); err != nil {
		writeJSONRPCError(w, nil, -32600, "Invalid Request: request must be a JSON object")
		return
	}
	if rpcRequest.JSONRPC != "2.0" {
		writeJSONRPCError(w, nil, -32600, `Invalid Request: missing or invalid jsonrpc version (must be "2.0")`)
		return
	}
	if rpcRequest.Method == "" {
		writeJSONRPCError(w, nil, -32600, "Invalid Request: missing method field")
		return
	}

	msg := mcpwire.Wrap(body, mcpwire.ClientToServer, sessionID)
	isNotification := len(msg.RawID()) == 0

	resp, err := d.Handle(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeJSONRPCError(w, rpcRequest.ID, -32603, "Internal error")
		return
	}

	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	if sessionID != "" {
		w.Header().Set(MCPSessionIDHeader, sessionID)
	}

	if isNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if rpcRequest.Method == "initialize" && sessionID == "" {
		if sess, err := sessions.Create(r.Context()); err == nil {
			w.Header().Set(MCPSessionIDHeader, sess.ID)
		}
	} else if sessionID != "" {
		if err := sessions.Touch(r.Context(), sessionID); err != nil && rpcRequest.Method == "initialize" {
			_, _ = sessions.CreateWithID(r.Context(), sessionID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Raw)
}

func handlePostBatch(ctx context.Context, w http.ResponseWriter, body []byte, d dispatcher, sessionID string) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		writeJSONRPCError(w, nil, -32600, "Invalid Request: malformed batch array")
		return
	}
	if len(raws) == 0 {
		writeJSONRPCError(w, nil, -32600, "Invalid Request: empty batch array")
		return
	}

	msgs := make([]*mcpwire.Message, 0, len(raws))
	for _, raw := range raws {
		msgs = append(msgs, mcpwire.Wrap(raw, mcpwire.ClientToServer, sessionID))
	}

	responses, err := d.HandleBatch(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeJSONRPCError(w, nil, -32603, "Internal error")
		return
	}

	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	if sessionID != "" {
		w.Header().Set(MCPSessionIDHeader, sessionID)
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	out := make([]json.RawMessage, 0, len(responses))
	for _, resp := range responses {
		out = append(out, json.RawMessage(resp.Raw))
	}
	payload, err := json.Marshal(out)
	if err != nil {
		writeJSONRPCError(w, nil, -32603, "Internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleGet opens the long-lived GET-SSE stream for server-initiated
// notifications (list-changed, progress relays), per spec §4.F. It sends a
// heartbeat comment every 30s so intermediaries don't time out the
// connection.
func handleGet(w http.ResponseWriter, r *http.Request, sessions *session.Manager, metrics *Metrics) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required for SSE", http.StatusBadRequest)
		return
	}

	sess, err := sessions.Get(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	w.Header().Set(MCPSessionIDHeader, sessionID)

	stream := &sseStream{w: w, flusher: flusher}
	sess.SetGETStream(stream)
	defer sess.ClearGETStream()

	if metrics != nil {
		metrics.SSEConnections.Inc()
		defer metrics.SSEConnections.Dec()
	}

	ctx := r.Context()

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sseStream implements session.Stream by writing one "data: <json>\n\n"
// frame per Send call. A hub notification pushed while the GET connection
// is torn down simply fails to send; the hub does not retry.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseStream) Send(raw []byte) error {
	_, err := fmt.Fprintf(s.w, "data: %s\n\n", raw)
	if err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleDelete terminates a session per spec §4.F's explicit termination.
func handleDelete(w http.ResponseWriter, r *http.Request, sessions *session.Manager) {
	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}

	if err := sessions.Delete(r.Context(), sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleOptions handles CORS preflight requests.
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, MCP-Protocol-Version")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// jsonRPCError represents a JSON-RPC 2.0 error response.
type jsonRPCError struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Error   jsonRPCErrorField `json:"error"`
}

type jsonRPCErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSONRPCError writes a JSON-RPC error response.
func writeJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	errResp := jsonRPCError{
		JSONRPC: "2.0",
		ID:      id,
		Error: jsonRPCErrorField{
			Code:    code,
			Message: message,
		},
	}

	_ = json.NewEncoder(w).Encode(errResp)
}

// healthHandler returns a minimal fallback handler for /health when no
// HealthChecker has been configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
