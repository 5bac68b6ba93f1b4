package mcpwire

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format, delegating
// to the reference SDK so the hub's bytes are indistinguishable from a
// first-party MCP implementation's.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes wire bytes into a *jsonrpc.Request or
// *jsonrpc.Response.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// Wrap decodes raw JSON-RPC bytes and wraps them in a Message carrying the
// given direction and session id, stamped with the current time.
//
// If decoding fails, the raw bytes are still returned wrapped with a nil
// Decoded so passthrough/forwarding can proceed; callers that require a
// successfully parsed message should check Decoded != nil themselves.
func Wrap(raw []byte, dir Direction, sessionID string) *Message {
	decoded, _ := jsonrpc.DecodeMessage(raw)
	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}
