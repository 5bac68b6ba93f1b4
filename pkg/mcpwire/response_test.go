package mcpwire

import (
	"encoding/json"
	"testing"
)

func TestNewErrorResponse(t *testing.T) {
	req := Wrap([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call"}`), ClientToServer, "sess-1")

	resp := NewErrorResponse(req, -32601, "Tool not found: search")

	if resp.Direction != ServerToClient {
		t.Error("error response must flow server to client")
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("session id not carried over: %q", resp.SessionID)
	}

	var decoded JSONRPCError
	if err := json.Unmarshal(resp.Raw, &decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if decoded.Error.Code != -32601 {
		t.Errorf("code: got %d, want -32601", decoded.Error.Code)
	}
	if string(decoded.ID) != "7" {
		t.Errorf("id not echoed: got %q", decoded.ID)
	}
}

func TestNewResultResponse(t *testing.T) {
	req := Wrap([]byte(`{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`), ClientToServer, "")

	resp, err := NewResultResponse(req, map[string]any{"tools": []any{}})
	if err != nil {
		t.Fatalf("NewResultResponse failed: %v", err)
	}

	var decoded JSONRPCResult
	if err := json.Unmarshal(resp.Raw, &decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if string(decoded.ID) != `"abc"` {
		t.Errorf("id not echoed: got %q", decoded.ID)
	}
	if decoded.Result == nil {
		t.Error("expected non-nil result")
	}
}

func TestNewNotification(t *testing.T) {
	notif, err := NewNotification("notifications/tools/list_changed", nil)
	if err != nil {
		t.Fatalf("NewNotification failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(notif.Raw, &raw); err != nil {
		t.Fatalf("notification is not valid JSON: %v", err)
	}
	if _, hasID := raw["id"]; hasID {
		t.Error("a notification must not carry an id")
	}
	if string(raw["method"]) != `"notifications/tools/list_changed"` {
		t.Errorf("method: got %q", raw["method"])
	}
}
