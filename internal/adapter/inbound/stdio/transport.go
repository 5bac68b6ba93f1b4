// Package stdio provides the stdio inbound transport adapter (component F's
// second mode, per spec §6's `serve --stdio`): the hub core dispatches
// newline-delimited JSON-RPC read from stdin and writes each response to
// stdout, the shape every local MCP client (Claude Desktop, editor
// integrations) expects from a stdio server.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hatago/hatago/pkg/mcpwire"
)

// dispatcher is the subset of the hub core the stdio transport needs, kept
// as an interface so tests can substitute a fake without building a full
// Hub.
type dispatcher interface {
	Handle(ctx context.Context, msg *mcpwire.Message) (*mcpwire.Message, error)
	HandleBatch(ctx context.Context, msgs []*mcpwire.Message) ([]*mcpwire.Message, error)
}

// sessionID is the fixed session every stdio-transport request carries.
// A stdio server has exactly one client for the lifetime of the process,
// so there is nothing to disambiguate — this only matters for progress
// routing, which falls back to the GET-SSE path and is a no-op here since
// stdio has no such stream.
const sessionID = "stdio"

// Transport is the inbound adapter that connects the hub to stdin/stdout.
// One line of input is one JSON-RPC message (request, notification, or
// batch array); one line of output is its response, if any.
type Transport struct {
	hub    dispatcher
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	writeMu sync.Mutex
}

// New creates a stdio transport wrapping hub, reading from in and writing
// to out. A nil logger installs slog.Default().
func New(hub dispatcher, in io.Reader, out io.Writer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{hub: hub, in: in, out: out, logger: logger}
}

// Start reads JSON-RPC messages from stdin line by line until ctx is
// cancelled or the input stream closes, dispatching each through the hub
// and writing any response to stdout. It blocks until one of those occurs.
func (t *Transport) Start(ctx context.Context) error {
	lines := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				close(lines)
				return
			}
		}
		errs <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errs
			}
			t.handleLine(ctx, line)
		}
	}
}

func (t *Transport) handleLine(ctx context.Context, line []byte) {
	trimmed := bytes.TrimLeft(line, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		t.handleBatch(ctx, line)
		return
	}
	t.handleSingle(ctx, line)
}

func (t *Transport) handleSingle(ctx context.Context, line []byte) {
	msg := mcpwire.Wrap(line, mcpwire.ClientToServer, sessionID)
	if msg.IsNotification() {
		if _, err := t.hub.Handle(ctx, msg); err != nil {
			t.logger.Error("notification handling failed", "method", msg.Method(), "error", err)
		}
		return
	}
	resp, err := t.hub.Handle(ctx, msg)
	if err != nil {
		t.logger.Error("request handling failed", "error", err)
		return
	}
	t.writeLine(resp.Raw)
}

func (t *Transport) handleBatch(ctx context.Context, line []byte) {
	var raws []json.RawMessage
	if err := json.Unmarshal(line, &raws); err != nil {
		t.logger.Error("invalid batch payload", "error", err)
		return
	}
	msgs := make([]*mcpwire.Message, 0, len(raws))
	for _, raw := range raws {
		msgs = append(msgs, mcpwire.Wrap(raw, mcpwire.ClientToServer, sessionID))
	}
	responses, err := t.hub.HandleBatch(ctx, msgs)
	if err != nil {
		t.logger.Error("batch handling failed", "error", err)
		return
	}
	if len(responses) == 0 {
		return
	}
	raw := make([]json.RawMessage, 0, len(responses))
	for _, resp := range responses {
		raw = append(raw, resp.Raw)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		t.logger.Error("failed to encode batch response", "error", err)
		return
	}
	t.writeLine(encoded)
}

func (t *Transport) writeLine(raw []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := fmt.Fprintln(t.out, string(raw)); err != nil {
		t.logger.Error("stdio write failed", "error", err)
	}
}
