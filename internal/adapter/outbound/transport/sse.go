package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// sseEvent is a single parsed Server-Sent Event: its id (if any, used for
// Last-Event-ID replay) and its data payload (concatenated "data:" lines,
// MCP never emits multi-line SSE data but the scanner tolerates it).
type sseEvent struct {
	id    string
	event string
	data  []byte
}

const (
	sseScannerInitialBufSize = 256 * 1024
	sseScannerMaxBufSize     = 4 * 1024 * 1024
)

// scanSSE reads Server-Sent Events from r, one event per blank-line-delimited
// block, and invokes emit for each. It returns when r is exhausted (io.EOF is
// swallowed, treated as a graceful stream end) or emit returns an error.
func scanSSE(r io.Reader, emit func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, sseScannerInitialBufSize)
	scanner.Buffer(buf, sseScannerMaxBufSize)

	var dataLines []string
	var id, event string

	flush := func() error {
		if len(dataLines) == 0 && event == "" {
			return nil
		}
		evt := sseEvent{id: id, event: event, data: []byte(strings.Join(dataLines, "\n"))}
		dataLines = nil
		id, event = "", ""
		return emit(evt)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimPrefix(strings.TrimPrefix(line, "id:"), " ")
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, ":"), strings.HasPrefix(line, "retry:"):
			// Ignored: comment lines and server-retry hints.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan sse stream: %w", err)
	}
	return flush()
}

// formatSSE encodes a single data payload as an SSE event block, the inverse
// of scanSSE's framing. Only this package's tests use it.
func formatSSE(id string, data []byte) []byte {
	var b bytes.Buffer
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	return b.Bytes()
}
