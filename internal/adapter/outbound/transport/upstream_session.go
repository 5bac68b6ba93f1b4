package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hatago/hatago/internal/domain/hub"
	"github.com/hatago/hatago/internal/port/outbound"
	"github.com/hatago/hatago/pkg/mcpwire"
)

const upstreamReadBufSize = 1024 * 1024

// UpstreamSession wraps a single outbound.MCPClient connection, correlating
// JSON-RPC requests with their responses and dispatching server-initiated
// notifications (including progress notifications) to registered
// subscribers. One instance exists per active upstream connection.
type UpstreamSession struct {
	client outbound.MCPClient
	stdin  io.WriteCloser
	stdout io.ReadCloser

	nextID atomic.Int64

	mu           sync.Mutex
	waiters      map[string]chan *mcpwire.Message
	methodSubs   map[string][]func(*mcpwire.Message)
	progressSubs map[string]func(*mcpwire.Message)
	closed       bool
	closeErr     error

	readDone chan struct{}
}

// NewUpstreamSession constructs a session around client without connecting.
// Call Start to establish the connection and begin reading.
func NewUpstreamSession(client outbound.MCPClient) *UpstreamSession {
	return &UpstreamSession{
		client:       client,
		waiters:      make(map[string]chan *mcpwire.Message),
		methodSubs:   make(map[string][]func(*mcpwire.Message)),
		progressSubs: make(map[string]func(*mcpwire.Message)),
		readDone:     make(chan struct{}),
	}
}

// Start connects the underlying transport and launches the read loop.
func (s *UpstreamSession) Start(ctx context.Context) error {
	stdin, stdout, err := s.client.Start(ctx)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	s.stdin = stdin
	s.stdout = stdout
	go s.readLoop()
	return nil
}

// Call issues a JSON-RPC request and blocks for a matching response, the
// timeout elapsing, or ctx cancellation, per spec §4.B.
func (s *UpstreamSession) Call(ctx context.Context, method string, params any, timeout time.Duration) (*mcpwire.Message, error) {
	id := s.nextID.Add(1)
	idKey := fmt.Sprintf("%d", id)

	waiter := make(chan *mcpwire.Message, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, hub.Newf(hub.KindTransport, "connection closed")
	}
	s.waiters[idKey] = waiter
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.waiters, idKey)
		s.mu.Unlock()
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("encode request: %w", err)
	}
	raw = append(raw, '\n')

	if _, err := s.stdin.Write(raw); err != nil {
		cleanup()
		return nil, hub.Wrap(hub.KindTransport, "", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, hub.Newf(hub.KindTransport, "connection closed")
		}
		return resp, nil
	case <-callCtx.Done():
		cleanup()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, hub.Newf(hub.KindTimeout, "upstream call %q timed out", method)
	}
}

// Subscribe registers fn to be invoked for every notification with the
// given method.
func (s *UpstreamSession) Subscribe(method string, fn func(*mcpwire.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methodSubs[method] = append(s.methodSubs[method], fn)
}

// SubscribeProgress routes notifications/progress events carrying the given
// token to fn, until UnsubscribeProgress is called.
func (s *UpstreamSession) SubscribeProgress(token string, fn func(*mcpwire.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressSubs[token] = fn
}

// UnsubscribeProgress removes a progress-token subscription once its
// originating call has completed.
func (s *UpstreamSession) UnsubscribeProgress(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progressSubs, token)
}

func (s *UpstreamSession) readLoop() {
	defer close(s.readDone)

	scanner := bufio.NewScanner(s.stdout)
	buf := make([]byte, 0, 256*1024)
	scanner.Buffer(buf, upstreamReadBufSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := mcpwire.Wrap(append([]byte(nil), line...), mcpwire.ServerToClient, "")
		s.dispatch(msg)
	}
	s.failAll(fmt.Errorf("upstream connection closed"))
}

func (s *UpstreamSession) dispatch(msg *mcpwire.Message) {
	if msg.IsResponse() {
		idKey := string(msg.RawID())
		s.mu.Lock()
		waiter, ok := s.waiters[idKey]
		if ok {
			delete(s.waiters, idKey)
		}
		s.mu.Unlock()
		if ok {
			waiter <- msg
		}
		return
	}

	if msg.IsRequest() && msg.IsNotification() {
		method := msg.Method()
		if method == "notifications/progress" {
			msg.ParseParams()
			if msg.ProgressToken != "" {
				s.mu.Lock()
				fn, ok := s.progressSubs[msg.ProgressToken]
				s.mu.Unlock()
				if ok {
					fn(msg)
					return
				}
			}
		}
		s.mu.Lock()
		subs := append([]func(*mcpwire.Message){}, s.methodSubs[method]...)
		s.mu.Unlock()
		for _, fn := range subs {
			fn(msg)
		}
	}
}

func (s *UpstreamSession) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	for id, waiter := range s.waiters {
		close(waiter)
		delete(s.waiters, id)
	}
	s.progressSubs = make(map[string]func(*mcpwire.Message))
}

// Close terminates the underlying transport, rejecting outstanding waiters
// with a TRANSPORT "connection closed" error and clearing subscribers.
func (s *UpstreamSession) Close() error {
	s.failAll(fmt.Errorf("connection closed"))
	return s.client.Close()
}
