package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hatago/hatago/internal/port/outbound"
)

// SSEClient connects to an MCP upstream via the legacy HTTP+SSE transport
// (Kind == KindSSE, MCP spec 2024-11-05): a GET to the SSE endpoint opens an
// event stream whose first event (name "endpoint") carries the URL the
// client must POST JSON-RPC messages to; server responses and notifications
// then arrive as subsequent "message" events on that same stream.
type SSEClient struct {
	sseEndpoint string
	headers     map[string]string
	httpClient  *http.Client

	mu    sync.Mutex
	state clientState
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	postEndpoint chan string // resolved once, from the "endpoint" event

	requestPipeReader  *io.PipeReader
	requestPipeWriter  *io.PipeWriter
	responsePipeReader *io.PipeReader
	responsePipeWriter *io.PipeWriter
}

// NewSSEClient creates a client for a legacy HTTP+SSE MCP upstream.
func NewSSEClient(sseEndpoint string, headers map[string]string) *SSEClient {
	return &SSEClient{
		sseEndpoint: sseEndpoint,
		headers:     headers,
		httpClient: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		postEndpoint: make(chan string, 1),
	}
}

func (c *SSEClient) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateStarted:
		return nil, nil, errors.New("client already started")
	case stateClosed:
		return nil, nil, errors.New("client is closed, create a new instance")
	}

	c.state = stateStarted
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.requestPipeReader, c.requestPipeWriter = io.Pipe()
	c.responsePipeReader, c.responsePipeWriter = io.Pipe()

	c.wg.Add(2)
	go c.receiveLoop()
	go c.sendLoop()

	return c.requestPipeWriter, c.responsePipeReader, nil
}

// receiveLoop opens the hanging GET, resolves the POST endpoint from the
// first "endpoint" event, and forwards every subsequent "message" event's
// data to the response pipe.
func (c *SSEClient) receiveLoop() {
	defer c.wg.Done()
	defer func() { _ = c.responsePipeWriter.Close() }()

	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.sseEndpoint, nil)
	if err != nil {
		c.fail(fmt.Errorf("create sse request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.fail(fmt.Errorf("open sse stream: %w", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.fail(fmt.Errorf("sse stream status %d: %s", resp.StatusCode, string(body)))
		return
	}

	resolved := false
	err = scanSSE(resp.Body, func(evt sseEvent) error {
		switch evt.event {
		case "endpoint":
			if resolved {
				return nil
			}
			resolved = true
			postURL, resolveErr := c.resolvePostURL(string(evt.data))
			if resolveErr != nil {
				return resolveErr
			}
			select {
			case c.postEndpoint <- postURL:
			default:
			}
		default:
			c.deliver(evt.data)
		}
		return nil
	})
	if err != nil {
		c.fail(err)
	}
}

// resolvePostURL resolves the endpoint event's payload (often a relative
// path) against the SSE endpoint's origin.
func (c *SSEClient) resolvePostURL(raw string) (string, error) {
	base, err := url.Parse(c.sseEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse sse endpoint: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint event payload: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *SSEClient) sendLoop() {
	defer c.wg.Done()

	var postURL string
	select {
	case postURL = <-c.postEndpoint:
	case <-c.ctx.Done():
		return
	}

	scanner := bufio.NewScanner(c.requestPipeReader)
	buf := make([]byte, 0, streamScannerInitialBufSize)
	scanner.Buffer(buf, streamScannerMaxBufSize)

	for scanner.Scan() {
		if c.ctx.Err() != nil {
			return
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := c.post(postURL, append([]byte(nil), raw...)); err != nil {
			c.fail(fmt.Errorf("post message: %w", err))
			return
		}
	}
}

func (c *SSEClient) post(postURL string, body []byte) error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post status %d", resp.StatusCode)
	}
	return nil
}

func (c *SSEClient) deliver(data []byte) {
	trimmed := bytes.TrimRight(data, "\n")
	_, _ = c.responsePipeWriter.Write(trimmed)
	_, _ = c.responsePipeWriter.Write([]byte("\n"))
}

func (c *SSEClient) fail(err error) {
	_ = c.responsePipeWriter.CloseWithError(err)
}

func (c *SSEClient) Wait() error {
	c.wg.Wait()
	return nil
}

func (c *SSEClient) Close() error {
	c.mu.Lock()
	if c.state != stateStarted {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	cancel := c.cancel
	reqW := c.requestPipeWriter
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reqW != nil {
		_ = reqW.Close()
	}
	c.wg.Wait()
	return nil
}

var _ outbound.MCPClient = (*SSEClient)(nil)
