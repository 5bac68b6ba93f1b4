// Package session tracks downstream MCP client connections: the
// mcp-session-id lifecycle, the optional long-lived GET-SSE stream, and the
// request/progress-token routing tables a streamable HTTP server needs.
package session

import (
	"sync"
	"time"
)

// Stream is the minimal capability a downstream session needs from whatever
// is carrying bytes to the client: either the long-lived GET-SSE connection
// or one in-flight POST's response collector. Defined here (rather than
// imported from the HTTP adapter) so the domain type has no dependency on
// transport machinery.
type Stream interface {
	// Send writes one SSE event frame (or, for a plain POST responder,
	// records the single JSON response) to the client.
	Send(raw []byte) error
}

// Session is one downstream client's connection state, per the data model's
// "Downstream session (F)".
type Session struct {
	ID string

	mu sync.Mutex

	initialized    bool
	createdAt      time.Time
	lastActivityAt time.Time

	getStream Stream

	requestStreams  map[string]Stream
	progressStreams map[string]Stream
}

// New constructs a fresh, uninitialized Session.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		ID:              id,
		createdAt:       now,
		lastActivityAt:  now,
		requestStreams:  make(map[string]Stream),
		progressStreams: make(map[string]Stream),
	}
}

// MarkInitialized records that the client completed the initialize
// handshake. Notifications must not be delivered before this.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
}

// Initialized reports whether initialize has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Touch updates lastActivityAt to now, resetting the session's TTL clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// IdleSince reports how long the session has gone without activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivityAt)
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// SetGETStream installs the session's long-lived SSE stream, replacing any
// prior one (a reconnecting client supersedes its old stream).
func (s *Session) SetGETStream(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStream = stream
}

// ClearGETStream removes the GET-SSE stream, e.g. on client disconnect.
func (s *Session) ClearGETStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStream = nil
}

// GETStream returns the session's long-lived SSE stream, or nil if none is
// open.
func (s *Session) GETStream() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getStream
}

// BindRequestStream associates an in-flight request id with the stream
// carrying its POST response.
func (s *Session) BindRequestStream(requestID string, stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestStreams[requestID] = stream
}

// UnbindRequestStream removes a request id's stream binding once its
// response has been delivered or the POST guard elapses.
func (s *Session) UnbindRequestStream(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requestStreams, requestID)
}

// RequestStream looks up the stream bound to a request id.
func (s *Session) RequestStream(requestID string) (Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.requestStreams[requestID]
	return stream, ok
}

// BindProgressStream routes a progress token to a stream. A binding made
// here takes precedence over the GET-SSE fallback in ProgressStream. No
// component of the hub calls it; the HTTP transport relies on that fallback.
func (s *Session) BindProgressStream(token string, stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressStreams[token] = stream
}

// UnbindProgressStream clears a progress token's routing once its owning
// POST completes.
func (s *Session) UnbindProgressStream(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progressStreams, token)
}

// ProgressStream looks up the stream a progress token should be delivered
// to: the stream explicitly bound to the token if there is one, otherwise
// the GET-SSE stream (long-lived) if one is open. An explicit binding wins
// even when a GET stream is open.
func (s *Session) ProgressStream(token string) (Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream, ok := s.progressStreams[token]; ok {
		return stream, true
	}
	if s.getStream != nil {
		return s.getStream, true
	}
	return nil, false
}

// Close releases every stream binding, used when the session is deleted
// (DELETE request, TTL sweep, or hub shutdown).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStream = nil
	s.requestStreams = make(map[string]Stream)
	s.progressStreams = make(map[string]Stream)
}
