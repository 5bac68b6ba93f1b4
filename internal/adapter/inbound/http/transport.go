// Package http provides the Streamable HTTP transport adapter for the hub.
package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/hatago/hatago/internal/adapter/outbound/memory"
	"github.com/hatago/hatago/internal/domain/session"
	"github.com/hatago/hatago/internal/service/hub"
	"github.com/hatago/hatago/pkg/mcpwire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport is the inbound adapter that exposes a hub.Hub over the MCP
// Streamable HTTP transport, per spec §4.F.
type HTTPTransport struct {
	hub            *hub.Hub
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	sessionTTL     time.Duration
	sessionStore   *memory.SessionStore
	sessions       *session.Manager
	logger         *slog.Logger
	metrics        *Metrics
	healthChecker  *HealthChecker
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) { t.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files. If not
// set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) { t.allowedOrigins = origins }
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) { t.logger = logger }
}

// WithSessionTTL overrides the idle session TTL (default session.DefaultTTL).
func WithSessionTTL(ttl time.Duration) Option {
	return func(t *HTTPTransport) { t.sessionTTL = ttl }
}

// sessionCleanupInterval is how often the idle-session sweep runs, per
// spec §5's 10 s cleanup cadence.
const sessionCleanupInterval = 10 * time.Second

// NewHTTPTransport creates an HTTP transport adapter wrapping h.
func NewHTTPTransport(h *hub.Hub, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		hub:            h,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		sessionTTL:     session.DefaultTTL,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.sessionStore = memory.NewSessionStoreWithConfig(t.sessionTTL, sessionCleanupInterval)
	t.sessions = session.NewManager(t.sessionStore, session.Config{TTL: t.sessionTTL})
	if t.healthChecker == nil {
		t.healthChecker = NewHealthChecker(t.sessionStore, t.hub, "dev")
	}
	return t
}

// Start begins accepting HTTP connections and processing MCP messages. It
// blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg)

	t.sessionStore.StartCleanup(ctx)

	// notifications/*/list_changed broadcast to every session with an open
	// GET-SSE stream; progress relays (sessionID set) are routed to the one
	// session that owns the progressToken, per spec §4.F.
	unsubscribe := t.hub.Subscribe(func(sessionID string, msg *mcpwire.Message) {
		if sessionID == "" {
			t.broadcast(ctx, msg)
			return
		}
		t.routeProgress(ctx, sessionID, msg)
	})
	defer unsubscribe()

	// Middleware order (outermost first): Metrics -> RequestID -> RealIP ->
	// DNSRebinding -> Handler.
	handler := mcpHandler(t.hub, t.sessions, t.metrics)
	handler = DNSRebindingProtection(t.allowedOrigins)(handler)
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/mcp", handler)
	mux.Handle("/mcp/", handler)
	mux.Handle("/", handler)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: mux,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// broadcast fans a hub-initiated notification out to every session with an
// open GET-SSE stream. Sessions with no GET stream (POST-only clients) miss
// the push entirely; they will see fresh state on their next list call.
func (t *HTTPTransport) broadcast(ctx context.Context, msg *mcpwire.Message) {
	sessions, err := t.sessionStore.List(ctx)
	if err != nil {
		t.logger.Error("listing sessions for broadcast failed", "error", err)
		return
	}
	for _, sess := range sessions {
		stream := sess.GETStream()
		if stream == nil {
			continue
		}
		if err := stream.Send(msg.Raw); err != nil {
			t.logger.Warn("broadcast to session failed", "session", sess.ID, "error", err)
			continue
		}
		if t.metrics != nil {
			t.metrics.NotificationsSent.Inc()
		}
	}
}

// routeProgress delivers a notifications/progress event to the stream
// sess.ProgressStream resolves for its progress token: a stream explicitly
// bound to that token, otherwise the session's GET-SSE stream. No handler in
// this package binds a token, so in practice the event goes to the GET-SSE
// stream; a session without one misses the event, matching the GET-SSE
// broadcast's own best-effort delivery.
func (t *HTTPTransport) routeProgress(ctx context.Context, sessionID string, msg *mcpwire.Message) {
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return
	}
	stream, ok := sess.ProgressStream(msg.ProgressToken)
	if !ok {
		return
	}
	if err := stream.Send(msg.Raw); err != nil {
		t.logger.Warn("progress delivery failed", "session", sessionID, "progressToken", msg.ProgressToken, "error", err)
		return
	}
	if t.metrics != nil {
		t.metrics.NotificationsSent.Inc()
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.sessionStore.Stop()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
