// Package http implements the inbound MCP Streamable HTTP transport
// (protocol version 2025-06-18). It exposes a hub.Hub to remote clients over
// HTTP/HTTPS instead of stdio.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	transport := http.NewHTTPTransport(h,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithSessionTTL(time.Hour),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /mcp    - Send a JSON-RPC request, notification, or batch
//	GET /mcp     - Open the long-lived SSE stream for server-initiated pushes
//	DELETE /mcp  - Terminate a session
//	OPTIONS /mcp - CORS preflight handling
//	GET /health  - Liveness/readiness check (session store + upstream status)
//	GET /metrics - Prometheus exposition
//
// "/" and "/mcp/" route to the same handler as "/mcp" for clients that don't
// append the path.
//
// # Request/Response Headers
//
//	Mcp-Session-Id: <session-id>     - Session identifier for stateful requests
//	MCP-Protocol-Version: 2025-06-18 - Echoed on every response
//	Content-Type: application/json   - Must be application/json when set on POST
//
// # Security
//
//   - TLS 1.2 minimum when WithTLS is set
//   - DNS rebinding protection: Origin header validated against WithAllowedOrigins;
//     an empty allowlist rejects every request that carries an Origin header
//   - Real IP extraction from X-Forwarded-For/X-Real-IP, stored in the request
//     context (see RealIPFromContext)
//
// # Middleware Chain
//
// Requests pass through middleware in this order (outermost first):
//
//  1. MetricsMiddleware - records request_duration_seconds/requests_total
//  2. RequestIDMiddleware - assigns/propagates a request id and enriched logger
//  3. RealIPMiddleware - extracts client IP from proxy headers
//  4. DNSRebindingProtection - validates the Origin header
//  5. mcpHandler - routes to the POST/GET/DELETE/OPTIONS handlers
//
// # Server-Sent Events (SSE)
//
// GET requests open an SSE stream for server-initiated messages (tool/
// resource/prompt list-changed notifications and progress relays). The stream:
//   - Requires the Mcp-Session-Id header
//   - Sends "data: <json>\n\n" formatted events, plus a 30s heartbeat comment
//   - Ends when the request context is cancelled or a heartbeat write fails;
//     deleting or expiring the session unbinds the stream from the session
//     but does not end the open GET request
//
// Session management via Mcp-Session-Id enables stateful interactions across
// multiple HTTP requests; idle sessions are garbage-collected after the
// configured TTL (default one hour).
package http
