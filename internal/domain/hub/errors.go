// Package hub contains the error taxonomy and JSON-RPC error helpers shared
// across the router, activation manager, and transport adapters.
package hub

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a hub-level error, per the error taxonomy.
type Kind string

const (
	// KindConfigError covers invalid config, duplicate ids, and name
	// collisions under the "error" naming strategy.
	KindConfigError Kind = "CONFIG_ERROR"
	// KindTransport covers I/O failure, child-process exit, connection
	// reset, and SSE reconnect exhaustion.
	KindTransport Kind = "TRANSPORT"
	// KindTimeout covers spawn, healthcheck, or tool-call deadlines.
	KindTimeout Kind = "TIMEOUT"
	// KindToolInvocation covers an upstream JSON-RPC error for a tool call.
	KindToolInvocation Kind = "TOOL_INVOCATION"
	// KindSession covers an unknown or expired session id.
	KindSession Kind = "SESSION"
	// KindUnsupportedFeature covers a valid method not implemented upstream.
	KindUnsupportedFeature Kind = "UNSUPPORTED_FEATURE"
	// KindInternal covers invariant violations.
	KindInternal Kind = "INTERNAL"
	// KindToolNotFound covers a public tool name that resolves to nothing
	// in the capability registry.
	KindToolNotFound Kind = "TOOL_NOT_FOUND"
	// KindResourceNotFound covers a public resource URI that resolves to
	// nothing in the capability registry.
	KindResourceNotFound Kind = "RESOURCE_NOT_FOUND"
	// KindPromptNotFound covers a public prompt name that resolves to
	// nothing in the capability registry.
	KindPromptNotFound Kind = "PROMPT_NOT_FOUND"
)

// Error is the hub's error taxonomy type. It wraps an underlying cause while
// attaching the stable Kind and the upstream id responsible, so that
// downstream JSON-RPC responses can embed structured data without leaking
// internal detail.
type Error struct {
	Kind       Kind
	Message    string
	UpstreamID string
	Cause      error
}

func (e *Error) Error() string {
	if e.UpstreamID != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.UpstreamID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error without an upstream id.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that preserves cause for errors.Is/As chains.
func Wrap(kind Kind, upstreamID string, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), UpstreamID: upstreamID, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to KindInternal when the error carries no taxonomy.
func KindOf(err error) Kind {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return KindInternal
}

// JSONRPCCode maps a taxonomy Kind to the JSON-RPC error code the hub uses
// on the downstream response, per spec §7's propagation rules. Kinds that
// don't correspond to reserved JSON-RPC codes use the hub's private range.
func (k Kind) JSONRPCCode() int {
	switch k {
	case KindConfigError:
		return -32001
	case KindTransport:
		return -32002
	case KindTimeout:
		return -32003
	case KindToolInvocation:
		return -32004
	case KindSession:
		return -32005
	case KindUnsupportedFeature:
		return -32601
	case KindToolNotFound:
		return -32010
	case KindResourceNotFound:
		return -32011
	case KindPromptNotFound:
		return -32012
	default:
		return -32603
	}
}

// Well-known sentinel errors for common lookups, so callers can use
// errors.Is against stable values instead of string matching.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")
	ErrUpstreamNotReady = errors.New("upstream not ready")
	ErrConnectionClosed = errors.New("connection closed")
)
