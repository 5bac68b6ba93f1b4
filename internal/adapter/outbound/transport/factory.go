package transport

import (
	"fmt"

	"github.com/hatago/hatago/internal/domain/upstream"
	"github.com/hatago/hatago/internal/port/outbound"
)

// NewClient builds the outbound.MCPClient appropriate for spec's transport
// kind. Callers (the activation manager) wrap the result in an
// UpstreamSession before use.
func NewClient(spec *upstream.Spec) (outbound.MCPClient, error) {
	switch spec.Kind {
	case upstream.KindStdio:
		env := make([]string, 0, len(spec.Local.Env))
		for k, v := range spec.Local.Env {
			env = append(env, k+"="+v)
		}
		return NewStdioClient(spec.Local.Command, spec.Local.Args, env, spec.Local.Cwd), nil
	case upstream.KindHTTP:
		return NewHTTPClient(spec.Remote.URL, spec.Remote.Headers), nil
	case upstream.KindSSE:
		return NewSSEClient(spec.Remote.URL, spec.Remote.Headers), nil
	case upstream.KindStreamableHTTP:
		return NewStreamableClient(spec.Remote.URL, WithHeaders(spec.Remote.Headers)), nil
	default:
		return nil, fmt.Errorf("unrecognized upstream kind %q", spec.Kind)
	}
}
