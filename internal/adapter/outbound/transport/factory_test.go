package transport

import (
	"testing"

	"github.com/hatago/hatago/internal/domain/upstream"
)

func TestNewClientDispatchesByKind(t *testing.T) {
	cases := []struct {
		name string
		spec *upstream.Spec
		want any
	}{
		{
			name: "stdio",
			spec: &upstream.Spec{Kind: upstream.KindStdio, Local: &upstream.LocalProcess{Command: "cat"}},
			want: &StdioClient{},
		},
		{
			name: "http",
			spec: &upstream.Spec{Kind: upstream.KindHTTP, Remote: &upstream.RemoteServer{URL: "http://localhost"}},
			want: &HTTPClient{},
		},
		{
			name: "sse",
			spec: &upstream.Spec{Kind: upstream.KindSSE, Remote: &upstream.RemoteServer{URL: "http://localhost/sse"}},
			want: &SSEClient{},
		},
		{
			name: "streamable-http",
			spec: &upstream.Spec{Kind: upstream.KindStreamableHTTP, Remote: &upstream.RemoteServer{URL: "http://localhost/mcp"}},
			want: &StreamableClient{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(tc.spec)
			if err != nil {
				t.Fatalf("NewClient() error: %v", err)
			}
			switch tc.want.(type) {
			case *StdioClient:
				if _, ok := client.(*StdioClient); !ok {
					t.Errorf("got %T, want *StdioClient", client)
				}
			case *HTTPClient:
				if _, ok := client.(*HTTPClient); !ok {
					t.Errorf("got %T, want *HTTPClient", client)
				}
			case *SSEClient:
				if _, ok := client.(*SSEClient); !ok {
					t.Errorf("got %T, want *SSEClient", client)
				}
			case *StreamableClient:
				if _, ok := client.(*StreamableClient); !ok {
					t.Errorf("got %T, want *StreamableClient", client)
				}
			}
		})
	}
}

func TestNewClientUnrecognizedKind(t *testing.T) {
	_, err := NewClient(&upstream.Spec{Kind: "bogus"})
	if err == nil {
		t.Error("expected error for unrecognized kind")
	}
}
