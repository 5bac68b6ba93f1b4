package upstream

import "testing"

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "valid stdio",
			spec: Spec{ID: "echo", Kind: KindStdio, Local: &LocalProcess{Command: "echo"}},
		},
		{
			name: "valid streamable-http",
			spec: Spec{ID: "remote-1", Kind: KindStreamableHTTP, Remote: &RemoteServer{URL: "https://example.com/mcp"}},
		},
		{
			name:    "missing id",
			spec:    Spec{Kind: KindStdio, Local: &LocalProcess{Command: "echo"}},
			wantErr: true,
		},
		{
			name:    "id too long",
			spec:    Spec{ID: string(make([]byte, idMaxLength+1)), Kind: KindStdio, Local: &LocalProcess{Command: "echo"}},
			wantErr: true,
		},
		{
			name:    "invalid id characters",
			spec:    Spec{ID: "bad id!", Kind: KindStdio, Local: &LocalProcess{Command: "echo"}},
			wantErr: true,
		},
		{
			name:    "both local and remote set",
			spec:    Spec{ID: "x", Kind: KindStdio, Local: &LocalProcess{Command: "echo"}, Remote: &RemoteServer{URL: "https://x"}},
			wantErr: true,
		},
		{
			name:    "neither local nor remote set",
			spec:    Spec{ID: "x", Kind: KindStdio},
			wantErr: true,
		},
		{
			name:    "stdio missing command",
			spec:    Spec{ID: "x", Kind: KindStdio, Local: &LocalProcess{}},
			wantErr: true,
		},
		{
			name:    "http missing url",
			spec:    Spec{ID: "x", Kind: KindHTTP, Remote: &RemoteServer{}},
			wantErr: true,
		},
		{
			name:    "unrecognized kind",
			spec:    Spec{ID: "x", Kind: "carrier-pigeon", Local: &LocalProcess{Command: "echo"}},
			wantErr: true,
		},
		{
			name:    "unrecognized activation policy",
			spec:    Spec{ID: "x", Kind: KindStdio, Local: &LocalProcess{Command: "echo"}, ActivationPolicy: "sometimes"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSpecSeparatorDefault(t *testing.T) {
	s := &Spec{ID: "x"}
	if got := s.Separator(); got != DefaultSeparator {
		t.Errorf("Separator() = %q, want %q", got, DefaultSeparator)
	}

	s.NamingSeparator = "::"
	if got := s.Separator(); got != "::" {
		t.Errorf("Separator() = %q, want ::", got)
	}
}

func TestSpecMatchesTags(t *testing.T) {
	s := &Spec{ID: "x", Tags: []string{"prod", "db"}}

	if !s.MatchesTags(nil) {
		t.Error("empty filter should match everything")
	}
	if !s.MatchesTags([]string{"db"}) {
		t.Error("expected match on shared tag")
	}
	if s.MatchesTags([]string{"staging"}) {
		t.Error("expected no match when no tags overlap")
	}
}

func TestNewState(t *testing.T) {
	st := NewState("echo")
	if st.Desired != DesiredStopped || st.Actual != ActualStopped {
		t.Errorf("new state should start stopped/stopped, got desired=%v actual=%v", st.Desired, st.Actual)
	}
	if st.ID != "echo" {
		t.Errorf("ID = %q, want echo", st.ID)
	}
}
