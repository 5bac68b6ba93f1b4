package upstream

import "testing"

func TestGeneratePublicNameRoundTrip(t *testing.T) {
	tests := []struct {
		strategy NamingStrategy
		upstream string
		original string
	}{
		{StrategyNamespace, "echo", "say"},
		{StrategyAlias, "echo", "say"},
		{StrategyNamespace, "db-1", "query_rows"},
		{StrategyAlias, "db-1", "query_rows"},
	}

	for _, tt := range tests {
		public, err := GeneratePublicName(tt.upstream, tt.original, tt.strategy, DefaultSeparator)
		if err != nil {
			t.Fatalf("GeneratePublicName(%v) error: %v", tt.strategy, err)
		}

		gotUpstream, gotOriginal, ok := ParsePublicName(public, tt.strategy, DefaultSeparator)
		if !ok {
			t.Fatalf("ParsePublicName(%q) failed to parse", public)
		}
		if gotUpstream != tt.upstream || gotOriginal != tt.original {
			t.Errorf("round trip mismatch: got (%q, %q), want (%q, %q)", gotUpstream, gotOriginal, tt.upstream, tt.original)
		}
	}
}

func TestGeneratePublicNameErrorStrategyNoRename(t *testing.T) {
	public, err := GeneratePublicName("echo", "say", StrategyError, DefaultSeparator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if public != "say" {
		t.Errorf("error strategy should not rename, got %q", public)
	}
}

func TestGeneratePublicNameUnrecognizedStrategy(t *testing.T) {
	if _, err := GeneratePublicName("echo", "say", "bogus", DefaultSeparator); err == nil {
		t.Error("expected error for unrecognized strategy")
	}
}

func TestParsePublicNameMalformed(t *testing.T) {
	if _, _, ok := ParsePublicName("no-separator-here", StrategyNamespace, "_"); ok {
		t.Error("expected parse failure without separator")
	}
	if _, _, ok := ParsePublicName("_trailingsep", StrategyNamespace, "_"); ok {
		t.Error("expected parse failure when upstream id is empty")
	}
	if _, _, ok := ParsePublicName("leadingsep_", StrategyAlias, "_"); ok {
		t.Error("expected parse failure when original name is empty")
	}
}

func TestResourceURIRoundTrip(t *testing.T) {
	uri := GenerateResourceURI("db-1", "table://rows", DefaultSeparator)
	upstreamID, original, ok := ParseResourceURI(uri, DefaultSeparator)
	if !ok {
		t.Fatalf("ParseResourceURI(%q) failed", uri)
	}
	if upstreamID != "db-1" || original != "table://rows" {
		t.Errorf("got (%q, %q)", upstreamID, original)
	}
}
