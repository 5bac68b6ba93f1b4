package upstream

import (
	"fmt"
	"strings"
)

// GeneratePublicName computes the hub-facing name for a tool or prompt
// originally named originalName on upstreamID, under strategy. sep is the
// separator to use.
func GeneratePublicName(upstreamID, originalName string, strategy NamingStrategy, sep string) (string, error) {
	switch strategy {
	case StrategyNamespace, "":
		return originalName + sep + upstreamID, nil
	case StrategyAlias:
		return upstreamID + sep + originalName, nil
	case StrategyError:
		return originalName, nil
	default:
		return "", fmt.Errorf("unrecognized naming strategy %q", strategy)
	}
}

// ParsePublicName inverts GeneratePublicName for the namespace and alias
// strategies, recovering (upstreamID, originalName) from a public name. The
// error strategy is not invertible (no upstream id is embedded), so callers
// must resolve those names via the registry's exact-match table instead.
func ParsePublicName(publicName string, strategy NamingStrategy, sep string) (upstreamID, originalName string, ok bool) {
	switch strategy {
	case StrategyNamespace, "":
		idx := strings.LastIndex(publicName, sep)
		if idx <= 0 || idx == len(publicName)-len(sep) {
			return "", "", false
		}
		return publicName[idx+len(sep):], publicName[:idx], true
	case StrategyAlias:
		idx := strings.Index(publicName, sep)
		if idx <= 0 || idx == len(publicName)-len(sep) {
			return "", "", false
		}
		return publicName[:idx], publicName[idx+len(sep):], true
	default:
		return "", "", false
	}
}

// GenerateResourceURI computes the hub-facing URI for a resource originally
// identified by originalURI on upstreamID. Resources always use the
// upstreamID-prefix form regardless of the configured tool naming strategy,
// per the data model: "the public URI is upstreamId + sep + originalUri".
func GenerateResourceURI(upstreamID, originalURI, sep string) string {
	return upstreamID + sep + originalURI
}

// ParseResourceURI inverts GenerateResourceURI.
func ParseResourceURI(publicURI, sep string) (upstreamID, originalURI string, ok bool) {
	idx := strings.Index(publicURI, sep)
	if idx < 0 || idx == 0 {
		return "", "", false
	}
	return publicURI[:idx], publicURI[idx+len(sep):], true
}
