package registry

import "path"

// matchPattern reports whether name matches a shell glob pattern, the same
// semantics tools.include/tools.exclude use for plain list filtering. Tag
// filtering (serve --tags) is a plain any-of match done in
// internal/service/hub, not here.
func matchPattern(pattern, name string) (bool, error) {
	return path.Match(pattern, name)
}
