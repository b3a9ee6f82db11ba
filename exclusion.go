package authgate

import "strings"

// ExclusionPolicy is the static allow-list of paths that must never trigger a
// refresh: the endpoints that issue or consume credentials themselves. A 401 from one
// of them goes straight back to the caller, which is what stops a failed login or a
// failed refresh from recursing into another refresh.
type ExclusionPolicy struct {
	paths []string
}

// NewExclusionPolicy builds a policy from the auth endpoints plus extra paths.
func NewExclusionPolicy(endpoints EndpointConfig, extra ...string) ExclusionPolicy {
	seen := make(map[string]struct{})
	var paths []string
	for _, p := range append(endpoints.all(), extra...) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		p = normalizePath(p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return ExclusionPolicy{paths: paths}
}

// Excluded reports whether path is one of the excluded endpoints or lies beneath one
// (e.g. /auth/activate-account/<code>). Query strings and trailing slashes are ignored.
func (p ExclusionPolicy) Excluded(path string) bool {
	path = normalizePath(path)
	for _, ex := range p.paths {
		if path == ex {
			return true
		}
		if strings.HasPrefix(path, ex) && len(path) > len(ex) && path[len(ex)] == '/' {
			return true
		}
	}
	return false
}

// Paths returns the normalized excluded paths.
func (p ExclusionPolicy) Paths() []string {
	return append([]string(nil), p.paths...)
}
