// Package routes defines the route match handed to the executor by the HTTP
// front end.
//
// Only the single-route matching needed to host one component is provided;
// multi-component routing tables belong to the surrounding trigger.
package routes

import (
	"fmt"
	"sort"
	"strings"
)

const wildcardSuffix = "/..."

// Route is a parsed component route such as "/hello", "/api/..." or
// "/users/:id/...".
type Route struct {
	componentID string
	raw         string
	segments    []string
	wildcard    bool
}

// Parse parses a route pattern for a component.
func Parse(componentID, raw string) (*Route, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("route %q must start with '/'", raw)
	}
	r := &Route{componentID: componentID, raw: raw}
	path := raw
	if path == "/..." {
		r.wildcard = true
		path = "/"
	} else if strings.HasSuffix(path, wildcardSuffix) {
		r.wildcard = true
		path = strings.TrimSuffix(path, wildcardSuffix)
	}
	r.segments = splitPath(path)
	for _, seg := range r.segments {
		if seg == "..." {
			return nil, fmt.Errorf("route %q: wildcard is only allowed at the end", raw)
		}
		if seg == ":" {
			return nil, fmt.Errorf("route %q: empty wildcard name", raw)
		}
	}
	return r, nil
}

// ComponentID returns the component the route dispatches to.
func (r *Route) ComponentID() string { return r.componentID }

// String returns the raw route pattern.
func (r *Route) String() string { return r.raw }

// Match matches a request path against the route.
func (r *Route) Match(path string) (*RouteMatch, bool) {
	parts := splitPath(path)
	if len(parts) < len(r.segments) || (!r.wildcard && len(parts) != len(r.segments)) {
		return nil, false
	}

	var named map[string]string
	for i, seg := range r.segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			if named == nil {
				named = make(map[string]string)
			}
			named[name] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}

	m := &RouteMatch{
		componentID:    r.componentID,
		rawRoute:       r.raw,
		namedWildcards: named,
	}
	if r.wildcard {
		m.prefix = "/" + strings.Join(r.segments, "/")
		if rest := parts[len(r.segments):]; len(rest) > 0 {
			m.trailingWildcard = "/" + strings.Join(rest, "/")
			if strings.HasSuffix(path, "/") {
				m.trailingWildcard += "/"
			}
		}
	}
	return m, true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// RouteMatch is the result of matching a request to a component route.
type RouteMatch struct {
	namedWildcards   map[string]string
	componentID      string
	rawRoute         string
	prefix           string
	trailingWildcard string
}

// ComponentID returns the matched component.
func (m *RouteMatch) ComponentID() string { return m.componentID }

// RawRoute returns the route exactly as declared.
func (m *RouteMatch) RawRoute() string { return m.rawRoute }

// BasedRoute returns the route including the application base path. The base
// is always "/", so this equals the raw route.
func (m *RouteMatch) BasedRoute() string { return m.rawRoute }

// RawRouteOrPrefix returns the route with a trailing wildcard stripped.
func (m *RouteMatch) RawRouteOrPrefix() string {
	if m.prefix != "" {
		return m.prefix
	}
	return m.rawRoute
}

// TrailingWildcard returns the part of the path matched by a trailing "/...".
func (m *RouteMatch) TrailingWildcard() string { return m.trailingWildcard }

// NamedWildcard is one ":name" capture.
type NamedWildcard struct {
	Name  string
	Value string
}

// NamedWildcards returns the ":name" captures sorted by name.
func (m *RouteMatch) NamedWildcards() []NamedWildcard {
	out := make([]NamedWildcard, 0, len(m.namedWildcards))
	for name, value := range m.namedWildcards {
		out = append(out, NamedWildcard{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
