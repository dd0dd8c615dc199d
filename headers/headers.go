// Package headers derives the header set a guest sees for an inbound request.
package headers

import (
	"errors"
	"maps"
	"net/http"
	"net/netip"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"

	"github.com/wippyai/wasm-http-trigger/routes"
)

// Derived header keys. The first entry is the name guests see after
// normalization, the second is the legacy CGI-style alias.
var (
	FullURL           = [2]string{"SPIN_FULL_URL", "X_FULL_URL"}
	PathInfo          = [2]string{"SPIN_PATH_INFO", "PATH_INFO"}
	MatchedRoute      = [2]string{"SPIN_MATCHED_ROUTE", "X_MATCHED_ROUTE"}
	ComponentRoute    = [2]string{"SPIN_COMPONENT_ROUTE", "X_COMPONENT_ROUTE"}
	RawComponentRoute = [2]string{"SPIN_RAW_COMPONENT_ROUTE", "X_RAW_COMPONENT_ROUTE"}
	BasePath          = [2]string{"SPIN_BASE_PATH", "X_BASE_PATH"}
	ClientAddr        = [2]string{"SPIN_CLIENT_ADDR", "X_CLIENT_ADDR"}
)

var errMissingURL = errors.New("request has no URL")

// Header is one name/value pair. Order and duplicates are significant.
type Header struct {
	Name  string
	Value string
}

// Prepare returns the inbound headers, sorted by name, followed by the
// derived routing and client headers.
func Prepare(req *http.Request, route *routes.RouteMatch, clientAddr netip.AddrPort) ([]Header, error) {
	if req.URL == nil {
		return nil, errMissingURL
	}

	res := make([]Header, 0, len(req.Header)+8)
	host := req.Host
	if host != "" {
		res = append(res, Header{Name: "host", Value: host})
	} else {
		host = "localhost"
	}
	for _, name := range slices.Sorted(maps.Keys(req.Header)) {
		for _, v := range req.Header[name] {
			if !utf8.ValidString(v) {
				continue
			}
			res = append(res, Header{Name: strings.ToLower(name), Value: v})
		}
	}

	for _, d := range ComputeDefault(req, host, route, clientAddr) {
		res = append(res, Header{Name: headerKey(d.Keys[0]), Value: d.Value})
	}
	return res, nil
}

// Default is a derived header with both of its names.
type Default struct {
	Keys  [2]string
	Value string
}

// ComputeDefault computes the routing and client headers for a request.
func ComputeDefault(req *http.Request, host string, route *routes.RouteMatch, clientAddr netip.AddrPort) []Default {
	scheme := req.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	fullURL := scheme + "://" + host + req.URL.RequestURI()

	res := []Default{
		{Keys: PathInfo, Value: route.TrailingWildcard()},
		{Keys: FullURL, Value: fullURL},
		{Keys: MatchedRoute, Value: route.BasedRoute()},
		{Keys: BasePath, Value: "/"},
		{Keys: RawComponentRoute, Value: route.RawRoute()},
		{Keys: ComponentRoute, Value: route.RawRouteOrPrefix()},
		{Keys: ClientAddr, Value: clientAddr.String()},
	}

	for _, w := range route.NamedWildcards() {
		name := strings.ToUpper(w.Name)
		res = append(res, Default{
			Keys:  [2]string{"SPIN_PATH_MATCH_" + name, "X_PATH_MATCH_" + name},
			Value: w.Value,
		})
	}
	return res
}

// Replace clears h and fills it with headers. Entries whose name is not a
// valid field name, or whose value holds control or non-ASCII bytes, are
// dropped. It returns the number of dropped entries.
func Replace(h http.Header, headers []Header) int {
	for k := range h {
		delete(h, k)
	}
	dropped := 0
	for _, hdr := range headers {
		if !httpguts.ValidHeaderFieldName(hdr.Name) || !validValue(hdr.Value) {
			dropped++
			continue
		}
		h.Add(hdr.Name, hdr.Value)
	}
	return dropped
}

func validValue(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] >= utf8.RuneSelf {
			return false
		}
	}
	return httpguts.ValidHeaderFieldValue(v)
}

func headerKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}
