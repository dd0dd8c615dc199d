package headers

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-http-trigger/routes"
)

func match(t *testing.T, route, path string) *routes.RouteMatch {
	t.Helper()
	r, err := routes.Parse("hello", route)
	require.NoError(t, err)
	m, ok := r.Match(path)
	require.True(t, ok)
	return m
}

func lookup(hs []Header, name string) (string, bool) {
	for _, h := range hs {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func TestPrepare_DerivedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/users/42/extra?q=1", nil)
	req.Header.Set("X-Custom", "value")
	addr := netip.MustParseAddrPort("10.0.0.1:5555")

	hs, err := Prepare(req, match(t, "/users/:id/...", "/users/42/extra"), addr)
	require.NoError(t, err)

	want := map[string]string{
		"host":                     "example.com",
		"x-custom":                 "value",
		"spin-path-info":           "/extra",
		"spin-full-url":            "http://example.com/users/42/extra?q=1",
		"spin-matched-route":       "/users/:id/...",
		"spin-base-path":           "/",
		"spin-raw-component-route": "/users/:id/...",
		"spin-component-route":     "/users/:id",
		"spin-client-addr":         "10.0.0.1:5555",
		"spin-path-match-id":       "42",
	}
	for name, value := range want {
		got, ok := lookup(hs, name)
		require.True(t, ok, name)
		assert.Equal(t, value, got, name)
	}
}

func TestPrepare_InboundOrderIsStable(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("X-Zulu", "z")
	req.Header.Set("Accept", "text/plain")
	req.Header.Add("X-Multi", "1")
	req.Header.Add("X-Multi", "2")
	req.Header.Set("Cookie", "a=b")
	m := match(t, "/...", "/")
	addr := netip.MustParseAddrPort("10.0.0.1:5555")

	first, err := Prepare(req, m, addr)
	require.NoError(t, err)
	assert.Equal(t, []Header{
		{Name: "host", Value: "example.com"},
		{Name: "accept", Value: "text/plain"},
		{Name: "cookie", Value: "a=b"},
		{Name: "x-multi", Value: "1"},
		{Name: "x-multi", Value: "2"},
		{Name: "x-zulu", Value: "z"},
	}, first[:6])

	for i := 0; i < 20; i++ {
		again, err := Prepare(req, m, addr)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestPrepare_DefaultHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.Host = ""

	hs, err := Prepare(req, match(t, "/hello", "/hello"), netip.MustParseAddrPort("127.0.0.1:1"))
	require.NoError(t, err)

	url, _ := lookup(hs, "spin-full-url")
	assert.Equal(t, "http://localhost/hello", url)
	_, ok := lookup(hs, "host")
	assert.False(t, ok)
}

func TestPrepare_MissingURL(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	_, err := Prepare(req, match(t, "/hello", "/hello"), netip.AddrPort{})
	assert.Error(t, err)
}

func TestPrepare_PreservesDuplicates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.Header.Add("Accept", "a")
	req.Header.Add("Accept", "b")

	hs, err := Prepare(req, match(t, "/hello", "/hello"), netip.AddrPort{})
	require.NoError(t, err)

	var accepts []string
	for _, h := range hs {
		if h.Name == "accept" {
			accepts = append(accepts, h.Value)
		}
	}
	assert.Equal(t, []string{"a", "b"}, accepts)
}

func TestReplace_DropsInvalidWithoutFailing(t *testing.T) {
	h := http.Header{"Stale": {"x"}}

	dropped := Replace(h, []Header{
		{Name: "good", Value: "ok"},
		{Name: "bad name", Value: "ok"},
		{Name: "non-ascii", Value: "café"},
		{Name: "control", Value: "a\x01b"},
		{Name: "newline", Value: "a\nb"},
		{Name: "tabbed", Value: "a\tb"},
	})

	assert.Equal(t, 4, dropped)
	assert.Equal(t, http.Header{"Good": {"ok"}, "Tabbed": {"a\tb"}}, h)
}

func TestReplace_NonASCIIWildcardDropped(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
	m := match(t, "/files/:name", "/files/x")
	hs, err := Prepare(req, m, netip.AddrPort{})
	require.NoError(t, err)

	hs = append(hs, Header{Name: "spin-path-match-other", Value: "über"})
	Replace(req.Header, hs)

	assert.Equal(t, "x", req.Header.Get("Spin-Path-Match-Name"))
	assert.Empty(t, req.Header.Values("Spin-Path-Match-Other"))
	assert.Equal(t, "/files/:name", req.Header.Get("Spin-Matched-Route"))
}
