package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-http-trigger/config"
	"github.com/wippyai/wasm-http-trigger/handler"
	"github.com/wippyai/wasm-http-trigger/internal/wasmtest"
	"github.com/wippyai/wasm-http-trigger/tracker"
)

func TestNewLogger(t *testing.T) {
	l, err := newLogger("json", "debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = newLogger("xml", "info")
	assert.Error(t, err)

	_, err = newLogger("console", "loud")
	assert.Error(t, err)
}

func parsedServeCmd(t *testing.T, argv ...string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	cmd, _, err := root.Find(append([]string{"serve"}, argv...))
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(argv))
	return cmd
}

func TestLoadArgs_FlagsAndEnv(t *testing.T) {
	t.Setenv("HTTP_TRIGGER_COMPONENT_ID", "from-env")
	t.Setenv("HTTP_TRIGGER_MAX_INSTANCE_MEMORY", "65536")

	cmd := parsedServeCmd(t, "--route", "/api/...", "--key-value", "a=b", "--follow", "*")
	v, err := newViper(cmd)
	require.NoError(t, err)

	args, err := loadArgs(v, []string{"app.wasm"})
	require.NoError(t, err)
	assert.Equal(t, "app.wasm", args.Wasm)
	assert.Equal(t, "from-env", args.ComponentID)
	assert.Equal(t, "/api/...", args.Route)
	assert.Equal(t, "127.0.0.1:3000", args.Listen)
	assert.Equal(t, []string{"a=b"}, args.KeyValues)
	assert.Equal(t, []string{"*"}, args.Follow)
	assert.Equal(t, []string{"default"}, args.KeyValueStores)
	assert.Equal(t, uint64(65536), args.MaxInstanceMemory)
}

func TestLoadArgs_Invalid(t *testing.T) {
	cmd := parsedServeCmd(t, "--route", "no-slash")
	v, err := newViper(cmd)
	require.NoError(t, err)

	_, err = loadArgs(v, []string{"app.wasm"})
	assert.Error(t, err)

	cmd = parsedServeCmd(t)
	v, err = newViper(cmd)
	require.NoError(t, err)
	_, err = loadArgs(v, nil)
	assert.Error(t, err, "wasm is required")
}

func TestBuiltinHooks_Order(t *testing.T) {
	file := uint64(1 << 20)
	resolved := &config.Resolved{Runtime: &config.RuntimeConfig{MaxInstanceMemory: &file}}

	chain, stdio, err := builtinHooks(&config.Args{KeyValues: []string{"k=v"}}, resolved, tracker.New())
	require.NoError(t, err)
	require.NotNil(t, stdio)
	assert.Equal(t, []string{
		"stdio-logging",
		"sqlite-statements",
		"key-value-seed",
		"sqlite-summary",
		"key-value-summary",
		"memory-tracker",
		"max-instance-memory",
	}, chain.Names())

	_, _, err = builtinHooks(&config.Args{KeyValues: []string{"novalue"}}, resolved, tracker.New())
	assert.Error(t, err)
}

func TestResolveHandlerType(t *testing.T) {
	typ, err := resolveHandlerType("2023-10-18", nil)
	require.NoError(t, err)
	assert.Equal(t, handler.V2023_10_18, typ)

	typ, err = resolveHandlerType("", []string{handler.Latest.Entrypoint()})
	require.NoError(t, err)
	assert.Equal(t, handler.Latest, typ)

	_, err = resolveHandlerType("", []string{"other"})
	assert.Error(t, err)
}

func TestRuntimeConfigSchemaCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"runtime-config", "schema"})
	require.NoError(t, root.Execute())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Contains(t, doc, "properties")
}

func TestDashboardModel(t *testing.T) {
	tr := tracker.New()
	m := newDashboardModel("hello", tr)

	tr.IncrementInstanceCount()
	tr.UpdateMemory(2048)
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "hello")
	assert.Contains(t, view, "Instances")
	assert.Contains(t, view, "Current memory")
	assert.Contains(t, view, "Peak memory")
	assert.Contains(t, view, "2.0KB")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestServe_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	wasmPath := filepath.Join(dir, "hello.wasm")
	require.NoError(t, os.WriteFile(wasmPath, wasmtest.Handlers(map[string]wasmtest.Behavior{
		handler.Latest.Interface(): {Respond: true, Status: 200, Body: "hello from wasm"},
	}), 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	args := &config.Args{
		Wasm:            wasmPath,
		ComponentID:     "hello",
		Route:           "/hello/...",
		Listen:          ln.Addr().String(),
		LogDir:          filepath.Join(dir, "logs"),
		KeyValueStores:  []string{"default"},
		SQLiteDatabases: []string{"default"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, args, zap.New(core), ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/hello/world")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello from wasm", string(body))

	resp, err = http.Get("http://" + ln.Addr().String() + "/elsewhere")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownGrace + 5*time.Second):
		t.Fatal("serve did not stop")
	}

	assert.Equal(t, 1, logs.FilterMessage("Serving component").Len())
	assert.FileExists(t, filepath.Join(dir, "logs", "hello_stdout.txt"))
}
