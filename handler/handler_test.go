package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-http-trigger/engine"
)

type recordingExports struct {
	looked []string
	called []string
}

type recordingFunc struct {
	exports *recordingExports
	name    string
}

func (f *recordingFunc) Call(_ context.Context, _ ...uint64) ([]uint64, error) {
	f.exports.called = append(f.exports.called, f.name)
	return nil, nil
}

func (e *recordingExports) ExportedFunction(name string) engine.Function {
	e.looked = append(e.looked, name)
	return &recordingFunc{exports: e, name: name}
}

func TestLoad_OnlyCallsOwnEntrypoint(t *testing.T) {
	for _, typ := range Types {
		t.Run(typ.String(), func(t *testing.T) {
			exports := &recordingExports{}
			proxy, err := typ.Load(exports)
			require.NoError(t, err)
			assert.Equal(t, typ, proxy.Type())

			store := engine.NewStore("c", nil)
			require.NoError(t, proxy.CallHandle(context.Background(), store, 1, 2))

			assert.Equal(t, []string{typ.Entrypoint()}, exports.looked)
			assert.Equal(t, []string{typ.Entrypoint()}, exports.called)
			for _, other := range Types {
				if other != typ {
					assert.NotContains(t, exports.called, other.Entrypoint())
				}
			}
		})
	}
}

type missingExports struct{}

func (missingExports) ExportedFunction(string) engine.Function { return nil }

func TestLoad_MissingEntrypoint(t *testing.T) {
	_, err := V2023_10_18.Load(missingExports{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), V2023_10_18Interface)
}

func TestLoad_UnknownTypePanics(t *testing.T) {
	assert.Panics(t, func() { _, _ = Type(42).Load(missingExports{}) })
}

type failingFunc struct{}

func (failingFunc) Call(context.Context, ...uint64) ([]uint64, error) {
	return nil, errors.New("trap")
}

type fixedExports struct{ fn engine.Function }

func (e fixedExports) ExportedFunction(string) engine.Function { return e.fn }

func TestCallHandle_WrapsError(t *testing.T) {
	proxy, err := Latest.Load(fixedExports{fn: failingFunc{}})
	require.NoError(t, err)

	err = proxy.CallHandle(context.Background(), engine.NewStore("c", nil), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trap")
	assert.Contains(t, err.Error(), LatestInterface)
}

func TestParseType(t *testing.T) {
	for _, typ := range Types {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	_, err := ParseType("2024-01-01")
	assert.Error(t, err)
}

func TestFromExports(t *testing.T) {
	tests := []struct {
		name    string
		exports []string
		want    Type
		wantErr bool
	}{
		{
			name:    "latest",
			exports: []string{"memory", "cabi_realloc", LatestInterface + "#handle"},
			want:    Latest,
		},
		{
			name:    "2023-11-10",
			exports: []string{V2023_11_10Interface + "#handle"},
			want:    V2023_11_10,
		},
		{
			name:    "2023-10-18",
			exports: []string{V2023_10_18Interface + "#handle"},
			want:    V2023_10_18,
		},
		{
			name:    "unsupported version",
			exports: []string{"wasi:http/incoming-handler@0.3.0#handle"},
			wantErr: true,
		},
		{
			name:    "ambiguous",
			exports: []string{LatestInterface + "#handle", V2023_10_18Interface + "#handle"},
			wantErr: true,
		},
		{
			name:    "none",
			exports: []string{"_start"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromExports(tt.exports)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
