package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/hanpama/batchgraph/internal/collab"
	"github.com/hanpama/batchgraph/internal/config"
	"github.com/hanpama/batchgraph/internal/demo"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{"batchgraph"}, args...))
	require.NoError(t, err)
	return out.String()
}

func query(t *testing.T, h http.Handler, q string) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": q})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPrintProto(t *testing.T) {
	out := run(t, "print-proto")
	require.Contains(t, out, "package batchgraph.collaborator.v1;")
	require.Contains(t, out, "service Collaborator")
	require.Contains(t, out, "rpc Fetch")
}

func TestPrintSchema_Demo(t *testing.T) {
	out := run(t, "--demo", "print-schema")
	require.Contains(t, out, `@batched(service: "reviews", operation: "reviewsByProduct")`)
	require.Contains(t, out, "@composite")
}

func TestGateway_Demo(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Introspection = true
	cfg.Metrics.Enabled = true
	g, err := newGateway(cfg, true, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close()

	got := query(t, g.handler, `{ product(id: "p2") { name reviews { rating } } __type(name: "Category") { kind } }`)
	require.Equal(t, map[string]any{"data": map[string]any{
		"product": map[string]any{"name": "Concurrency in Go", "reviews": []any{map[string]any{"rating": float64(5)}}},
		"__type":  map[string]any{"kind": "ENUM"},
	}}, got)

	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, cfg.Metrics.Path, nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGateway_IntrospectionDisabled(t *testing.T) {
	g, err := newGateway(config.Default(), true, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close()

	got := query(t, g.handler, `{ __schema { queryType { name } } }`)
	require.Nil(t, got["data"])
	require.NotEmpty(t, got["errors"])
}

func TestGateway_FromConfig(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	_, err = collab.Register(srv, demo.NewStore().Handlers())
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.graphql"), []byte(demo.SDL), 0o644))
	var collaborators strings.Builder
	for _, name := range demo.Collaborators {
		fmt.Fprintf(&collaborators, "  %s:\n    endpoints: [%q]\n", name, lis.Addr().String())
	}
	cfgPath := filepath.Join(dir, "batchgraph.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("schema:\n  files: [schema.graphql]\ncollaborators:\n"+collaborators.String()), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	g, err := newGateway(cfg, false, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close()

	got := query(t, g.handler, `{ products(ids: ["p3", "p4"]) { name recommendations(first: 1) { name } } }`)
	require.Equal(t, map[string]any{"data": map[string]any{"products": []any{
		map[string]any{"name": "Kind of Blue", "recommendations": []any{map[string]any{"name": "A Love Supreme"}}},
		map[string]any{"name": "A Love Supreme", "recommendations": []any{map[string]any{"name": "Kind of Blue"}}},
	}}}, got)
}

func TestGateway_Errors(t *testing.T) {
	_, err := newGateway(config.Default(), false, zerolog.Nop())
	require.ErrorContains(t, err, "schema.files")

	dir := t.TempDir()
	path := filepath.Join(dir, "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(demo.SDL), 0o644))
	cfg := config.Default()
	cfg.Schema.Files = []string{path}
	_, err = newGateway(cfg, false, zerolog.Nop())
	require.ErrorContains(t, err, "no invoker for collaborators")
}

func TestDemoHandlers(t *testing.T) {
	all, err := demoHandlers(nil)
	require.NoError(t, err)
	require.Len(t, all, len(demo.Collaborators))

	some, err := demoHandlers([]string{"reviews"})
	require.NoError(t, err)
	require.Len(t, some, 1)

	_, err = demoHandlers([]string{"inventory"})
	require.Error(t, err)
}
