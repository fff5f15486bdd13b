package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, int64(1<<20), c.Server.MaxBodyBytes)
	require.Equal(t, 12, c.Engine.MaxDepth)
	require.Equal(t, 10*time.Second, c.Engine.RequestTimeout)
	require.Zero(t, c.Engine.BatchTimeout)
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, "/metrics", c.Metrics.Path)
	require.Equal(t, Default(), c)
}

func TestParse_File(t *testing.T) {
	c, err := Parse([]byte(`
server:
  addr: 127.0.0.1:9000
  pretty: true
  cors_origins: ["*"]
engine:
  max_depth: 8
  batch_timeout: 250ms
  max_concurrent_flushes: 4
collaborators:
  reviews:
    endpoints: [localhost:7001, localhost:7002]
  catalog:
    endpoints: [localhost:7000]
    max_conns: 8
    rpc_timeout: 1s
log:
  level: debug
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", c.Server.Addr)
	require.True(t, c.Server.Pretty)
	require.Equal(t, 8, c.Engine.MaxDepth)
	require.Equal(t, 250*time.Millisecond, c.Engine.BatchTimeout)
	require.Equal(t, 4, c.Engine.MaxConcurrentFlushes)
	require.Equal(t, []string{"catalog", "reviews"}, c.CollaboratorNames())
	require.Equal(t, CollaboratorConfig{Endpoints: []string{"localhost:7000"}, MaxConns: 8, RPCTimeout: time.Second}, c.Collaborators["catalog"])
	require.Equal(t, CollaboratorConfig{Endpoints: []string{"localhost:7001", "localhost:7002"}, MaxConns: 2, RPCTimeout: 3 * time.Second}, c.Collaborators["reviews"])
	require.Equal(t, map[string][]string{
		"catalog": {"localhost:7000"},
		"reviews": {"localhost:7001", "localhost:7002"},
	}, c.Endpoints())
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("engine:\n  max_dept: 3\n"))
	require.Error(t, err)
}

func TestLoad_ResolvesSchemaPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.graphql"), []byte("type Query { a: String }"), 0o644))
	path := filepath.Join(dir, "batchgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema:\n  files: [schema.graphql]\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "schema.graphql")}, c.Schema.Files)
	require.NoError(t, c.Validate())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c, err := Parse([]byte(`
schema:
  files: [/does/not/exist.graphql]
engine:
  max_depth: -1
  max_concurrent_flushes: -2
collaborators:
  catalog: {}
log:
  level: loud
`))
	require.NoError(t, err)

	err = c.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "schema.files")
	require.Contains(t, msg, "engine.max_depth")
	require.Contains(t, msg, "engine.max_concurrent_flushes")
	require.Contains(t, msg, "collaborators.catalog: no endpoints")
	require.Contains(t, msg, `log.level: unknown level "loud"`)

	require.ErrorContains(t, Default().Validate(), "at least one file is required")
}
