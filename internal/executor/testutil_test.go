package executor

import (
	"context"
	"testing"

	"github.com/hanpama/batchgraph/internal/invoker"
	language "github.com/hanpama/batchgraph/internal/language"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

// mustBuildSchema composes SDL and fails the test on error.
func mustBuildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	if err != nil {
		t.Fatalf("schema error: %v", err)
	}
	return s
}

func mustNewExecutor(t *testing.T, sch *schema.Schema, rt Runtime, invokers invoker.Set, opts ...Option) *Executor {
	t.Helper()
	exec, err := New(sch, rt, invokers, opts...)
	if err != nil {
		t.Fatalf("executor error: %v", err)
	}
	return exec
}

// run executes query and fails the test if the request was aborted.
func run(t *testing.T, exec *Executor, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	return runContext(t, context.Background(), exec, query, vars)
}

func runContext(t *testing.T, ctx context.Context, exec *Executor, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	res, err := exec.ExecuteRequest(ctx, mustParseQuery(t, query), "", vars, nil)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	return res
}

func gqlError(kind ErrorKind, message string, path ...PathElement) GraphQLError {
	var p Path
	if len(path) > 0 {
		p = Path(path)
	}
	return newError(kind, message, p)
}
