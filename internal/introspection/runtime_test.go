package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/batchgraph/internal/executor"
	"github.com/hanpama/batchgraph/internal/invoker"
	language "github.com/hanpama/batchgraph/internal/language"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

const sdl = `
"Catalog entries."
type Product {
	id: ID!
	name: String
	legacyCode: String @deprecated(reason: "use sku")
	reviews(first: Int = 10): [Review!]! @batched(service: "reviews", operation: "reviewsByProduct")
}

type Review {
	rating: Int!
}

enum Category { BOOKS MUSIC }

type Query {
	hello: String
	product(id: ID!): Product @batched(service: "catalog")
}
`

func execute(t *testing.T, query string) (*executor.ExecutionResult, *invoker.Static) {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	static := &invoker.Static{}
	w := Wrap(nil, sch)
	exec, err := executor.New(w.Schema, w.Runtime, invoker.Set{"catalog": static, "reviews": static})
	require.NoError(t, err)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	res, err := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.NoError(t, err)
	return res, static
}

func TestIntrospection_RootTypes(t *testing.T) {
	res, static := execute(t, `{ __schema { queryType { name } mutationType { name } } }`)

	// Pattern: Result comparison
	want := &executor.ExecutionResult{
		Data: map[string]any{"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query"},
			"mutationType": nil,
		}},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, static.Requests())
}

func TestIntrospection_Type(t *testing.T) {
	res, _ := execute(t, `{
		__type(name: "Product") {
			kind name description
			fields {
				name
				type { kind name ofType { kind name ofType { kind name ofType { name } } } }
				args { name defaultValue }
			}
		}
	}`)

	scalar := func(kind, name string) map[string]any {
		return map[string]any{"kind": kind, "name": name, "ofType": nil}
	}
	// Pattern: Result comparison
	want := &executor.ExecutionResult{
		Data: map[string]any{"__type": map[string]any{
			"kind":        "OBJECT",
			"name":        "Product",
			"description": "Catalog entries.",
			"fields": []any{
				map[string]any{
					"name": "id",
					"type": map[string]any{"kind": "NON_NULL", "name": nil, "ofType": scalar("SCALAR", "ID")},
					"args": []any{},
				},
				map[string]any{"name": "name", "type": scalar("SCALAR", "String"), "args": []any{}},
				map[string]any{
					"name": "reviews",
					"type": map[string]any{"kind": "NON_NULL", "name": nil, "ofType": map[string]any{
						"kind": "LIST", "name": nil, "ofType": map[string]any{
							"kind": "NON_NULL", "name": nil, "ofType": map[string]any{"name": "Review"},
						},
					}},
					"args": []any{map[string]any{"name": "first", "defaultValue": "10"}},
				},
			},
		}},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospection_DeprecatedAndEnums(t *testing.T) {
	res, _ := execute(t, `{
		product: __type(name: "Product") { fields(includeDeprecated: true) { name isDeprecated deprecationReason } }
		category: __type(name: "Category") { enumValues { name } fields { name } }
		missing: __type(name: "Nope") { name }
	}`)

	field := func(name string, reason any) map[string]any {
		return map[string]any{"name": name, "isDeprecated": reason != nil, "deprecationReason": reason}
	}
	// Pattern: Result comparison
	want := &executor.ExecutionResult{
		Data: map[string]any{
			"product": map[string]any{"fields": []any{
				field("id", nil),
				field("name", nil),
				field("legacyCode", "use sku"),
				field("reviews", nil),
			}},
			"category": map[string]any{
				"enumValues": []any{map[string]any{"name": "BOOKS"}, map[string]any{"name": "MUSIC"}},
				"fields":     nil,
			},
			"missing": nil,
		},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospection_QueryFieldsHideMetaFields(t *testing.T) {
	res, _ := execute(t, `{ __schema { queryType { fields { name } } } }`)

	// Pattern: Result comparison
	want := &executor.ExecutionResult{
		Data: map[string]any{"__schema": map[string]any{"queryType": map[string]any{
			"fields": []any{map[string]any{"name": "hello"}, map[string]any{"name": "product"}},
		}}},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestWrap_LeavesOriginalSchemaUntouched(t *testing.T) {
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	w := Wrap(nil, sch)

	require.Nil(t, sch.Types["__Schema"])
	require.Nil(t, sch.GetQueryType().Field("__schema"))
	require.NotNil(t, w.Schema.Types["__Schema"])
	require.NotNil(t, w.Schema.GetQueryType().Field("__type"))
}

func TestTypename(t *testing.T) {
	res, _ := execute(t, `{ __typename hello }`)

	// Pattern: Result comparison
	want := &executor.ExecutionResult{
		Data:   map[string]any{"__typename": "Query", "hello": nil},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}
