package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

func buildTestdata(t *testing.T) *Schema {
	t.Helper()
	s, err := Build(
		&ast.Source{Name: "base.graphql", Input: mustReadFile(t, "testdata/base.graphql")},
		&ast.Source{Name: "extensions.graphql", Input: mustReadFile(t, "testdata/extensions.graphql")},
	)
	require.NoError(t, err, "failed to build schema")
	return s
}

func TestBuildMergesExtensions(t *testing.T) {
	s := buildTestdata(t)

	product := s.Types["Product"]
	require.NotNil(t, product)
	var names []string
	for _, f := range product.Fields {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"id", "name", "price", "category", "reviews", "stats", "recommendations"}, names)
	require.Equal(t, "A catalog item.", product.Description)
	require.Equal(t, "Query", s.QueryType)
	require.Equal(t, "Mutation", s.MutationType)
}

func TestBuildReadsResolutionDirectives(t *testing.T) {
	s := buildTestdata(t)

	cases := []struct {
		coord string
		want  Resolution
	}{
		{"Product.name", Resolution{Kind: ResolveLocal}},
		{"Product.stats", Resolution{Kind: ResolveComposite}},
		{"Product.reviews", Resolution{Kind: ResolveBatched, Collaborator: "reviews", Operation: "reviewsByProduct", KeyField: "id", KeyArgs: []string{"first"}}},
		{"Product.recommendations", Resolution{Kind: ResolveBatched, Collaborator: "recommendations", Operation: "recommendations", KeyField: "id"}},
		{"ProductStats.reviewCount", Resolution{Kind: ResolveBatched, Collaborator: "reviews", Operation: "reviewCount", KeyField: "id"}},
		{"Query.product", Resolution{Kind: ResolveBatched, Collaborator: "catalog", Operation: "product", KeyField: "id"}},
		{"Mutation.addReview", Resolution{Kind: ResolveRemote, Collaborator: "reviews", Operation: "addReview", KeyField: "id"}},
	}
	for _, tc := range cases {
		t.Run(tc.coord, func(t *testing.T) {
			typ, field := splitCoord(tc.coord)
			f := s.Types[typ].Field(field)
			require.NotNil(t, f)
			if diff := cmp.Diff(tc.want, f.Resolution); diff != "" {
				t.Fatalf("resolution mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildDefaultsAndDeprecation(t *testing.T) {
	s := buildTestdata(t)

	first := s.Types["Product"].Field("reviews").Argument("first")
	require.NotNil(t, first)
	require.EqualValues(t, 10, first.DefaultValue)

	games := s.Types["Category"].EnumValues[2]
	require.Equal(t, "GAMES", games.Name)
	require.True(t, games.IsDeprecated)
	require.Equal(t, "moved", games.DeprecationReason)
}

func TestCollaborators(t *testing.T) {
	s := buildTestdata(t)
	require.Equal(t, []string{"catalog", "recommendations", "reviews"}, s.Collaborators())
}

func TestRenderRoundTrip(t *testing.T) {
	s := buildTestdata(t)
	sdl := Render(s)

	require.Contains(t, sdl, `@batched(service: "reviews", operation: "reviewsByProduct", args: ["first"])`)
	require.Contains(t, sdl, `stats: ProductStats @composite`)
	require.Contains(t, sdl, `addReview(input: ReviewInput!): Review @remote(service: "reviews")`)
	require.NotContains(t, sdl, "scalar String")

	again, err := BuildFromSDL(sdl)
	require.NoError(t, err)
	if diff := cmp.Diff(s, again); diff != "" {
		t.Fatalf("schema changed after render (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsInvalidSchemas(t *testing.T) {
	cases := []struct {
		name string
		sdl  string
		msg  string
	}{
		{
			name: "missing service",
			sdl:  `type Query { a: String @batched(service: "") }`,
			msg:  "batched field has no service",
		},
		{
			name: "unknown key field",
			sdl: `type Query { p: P }
type P { id: ID  q: String @batched(service: "x", key: "missing") }`,
			msg: `key "missing" is neither an argument nor a field of P`,
		},
		{
			name: "undeclared key arg",
			sdl: `type Query { p: P }
type P { id: ID  q(first: Int): String @batched(service: "x", args: ["last"]) }`,
			msg: `key argument "last" is not declared`,
		},
		{
			name: "conflicting directives",
			sdl:  `type Query { a: String @batched(service: "x") @composite }`,
			msg:  "conflicting resolution directives",
		},
		{
			name: "composite scalar",
			sdl:  `type Query { a: String @composite }`,
			msg:  "composite field must return an object type",
		},
		{
			name: "syntax",
			sdl:  `type Query {`,
			msg:  "load schema",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildFromSDL(tc.sdl)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestBuildFromFilesDirectory(t *testing.T) {
	s, err := BuildFromFiles("testdata")
	require.NoError(t, err)
	require.NotNil(t, s.Types["ReviewInput"])

	_, err = BuildFromFiles(filepath.Join("testdata", "missing.graphql"))
	require.Error(t, err)
}

func splitCoord(coord string) (string, string) {
	for i := range coord {
		if coord[i] == '.' {
			return coord[:i], coord[i+1:]
		}
	}
	return coord, ""
}

func mustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)
	return string(content)
}
