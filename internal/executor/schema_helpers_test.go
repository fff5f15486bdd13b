package executor

import (
	"github.com/hanpama/batchgraph/internal/invoker"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

func newSchemaWithQueryType(query *schema.Type, additional ...*schema.Type) *schema.Schema {
	sch := schema.NewSchema("")
	if query != nil {
		sch.SetQueryType(query.Name)
		sch.AddType(query)
	}
	for _, t := range additional {
		sch.AddType(t)
	}
	return sch
}

func newObjectType(name string, fields ...*schema.Field) *schema.Type {
	t := schema.NewType(name, schema.TypeKindObject, "")
	for _, field := range fields {
		t.AddField(field)
	}
	return t
}

// catalogSDL is the collaborator layout shared by the batching tests.
const catalogSDL = `
type Query {
  products(ids: [ID!]!): [Product] @batched(service: "catalog", operation: "product", key: "ids")
  product(id: ID): Product @batched(service: "catalog")
}

type Product {
  id: ID!
  name: String
  sku: String!
  price: Float
  reviews(first: Int = 10): [Review!] @batched(service: "reviews", operation: "reviewsByProduct")
  recommendations(first: Int = 3): [Product!] @batched(service: "recommendations", args: [])
  stats: ProductStats @composite
}

type ProductStats {
  reviewCount: Int @batched(service: "reviews", operation: "reviewCount")
}

type Review {
  id: ID!
  rating: Int!
  body: String
}
`

func productKey(id string) invoker.Key { return invoker.Key{Operation: "product", ID: id} }

func product(id string) map[string]any {
	return map[string]any{"id": id, "name": "Product " + id, "sku": "SKU-" + id}
}
