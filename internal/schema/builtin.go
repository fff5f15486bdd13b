package schema

// builtinScalars are provided by every schema and never rendered.
var builtinScalars = map[string]bool{
	"String":  true,
	"Int":     true,
	"Float":   true,
	"Boolean": true,
	"ID":      true,
}

// IsBuiltinScalar reports whether name is one of the specified scalars.
func IsBuiltinScalar(name string) bool { return builtinScalars[name] }

// directivePrelude declares the resolution directives understood by Build.
// It is loaded ahead of user sources and is not rendered back out.
const directivePrelude = `
"Resolve the field by registering a key with the request batcher of a collaborator."
directive @batched(
  service: String!
  operation: String
  key: String = "id"
  args: [String!]
) on FIELD_DEFINITION

"Resolve the field with one direct, non-batched collaborator call."
directive @remote(service: String!, operation: String, key: String = "id") on FIELD_DEFINITION

"Resolve child selections against the parent value."
directive @composite on FIELD_DEFINITION
`

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Included when true.",
			Type:        NonNullType(NamedType("Boolean")),
		},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{
		{
			Name:        "if",
			Description: "Skipped when true.",
			Type:        NonNullType(NamedType("Boolean")),
		},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

func isBuiltinDirective(name string) bool {
	switch name {
	case "include", "skip", "deprecated", "specifiedBy", "oneOf", "defer", "batched", "remote", "composite":
		return true
	}
	return false
}
