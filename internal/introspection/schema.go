package introspection

import (
	schema "github.com/hanpama/batchgraph/internal/schema"
)

func named(name string) *schema.TypeRef { return schema.NamedType(name) }

func nonNull(name string) *schema.TypeRef { return schema.NonNullType(named(name)) }

// listOf returns [name!] optionally wrapped in a non-null.
func listOf(name string, required bool) *schema.TypeRef {
	t := schema.ListType(nonNull(name))
	if required {
		return schema.NonNullType(t)
	}
	return t
}

func includeDeprecated() *schema.InputValue {
	return schema.NewInputValue("includeDeprecated", "", named("Boolean")).SetDefault(false)
}

// extend returns a copy of original with the introspection types registered
// and __schema/__type added to the query root. original is left untouched.
func extend(original *schema.Schema) *schema.Schema {
	extended := &schema.Schema{
		QueryType:        original.QueryType,
		MutationType:     original.MutationType,
		SubscriptionType: original.SubscriptionType,
		Types:            make(map[string]*schema.Type, len(original.Types)+8),
		Directives:       original.Directives,
		Description:      original.Description,
	}
	for name, typ := range original.Types {
		extended.Types[name] = typ
	}
	for _, t := range []*schema.Type{
		schemaType(), typeType(), fieldType(), inputValueType(),
		enumValueType(), directiveType(), typeKindEnum(), directiveLocationEnum(),
	} {
		extended.AddType(t)
	}

	query := original.GetQueryType()
	if query == nil {
		return extended
	}
	root := schema.NewType(query.Name, query.Kind, query.Description)
	root.Interfaces = query.Interfaces
	root.Fields = append(append([]*schema.Field(nil), query.Fields...),
		schema.NewField("__schema", "Access the current type schema of this server.", nonNull("__Schema")),
		schema.NewField("__type", "Request the type information of a single type.", named("__Type")).
			AddArgument(schema.NewInputValue("name", "The name of the type to look up.", nonNull("String"))),
	)
	extended.AddType(root)
	return extended
}

func schemaType() *schema.Type {
	return schema.NewType("__Schema", schema.TypeKindObject, "A GraphQL Schema defines the capabilities of a GraphQL server.").
		AddField(schema.NewField("description", "", named("String"))).
		AddField(schema.NewField("types", "A list of all types supported by this server.", listOf("__Type", true))).
		AddField(schema.NewField("queryType", "The type that query operations will be rooted at.", nonNull("__Type"))).
		AddField(schema.NewField("mutationType", "If this server supports mutation, the type that mutation operations will be rooted at.", named("__Type"))).
		AddField(schema.NewField("subscriptionType", "If this server support subscription, the type that subscription operations will be rooted at.", named("__Type"))).
		AddField(schema.NewField("directives", "A list of all directives supported by this server.", listOf("__Directive", true)))
}

func typeType() *schema.Type {
	return schema.NewType("__Type", schema.TypeKindObject, "The fundamental unit of any GraphQL Schema is the type.").
		AddField(schema.NewField("kind", "", nonNull("__TypeKind"))).
		AddField(schema.NewField("name", "", named("String"))).
		AddField(schema.NewField("description", "", named("String"))).
		AddField(schema.NewField("specifiedByURL", "", named("String"))).
		AddField(schema.NewField("fields", "", listOf("__Field", false)).AddArgument(includeDeprecated())).
		AddField(schema.NewField("interfaces", "", listOf("__Type", false))).
		AddField(schema.NewField("possibleTypes", "", listOf("__Type", false))).
		AddField(schema.NewField("enumValues", "", listOf("__EnumValue", false)).AddArgument(includeDeprecated())).
		AddField(schema.NewField("inputFields", "", listOf("__InputValue", false)).AddArgument(includeDeprecated())).
		AddField(schema.NewField("ofType", "", named("__Type"))).
		AddField(schema.NewField("isOneOf", "", named("Boolean")))
}

func fieldType() *schema.Type {
	return schema.NewType("__Field", schema.TypeKindObject, "").
		AddField(schema.NewField("name", "", nonNull("String"))).
		AddField(schema.NewField("description", "", named("String"))).
		AddField(schema.NewField("args", "", listOf("__InputValue", true)).AddArgument(includeDeprecated())).
		AddField(schema.NewField("type", "", nonNull("__Type"))).
		AddField(schema.NewField("isDeprecated", "", nonNull("Boolean"))).
		AddField(schema.NewField("deprecationReason", "", named("String")))
}

func inputValueType() *schema.Type {
	return schema.NewType("__InputValue", schema.TypeKindObject, "").
		AddField(schema.NewField("name", "", nonNull("String"))).
		AddField(schema.NewField("description", "", named("String"))).
		AddField(schema.NewField("type", "", nonNull("__Type"))).
		AddField(schema.NewField("defaultValue", "", named("String"))).
		AddField(schema.NewField("isDeprecated", "", nonNull("Boolean"))).
		AddField(schema.NewField("deprecationReason", "", named("String")))
}

func enumValueType() *schema.Type {
	return schema.NewType("__EnumValue", schema.TypeKindObject, "").
		AddField(schema.NewField("name", "", nonNull("String"))).
		AddField(schema.NewField("description", "", named("String"))).
		AddField(schema.NewField("isDeprecated", "", nonNull("Boolean"))).
		AddField(schema.NewField("deprecationReason", "", named("String")))
}

func directiveType() *schema.Type {
	return schema.NewType("__Directive", schema.TypeKindObject, "").
		AddField(schema.NewField("name", "", nonNull("String"))).
		AddField(schema.NewField("description", "", named("String"))).
		AddField(schema.NewField("isRepeatable", "", nonNull("Boolean"))).
		AddField(schema.NewField("locations", "", listOf("__DirectiveLocation", true))).
		AddField(schema.NewField("args", "", listOf("__InputValue", true)).AddArgument(includeDeprecated()))
}

func enumType(name string, values ...string) *schema.Type {
	t := schema.NewType(name, schema.TypeKindEnum, "")
	for _, v := range values {
		t.AddEnumValue(schema.NewEnumValue(v, ""))
	}
	return t
}

func typeKindEnum() *schema.Type {
	return enumType("__TypeKind",
		"SCALAR", "OBJECT", "INTERFACE", "UNION", "ENUM", "INPUT_OBJECT", "LIST", "NON_NULL")
}

func directiveLocationEnum() *schema.Type {
	return enumType("__DirectiveLocation",
		"QUERY", "MUTATION", "SUBSCRIPTION", "FIELD", "FRAGMENT_DEFINITION", "FRAGMENT_SPREAD",
		"INLINE_FRAGMENT", "VARIABLE_DEFINITION", "SCHEMA", "SCALAR", "OBJECT", "FIELD_DEFINITION",
		"ARGUMENT_DEFINITION", "INTERFACE", "UNION", "ENUM", "ENUM_VALUE", "INPUT_OBJECT",
		"INPUT_FIELD_DEFINITION")
}
