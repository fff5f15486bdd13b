// Package introspection adds __schema and __type to a schema and resolves
// them locally, without ever reaching a collaborator.
package introspection

import (
	"context"
	"sort"
	"strings"

	executor "github.com/hanpama/batchgraph/internal/executor"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

// Wrapper pairs the extended schema with the runtime that answers its
// introspection fields.
type Wrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends sch with the introspection types. Fields of other types are
// delegated to base; a nil base reads them from map sources.
func Wrap(base executor.Runtime, sch *schema.Schema) *Wrapper {
	if base == nil {
		base = &executor.SourceRuntime{}
	}
	extended := extend(sch)
	return &Wrapper{
		Runtime: &runtime{base: base, schema: extended},
		Schema:  extended,
	}
}

type runtime struct {
	base   executor.Runtime
	schema *schema.Schema
}

func (r *runtime) ResolveLocal(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *schema.Schema:
		if v, ok := r.schemaField(src, field); ok {
			return v, nil
		}
	case *schema.Type:
		if v, ok := r.typeField(src, field, args); ok {
			return v, nil
		}
	case *schema.TypeRef:
		if v, ok := r.typeRefField(src, field, args); ok {
			return v, nil
		}
	case *schema.Field:
		if v, ok := fieldField(src, field, args); ok {
			return v, nil
		}
	case *schema.InputValue:
		if v, ok := inputValueField(src, field); ok {
			return v, nil
		}
	case *schema.EnumValue:
		if v, ok := enumValueField(src, field); ok {
			return v, nil
		}
	case *schema.Directive:
		if v, ok := directiveField(src, field, args); ok {
			return v, nil
		}
	}

	if objectType == r.schema.QueryType {
		switch field {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := args["name"].(string)
			if t := r.schema.Types[name]; t != nil {
				return t, nil
			}
			return nil, nil
		}
	}
	return r.base.ResolveLocal(ctx, objectType, field, source, args)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	return r.base.SerializeLeafValue(ctx, typ, value)
}

// optional maps the zero string to null.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deprecationReason(deprecated bool, reason string) any {
	if !deprecated {
		return nil
	}
	return reason
}

func (r *runtime) lookup(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if t := r.schema.Types[name]; t != nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *runtime) schemaField(sch *schema.Schema, field string) (any, bool) {
	switch field {
	case "description":
		return optional(sch.Description), true
	case "types":
		names := make([]string, 0, len(sch.Types))
		for name := range sch.Types {
			names = append(names, name)
		}
		return r.lookup(names), true
	case "queryType":
		return sch.GetQueryType(), true
	case "mutationType":
		return sch.GetMutationType(), true
	case "subscriptionType":
		return sch.GetSubscriptionType(), true
	case "directives":
		out := make([]*schema.Directive, 0, len(sch.Directives))
		for _, d := range sch.Directives {
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, true
	}
	return nil, false
}

func (r *runtime) typeField(t *schema.Type, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optional(t.Description), true
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil, true
		}
		return *t.SpecifiedByURL, true
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		out := []*schema.Field{}
		for _, f := range t.Fields {
			if strings.HasPrefix(f.Name, "__") || (f.IsDeprecated && !boolArg(args, "includeDeprecated")) {
				continue
			}
			out = append(out, f)
		}
		return out, true
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		return r.lookup(t.Interfaces), true
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil, true
		}
		return r.lookup(t.PossibleTypes), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		out := []*schema.EnumValue{}
		for _, ev := range t.EnumValues {
			if !ev.IsDeprecated || boolArg(args, "includeDeprecated") {
				out = append(out, ev)
			}
		}
		return out, true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return filterInputValues(t.InputFields, args), true
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return t.OneOf, true
	case "ofType":
		// Wrappers are TypeRefs; a named type never has one.
		return nil, true
	}
	return nil, false
}

func (r *runtime) typeRefField(tr *schema.TypeRef, field string, args map[string]any) (any, bool) {
	if tr.Kind == schema.TypeRefKindNamed {
		def := r.schema.Types[tr.Named]
		if def == nil {
			return nil, true
		}
		return r.typeField(def, field, args)
	}
	switch field {
	case "kind":
		return string(tr.Kind), true
	case "ofType":
		return tr.OfType, true
	}
	return nil, true
}

func filterInputValues(values []*schema.InputValue, args map[string]any) []*schema.InputValue {
	out := []*schema.InputValue{}
	for _, v := range values {
		if !v.IsDeprecated || boolArg(args, "includeDeprecated") {
			out = append(out, v)
		}
	}
	return out
}

func fieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return optional(f.Description), true
	case "args":
		return filterInputValues(f.Arguments, args), true
	case "type":
		return f.Type, true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func inputValueField(v *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "type":
		return v.Type, true
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil, true
		}
		return schema.FormatValue(v.DefaultValue), true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func enumValueField(ev *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return ev.Name, true
	case "description":
		return optional(ev.Description), true
	case "isDeprecated":
		return ev.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(ev.IsDeprecated, ev.DeprecationReason), true
	}
	return nil, false
}

func directiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return optional(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		return append([]string(nil), d.Locations...), true
	case "args":
		return filterInputValues(d.Arguments, args), true
	}
	return nil, false
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}
