package executor

import (
	"fmt"

	language "github.com/hanpama/batchgraph/internal/language"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

// validator checks an operation against the schema before any field is
// resolved: unknown fields and arguments, argument values, required
// arguments, leaf and composite selections, fragment cycles and depth.
type validator struct {
	schema   *schema.Schema
	document *language.QueryDocument
	vars     map[string]any
	maxDepth int

	errors        []GraphQLError
	depthExceeded bool
	active        map[string]bool
}

func validateOperation(sch *schema.Schema, doc *language.QueryDocument, root *schema.Type, op *language.OperationDefinition, vars map[string]any, maxDepth int) []GraphQLError {
	v := &validator{schema: sch, document: doc, vars: vars, maxDepth: maxDepth, active: map[string]bool{}}
	v.selectionSet(root, op.SelectionSet, Path{}, 0)
	return v.errors
}

func (v *validator) add(kind ErrorKind, path Path, format string, args ...any) {
	if len(path) == 0 {
		path = nil
	}
	v.errors = append(v.errors, newError(kind, fmt.Sprintf(format, args...), path))
}

func (v *validator) selectionSet(parent *schema.Type, set language.SelectionSet, path Path, depth int) {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *language.Field:
			v.field(parent, sel, path, depth+1)
		case *language.InlineFragment:
			t := parent
			if sel.TypeCondition != "" {
				t = v.compositeType(sel.TypeCondition, path)
				if t == nil {
					continue
				}
			}
			v.selectionSet(t, sel.SelectionSet, path, depth)
		case *language.FragmentSpread:
			def := getFragmentDefinition(v.document, sel.Name)
			if def == nil {
				v.add(KindValidation, path, "Unknown fragment %q.", sel.Name)
				continue
			}
			if v.active[sel.Name] {
				v.add(KindValidation, path, "Cannot spread fragment %q within itself.", sel.Name)
				continue
			}
			t := v.compositeType(def.TypeCondition, path)
			if t == nil {
				continue
			}
			v.active[sel.Name] = true
			v.selectionSet(t, def.SelectionSet, path, depth)
			delete(v.active, sel.Name)
		}
	}
}

func (v *validator) compositeType(name string, path Path) *schema.Type {
	t := v.schema.Types[name]
	if t == nil {
		v.add(KindValidation, path, "Unknown type %q.", name)
		return nil
	}
	switch t.Kind {
	case schema.TypeKindObject, schema.TypeKindInterface, schema.TypeKindUnion:
		return t
	}
	v.add(KindValidation, path, "Fragment cannot condition on non composite type %q.", name)
	return nil
}

func (v *validator) field(parent *schema.Type, f *language.Field, path Path, depth int) {
	responseName := f.Alias
	if responseName == "" {
		responseName = f.Name
	}
	fieldPath := appendPath(path, responseName)

	if v.maxDepth > 0 && depth > v.maxDepth {
		if !v.depthExceeded {
			v.depthExceeded = true
			v.add(KindDepthLimit, fieldPath, "Query exceeds the maximum depth of %d.", v.maxDepth)
		}
		return
	}

	if f.Name == "__typename" {
		if len(f.SelectionSet) > 0 {
			v.add(KindValidation, fieldPath, "Field %q must not have a selection since type \"String\" has no subfields.", f.Name)
		}
		return
	}

	var def *schema.Field
	if parent.Kind == schema.TypeKindObject || parent.Kind == schema.TypeKindInterface {
		def = parent.Field(f.Name)
	}
	if def == nil {
		v.add(KindValidation, fieldPath, "Cannot query field %q on type %q.", f.Name, parent.Name)
		return
	}

	if _, err := coerceArgumentValues(v.schema, def, f.Arguments, v.vars); err != nil {
		v.add(KindValidation, fieldPath, "%s", err.Error())
	}

	named := def.Type.GetNamedType()
	t := v.schema.Types[named]
	leaf := t == nil || t.Kind == schema.TypeKindScalar || t.Kind == schema.TypeKindEnum
	switch {
	case leaf && len(f.SelectionSet) > 0:
		v.add(KindValidation, fieldPath, "Field %q must not have a selection since type %q has no subfields.", f.Name, named)
	case !leaf && len(f.SelectionSet) == 0:
		v.add(KindValidation, fieldPath, "Field %q of type %q must have a selection of subfields.", f.Name, named)
	case !leaf:
		v.selectionSet(t, f.SelectionSet, fieldPath, depth)
	}
}
