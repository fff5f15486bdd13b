package executor

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/hanpama/batchgraph/internal/batch"
	"github.com/hanpama/batchgraph/internal/invoker"
	language "github.com/hanpama/batchgraph/internal/language"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

// frame is a field occurrence suspended until the collaborator results of
// the current level are in.
type frame struct {
	parentType *schema.Type
	field      *schema.Field
	fields     []*language.Field
	node       *resultNode

	// handles has one entry per key; nil marks a null key id.
	handles []*batch.Handle
	list    bool
	remote  *remoteCall
}

type remoteCall struct {
	collaborator string
	key          invoker.Key
	value        any
	err          error
}

// failure is placed in list slots whose key failed so that only that element
// is nulled.
type failure struct {
	kind    ErrorKind
	message string
}

// executeSelectionSet resolves every collected field of objectType against
// source, writing into node. Local and composite fields complete immediately;
// collaborator fields are suspended as frames.
func (s *executionState) executeSelectionSet(objectType *schema.Type, selectionSet language.SelectionSet, source any, node *resultNode) {
	node.kind = nodeObject
	groupedFields := collectFields(s, objectType, selectionSet)
	for _, collectedField := range groupedFields.orderedFields() {
		if node.dead() {
			return
		}
		s.executeField(objectType, source, collectedField.ResponseName, collectedField.Fields, node)
	}
}

func (s *executionState) executeField(objectType *schema.Type, source any, responseName string, fields []*language.Field, parent *resultNode) {
	fieldName := fields[0].Name
	if fieldName == "__typename" {
		parent.field(responseName, true).setLeaf(objectType.Name)
		return
	}

	fieldDef := getFieldDefinition(objectType, fieldName)
	if fieldDef == nil {
		s.fail(parent.field(responseName, false), KindValidation, fmt.Sprintf("Cannot query field %q on type %q.", fieldName, objectType.Name))
		return
	}
	node := parent.field(responseName, fieldDef.Type.IsNonNull())

	args, err := coerceArgumentValues(s.schema, fieldDef, fields[0].Arguments, s.variableValues)
	if err != nil {
		s.fail(node, KindValidation, err.Error())
		return
	}

	switch fieldDef.Resolution.Kind {
	case schema.ResolveComposite:
		s.completeValue(fieldDef.Type, fields, source, node)
	case schema.ResolveBatched:
		s.registerBatched(objectType, fieldDef, fields, source, args, node)
	case schema.ResolveRemote:
		s.registerRemote(objectType, fieldDef, fields, source, args, node)
	default:
		value, err := s.runtime.ResolveLocal(s.ctx, objectType.Name, fieldName, source, args)
		if err != nil {
			kind, msg := classifyLocal(err)
			s.fail(node, kind, msg)
			return
		}
		s.completeValue(fieldDef.Type, fields, value, node)
	}
}

// registerBatched derives the field's keys and registers them with the
// request batcher. A field whose key argument is a list registers one key per
// element and completes to a list in the same order.
func (s *executionState) registerBatched(objectType *schema.Type, fieldDef *schema.Field, fields []*language.Field, source any, args map[string]any, node *resultNode) {
	r := fieldDef.Resolution
	ids, list, err := s.keyIDs(objectType, fieldDef, source, args)
	if err != nil {
		kind, msg := classifyLocal(err)
		s.fail(node, kind, msg)
		return
	}
	extra := keyArgs(fieldDef, args)

	f := &frame{parentType: objectType, field: fieldDef, fields: fields, node: node, list: list, handles: make([]*batch.Handle, len(ids))}
	live := 0
	for i, id := range ids {
		if isNullish(id) {
			continue
		}
		key, err := invoker.NewKey(r.Operation, keyID(id), extra)
		if err != nil {
			s.releaseFrame(f)
			s.fail(node, KindInternal, err.Error())
			return
		}
		f.handles[i] = s.batcher.Register(r.Collaborator, key)
		live++
	}
	if live == 0 {
		// Null keys never reach the collaborator.
		s.completeFrame(f)
		return
	}
	s.frames = append(s.frames, f)
}

// registerRemote suspends a field on one direct collaborator call carrying
// all of its arguments.
func (s *executionState) registerRemote(objectType *schema.Type, fieldDef *schema.Field, fields []*language.Field, source any, args map[string]any, node *resultNode) {
	r := fieldDef.Resolution
	id := ""
	if fieldDef.Argument(r.KeyField) != nil {
		if v := args[r.KeyField]; !isNullish(v) {
			id = keyID(v)
		}
	} else if source != nil {
		v, err := s.runtime.ResolveLocal(s.ctx, objectType.Name, r.KeyField, source, nil)
		if err != nil {
			kind, msg := classifyLocal(err)
			s.fail(node, kind, msg)
			return
		}
		if !isNullish(v) {
			id = keyID(v)
		}
	}
	key, err := invoker.NewKey(r.Operation, id, args)
	if err != nil {
		s.fail(node, KindInternal, err.Error())
		return
	}
	s.frames = append(s.frames, &frame{
		parentType: objectType,
		field:      fieldDef,
		fields:     fields,
		node:       node,
		remote:     &remoteCall{collaborator: r.Collaborator, key: key},
	})
}

// keyIDs returns the key ids of a batched field: the value of the key
// argument when the field declares one, otherwise the key field of the parent.
func (s *executionState) keyIDs(objectType *schema.Type, fieldDef *schema.Field, source any, args map[string]any) ([]any, bool, error) {
	r := fieldDef.Resolution
	if fieldDef.Argument(r.KeyField) != nil {
		v := args[r.KeyField]
		if items, ok := v.([]any); ok {
			return items, true, nil
		}
		return []any{v}, false, nil
	}
	if source == nil {
		return []any{nil}, false, nil
	}
	v, err := s.runtime.ResolveLocal(s.ctx, objectType.Name, r.KeyField, source, nil)
	if err != nil {
		return nil, false, err
	}
	return []any{v}, false, nil
}

// keyArgs selects the arguments that take part in key identity.
func keyArgs(fieldDef *schema.Field, args map[string]any) map[string]any {
	r := fieldDef.Resolution
	out := make(map[string]any, len(args))
	for name, v := range args {
		if name == r.KeyField {
			continue
		}
		if r.Participates(name) {
			out[name] = v
		}
	}
	return out
}

func keyID(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatFloat(v, 'f', 0, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// completeFrame completes a suspended field from its settled results.
func (s *executionState) completeFrame(f *frame) {
	if f.node.dead() {
		return
	}
	collaborator := f.field.Resolution.Collaborator
	if f.remote != nil {
		if f.remote.err != nil {
			kind, msg := classifyCollaborator(collaborator, f.remote.err)
			s.fail(f.node, kind, msg)
			return
		}
		s.completeValue(f.field.Type, f.fields, f.remote.value, f.node)
		return
	}

	if !f.list {
		var value any
		if h := f.handles[0]; h != nil {
			v, err := handleResult(h)
			if err != nil {
				kind, msg := classifyCollaborator(collaborator, err)
				s.fail(f.node, kind, msg)
				return
			}
			value = v
		}
		s.completeValue(f.field.Type, f.fields, value, f.node)
		return
	}

	values := make([]any, len(f.handles))
	for i, h := range f.handles {
		if h == nil {
			continue
		}
		v, err := handleResult(h)
		if err != nil {
			kind, msg := classifyCollaborator(collaborator, err)
			values[i] = failure{kind: kind, message: msg}
			continue
		}
		values[i] = v
	}
	s.completeValue(f.field.Type, f.fields, values, f.node)
}

func handleResult(h *batch.Handle) (any, error) {
	if !h.Settled() {
		return nil, fmt.Errorf("key %s was not flushed", h.Key())
	}
	return h.Result()
}

func (s *executionState) releaseFrame(f *frame) {
	for _, h := range f.handles {
		if h != nil {
			s.batcher.Release(h)
		}
	}
}

// completeValue completes value against type t into node n.
func (s *executionState) completeValue(t *schema.TypeRef, fields []*language.Field, value any, n *resultNode) {
	if f, ok := value.(failure); ok {
		s.fail(n, f.kind, f.message)
		return
	}
	if t.IsNonNull() {
		if isNullish(value) {
			s.violation(n)
			return
		}
		t = t.OfType
	}
	if isNullish(value) {
		n.setNull()
		return
	}

	if t.Kind == schema.TypeRefKindList {
		s.completeListValue(t, fields, value, n)
		return
	}

	namedType := t.GetNamedType()
	typeObj := s.schema.Types[namedType]
	if typeObj == nil {
		if !schema.IsBuiltinScalar(namedType) {
			s.fail(n, KindInternal, fmt.Sprintf("Unknown type: %s", namedType))
			return
		}
		typeObj = &schema.Type{Name: namedType, Kind: schema.TypeKindScalar}
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := s.runtime.SerializeLeafValue(s.ctx, namedType, value)
		if err != nil {
			kind, msg := classifyLocal(err)
			s.fail(n, kind, msg)
			return
		}
		n.setLeaf(serialized)
	case schema.TypeKindObject:
		s.executeSelectionSet(typeObj, mergeSelectionSets(fields), value, n)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		s.completeAbstractValue(namedType, fields, value, n)
	default:
		s.fail(n, KindInternal, fmt.Sprintf("Cannot complete value of unexpected type: %s", typeObj.Kind))
	}
}

func (s *executionState) completeListValue(listType *schema.TypeRef, fields []*language.Field, value any, n *resultNode) {
	items, ok := value.([]any)
	if !ok {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			s.fail(n, KindInternal, fmt.Sprintf("Expected list value, got %T", value))
			return
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := listType.OfType
	slots := n.list(len(items), inner.IsNonNull())
	for i, item := range items {
		if n.dead() {
			return
		}
		s.completeValue(inner, fields, item, slots[i])
	}
}

func (s *executionState) completeAbstractValue(abstractTypeName string, fields []*language.Field, value any, n *resultNode) {
	typeName, err := s.runtime.ResolveType(s.ctx, abstractTypeName, value)
	if err != nil {
		kind, msg := classifyLocal(err)
		s.fail(n, kind, msg)
		return
	}
	objectType := s.schema.Types[typeName]
	if objectType == nil || objectType.Kind != schema.TypeKindObject || !s.schema.Implements(typeName, abstractTypeName) {
		s.fail(n, KindInternal, fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstractTypeName, typeName))
		return
	}
	s.executeSelectionSet(objectType, mergeSelectionSets(fields), value, n)
}

// fail records a located error for n and nulls it, or its nearest nullable
// ancestor when n is Non-Null. Nothing is recorded under a subtree that is
// already null.
func (s *executionState) fail(n *resultNode, kind ErrorKind, message string) {
	if n.dead() {
		return
	}
	s.errors = append(s.errors, newError(kind, message, n.path()))
	s.nullify(n)
}

// violation records a Non-Null violation for n and propagates the null.
func (s *executionState) violation(n *resultNode) {
	if n.dead() {
		return
	}
	path := n.path()
	s.errors = append(s.errors, newError(KindNonNull, fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)), path))
	s.nullify(n)
}

func (s *executionState) nullify(n *resultNode) {
	if !n.nonNull {
		n.setNull()
		return
	}
	a := n.nullableAncestor()
	if a == nil {
		a = n
	}
	a.setNull()
	a.pruned = true
}

func pathToString(path Path) string {
	result := ""
	for i, elem := range path {
		if i > 0 {
			result += "."
		}
		switch v := elem.(type) {
		case string:
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// isNullish returns true for nil interfaces and typed nils (map, slice, ptr, interface)
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
