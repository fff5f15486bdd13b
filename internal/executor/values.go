package executor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	language "github.com/hanpama/batchgraph/internal/language"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

// coerceVariableValues coerces variable values according to their types
func coerceVariableValues(
	sch *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, error) {
	if variableValues == nil {
		variableValues = make(map[string]any)
	}
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		if !isInputType(sch, t.Name()) {
			return nil, fmt.Errorf("variable $%s cannot be of non-input type %s", name, t.String())
		}
		val, ok := variableValues[name]
		if !ok {
			if v2, ok2 := variableValues[strings.TrimPrefix(name, "$")]; ok2 {
				val = v2
				ok = true
			}
		}
		if !ok {
			if varDef.DefaultValue != nil {
				val = astValueToGo(varDef.DefaultValue)
			} else if t.NonNull {
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			} else {
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceValue(sch, val, typeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces the arguments of one field occurrence,
// applying declared defaults. Unknown arguments and missing required ones are
// errors.
func coerceArgumentValues(
	sch *schema.Schema,
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	variableValues map[string]any,
) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, arg := range arguments {
		argDef := fieldDef.Argument(arg.Name)
		if argDef == nil {
			return nil, fmt.Errorf("unknown argument %q on field %q", arg.Name, fieldDef.Name)
		}
		if arg.Value != nil && arg.Value.Kind == language.Variable {
			if _, ok := variableValues[arg.Value.Raw]; !ok {
				continue
			}
		}
		val := valueFromASTWithVars(arg.Value, variableValues)
		cv, err := coerceValue(sch, val, argDef.Type)
		if err != nil {
			return nil, fmt.Errorf("argument %q of field %q cannot be coerced: %v", arg.Name, fieldDef.Name, err)
		}
		coerced[arg.Name] = cv
	}
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		if _, ok := coerced[name]; ok {
			continue
		}
		if argDef.DefaultValue != nil {
			cv, err := coerceValue(sch, argDef.DefaultValue, argDef.Type)
			if err != nil {
				return nil, fmt.Errorf("default of argument %q on field %q: %v", name, fieldDef.Name, err)
			}
			coerced[name] = cv
		} else if schema.IsNonNull(argDef.Type) {
			return nil, fmt.Errorf("argument %q of required type %s was not provided", name, renderType(argDef.Type))
		}
	}
	return coerced, nil
}

// valueFromASTWithVars converts an AST value to a runtime value, substituting
// variables at any nesting level.
func valueFromASTWithVars(value *language.Value, variableValues map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		name := value.Raw
		if v, ok := variableValues[name]; ok {
			return v
		}
		return nil
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromASTWithVars(c.Value, variableValues)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			m[f.Name] = valueFromASTWithVars(f.Value, variableValues)
		}
		return m
	default:
		return astValueToGo(value)
	}
}

// astValueToGo converts a constant AST value to a Go value
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		if iv, err := strconv.Atoi(value.Raw); err == nil {
			return iv
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.EnumValue:
		return value.Raw
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}

// coerceValue coerces an input value to the specified GraphQL type
func coerceValue(sch *schema.Schema, value any, targetType *schema.TypeRef) (any, error) {
	if schema.IsNonNull(targetType) {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return coerceValue(sch, value, schema.Unwrap(targetType))
	}

	if value == nil {
		return nil, nil
	}

	if targetType.Kind == schema.TypeRefKindList {
		return coerceListValue(sch, value, targetType)
	}

	namedType := schema.GetNamedType(targetType)
	switch namedType {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	}

	t := sch.Types[namedType]
	if t == nil {
		return nil, fmt.Errorf("unknown type %s", namedType)
	}
	switch t.Kind {
	case schema.TypeKindEnum:
		return coerceToEnum(t, value)
	case schema.TypeKindInputObject:
		return coerceInputObject(sch, t, value)
	case schema.TypeKindScalar:
		return value, nil
	default:
		return nil, fmt.Errorf("%s is not an input type", namedType)
	}
}

// coerceListValue coerces a value to a list
func coerceListValue(sch *schema.Schema, value any, listType *schema.TypeRef) (any, error) {
	innerType := schema.Unwrap(listType)
	if slice, ok := value.([]any); ok {
		coercedSlice := make([]any, len(slice))
		for i, item := range slice {
			coercedItem, err := coerceValue(sch, item, innerType)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			coercedSlice[i] = coercedItem
		}
		return coercedSlice, nil
	}

	// Single value becomes a list of one
	coercedItem, err := coerceValue(sch, value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{coercedItem}, nil
}

func coerceInputObject(sch *schema.Schema, t *schema.Type, value any) (any, error) {
	in, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object for %s, got %T", t.Name, value)
	}
	out := make(map[string]any, len(t.InputFields))
	known := make(map[string]bool, len(t.InputFields))
	for _, f := range t.InputFields {
		known[f.Name] = true
		v, present := in[f.Name]
		if !present {
			if f.DefaultValue != nil {
				v = f.DefaultValue
			} else if schema.IsNonNull(f.Type) {
				return nil, fmt.Errorf("field %s.%s of required type %s was not provided", t.Name, f.Name, renderType(f.Type))
			} else {
				continue
			}
		}
		cv, err := coerceValue(sch, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
		}
		out[f.Name] = cv
	}
	for name := range in {
		if !known[name] {
			return nil, fmt.Errorf("field %q is not defined by type %s", name, t.Name)
		}
	}
	if t.OneOf && len(out) != 1 {
		return nil, fmt.Errorf("exactly one field must be specified for %s", t.Name)
	}
	return out, nil
}

func coerceToEnum(t *schema.Type, value any) (any, error) {
	s, ok := value.(string)
	if ok {
		for _, v := range t.EnumValues {
			if v.Name == s {
				return s, nil
			}
		}
	}
	return nil, fmt.Errorf("value %v is not a member of enum %s", value, t.Name)
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return int(v), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to string", value, value)
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatFloat(v, 'f', 0, 64), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}

func isInputType(sch *schema.Schema, name string) bool {
	if schema.IsBuiltinScalar(name) {
		return true
	}
	t := sch.Types[name]
	return t != nil && (t.Kind == schema.TypeKindScalar || t.Kind == schema.TypeKindEnum || t.Kind == schema.TypeKindInputObject)
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	var ref *schema.TypeRef
	if t.Elem != nil {
		ref = schema.ListType(typeRefFromAST(t.Elem))
	} else {
		ref = schema.NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = schema.NonNullType(ref)
	}
	return ref
}

func renderType(t *schema.TypeRef) string {
	switch t.Kind {
	case schema.TypeRefKindNonNull:
		return renderType(t.OfType) + "!"
	case schema.TypeRefKindList:
		return "[" + renderType(t.OfType) + "]"
	default:
		return t.Named
	}
}
