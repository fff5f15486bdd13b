package executor

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Runtime is the host integration surface for everything the executor does
// not fetch from collaborators.
//
//   - ResolveLocal is called for fields without a collaborator strategy and
//     for reading the key field of a batched field from its parent value. It
//     must not perform network I/O; return (nil, nil) for null.
//   - ResolveType returns the concrete object type name for a value of an
//     interface or union type.
//   - SerializeLeafValue turns scalar and enum values into JSON-safe Go
//     values.
//
// Implementations must be safe for concurrent use across requests and must
// not mutate source or args.
type Runtime interface {
	ResolveLocal(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// Resolver computes one local field value.
type Resolver func(ctx context.Context, source any, args map[string]any) (any, error)

// SourceRuntime resolves fields by reading them from map[string]any parent
// values, which is the shape collaborators return. Resolvers registered under
// "Type.field" take precedence.
type SourceRuntime struct {
	Resolvers map[string]Resolver
	// TypeField names the key holding the concrete type name of abstract
	// values. Defaults to "__typename".
	TypeField string
}

func (r *SourceRuntime) ResolveLocal(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if fn := r.Resolvers[objectType+"."+field]; fn != nil {
		return fn(ctx, source, args)
	}
	switch src := source.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return src[field], nil
	default:
		return nil, fmt.Errorf("cannot read field %q of %s from %T", field, objectType, source)
	}
}

func (r *SourceRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	name := r.TypeField
	if name == "" {
		name = "__typename"
	}
	if m, ok := value.(map[string]any); ok {
		if typename, ok := m[name].(string); ok && typename != "" {
			return typename, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s", abstractType)
}

func (r *SourceRuntime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	return SerializeBuiltin(typeName, value)
}

// SerializeBuiltin coerces values of the specified scalars to their response
// representation. Values of other types are returned unchanged.
func SerializeBuiltin(typeName string, value any) (any, error) {
	switch typeName {
	case "Int":
		return serializeInt(value)
	case "Float":
		return serializeFloat(value)
	case "String":
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case fmt.Stringer:
			return v.String(), nil
		}
		return nil, fmt.Errorf("String cannot represent %T", value)
	case "Boolean":
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent %T", value)
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case int, int32, int64, uint32, uint64:
			return fmt.Sprint(v), nil
		case float64:
			if v == math.Trunc(v) {
				return strconv.FormatFloat(v, 'f', 0, 64), nil
			}
		}
		return nil, fmt.Errorf("ID cannot represent %T", value)
	default:
		return value, nil
	}
}

func serializeInt(value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %d", n)
		}
		return int(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > math.MaxInt32 {
			return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %d", n)
		}
		return int(n), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %v", f)
		}
		return int(f), nil
	}
	return nil, fmt.Errorf("Int cannot represent %T", value)
}

func serializeFloat(value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("Float cannot represent %T", value)
}
