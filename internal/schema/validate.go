package schema

import (
	"errors"
	"fmt"
	"sort"
)

// ConfigError describes one inconsistency in a composed schema.
type ConfigError struct {
	Coordinate string
	Message    string
}

func (e *ConfigError) Error() string {
	if e.Coordinate == "" {
		return e.Message
	}
	return e.Coordinate + ": " + e.Message
}

// Validate checks the schema for configuration errors that would otherwise
// surface only at request time: dangling type references, collaborator-backed
// fields without a service, key fields or key args that do not exist, and
// composite fields whose type is not an object.
func (s *Schema) Validate() error {
	var errs []error
	add := func(coord, format string, args ...any) {
		errs = append(errs, &ConfigError{Coordinate: coord, Message: fmt.Sprintf(format, args...)})
	}

	if s.QueryType == "" || s.Types[s.QueryType] == nil {
		add("", "schema has no query type")
	}
	for _, root := range []string{s.MutationType, s.SubscriptionType} {
		if root != "" && s.Types[root] == nil {
			add("", "unknown root type %q", root)
		}
	}

	// Types reached through @composite fields see their owner's value, so
	// their key fields cannot be checked statically.
	passThrough := map[string]bool{s.QueryType: true, s.MutationType: true}
	for _, t := range s.Types {
		for _, f := range t.Fields {
			if f.Resolution.Kind == ResolveComposite {
				passThrough[f.Type.GetNamedType()] = true
			}
		}
	}

	for _, name := range sortedTypeNames(s) {
		t := s.Types[name]
		for _, f := range t.Fields {
			coord := t.Name + "." + f.Name
			if s.Types[f.Type.GetNamedType()] == nil {
				add(coord, "unknown type %q", f.Type.GetNamedType())
			}
			for _, a := range f.Arguments {
				if s.Types[a.Type.GetNamedType()] == nil {
					add(coord+"("+a.Name+":)", "unknown type %q", a.Type.GetNamedType())
				}
			}
			r := f.Resolution
			switch r.Kind {
			case ResolveLocal:
			case ResolveComposite:
				if target := s.Types[f.Type.GetNamedType()]; target != nil && target.Kind != TypeKindObject {
					add(coord, "composite field must return an object type")
				}
			case ResolveBatched, ResolveRemote:
				if r.Collaborator == "" {
					add(coord, "%s field has no service", r.Kind)
				}
				if f.Argument(r.KeyField) == nil && t.Field(r.KeyField) == nil && !passThrough[t.Name] {
					add(coord, "key %q is neither an argument nor a field of %s", r.KeyField, t.Name)
				}
				for _, a := range r.KeyArgs {
					if f.Argument(a) == nil {
						add(coord, "key argument %q is not declared", a)
					}
				}
			default:
				add(coord, "unknown resolution %q", r.Kind)
			}
		}
		for _, in := range t.InputFields {
			if s.Types[in.Type.GetNamedType()] == nil {
				add(t.Name+"."+in.Name, "unknown type %q", in.Type.GetNamedType())
			}
		}
	}
	return errors.Join(errs...)
}

func sortedTypeNames(s *Schema) []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
