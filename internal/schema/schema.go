package schema

import "sort"

// Schema is the composed, read-only registry shared by every request.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // All named types keyed by name
	Directives       map[string]*Directive
	Description      string
}

// GetQueryType returns the root query type (may be nil if absent)
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent)
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent)
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// Collaborators returns the distinct collaborator ids referenced by batched and
// remote fields, in sorted order.
func (s *Schema) Collaborators() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, name := range sortedTypeNames(s) {
		for _, f := range s.Types[name].Fields {
			if !f.Resolution.Kind.UsesCollaborator() {
				continue
			}
			if _, ok := seen[f.Resolution.Collaborator]; ok {
				continue
			}
			seen[f.Resolution.Collaborator] = struct{}{}
			out = append(out, f.Resolution.Collaborator)
		}
	}
	sort.Strings(out)
	return out
}

// Type is a named GraphQL type (object, interface, union, scalar, enum, input)
type Type struct {
	Name           string
	Kind           TypeKind
	Description    string
	Fields         []*Field      // For OBJECT and INTERFACE
	Interfaces     []string      // For OBJECT and INTERFACE (implemented/extended)
	PossibleTypes  []string      // For INTERFACE and UNION
	EnumValues     []*EnumValue  // For ENUM
	InputFields    []*InputValue // For INPUT_OBJECT
	SpecifiedByURL *string
	OneOf          bool
}

// Field looks up a field definition by name.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Field represents a field on an object or interface
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	Resolution        Resolution
	IsDeprecated      bool
	DeprecationReason string
}

// Argument looks up an argument definition by name.
func (f *Field) Argument(name string) *InputValue {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ResolutionKind tags how the engine obtains a field's value.
type ResolutionKind string

const (
	// ResolveLocal computes the value synchronously from the parent value.
	ResolveLocal ResolutionKind = "local"
	// ResolveBatched registers a key with the request's batcher for a collaborator.
	ResolveBatched ResolutionKind = "batched"
	// ResolveComposite passes the parent value through to child selections.
	ResolveComposite ResolutionKind = "composite"
	// ResolveRemote issues one direct, non-batched collaborator call.
	ResolveRemote ResolutionKind = "remote"
)

// UsesCollaborator reports whether values of this kind come from a collaborator.
func (k ResolutionKind) UsesCollaborator() bool {
	return k == ResolveBatched || k == ResolveRemote
}

// Resolution is the static strategy attached to a field definition.
type Resolution struct {
	Kind         ResolutionKind
	Collaborator string
	Operation    string
	// KeyField names the parent field whose value becomes the key id.
	KeyField string
	// KeyArgs lists the arguments that take part in key identity. Nil means
	// every declared argument does.
	KeyArgs []string
}

// Participates reports whether argument name is part of the batch key.
func (r Resolution) Participates(name string) bool {
	if r.KeyArgs == nil {
		return true
	}
	for _, a := range r.KeyArgs {
		if a == name {
			return true
		}
	}
	return false
}

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// IsNonNull reports whether the type is wrapped with Non-Null.
func IsNonNull(t *TypeRef) bool { return t != nil && t.IsNonNull() }

// IsList reports whether the type is (or is wrapped by) a list type.
func IsList(t *TypeRef) bool { return t != nil && t.IsList() }

// Unwrap removes one layer of Non-Null or List wrapping and returns the inner type.
func Unwrap(t *TypeRef) *TypeRef { return t.Unwrap() }

// GetNamedType returns the innermost named type for the given reference.
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }

// Implements reports whether object type name is a possible runtime type of
// abstract (or equal to it).
func (s *Schema) Implements(name, abstract string) bool {
	if name == abstract {
		return true
	}
	t := s.Types[abstract]
	if t == nil {
		return false
	}
	for _, p := range t.PossibleTypes {
		if p == name {
			return true
		}
	}
	if obj := s.Types[name]; obj != nil {
		for _, i := range obj.Interfaces {
			if i == abstract {
				return true
			}
		}
	}
	return false
}
