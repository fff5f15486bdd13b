package schema

// NewSchema returns an empty schema carrying the builtin scalars and the
// @skip/@include directives.
func NewSchema(description string) *Schema {
	s := &Schema{
		Types:       map[string]*Type{},
		Directives:  map[string]*Directive{},
		Description: description,
	}
	for name := range builtinScalars {
		s.Types[name] = NewType(name, TypeKindScalar, "")
	}
	s.Directives[includeDirective.Name] = includeDirective
	s.Directives[skipDirective.Name] = skipDirective
	return s
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }

// AddType registers t, replacing any type with the same name.
func (s *Schema) AddType(t *Type) *Schema {
	s.Types[t.Name] = t
	return s
}

func (s *Schema) AddDirective(d *Directive) *Schema {
	s.Directives[d.Name] = d
	return s
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type        { t.Fields = append(t.Fields, f); return t }
func (t *Type) AddInterface(name string) *Type { t.Interfaces = append(t.Interfaces, name); return t }
func (t *Type) AddPossibleType(name string) *Type {
	t.PossibleTypes = append(t.PossibleTypes, name)
	return t
}
func (t *Type) AddEnumValue(v *EnumValue) *Type    { t.EnumValues = append(t.EnumValues, v); return t }
func (t *Type) AddInputField(v *InputValue) *Type  { t.InputFields = append(t.InputFields, v); return t }
func (t *Type) SetOneOf(oneOf bool) *Type          { t.OneOf = oneOf; return t }
func (t *Type) SetSpecifiedByURL(url string) *Type { t.SpecifiedByURL = &url; return t }

// NewField returns a locally resolved field.
func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ, Resolution: Resolution{Kind: ResolveLocal}}
}

func (f *Field) AddArgument(a *InputValue) *Field { f.Arguments = append(f.Arguments, a); return f }

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

// SetResolution replaces the field's strategy, filling in the operation and
// key field defaults for collaborator-backed kinds.
func (f *Field) SetResolution(r Resolution) *Field {
	if r.Kind == "" {
		r.Kind = ResolveLocal
	}
	if r.Kind.UsesCollaborator() {
		if r.Operation == "" {
			r.Operation = f.Name
		}
		if r.KeyField == "" {
			r.KeyField = "id"
		}
	}
	f.Resolution = r
	return f
}

// Batched marks the field as resolved through the batcher of collaborator.
func (f *Field) Batched(collaborator string) *Field {
	return f.SetResolution(Resolution{Kind: ResolveBatched, Collaborator: collaborator})
}

// Remote marks the field as resolved with a direct collaborator call.
func (f *Field) Remote(collaborator string) *Field {
	return f.SetResolution(Resolution{Kind: ResolveRemote, Collaborator: collaborator})
}

func (f *Field) Composite() *Field {
	return f.SetResolution(Resolution{Kind: ResolveComposite})
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (v *EnumValue) Deprecate(reason string) *EnumValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value any) *InputValue { v.DefaultValue = value; return v }

func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) SetRepeatable(repeatable bool) *Directive { d.IsRepeatable = repeatable; return d }
func (d *Directive) AddArgument(a *InputValue) *Directive {
	d.Arguments = append(d.Arguments, a)
	return d
}
func (d *Directive) AddLocation(loc string) *Directive {
	d.Locations = append(d.Locations, loc)
	return d
}
