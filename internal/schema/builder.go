package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Build composes the given SDL sources into an executable schema. Type
// extensions across sources are merged by gqlparser; the resolution
// directives (@batched, @remote, @composite) are read into Field.Resolution
// and stripped from the type system. The result is validated before it is
// returned.
func Build(sources ...*ast.Source) (*Schema, error) {
	all := make([]*ast.Source, 0, len(sources)+1)
	all = append(all, &ast.Source{Name: "resolution.graphql", Input: directivePrelude, BuiltIn: true})
	all = append(all, sources...)

	doc, err := gqlparser.LoadSchema(all...)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	s, err := fromAST(doc)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// BuildFromSDL builds a schema from a single SDL string.
func BuildFromSDL(sdl string) (*Schema, error) {
	return Build(&ast.Source{Name: "schema.graphql", Input: sdl})
}

// BuildFromFiles reads and composes SDL files. Directories are expanded to the
// *.graphql files they contain.
func BuildFromFiles(paths ...string) (*Schema, error) {
	var sources []*ast.Source
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("schema file: %w", err)
		}
		files := []string{p}
		if info.IsDir() {
			files, err = filepath.Glob(filepath.Join(p, "*.graphql"))
			if err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			b, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("schema file: %w", err)
			}
			sources = append(sources, &ast.Source{Name: f, Input: string(b)})
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("schema: no sources")
	}
	return Build(sources...)
}

func fromAST(doc *ast.Schema) (*Schema, error) {
	s := NewSchema("")
	if doc.Query != nil {
		s.SetQueryType(doc.Query.Name)
	}
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}

	for name, def := range doc.Types {
		if strings.HasPrefix(name, "__") || builtinScalars[name] {
			continue
		}
		t, err := buildDefinition(doc, def)
		if err != nil {
			return nil, err
		}
		s.AddType(t)
	}
	for name, dir := range doc.Directives {
		if isBuiltinDirective(name) {
			continue
		}
		s.AddDirective(buildDirective(dir))
	}
	return s, nil
}

func buildDefinition(doc *ast.Schema, def *ast.Definition) (*Type, error) {
	t := NewType(def.Name, TypeKind(def.Kind), def.Description)
	switch def.Kind {
	case ast.Object, ast.Interface:
		for _, name := range def.Interfaces {
			t.AddInterface(name)
		}
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			f, err := buildField(def.Name, fd)
			if err != nil {
				return nil, err
			}
			t.AddField(f)
		}
		if def.Kind == ast.Interface {
			for _, p := range doc.PossibleTypes[def.Name] {
				t.AddPossibleType(p.Name)
			}
		}
	case ast.Union:
		for _, name := range def.Types {
			t.AddPossibleType(name)
		}
	case ast.Enum:
		for _, v := range def.EnumValues {
			ev := NewEnumValue(v.Name, v.Description)
			if reason, ok := deprecation(v.Directives); ok {
				ev.Deprecate(reason)
			}
			t.AddEnumValue(ev)
		}
	case ast.InputObject:
		t.SetOneOf(def.Directives.ForName("oneOf") != nil)
		for _, fd := range def.Fields {
			in, err := buildInputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives)
			if err != nil {
				return nil, err
			}
			t.AddInputField(in)
		}
	case ast.Scalar:
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if url := stringArg(d, "url"); url != "" {
				t.SetSpecifiedByURL(url)
			}
		}
	}
	return t, nil
}

func buildField(owner string, fd *ast.FieldDefinition) (*Field, error) {
	f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type))
	if reason, ok := deprecation(fd.Directives); ok {
		f.Deprecate(reason)
	}
	for _, a := range fd.Arguments {
		in, err := buildInputValue(a.Name, a.Description, a.Type, a.DefaultValue, a.Directives)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner, fd.Name, err)
		}
		f.AddArgument(in)
	}
	r, err := buildResolution(fd.Directives)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", owner, fd.Name, err)
	}
	f.SetResolution(r)
	return f, nil
}

func buildResolution(dirs ast.DirectiveList) (Resolution, error) {
	var found []*ast.Directive
	for _, name := range []string{"batched", "remote", "composite"} {
		if d := dirs.ForName(name); d != nil {
			found = append(found, d)
		}
	}
	if len(found) == 0 {
		return Resolution{Kind: ResolveLocal}, nil
	}
	if len(found) > 1 {
		return Resolution{}, fmt.Errorf("conflicting resolution directives @%s and @%s", found[0].Name, found[1].Name)
	}
	d := found[0]
	switch d.Name {
	case "composite":
		return Resolution{Kind: ResolveComposite}, nil
	case "remote":
		return Resolution{
			Kind:         ResolveRemote,
			Collaborator: stringArg(d, "service"),
			Operation:    stringArg(d, "operation"),
			KeyField:     stringArg(d, "key"),
		}, nil
	}
	r := Resolution{
		Kind:         ResolveBatched,
		Collaborator: stringArg(d, "service"),
		Operation:    stringArg(d, "operation"),
		KeyField:     stringArg(d, "key"),
	}
	if a := d.Arguments.ForName("args"); a != nil && a.Value != nil && a.Value.Kind != ast.NullValue {
		r.KeyArgs = []string{}
		if a.Value.Kind == ast.ListValue {
			for _, c := range a.Value.Children {
				r.KeyArgs = append(r.KeyArgs, c.Value.Raw)
			}
		} else {
			r.KeyArgs = append(r.KeyArgs, a.Value.Raw)
		}
	}
	return r, nil
}

func buildInputValue(name, description string, typ *ast.Type, def *ast.Value, dirs ast.DirectiveList) (*InputValue, error) {
	in := NewInputValue(name, description, buildTypeRef(typ))
	if def != nil {
		v, err := def.Value(nil)
		if err != nil {
			return nil, fmt.Errorf("default value of %s: %w", name, err)
		}
		in.SetDefault(v)
	}
	if reason, ok := deprecation(dirs); ok {
		in.Deprecate(reason)
	}
	return in, nil
}

func buildDirective(dir *ast.DirectiveDefinition) *Directive {
	d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
	for _, loc := range dir.Locations {
		d.AddLocation(string(loc))
	}
	for _, a := range dir.Arguments {
		in := NewInputValue(a.Name, a.Description, buildTypeRef(a.Type))
		if a.DefaultValue != nil {
			if v, err := a.DefaultValue.Value(nil); err == nil {
				in.SetDefault(v)
			}
		}
		d.AddArgument(in)
	}
	return d
}

func buildTypeRef(t *ast.Type) *TypeRef {
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

func deprecation(dirs ast.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	return stringArg(d, "reason"), true
}

func stringArg(d *ast.Directive, name string) string {
	a := d.Arguments.ForName(name)
	if a == nil || a.Value == nil || a.Value.Kind == ast.NullValue {
		return ""
	}
	return a.Value.Raw
}
