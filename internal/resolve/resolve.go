// Package resolve ties the parser's untyped AST to the semantic
// registry: it declares classes, resolves TypeRefs to TypeInfo (running
// the template engine when a reference names a template instantiation),
// assigns member/static layout, registers functions, and builds VTables
// — spec §4.D/§4.E/§4.F wired together. Resolve failures abort emission
// per spec §7.
package resolve

import (
	"fmt"

	"thalis/internal/diag"
	"thalis/internal/parser"
	"thalis/internal/semantic"
	"thalis/internal/template"
	"thalis/internal/types"
)

var primitiveKeywords = map[string]types.Kind{
	"u8": types.KU8, "u16": types.KU16, "u32": types.KU32, "u64": types.KU64,
	"i8": types.KI8, "i16": types.KI16, "i32": types.KI32, "i64": types.KI64,
	"f32": types.KF32, "f64": types.KF64, "bool": types.KBool, "char": types.KChar, "void": types.KVoid,
}

// Program is the fully resolved compilation unit set handed to the
// compiler: the class registry, the entry file's classes, and the set
// of built-in module names imported anywhere in the program.
type Program struct {
	Registry *semantic.Registry
	Template *template.Engine
	Files    []*parser.File
	Modules  []string
}

type binder struct {
	reg        *semantic.Registry
	eng        *template.Engine
	templateScope map[string]bool // names of the enclosing class's own template params
}

func (b *binder) ResolveClassName(name string) (*semantic.Class, bool) {
	c := b.reg.ClassByName(name)
	return c, c != nil
}
func (b *binder) RegisterClass(c *semantic.Class) { b.reg.RegisterClass(c) }
func (b *binder) BuildLayout(c *semantic.Class) {
	semantic.AssignMemberOffsets(b.reg, c)
	semantic.AssignStaticOffsets(b.reg, c)
	semantic.BuildVTable(c)
}

// Resolve runs the full declare/layout/function/vtable pipeline over a
// set of parsed files.
func Resolve(files []*parser.File, modules []string) (*Program, error) {
	reg := semantic.NewRegistry()
	eng := template.New(reg)
	b := &binder{reg: reg, eng: eng}

	// Pass 1: declare every class by name so forward/sibling references
	// resolve regardless of declaration order.
	for _, f := range files {
		for _, cd := range f.Classes {
			cls := reg.DeclareClass(cd.Name)
			if len(cd.TemplateParams) > 0 {
				cls.TemplateDef = &semantic.TemplateDefinition{Params: cd.TemplateParams}
			}
		}
	}
	// Pass 1b: wire base classes now that every name is declared.
	for _, f := range files {
		for _, cd := range f.Classes {
			if cd.Inherits == "" {
				continue
			}
			cls := reg.ClassByName(cd.Name)
			base := reg.ClassByName(cd.Inherits)
			if base == nil {
				return nil, diag.NewResolveError(fmt.Sprintf("unknown base class %q", cd.Inherits), cd.Pos.File, cd.Pos.Line, cd.Pos.Column)
			}
			cls.Base = base
		}
	}

	// Pass 2: field layout.
	for _, f := range files {
		for _, cd := range f.Classes {
			cls := reg.ClassByName(cd.Name)
			b.templateScope = templateParamSet(cls)
			for _, fd := range cd.Fields {
				field, err := b.bindField(cls, fd)
				if err != nil {
					return nil, err
				}
				if fd.Static {
					cls.Statics = append(cls.Statics, field)
				} else {
					cls.Members = append(cls.Members, field)
				}
			}
			semantic.AssignMemberOffsets(reg, cls)
			semantic.AssignStaticOffsets(reg, cls)
		}
	}

	// Pass 3: function registration (signatures + bodies, not yet
	// compiled to bytecode — that's the compiler's job).
	for _, f := range files {
		for _, cd := range f.Classes {
			cls := reg.ClassByName(cd.Name)
			b.templateScope = templateParamSet(cls)
			for _, fdecl := range cd.Functions {
				fn, err := b.bindFunction(cls, fdecl)
				if err != nil {
					return nil, err
				}
				cls.AddFunction(fn, reg.ClassName)
			}
		}
	}

	// Pass 4: VTables, now that every class's own overload set is
	// final (non-template classes only; template instantiations build
	// their VTable as part of Engine.Instantiate).
	for _, f := range files {
		for _, cd := range f.Classes {
			cls := reg.ClassByName(cd.Name)
			if cls.TemplateDef != nil {
				continue // built lazily on first instantiation
			}
			semantic.BuildVTable(cls)
		}
	}

	return &Program{Registry: reg, Template: eng, Files: files, Modules: modules}, nil
}

func templateParamSet(c *semantic.Class) map[string]bool {
	m := make(map[string]bool)
	if c.TemplateDef != nil {
		for _, p := range c.TemplateDef.Params {
			m[p.Name] = true
		}
	}
	return m
}

func (b *binder) bindField(owner *semantic.Class, fd *parser.FieldDecl) (semantic.Field, error) {
	f := semantic.Field{Name: fd.Name, Dims: fd.Dims, IsArray: len(fd.Dims) > 0, StaticInit: fd.Init}
	if b.templateScope[fd.Type.Name] {
		f.TemplateTypeName = fd.Type.Name
		f.Type = types.Plain(types.TypeID(types.KTemplatePlaceholder), fd.Type.PointerLevel)
		return f, nil
	}
	t, cls, err := b.resolveType(fd.Type)
	if err != nil {
		return f, err
	}
	f.Type = t
	f.ClassElem = cls
	return f, nil
}

func (b *binder) bindFunction(owner *semantic.Class, fdecl *parser.FunctionDecl) (*semantic.Function, error) {
	fn := &semantic.Function{
		Name: fdecl.Name, Access: fdecl.Access, Static: fdecl.Static, Virtual: fdecl.Virtual,
		ReturnByRef: fdecl.ReturnByRef, Body: fdecl.Body, NumLocals: fdecl.NumLocals,
	}
	if fdecl.Name != owner.Name && !fdecl.IsDestructor {
		if b.templateScope[fdecl.ReturnType.Name] {
			fn.ReturnTemplateTypeName = fdecl.ReturnType.Name
			fn.ReturnType = types.Plain(types.TypeID(types.KTemplatePlaceholder), fdecl.ReturnType.PointerLevel)
		} else {
			rt, _, err := b.resolveType(fdecl.ReturnType)
			if err != nil {
				return nil, err
			}
			fn.ReturnType = rt
		}
	} else {
		fn.ReturnType = types.Plain(types.TypeID(types.KVoid), 0)
	}
	for _, p := range fdecl.Params {
		if b.templateScope[p.Type.Name] {
			fn.Params = append(fn.Params, semantic.Param{
				Type:             types.Plain(types.TypeID(types.KTemplatePlaceholder), p.Type.PointerLevel),
				ByRef:            p.ByRef, Slot: p.Slot, Name: p.Name,
				TemplateTypeName: p.Type.Name,
			})
			continue
		}
		pt, _, err := b.resolveType(p.Type)
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, semantic.Param{Type: pt, ByRef: p.ByRef, Slot: p.Slot, Name: p.Name})
	}
	return fn, nil
}

// resolveType converts a parsed TypeRef into a TypeInfo, running the
// template engine when the reference carries template arguments.
func (b *binder) resolveType(tr parser.TypeRef) (types.TypeInfo, *semantic.Class, error) {
	if k, ok := primitiveKeywords[tr.Name]; ok {
		return types.Plain(types.PrimitiveTypeID(k), tr.PointerLevel), nil, nil
	}
	cls := b.reg.ClassByName(tr.Name)
	if cls == nil {
		return types.TypeInfo{}, nil, diag.NewResolveError(fmt.Sprintf("unknown type %q", tr.Name), tr.Pos.File, tr.Pos.Line, tr.Pos.Column)
	}
	if len(tr.TemplateArgs) == 0 {
		return types.Plain(cls.ID, tr.PointerLevel), cls, nil
	}
	args, err := b.resolveTemplateArgs(tr.TemplateArgs)
	if err != nil {
		return types.TypeInfo{}, nil, err
	}
	inst, err := b.eng.Instantiate(cls, args, b)
	if err != nil {
		return types.TypeInfo{}, nil, diag.NewResolveError(err.Error(), tr.Pos.File, tr.Pos.Line, tr.Pos.Column)
	}
	return types.Plain(inst.ID, tr.PointerLevel), inst, nil
}

func (b *binder) resolveTemplateArgs(args []parser.TemplateArg) ([]template.ConcreteArg, error) {
	out := make([]template.ConcreteArg, len(args))
	for i, a := range args {
		switch {
		case a.IntArg != nil:
			out[i] = template.ConcreteArg{IsInt: true, IntVal: *a.IntArg}
		case a.TypeArg != nil:
			t, cls, err := b.resolveType(*a.TypeArg)
			if err != nil {
				return nil, err
			}
			name := a.TypeArg.Name
			if cls != nil {
				name = cls.Name
			}
			out[i] = template.ConcreteArg{TypeID: t.ID, Name: name}
		default:
			return nil, fmt.Errorf("malformed template argument")
		}
	}
	return out, nil
}
