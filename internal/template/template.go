// Package template implements spec §4.F: the instantiation command
// tree recorded while parsing a templated context, and the cached
// replay that synthesizes concrete classes from it.
package template

import (
	"fmt"
	"strings"

	"thalis/internal/parser"
	"thalis/internal/semantic"
	"thalis/internal/types"
)

// ConcreteArg is a resolved template argument: either a type id or an
// integer value.
type ConcreteArg struct {
	IsInt  bool
	TypeID types.TypeID
	IntVal int64
	Name   string // rendered name, for GenerateTemplateClassName
}

// Command is the deferred instantiation recipe of spec §4.F: attached
// to a field/variable/parameter when one of its template arguments is
// itself a template parameter of the enclosing class and therefore not
// yet concrete at parse time.
type Command struct {
	ClassName string
	Args      []ArgSpec
}

// ArgSpec is either an already-concrete argument or a child Command
// that must be replayed first to produce one (spec: "commands compose
// by running the child command to obtain the concrete argument before
// running the parent").
type ArgSpec struct {
	Concrete *ConcreteArg
	Child    *Command
}

// Resolver binds type names to TypeInfo/Class for field and function
// cloning; the engine doesn't resolve names itself to avoid depending
// on the specific binder package.
type Resolver interface {
	ResolveClassName(name string) (*semantic.Class, bool)
	RegisterClass(*semantic.Class)
	BuildLayout(*semantic.Class)
}

// Engine replays instantiation commands against a semantic.Registry,
// memoizing by (class, concrete args) per property P5.
type Engine struct {
	Registry *semantic.Registry
}

func New(r *semantic.Registry) *Engine { return &Engine{Registry: r} }

// Replay runs a Command to obtain a ConcreteArg, recursing into child
// commands first.
func (e *Engine) Replay(cmd *ArgSpec, resolver Resolver) (ConcreteArg, error) {
	if cmd.Concrete != nil {
		return *cmd.Concrete, nil
	}
	if cmd.Child == nil {
		return ConcreteArg{}, fmt.Errorf("empty argument spec")
	}
	args := make([]ConcreteArg, len(cmd.Child.Args))
	for i := range cmd.Child.Args {
		a, err := e.Replay(&cmd.Child.Args[i], resolver)
		if err != nil {
			return ConcreteArg{}, err
		}
		args[i] = a
	}
	cls, err := e.InstantiateByName(cmd.Child.ClassName, args, resolver)
	if err != nil {
		return ConcreteArg{}, err
	}
	return ConcreteArg{TypeID: cls.ID, Name: cls.Name}, nil
}

// cacheKey canonicalises the instantiation: integer args by value,
// type args by class identity (id), per spec §4.F / §9.
func cacheKey(args []ConcreteArg) string {
	var sb strings.Builder
	for _, a := range args {
		if a.IsInt {
			fmt.Fprintf(&sb, "i%d,", a.IntVal)
		} else {
			fmt.Fprintf(&sb, "t%d,", a.TypeID)
		}
	}
	return sb.String()
}

// GenerateTemplateClassName renders `Base<arg0,arg1,...>` (spec
// original_source Class.cpp), used for diagnostics and as the
// instantiated class's name; the instantiation cache key (cacheKey) is
// built from the argument type ids and int values, not from this name.
func GenerateTemplateClassName(base string, args []ConcreteArg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a.IsInt {
			parts[i] = fmt.Sprintf("%d", a.IntVal)
		} else {
			parts[i] = a.Name
		}
	}
	return base + "<" + strings.Join(parts, ",") + ">"
}

// InstantiateByName looks a base class up by name and instantiates it.
func (e *Engine) InstantiateByName(baseName string, args []ConcreteArg, resolver Resolver) (*semantic.Class, error) {
	base, ok := resolver.ResolveClassName(baseName)
	if !ok {
		return nil, fmt.Errorf("unknown template class %q", baseName)
	}
	return e.Instantiate(base, args, resolver)
}

// Instantiate implements Class.InstantiateTemplate (spec §4.F):
// cache-check first (this is what keeps self-referential templates
// from recursing forever — the lookup happens before any recursive
// work), then on miss synthesize a new Class by copying every member
// field and function, substituting the placeholder type with the
// concrete one.
func (e *Engine) Instantiate(base *semantic.Class, args []ConcreteArg, resolver Resolver) (*semantic.Class, error) {
	if base.TemplateDef == nil {
		return base, nil
	}
	key := cacheKey(args)
	if id, ok := base.Instantiations[key]; ok {
		return e.Registry.ClassByID(id), nil
	}
	if len(args) != len(base.TemplateDef.Params) {
		return nil, fmt.Errorf("template %s expects %d arguments, got %d", base.Name, len(base.TemplateDef.Params), len(args))
	}

	name := GenerateTemplateClassName(base.Name, args)
	nc := &semantic.Class{
		Name:           name,
		Base:           base.Base,
		Overloads:      make(map[string][]uint32),
		BySignature:    make(map[string]uint32),
		Instantiations: make(map[string]types.TypeID),
	}
	resolver.RegisterClass(nc)
	// Reserve the cache entry before recursing into member/function
	// cloning so a self-referential template (one that names its own
	// full instantiation inside a method body) terminates.
	base.Instantiations[key] = nc.ID
	e.Registry.RegisterClass(nc)

	subst := make(map[string]ConcreteArg, len(args))
	for i, p := range base.TemplateDef.Params {
		subst[p.Name] = args[i]
	}

	for _, f := range base.Members {
		nf := f
		if f.TemplateTypeName != "" {
			if c, ok := subst[f.TemplateTypeName]; ok && !c.IsInt {
				nf.Type = types.Plain(c.TypeID, f.Type.PointerLevel)
				nf.TemplateTypeName = ""
				if cls := e.Registry.ClassByID(c.TypeID); cls != nil {
					nf.ClassElem = cls
				}
			}
		}
		nc.Members = append(nc.Members, nf)
	}
	for _, f := range base.Statics {
		nc.Statics = append(nc.Statics, f)
	}

	classNameOf := e.Registry.ClassName
	for _, fn := range base.Functions {
		clone := cloneFunction(fn, subst)
		nc.AddFunction(clone, classNameOf)
	}

	resolver.BuildLayout(nc)
	return nc, nil
}

// cloneFunction deep-clones a Function's AST, substituting any TypeRef
// naming one of the template's parameters (spec: "deep-cloning its AST
// via each node's InjectTemplateType method, substituting placeholders
// in declared variable types, sizeof, new, casts, and parameter
// lists").
func cloneFunction(fn *semantic.Function, subst map[string]ConcreteArg) *semantic.Function {
	nfn := &semantic.Function{
		Name:        fn.Name,
		Access:      fn.Access,
		Static:      fn.Static,
		Virtual:     fn.Virtual,
		ReturnType:  fn.ReturnType,
		ReturnByRef: fn.ReturnByRef,
		NumLocals:   fn.NumLocals,
	}
	if fn.ReturnTemplateTypeName != "" {
		if c, ok := subst[fn.ReturnTemplateTypeName]; ok && !c.IsInt {
			nfn.ReturnType = types.Plain(c.TypeID, fn.ReturnType.PointerLevel)
		}
	}
	for _, p := range fn.Params {
		np := p
		if p.TemplateTypeName != "" {
			if c, ok := subst[p.TemplateTypeName]; ok && !c.IsInt {
				np.Type = types.Plain(c.TypeID, p.Type.PointerLevel)
				np.TemplateTypeName = ""
			}
		}
		nfn.Params = append(nfn.Params, np)
	}
	if fn.Body != nil {
		nfn.Body = injectBlock(fn.Body, subst)
	}
	return nfn
}

func injectTypeRef(tr parser.TypeRef, subst map[string]ConcreteArg) parser.TypeRef {
	if c, ok := subst[tr.Name]; ok && !c.IsInt {
		tr.Name = c.Name
	}
	for i := range tr.TemplateArgs {
		if tr.TemplateArgs[i].TypeArg != nil {
			nt := injectTypeRef(*tr.TemplateArgs[i].TypeArg, subst)
			tr.TemplateArgs[i].TypeArg = &nt
		}
	}
	return tr
}

func injectBlock(b *parser.Block, subst map[string]ConcreteArg) *parser.Block {
	if b == nil {
		return nil
	}
	nb := &parser.Block{Pos: b.Pos}
	for _, s := range b.Stmts {
		nb.Stmts = append(nb.Stmts, injectStmt(s, subst))
	}
	return nb
}

func injectStmt(s parser.Stmt, subst map[string]ConcreteArg) parser.Stmt {
	switch v := s.(type) {
	case *parser.VarDecl:
		nv := *v
		nv.Type = injectTypeRef(v.Type, subst)
		if v.Init != nil {
			nv.Init = injectExpr(v.Init, subst)
		}
		for _, e := range v.InitList {
			nv.InitList = append(nv.InitList, injectExpr(e, subst))
		}
		return &nv
	case *parser.ExprStmt:
		return &parser.ExprStmt{Pos: v.Pos, X: injectExpr(v.X, subst)}
	case *parser.Block:
		return injectBlock(v, subst)
	case *parser.If:
		nv := &parser.If{Pos: v.Pos, Cond: injectExpr(v.Cond, subst), Then: injectBlock(v.Then, subst)}
		if v.Else != nil {
			nv.Else = injectStmt(v.Else, subst)
		}
		return nv
	case *parser.For:
		nv := &parser.For{Pos: v.Pos, Body: injectBlock(v.Body, subst)}
		if v.Init != nil {
			nv.Init = injectStmt(v.Init, subst)
		}
		if v.Cond != nil {
			nv.Cond = injectExpr(v.Cond, subst)
		}
		if v.Post != nil {
			nv.Post = injectStmt(v.Post, subst)
		}
		return nv
	case *parser.While:
		return &parser.While{Pos: v.Pos, Cond: injectExpr(v.Cond, subst), Body: injectBlock(v.Body, subst)}
	case *parser.Return:
		nv := &parser.Return{Pos: v.Pos}
		if v.X != nil {
			nv.X = injectExpr(v.X, subst)
		}
		return nv
	case *parser.Delete:
		return &parser.Delete{Pos: v.Pos, X: injectExpr(v.X, subst), Array: v.Array}
	default:
		return s
	}
}

func injectExpr(e parser.Expr, subst map[string]ConcreteArg) parser.Expr {
	switch v := e.(type) {
	case *parser.Cast:
		return &parser.Cast{Pos: v.Pos, Type: injectTypeRef(v.Type, subst), X: injectExpr(v.X, subst)}
	case *parser.New:
		nv := &parser.New{Pos: v.Pos, Type: injectTypeRef(v.Type, subst)}
		for _, a := range v.Args {
			nv.Args = append(nv.Args, injectExpr(a, subst))
		}
		return nv
	case *parser.NewArray:
		nv := &parser.NewArray{Pos: v.Pos, Type: injectTypeRef(v.Type, subst)}
		for _, d := range v.Dims {
			nv.Dims = append(nv.Dims, injectExpr(d, subst))
		}
		return nv
	case *parser.SizeofExpr:
		return &parser.SizeofExpr{Pos: v.Pos, Type: injectTypeRef(v.Type, subst)}
	case *parser.OffsetofExpr:
		return &parser.OffsetofExpr{Pos: v.Pos, Type: injectTypeRef(v.Type, subst), Field: v.Field}
	case *parser.StrlenExpr:
		return &parser.StrlenExpr{Pos: v.Pos, X: injectExpr(v.X, subst)}
	case *parser.Binary:
		return &parser.Binary{Pos: v.Pos, Op: v.Op, L: injectExpr(v.L, subst), R: injectExpr(v.R, subst)}
	case *parser.Unary:
		return &parser.Unary{Pos: v.Pos, Op: v.Op, X: injectExpr(v.X, subst)}
	case *parser.Assign:
		return &parser.Assign{Pos: v.Pos, LHS: injectExpr(v.LHS, subst), RHS: injectExpr(v.RHS, subst)}
	case *parser.CompoundAssign:
		return &parser.CompoundAssign{Pos: v.Pos, Op: v.Op, LHS: injectExpr(v.LHS, subst), RHS: injectExpr(v.RHS, subst)}
	case *parser.Call:
		nv := &parser.Call{Pos: v.Pos, Callee: injectExpr(v.Callee, subst)}
		for _, a := range v.Args {
			nv.Args = append(nv.Args, injectExpr(a, subst))
		}
		return nv
	case *parser.Index:
		nv := &parser.Index{Pos: v.Pos, X: injectExpr(v.X, subst)}
		for _, idx := range v.Indices {
			nv.Indices = append(nv.Indices, injectExpr(idx, subst))
		}
		return nv
	case *parser.Member:
		return &parser.Member{Pos: v.Pos, Base: injectExpr(v.Base, subst), Members: v.Members}
	default:
		return e
	}
}
