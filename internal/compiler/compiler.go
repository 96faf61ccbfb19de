// Package compiler implements spec §4.G: AST to opcode emission, with
// patch-based jump fixups and one shared code region for every class's
// functions. Dispatch is a type switch over parser AST nodes rather
// than a per-node EmitCode method, since internal/parser cannot import
// internal/semantic (it would cycle back through internal/resolve).
package compiler

import (
	"fmt"

	"thalis/internal/bytecode"
	"thalis/internal/parser"
	"thalis/internal/resolve"
	"thalis/internal/semantic"
	"thalis/internal/types"
)

// emitter holds the state threaded through one function body's
// emission: the shared program, the class/function being compiled, and
// the scope/loop bookkeeping needed for PUSH_SCOPE/BREAK/CONTINUE.
type emitter struct {
	prog  *bytecode.Program
	reg   *semantic.Registry
	class *semantic.Class
	fn    *semantic.Function
	scope *semantic.Scope
	loops []loopCtx
	err   error

	localTypes map[int]types.TypeInfo
}

type loopCtx struct {
	startPos   int // bytecode offset of the condition re-check/check
	breakFixes []int
	scopeDepth int
}

// Compile emits every class's functions into one shared Program and
// records each Function's entry PC. Returns the program plus an error
// if any function body could not be emitted (spec §7: a link/emit
// failure aborts the whole compile).
func Compile(p *resolve.Program) (*bytecode.Program, error) {
	prog := bytecode.NewProgram()
	for _, cls := range p.Registry.AllClasses() {
		if cls.TemplateDef != nil {
			continue // the uninstantiated generic definition has no concrete types to compile
		}
		if err := compileClass(prog, p.Registry, cls); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

// CompileClass emits one (possibly template-instantiated) class's
// functions on demand; exported so the VM/resolver can compile a fresh
// template instantiation the first time it is used.
func CompileClass(prog *bytecode.Program, reg *semantic.Registry, cls *semantic.Class) error {
	return compileClass(prog, reg, cls)
}

func compileClass(prog *bytecode.Program, reg *semantic.Registry, cls *semantic.Class) error {
	for _, fn := range cls.Functions {
		if fn.Body == nil {
			continue // declared but not yet defined (e.g. a pure forward decl)
		}
		if err := compileFunction(prog, reg, cls, fn); err != nil {
			return err
		}
	}
	return compileStaticInit(prog, reg, cls)
}

// compileStaticInit emits the spec §4.G "static-init prologue": a
// synthetic zero-argument routine that evaluates every static field's
// declared initializer expression and stores it, in declaration order.
// The VM calls it once, the first time any of the class's statics are
// touched (vm.staticSlot).
func compileStaticInit(prog *bytecode.Program, reg *semantic.Registry, cls *semantic.Class) error {
	hasInit := false
	for _, f := range cls.Statics {
		if f.StaticInit != nil {
			hasInit = true
			break
		}
	}
	if !hasInit {
		return nil
	}
	scope := semantic.NewScope(nil)
	e := &emitter{prog: prog, reg: reg, class: cls, scope: scope, localTypes: map[int]types.TypeInfo{}}
	e.fn = &semantic.Function{OwnerClass: cls.ID, Static: true}
	pc := prog.Pos()
	for idx, f := range cls.Statics {
		if f.StaticInit == nil {
			continue
		}
		prog.WriteOp(bytecode.OpPushStatic)
		prog.WriteU16(uint16(cls.ID))
		prog.WriteU16(uint16(idx))
		e.emitExpr(f.StaticInit)
		prog.WriteOp(bytecode.OpSet)
		prog.WriteU16(0)
		prog.WriteU32(0)
		prog.WriteOp(bytecode.OpPop)
	}
	if e.err != nil {
		return fmt.Errorf("compiling %s's static initializers: %w", cls.Name, e.err)
	}
	prog.WriteOp(bytecode.OpReturn)
	prog.WriteU8(uint8(bytecode.ReturnNone))
	cls.StaticInitFn = &semantic.Function{
		Name: cls.Name + "#staticinit", OwnerClass: cls.ID, Static: true,
		Body: &parser.Block{}, PC: pc, NumLocals: scope.NumLocals(),
	}
	return nil
}

func compileFunction(prog *bytecode.Program, reg *semantic.Registry, cls *semantic.Class, fn *semantic.Function) error {
	scope := semantic.NewScope(nil)
	for _, p := range fn.Params {
		scope.Declare(p.Name)
	}
	e := &emitter{prog: prog, reg: reg, class: cls, fn: fn, scope: scope, localTypes: map[int]types.TypeInfo{}}
	fn.PC = prog.Pos()
	e.emitBlock(fn.Body)
	if e.err != nil {
		return fmt.Errorf("compiling %s::%s: %w", cls.Name, fn.Name, e.err)
	}
	// implicit fall-off return for void functions
	prog.WriteOp(bytecode.OpReturn)
	prog.WriteU8(uint8(bytecode.ReturnNone))
	fn.NumLocals = scope.NumLocals()
	return nil
}

func (e *emitter) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// pushScope opens a new nested scope and returns the enclosing scope,
// which the caller must pass back to popScope to restore it.
func (e *emitter) pushScope() *semantic.Scope {
	parent := e.scope
	e.scope = semantic.NewScope(parent)
	e.prog.WriteOp(bytecode.OpPushScope)
	return parent
}

func (e *emitter) popScope(parent *semantic.Scope) {
	e.prog.WriteOp(bytecode.OpPopScope)
	e.scope = parent
}

// classNameOf adapts Registry.ClassName to the signature function
// signature shared with internal/semantic.
func (e *emitter) classNameOf(id types.TypeID) string { return e.reg.ClassName(id) }
