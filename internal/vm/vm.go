// Package vm implements spec §4.G/§4.H: a stack-based bytecode
// interpreter over the shared Program emitted by internal/compiler. It
// dispatches on bytecode.OpCode with a switch, mirroring the compiler's
// own type-switch-over-dispatch style rather than a jump table, since
// the opcode set is stable and a switch keeps the interpreter in one
// place next to the encoding it reads. Each Thalis function call is a
// recursive Go call (execFrame calling itself for nested STATIC/MEMBER/
// VIRTUAL_FUNCTION_CALL), so the Go call stack does the frame-nesting
// bookkeeping a flattened single-loop VM would otherwise need its own
// return-address stack for.
package vm

import (
	"fmt"

	"thalis/internal/bytecode"
	"thalis/internal/diag"
	"thalis/internal/memory"
	"thalis/internal/module"
	"thalis/internal/resolve"
	"thalis/internal/semantic"
	"thalis/internal/types"
)

// frame is one call's activation record. scopeBase/loopBase record how
// deep vm.scopes/vm.loops were when the call started, so RETURN (and a
// stray BREAK/CONTINUE that somehow escaped its loop) never unwinds
// into the caller's scopes.
type frame struct {
	fn        *semantic.Function
	cls       *semantic.Class
	locals    []types.Value
	this      types.Value
	scopeBase int
	loopBase  int
}

// scopeInfo is one PUSH_SCOPE/POP_SCOPE bracket: the bump marker to
// reset to, and the object-typed locals declared in it, owned in
// declaration order so POP_SCOPE can destruct them in reverse (spec
// Testable Scenario 5).
type scopeInfo struct {
	marker  uint64
	objects []types.Value
}

// loopFrame is one PUSH_LOOP/POP_LOOP bracket: the jump targets baked
// into the bytecode by the compiler, plus the scope depth at entry so
// BREAK/CONTINUE can unwind (and destruct) every scope opened since,
// since the compiler emits no scope-depth operand on those opcodes.
type loopFrame struct {
	startPC, endPC int
	scopeDepth     int
}

// VM is the stack machine of spec §4.G: one shared value stack plus the
// three memory regions of spec §4.B (scratch bump, explicit heap, and
// the return-value ferry region).
type VM struct {
	prog *bytecode.Program
	reg  *semantic.Registry
	mods *module.Registry

	stack  []types.Value
	frames []*frame
	scopes []*scopeInfo
	loops  []loopFrame

	layouts map[types.TypeID]*types.ClassLayout
	statics map[types.TypeID][]types.Value

	// stringPool caches one heap char-array Array per PUSH_STRING
	// constant index, so repeated evaluation of the same literal (e.g.
	// inside a loop) reuses its backing storage instead of
	// re-allocating on the heap every time.
	stringPool map[int]*types.Array

	Bump   *memory.Bump
	Heap   *memory.Heap
	Return *memory.Return

	MaxInstructions uint64
	executed        uint64

	Stdout func(string)

	// Hook, if set, is notified after every executed opcode. It exists
	// for read-only external observers (internal/debugserver); the VM
	// never blocks on it and its presence changes nothing about
	// execution semantics.
	Hook Hook
}

// Hook is the read-only telemetry collaborator a VM can report to.
// Implementations must not call back into the VM; OnStep receives only
// the program counter and the value-stack and frame depths.
type Hook interface {
	OnStep(pc, stackDepth, frameDepth int)
}

// New builds a VM over a resolved-and-compiled program.
func New(p *resolve.Program, prog *bytecode.Program) *VM {
	return &VM{
		prog:    prog,
		reg:     p.Registry,
		mods:    module.NewRegistry(),
		layouts: make(map[types.TypeID]*types.ClassLayout),
		Bump:    memory.NewBump(),
		Heap:    memory.NewHeap(),
		Return:  memory.NewReturn(),
		Stdout:  func(s string) { fmt.Print(s) },
	}
}

func (vm *VM) push(v types.Value) { vm.stack = append(vm.stack, v) }
func (vm *VM) pop() types.Value   { n := len(vm.stack); v := vm.stack[n-1]; vm.stack = vm.stack[:n-1]; return v }
func (vm *VM) curFrame() *frame   { return vm.frames[len(vm.frames)-1] }
func (vm *VM) pointeeSize(t types.TypeInfo) uint64 {
	return semantic.FieldSize(vm.reg, t.Deref())
}

// layoutOf memoizes semantic.ToClassLayout per class id; it is walked
// on every NEW/DECLARE_OBJECT/array-of-objects allocation.
func (vm *VM) layoutOf(id types.TypeID) *types.ClassLayout {
	if l, ok := vm.layouts[id]; ok {
		return l
	}
	cls := vm.reg.ClassByID(id)
	if cls == nil {
		return nil
	}
	l := semantic.ToClassLayout(vm.reg, cls)
	vm.layouts[id] = l
	return l
}

// registerOwned records v as an object-typed local of the innermost
// open scope, so POP_SCOPE/RETURN destructs it.
func (vm *VM) registerOwned(v types.Value) {
	if len(vm.scopes) == 0 {
		return
	}
	s := vm.scopes[len(vm.scopes)-1]
	s.objects = append(s.objects, v)
}

// bindValueParam implements spec §4.G's value-parameter binding contract:
// a non-reference parameter is never aliased into the callee's frame.
// Primitives and pointers get a fresh Cell (types.Clone); a class-typed
// argument runs the class's copy constructor, falling back to a plain
// field-by-field copy when none is declared, mirroring
// stepDeclareObjectWithAssign's `i32 b = a;`-for-objects handling.
func (vm *VM) bindValueParam(a types.Value) (types.Value, error) {
	actual := a.Actual()
	if actual.Type.PointerLevel == 0 && actual.Cell != nil && actual.Cell.Obj != nil {
		cls := vm.reg.ClassByID(actual.Type.Dynamic())
		if cls == nil {
			return types.Clone(vm.Bump, a), nil
		}
		layout := vm.layoutOf(actual.Type.ID)
		dst := *types.MakeObject(vm.Bump, layout)
		if err := vm.constructMembers(dst, cls); err != nil {
			return types.Value{}, err
		}
		if cls.CopyConstructor != 0 {
			if _, err := vm.invoke(cls, cls.FunctionByID(cls.CopyConstructor), dst, []types.Value{actual}); err != nil {
				return types.Value{}, err
			}
		} else {
			types.Assign(dst, actual)
		}
		vm.registerOwned(dst)
		return dst, nil
	}
	return types.Clone(vm.Bump, a), nil
}

// destructValue runs the destruction recursion of spec §4.H: children
// (reverse declaration order) before self, array elements walked in
// reverse, pointer members never followed.
func (vm *VM) destructValue(v types.Value) error {
	v = v.Actual()
	if v.Cell == nil || v.Cell.Obj == nil {
		return nil
	}
	cls := vm.reg.ClassByID(v.Type.Dynamic())
	if cls == nil {
		return nil
	}
	obj := v.Cell.Obj
	for i := len(cls.Members) - 1; i >= 0; i-- {
		f := cls.Members[i]
		if f.ClassElem == nil || f.Type.PointerLevel > 0 {
			continue
		}
		if f.IsArray {
			arr := obj.Fields[i].Arr
			if arr == nil {
				continue
			}
			for j := len(arr.Elems) - 1; j >= 0; j-- {
				elem := types.Value{Type: f.Type, Cell: &arr.Elems[j]}
				if err := vm.destructValue(elem); err != nil {
					return err
				}
			}
			continue
		}
		sub := types.Value{Type: f.Type, Cell: &obj.Fields[i]}
		if err := vm.destructValue(sub); err != nil {
			return err
		}
	}
	if cls.Destructor != 0 {
		if _, err := vm.invoke(cls, cls.FunctionByID(cls.Destructor), v, nil); err != nil {
			return err
		}
	}
	return nil
}

// constructMembers runs the construction recursion of spec §4.H:
// children in forward declaration order, default constructors only,
// mirroring destructValue's traversal.
func (vm *VM) constructMembers(v types.Value, cls *semantic.Class) error {
	if v.Cell == nil || v.Cell.Obj == nil {
		return nil
	}
	obj := v.Cell.Obj
	for i, f := range cls.Members {
		if f.ClassElem == nil || f.Type.PointerLevel > 0 {
			continue
		}
		if f.IsArray {
			arr := obj.Fields[i].Arr
			if arr == nil {
				continue
			}
			for j := range arr.Elems {
				elem := types.Value{Type: f.Type, Cell: &arr.Elems[j]}
				if err := vm.constructMembers(elem, f.ClassElem); err != nil {
					return err
				}
				if f.ClassElem.DefaultConstructor != 0 {
					if _, err := vm.invoke(f.ClassElem, f.ClassElem.FunctionByID(f.ClassElem.DefaultConstructor), elem, nil); err != nil {
						return err
					}
				}
			}
			continue
		}
		sub := types.Value{Type: f.Type, Cell: &obj.Fields[i]}
		if err := vm.constructMembers(sub, f.ClassElem); err != nil {
			return err
		}
		if f.ClassElem.DefaultConstructor != 0 {
			if _, err := vm.invoke(f.ClassElem, f.ClassElem.FunctionByID(f.ClassElem.DefaultConstructor), sub, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// popScope runs POP_SCOPE's contract: destruct the scope's owned
// objects in reverse registration order, then release its bump marker.
func (vm *VM) popScope() error {
	n := len(vm.scopes)
	s := vm.scopes[n-1]
	vm.scopes = vm.scopes[:n-1]
	for i := len(s.objects) - 1; i >= 0; i-- {
		if err := vm.destructValue(s.objects[i]); err != nil {
			return err
		}
	}
	vm.Bump.FreeTo(s.marker)
	return nil
}

// unwindScopesTo destructs and releases every scope opened after depth
// (most-recently-opened first), for BREAK/CONTINUE/RETURN crossing
// scope boundaries the bytecode's own POP_SCOPE never executes because
// a jump skips it.
func (vm *VM) unwindScopesTo(depth int) error {
	for len(vm.scopes) > depth {
		if err := vm.popScope(); err != nil {
			return err
		}
	}
	return nil
}

// RunFunction invokes a named class function (the loader's entry point,
// e.g. running a program's Main()) and returns its value, if any.
func (vm *VM) RunFunction(className, fnName string, args []types.Value) (types.Value, error) {
	cls := vm.reg.ClassByName(className)
	if cls == nil {
		return types.Value{}, diag.NewRuntimeError(fmt.Sprintf("unknown class %q", className))
	}
	argTypes := make([]types.TypeInfo, len(args))
	for i, a := range args {
		argTypes[i] = a.Type
	}
	fnID, _ := vm.reg.ResolveOverload(cls, fnName, argTypes)
	if fnID == semantic.InvalidFunctionID {
		return types.Value{}, diag.NewRuntimeError(fmt.Sprintf("no matching overload for %s::%s", className, fnName))
	}
	fn := cls.FunctionByID(fnID)
	return vm.invoke(cls, fn, types.Value{}, args)
}

// invoke runs one function call to completion: pushes a frame seeded
// with args in their parameter slots, executes from fn.PC, and returns
// whatever RETURN produced (or Void if it fell through).
func (vm *VM) invoke(cls *semantic.Class, fn *semantic.Function, this types.Value, args []types.Value) (types.Value, error) {
	if fn == nil || fn.Body == nil {
		return types.Void(), nil
	}
	fr := &frame{
		fn: fn, cls: cls, this: this, locals: make([]types.Value, fn.NumLocals),
		scopeBase: len(vm.scopes), loopBase: len(vm.loops),
	}
	// Own scope for copied value parameters, so they are destructed (and
	// their bump storage reclaimed) when this call returns, the same as
	// any other object-typed local — unwindScopesTo(fr.scopeBase) below
	// pops it along with whatever scopes the body itself opens.
	vm.scopes = append(vm.scopes, &scopeInfo{marker: vm.Bump.Marker()})
	for i, a := range args {
		if i >= len(fr.locals) {
			continue
		}
		if i < len(fn.Params) && fn.Params[i].ByRef {
			fr.locals[i] = a
			continue
		}
		if cls != nil && cls.CopyConstructor != 0 && fn == cls.FunctionByID(cls.CopyConstructor) {
			// The copy constructor's own by-value parameter is a plain
			// copy; binding it through bindValueParam would run this
			// constructor again for every call, without end.
			fr.locals[i] = types.Clone(vm.Bump, a)
			continue
		}
		v, err := vm.bindValueParam(a)
		if err != nil {
			vm.scopes = vm.scopes[:len(vm.scopes)-1]
			return types.Value{}, err
		}
		fr.locals[i] = v
	}
	vm.frames = append(vm.frames, fr)
	defer func() { vm.frames = vm.frames[:len(vm.frames)-1] }()

	baseStack := len(vm.stack)
	ret, err := vm.execFrame(fn.PC)
	if err == nil {
		err = vm.unwindScopesTo(fr.scopeBase)
	}
	vm.loops = vm.loops[:fr.loopBase]
	vm.stack = vm.stack[:baseStack]
	return ret, err
}

// execFrame runs one function body's instruction stream, starting at
// pc, until its RETURN fires.
func (vm *VM) execFrame(pc int) (types.Value, error) {
	for {
		if vm.MaxInstructions != 0 && vm.executed >= vm.MaxInstructions {
			return types.Value{}, diag.NewRuntimeError("instruction budget exceeded")
		}
		vm.executed++
		if vm.Hook != nil {
			vm.Hook.OnStep(pc, len(vm.stack), len(vm.frames))
		}
		op := vm.prog.ReadOp(pc)
		pc += 2
		ret, next, returned, err := vm.step(op, pc)
		if err != nil {
			return types.Value{}, err
		}
		if returned {
			return ret, nil
		}
		pc = next
	}
}
