package vm

import (
	"fmt"

	"thalis/internal/bytecode"
	"thalis/internal/diag"
	"thalis/internal/types"
)

// step decodes and executes one instruction starting at pc (which has
// already been advanced past the 2-byte opcode by execFrame), returning
// the next pc to resume at. When returned is true, ret is the frame's
// final value and execFrame must stop.
//
// This mirrors the opcode table of spec §4.H one case at a time; operand
// layouts match internal/compiler's emission exactly (bytecode/chunk.go's
// Read* helpers do not self-advance, so each case tracks its own pc).
func (vm *VM) step(op bytecode.OpCode, pc int) (types.Value, int, bool, error) {
	switch op {

	case bytecode.OpPushU8:
		vm.push(types.NewPrimitive(vm.Bump, types.KU8, uint64(vm.prog.ReadU8(pc))))
		return types.Value{}, pc + 1, false, nil
	case bytecode.OpPushU16:
		vm.push(types.NewPrimitive(vm.Bump, types.KU16, uint64(vm.prog.ReadU16(pc))))
		return types.Value{}, pc + 2, false, nil
	case bytecode.OpPushU32:
		vm.push(types.NewPrimitive(vm.Bump, types.KU32, uint64(vm.prog.ReadU32(pc))))
		return types.Value{}, pc + 4, false, nil
	case bytecode.OpPushU64:
		vm.push(types.NewPrimitive(vm.Bump, types.KU64, vm.prog.ReadU64(pc)))
		return types.Value{}, pc + 8, false, nil
	case bytecode.OpPushI8:
		vm.push(types.NewPrimitive(vm.Bump, types.KI8, uint64(uint8(vm.prog.ReadI8(pc)))))
		return types.Value{}, pc + 1, false, nil
	case bytecode.OpPushI16:
		vm.push(types.NewPrimitive(vm.Bump, types.KI16, uint64(vm.prog.ReadU16(pc))))
		return types.Value{}, pc + 2, false, nil
	case bytecode.OpPushI32:
		vm.push(types.NewPrimitive(vm.Bump, types.KI32, uint64(vm.prog.ReadU32(pc))))
		return types.Value{}, pc + 4, false, nil
	case bytecode.OpPushI64:
		vm.push(types.NewPrimitive(vm.Bump, types.KI64, vm.prog.ReadU64(pc)))
		return types.Value{}, pc + 8, false, nil
	case bytecode.OpPushF32:
		vm.push(types.NewPrimitive(vm.Bump, types.KF32, uint64(vm.prog.ReadU32(pc))))
		return types.Value{}, pc + 4, false, nil
	case bytecode.OpPushF64:
		vm.push(types.NewPrimitive(vm.Bump, types.KF64, vm.prog.ReadU64(pc)))
		return types.Value{}, pc + 8, false, nil
	case bytecode.OpPushBool:
		vm.push(types.NewBool(vm.Bump, vm.prog.ReadBool(pc)))
		return types.Value{}, pc + 1, false, nil
	case bytecode.OpPushChar:
		vm.push(types.NewPrimitive(vm.Bump, types.KChar, uint64(vm.prog.ReadU8(pc))))
		return types.Value{}, pc + 1, false, nil
	case bytecode.OpPushNull:
		vm.push(types.Value{Type: types.Plain(types.InvalidType, 1), Cell: vm.Bump.NewCell()})
		return types.Value{}, pc, false, nil
	case bytecode.OpPushString:
		idx := vm.prog.ReadU32(pc)
		vm.push(vm.pushStringConstant(int(idx)))
		return types.Value{}, pc + 4, false, nil

	case bytecode.OpPushLocal:
		slot := int(vm.prog.ReadU16(pc))
		vm.push(vm.curFrame().locals[slot])
		return types.Value{}, pc + 2, false, nil
	case bytecode.OpPushThis:
		vm.push(vm.curFrame().this)
		return types.Value{}, pc, false, nil
	case bytecode.OpPushMember:
		return vm.stepPushMember(pc)
	case bytecode.OpPushIndexed:
		return vm.stepPushIndexed(pc)
	case bytecode.OpPushStatic:
		ownerID := types.TypeID(vm.prog.ReadU16(pc))
		idx := int(vm.prog.ReadU16(pc + 2))
		v, err := vm.staticSlot(ownerID, idx)
		if err != nil {
			return types.Value{}, 0, false, err
		}
		vm.push(v)
		return types.Value{}, pc + 4, false, nil

	case bytecode.OpDeclareLocal:
		slot := int(vm.prog.ReadU16(pc))
		vm.curFrame().locals[slot] = types.Clone(vm.Bump, vm.pop())
		return types.Value{}, pc + 2, false, nil
	case bytecode.OpDeclareObjectWithConstructor:
		return vm.stepDeclareObjectWithConstructor(pc)
	case bytecode.OpDeclareObjectWithAssign:
		return vm.stepDeclareObjectWithAssign(pc)
	case bytecode.OpDeclareReference:
		slot := int(vm.prog.ReadU16(pc))
		target := vm.pop()
		vm.curFrame().locals[slot] = types.MakeReference(vm.Bump, target)
		return types.Value{}, pc + 2, false, nil

	case bytecode.OpSet:
		ownerID := types.TypeID(vm.prog.ReadU16(pc))
		fnID := vm.prog.ReadU32(pc + 2)
		pc += 6
		src := vm.pop()
		dst := vm.pop()
		if fnID != 0 {
			cls := vm.reg.ClassByID(ownerID)
			if _, err := vm.invoke(cls, cls.FunctionByID(fnID), dst, []types.Value{src}); err != nil {
				return types.Value{}, 0, false, err
			}
		} else {
			types.Assign(dst, src)
		}
		vm.push(dst)
		return types.Value{}, pc, false, nil

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpEqual, bytecode.OpNotEqual, bytecode.OpLess, bytecode.OpLessEqual,
		bytecode.OpGreater, bytecode.OpGreaterEqual, bytecode.OpLogicalAnd, bytecode.OpLogicalOr:
		return vm.stepBinary(op, pc)

	case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor, bytecode.OpShl, bytecode.OpShr:
		return vm.stepBitwise(op, pc)

	case bytecode.OpUnaryUpdate:
		return vm.stepUnaryUpdate(pc)
	case bytecode.OpNegate:
		v := vm.pop()
		vm.push(types.Negate(vm.Bump, v))
		return types.Value{}, pc, false, nil
	case bytecode.OpInvert:
		v := vm.pop()
		vm.push(types.Invert(vm.Bump, v))
		return types.Value{}, pc, false, nil
	case bytecode.OpLogicalNot:
		v := vm.pop()
		vm.push(types.LogicalNot(vm.Bump, v))
		return types.Value{}, pc, false, nil
	case bytecode.OpAddressOf:
		v := vm.pop()
		vm.push(types.AddressOf(vm.Bump, v))
		return types.Value{}, pc, false, nil
	case bytecode.OpDereference:
		v := vm.pop()
		dv, err := v.Actual().Dereference()
		if err != nil {
			return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
		}
		vm.push(dv)
		return types.Value{}, pc, false, nil
	case bytecode.OpCast:
		return vm.stepCast(pc)

	case bytecode.OpStaticFunctionCall:
		return vm.stepStaticCall(pc)
	case bytecode.OpMemberFunctionCall:
		return vm.stepMemberCall(pc)
	case bytecode.OpVirtualFunctionCall:
		return vm.stepVirtualCall(pc)
	case bytecode.OpConstructorCall:
		return vm.stepConstructorCall(pc)

	case bytecode.OpNew:
		return vm.stepNew(pc)
	case bytecode.OpNewArray:
		return vm.stepNewArray(pc)
	case bytecode.OpDelete:
		return vm.stepDelete(pc)
	case bytecode.OpDeleteArray:
		return vm.stepDeleteArray(pc)

	case bytecode.OpReturn:
		return vm.stepReturn(pc)

	case bytecode.OpPushScope:
		vm.scopes = append(vm.scopes, &scopeInfo{marker: vm.Bump.Marker()})
		return types.Value{}, pc, false, nil
	case bytecode.OpPopScope:
		if err := vm.popScope(); err != nil {
			return types.Value{}, 0, false, err
		}
		return types.Value{}, pc, false, nil
	case bytecode.OpPushLoop:
		start := vm.prog.ReadU32(pc)
		end := vm.prog.ReadU32(pc + 4)
		vm.loops = append(vm.loops, loopFrame{startPC: int(start), endPC: int(end), scopeDepth: len(vm.scopes)})
		return types.Value{}, pc + 8, false, nil
	case bytecode.OpPopLoop:
		vm.loops = vm.loops[:len(vm.loops)-1]
		return types.Value{}, pc, false, nil
	case bytecode.OpBreak:
		target := vm.prog.ReadU32(pc)
		loop := vm.loops[len(vm.loops)-1]
		if err := vm.unwindScopesTo(loop.scopeDepth); err != nil {
			return types.Value{}, 0, false, err
		}
		vm.loops = vm.loops[:len(vm.loops)-1]
		return types.Value{}, int(target), false, nil
	case bytecode.OpContinue:
		target := vm.prog.ReadU32(pc)
		loop := vm.loops[len(vm.loops)-1]
		if err := vm.unwindScopesTo(loop.scopeDepth); err != nil {
			return types.Value{}, 0, false, err
		}
		return types.Value{}, int(target), false, nil

	case bytecode.OpJump:
		target := vm.prog.ReadU32(pc)
		return types.Value{}, int(target), false, nil
	case bytecode.OpJumpIfFalse:
		target := vm.prog.ReadU32(pc)
		cond := vm.pop().Actual()
		truthy := types.ReadAsF64(cond.Type.ID.Kind(), cond.Cell.Bits) != 0
		if !truthy {
			return types.Value{}, int(target), false, nil
		}
		return types.Value{}, pc + 4, false, nil

	case bytecode.OpModuleFunctionCall:
		return vm.stepModuleCall(pc)
	case bytecode.OpModuleConstant:
		modID := int(vm.prog.ReadU16(pc))
		kID := vm.prog.ReadU16(pc + 2)
		v, err := vm.mods.Constant(vm.Bump, modID, kID)
		if err != nil {
			return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
		}
		vm.push(v)
		return types.Value{}, pc + 4, false, nil

	case bytecode.OpPop:
		vm.pop()
		return types.Value{}, pc, false, nil
	case bytecode.OpSizeof:
		size := vm.prog.ReadU64(pc)
		vm.push(types.NewU64(vm.Bump, size))
		return types.Value{}, pc + 8, false, nil
	case bytecode.OpStrlen:
		v := vm.pop().Actual()
		vm.push(types.NewU64(vm.Bump, uint64(cStrLen(v))))
		return types.Value{}, pc, false, nil
	case bytecode.OpOffsetof:
		off := vm.prog.ReadU64(pc)
		vm.push(types.NewU64(vm.Bump, off))
		return types.Value{}, pc + 8, false, nil
	case bytecode.OpBreakpoint:
		return types.Value{}, pc, false, nil
	}

	return types.Value{}, 0, false, diag.NewRuntimeError(fmt.Sprintf("unimplemented opcode %s", op))
}

// readMemberOperands mirrors compiler.writeMemberOperands's encoding:
// (typeID u16, pointerLevel u8, byteOffset u64, isRef bool, isArray bool).
func (vm *VM) readMemberOperands(pc int) (types.TypeInfo, uint64, bool, bool, int) {
	id := types.TypeID(vm.prog.ReadU16(pc))
	lvl := vm.prog.ReadU8(pc + 2)
	off := vm.prog.ReadU64(pc + 3)
	ref := vm.prog.ReadBool(pc + 11)
	arr := vm.prog.ReadBool(pc + 12)
	return types.Plain(id, lvl), off, ref, arr, pc + 13
}

func (vm *VM) stepPushMember(pc int) (types.Value, int, bool, error) {
	t, off, _, _, next := vm.readMemberOperands(pc)
	recv := vm.pop().Actual()
	if recv.Cell == nil || recv.Cell.Obj == nil {
		return types.Value{}, 0, false, diag.NewRuntimeError("member access on null object")
	}
	layout := vm.layoutOf(recv.Type.Dynamic())
	if layout == nil {
		return types.Value{}, 0, false, diag.NewRuntimeError("member access on unresolved class")
	}
	cell, ok := types.FieldAt(recv.Cell.Obj, layout, off)
	if !ok {
		return types.Value{}, 0, false, diag.NewRuntimeError("unresolved member offset")
	}
	vm.push(types.Value{Type: t, Cell: cell})
	return types.Value{}, next, false, nil
}

// stepPushIndexed implements PUSH_INDEXED: the base (array or pointer)
// and len(indices) index values are already on the stack, base pushed
// first. A single index is the common case (multi-dimensional arrays
// use one PUSH_INDEXED per dimension at the parser/compiler level on
// the original, but this emitter always emits exactly one index count,
// so we resolve the full row-major offset from the array's own header
// when the base is a real array, or walk ArrIndex when it is a pointer).
func (vm *VM) stepPushIndexed(pc int) (types.Value, int, bool, error) {
	elemSize := vm.prog.ReadU64(pc)
	n := int(vm.prog.ReadU8(pc + 8))
	next := pc + 11 // + u64 elemSize, u8 n, u16 opFn
	_ = elemSize

	idx := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		iv := vm.pop().Actual()
		idx[i] = int(types.ReadAsI64(iv.Type.ID.Kind(), iv.Cell.Bits))
	}
	base := vm.pop().Actual()

	if base.Cell != nil && base.Cell.Arr != nil {
		arr := base.Cell.Arr
		off := types.LinearOffset(arr.Header.Dimensions(), idx)
		if off < 0 || off >= len(arr.Elems) {
			return types.Value{}, 0, false, diag.NewRuntimeError("array index out of bounds")
		}
		vm.push(types.Value{Type: arr.ElemTy, Cell: &arr.Elems[off]})
		return types.Value{}, next, false, nil
	}
	if base.Cell != nil && base.Cell.ArrBase != nil {
		arr := base.Cell.ArrBase
		off := base.Cell.ArrIndex + idx[0]
		if off < 0 || off >= len(arr.Elems) {
			return types.Value{}, 0, false, diag.NewRuntimeError("pointer index out of bounds")
		}
		vm.push(types.Value{Type: base.Type.Deref(), Cell: &arr.Elems[off]})
		return types.Value{}, next, false, nil
	}
	return types.Value{}, 0, false, diag.NewRuntimeError("index of non-array, non-pointer value")
}

func cStrLen(v types.Value) int {
	if v.Cell == nil || v.Cell.Target == nil || v.Cell.Target.ArrBase == nil {
		return 0
	}
	arr := v.Cell.Target.ArrBase
	n := 0
	for i := v.Cell.Target.ArrIndex; i < len(arr.Elems); i++ {
		if arr.Elems[i].Bits == 0 {
			break
		}
		n++
	}
	return n
}

// pushStringConstant materializes program constant idx as a heap char
// array the first time it is referenced, then reuses the same backing
// Array on every subsequent PUSH_STRING of that index (mirrors
// internal/module's heapCString convention: a NUL-terminated char array,
// with the returned Value a char* aliasing element 0).
func (vm *VM) pushStringConstant(idx int) types.Value {
	if arr, ok := vm.stringPool[idx]; ok {
		return aliasFirstElem(vm.Bump, arr, types.Plain(types.TypeID(types.KChar), 1))
	}
	s, _ := vm.prog.Constants[idx].(string)
	bytes := append([]byte(s), 0)
	arrVal := types.MakeArray(vm.Heap, types.Plain(types.TypeID(types.KChar), 0), []int{len(bytes)}, nil)
	arr := arrVal.Cell.Arr
	for i, b := range bytes {
		arr.Elems[i].Bits = uint64(b)
	}
	if vm.stringPool == nil {
		vm.stringPool = make(map[int]*types.Array)
	}
	vm.stringPool[idx] = arr
	return aliasFirstElem(vm.Bump, arr, types.Plain(types.TypeID(types.KChar), 1))
}

func aliasFirstElem(a types.Allocator, arr *types.Array, ptrType types.TypeInfo) types.Value {
	c := a.NewCell()
	if len(arr.Elems) > 0 {
		c.Target = &arr.Elems[0]
	}
	c.ArrBase = arr
	c.ArrIndex = 0
	return types.Value{Type: ptrType, Cell: c}
}

func (vm *VM) stepDeclareObjectWithConstructor(pc int) (types.Value, int, bool, error) {
	classID := types.TypeID(vm.prog.ReadU16(pc))
	ctorID := vm.prog.ReadU32(pc + 2)
	slot := int(vm.prog.ReadU16(pc + 6))
	next := pc + 8

	v, err := vm.newObject(classID, ctorID, nil)
	if err != nil {
		return types.Value{}, 0, false, err
	}
	vm.curFrame().locals[slot] = v
	vm.registerOwned(v)
	return types.Value{}, next, false, nil
}

func (vm *VM) stepDeclareObjectWithAssign(pc int) (types.Value, int, bool, error) {
	classID := types.TypeID(vm.prog.ReadU16(pc))
	slot := int(vm.prog.ReadU16(pc + 2))
	copyCtorID := vm.prog.ReadU32(pc + 4)
	next := pc + 8

	rhs := vm.pop()
	layout := vm.layoutOf(classID)
	dst := *types.MakeObject(vm.Bump, layout)
	cls := vm.reg.ClassByID(classID)
	if err := vm.constructMembers(dst, cls); err != nil {
		return types.Value{}, 0, false, err
	}
	if copyCtorID != 0 {
		if _, err := vm.invoke(cls, cls.FunctionByID(copyCtorID), dst, []types.Value{rhs}); err != nil {
			return types.Value{}, 0, false, err
		}
	} else {
		types.Assign(dst, rhs)
	}
	vm.curFrame().locals[slot] = dst
	vm.registerOwned(dst)
	return types.Value{}, next, false, nil
}

// newObject allocates a scope-owned instance of classID, default
// constructs its sub-objects, then runs ctorID (if any) with args.
func (vm *VM) newObject(classID types.TypeID, ctorID uint32, args []types.Value) (types.Value, error) {
	layout := vm.layoutOf(classID)
	if layout == nil {
		return types.Value{}, diag.NewRuntimeError(fmt.Sprintf("unknown class id %d", classID))
	}
	v := *types.MakeObject(vm.Bump, layout)
	cls := vm.reg.ClassByID(classID)
	if err := vm.constructMembers(v, cls); err != nil {
		return types.Value{}, err
	}
	if ctorID != 0 {
		if _, err := vm.invoke(cls, cls.FunctionByID(ctorID), v, args); err != nil {
			return types.Value{}, err
		}
	}
	return v, nil
}

func (vm *VM) stepBinary(op bytecode.OpCode, pc int) (types.Value, int, bool, error) {
	ownerID := types.TypeID(vm.prog.ReadU16(pc))
	fnID := vm.prog.ReadU32(pc + 2)
	pc += 6
	rhs := vm.pop()
	lhs := vm.pop()
	if fnID != 0 {
		cls := vm.reg.ClassByID(ownerID)
		v, err := vm.invoke(cls, cls.FunctionByID(fnID), lhs, []types.Value{rhs})
		if err != nil {
			return types.Value{}, 0, false, err
		}
		vm.push(v)
		return types.Value{}, pc, false, nil
	}
	bop, ok := binOpOf[op]
	if !ok {
		return types.Value{}, 0, false, diag.NewRuntimeError(fmt.Sprintf("unhandled binary opcode %s", op))
	}
	v, err := types.Binary(vm.Bump, bop, lhs, rhs, vm.pointeeSize)
	if err != nil {
		return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
	}
	vm.push(v)
	return types.Value{}, pc, false, nil
}

var binOpOf = map[bytecode.OpCode]types.BinOp{
	bytecode.OpAdd: types.OpAdd, bytecode.OpSub: types.OpSub, bytecode.OpMul: types.OpMul,
	bytecode.OpDiv: types.OpDiv, bytecode.OpMod: types.OpMod,
	bytecode.OpLess: types.OpLess, bytecode.OpGreater: types.OpGreater,
	bytecode.OpLessEqual: types.OpLessEq, bytecode.OpGreaterEqual: types.OpGreaterEq,
	bytecode.OpEqual: types.OpEq, bytecode.OpNotEqual: types.OpNotEq,
	bytecode.OpLogicalAnd: types.OpLogicalAnd, bytecode.OpLogicalOr: types.OpLogicalOr,
}

// stepBitwise implements AND/OR/XOR/SHL/SHR directly: types.BinOp has no
// bitwise lanes (spec's arithmetic table treats them separately from the
// promotion-driven float-capable operators above).
func (vm *VM) stepBitwise(op bytecode.OpCode, pc int) (types.Value, int, bool, error) {
	pc += 2 // opFnId
	rhs := vm.pop().Actual()
	lhs := vm.pop().Actual()
	k := types.Promote(lhs.Type.ID.Kind(), rhs.Type.ID.Kind())
	l := types.ReadAsU64(lhs.Type.ID.Kind(), lhs.Cell.Bits)
	r := types.ReadAsU64(rhs.Type.ID.Kind(), rhs.Cell.Bits)
	var out uint64
	switch op {
	case bytecode.OpBitAnd:
		out = l & r
	case bytecode.OpBitOr:
		out = l | r
	case bytecode.OpBitXor:
		out = l ^ r
	case bytecode.OpShl:
		out = l << (r & 63)
	case bytecode.OpShr:
		out = l >> (r & 63)
	}
	vm.push(types.NewPrimitive(vm.Bump, k, types.WriteBits(k, false, 0, int64(out))))
	return types.Value{}, pc, false, nil
}

func (vm *VM) stepUnaryUpdate(pc int) (types.Value, int, bool, error) {
	delta := int64(int8(vm.prog.ReadU8(pc)))
	post := vm.prog.ReadBool(pc + 1)
	next := pc + 2
	target := vm.pop()
	before := types.Clone(vm.Bump, target)
	types.Increment(target.Actual(), delta)
	if post {
		vm.push(before)
	} else {
		vm.push(target)
	}
	return types.Value{}, next, false, nil
}

func (vm *VM) stepCast(pc int) (types.Value, int, bool, error) {
	id := types.TypeID(vm.prog.ReadU16(pc))
	lvl := vm.prog.ReadU8(pc + 2)
	next := pc + 3
	target := types.Plain(id, lvl)
	v := vm.pop()
	out, err := types.CastTo(vm.Bump, v, target)
	if err != nil {
		return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
	}
	vm.push(out)
	return types.Value{}, next, false, nil
}

func (vm *VM) stepStaticCall(pc int) (types.Value, int, bool, error) {
	classID := types.TypeID(vm.prog.ReadU16(pc))
	fnID := vm.prog.ReadU32(pc + 2)
	useRet := vm.prog.ReadBool(pc + 6)
	next := pc + 7
	cls := vm.reg.ClassByID(classID)
	fn := cls.FunctionByID(fnID)
	args := vm.popArgs(len(fn.Params))
	ret, err := vm.invoke(cls, fn, types.Value{}, args)
	if err != nil {
		return types.Value{}, 0, false, err
	}
	if useRet {
		vm.push(ret)
	}
	return types.Value{}, next, false, nil
}

func (vm *VM) stepMemberCall(pc int) (types.Value, int, bool, error) {
	classID := types.TypeID(vm.prog.ReadU16(pc))
	fnID := vm.prog.ReadU32(pc + 2)
	useRet := vm.prog.ReadBool(pc + 6)
	next := pc + 7
	cls := vm.reg.ClassByID(classID)
	fn := cls.FunctionByID(fnID)
	args := vm.popArgs(len(fn.Params))
	recv := vm.pop()
	ret, err := vm.invoke(cls, fn, recv, args)
	if err != nil {
		return types.Value{}, 0, false, err
	}
	if useRet {
		vm.push(ret)
	}
	return types.Value{}, next, false, nil
}

func (vm *VM) stepVirtualCall(pc int) (types.Value, int, bool, error) {
	slot := int(vm.prog.ReadU16(pc))
	argc := int(vm.prog.ReadU16(pc + 2))
	useRet := vm.prog.ReadBool(pc + 4)
	next := pc + 5

	args := vm.popArgs(argc)
	recvVal := vm.pop()
	recv := recvVal.Actual()
	if recv.Type.PointerLevel > 0 {
		// `p->f()`: dispatch on the pointed-to object
		if obj, err := recv.Dereference(); err == nil {
			recv = obj
		}
	}
	if recv.Cell == nil || recv.Cell.Obj == nil || recv.Cell.Obj.VTable == nil {
		return types.Value{}, 0, false, diag.NewRuntimeError("virtual call on null receiver")
	}
	if slot >= len(recv.Cell.Obj.VTable.Slots) {
		return types.Value{}, 0, false, diag.NewRuntimeError("virtual call: slot out of range")
	}
	ref := recv.Cell.Obj.VTable.Slots[slot]
	owner := vm.reg.ClassByID(ref.ClassID)
	fn := owner.FunctionByID(ref.FuncID)

	ret, err := vm.invoke(owner, fn, recv, args)
	if err != nil {
		return types.Value{}, 0, false, err
	}
	if useRet {
		vm.push(ret)
	}
	return types.Value{}, next, false, nil
}

func (vm *VM) stepConstructorCall(pc int) (types.Value, int, bool, error) {
	classID := types.TypeID(vm.prog.ReadU16(pc))
	ctorID := vm.prog.ReadU32(pc + 2)
	argc := int(vm.prog.ReadU8(pc + 6))
	next := pc + 7
	args := vm.popArgs(argc)
	v, err := vm.newObject(classID, ctorID, args)
	if err != nil {
		return types.Value{}, 0, false, err
	}
	vm.registerOwned(v)
	vm.push(v)
	return types.Value{}, next, false, nil
}

// popArgs pops n values off the stack, restoring their left-to-right
// call order (they were pushed in that order, so the last one is on
// top).
func (vm *VM) popArgs(n int) []types.Value {
	args := make([]types.Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	return args
}

func (vm *VM) stepNew(pc int) (types.Value, int, bool, error) {
	typeID := types.TypeID(vm.prog.ReadU16(pc))
	ctorID := vm.prog.ReadU32(pc + 2)
	next := pc + 6

	cls := vm.reg.ClassByID(typeID)
	if cls == nil {
		// primitive `new` (e.g. `new i64`): one heap cell, zero-valued.
		c := vm.Heap.NewCell()
		ptr := vm.Bump.NewCell()
		ptr.Target = c
		vm.push(types.Value{Type: types.Plain(typeID, 1), Cell: ptr})
		return types.Value{}, next, false, nil
	}

	layout := vm.layoutOf(typeID)
	obj := types.MakeObject(vm.Heap, layout)
	if err := vm.constructMembers(*obj, cls); err != nil {
		return types.Value{}, 0, false, err
	}
	args := []types.Value{}
	if ctorID != 0 {
		fn := cls.FunctionByID(ctorID)
		args = vm.popArgs(len(fn.Params))
		if _, err := vm.invoke(cls, fn, *obj, args); err != nil {
			return types.Value{}, 0, false, err
		}
	}
	ptr := vm.Bump.NewCell()
	ptr.Target = obj.Cell
	vm.push(types.Value{Type: types.Plain(typeID, 1), Cell: ptr})
	return types.Value{}, next, false, nil
}

func (vm *VM) stepNewArray(pc int) (types.Value, int, bool, error) {
	typeID := types.TypeID(vm.prog.ReadU16(pc))
	lvl := vm.prog.ReadU8(pc + 2)
	nDims := int(vm.prog.ReadU8(pc + 3))
	next := pc + 4

	dimVals := vm.popArgs(nDims)
	dims := make([]int, nDims)
	for i, d := range dimVals {
		dv := d.Actual()
		dims[i] = int(types.ReadAsI64(dv.Type.ID.Kind(), dv.Cell.Bits))
	}
	elemTy := types.Plain(typeID, lvl)
	var elemCls *types.ClassLayout
	if lvl == 0 {
		elemCls = vm.layoutOf(typeID)
	}
	// arrVal.Cell is the Heap-tracked cell MakeArray allocated; it must
	// be the very Value pushed here (not a fresh aliasing cell), or
	// DELETE_ARRAY's Heap.Free could never find it by identity.
	arrVal := types.MakeArray(vm.Heap, elemTy, dims, elemCls)
	vm.push(*arrVal)
	return types.Value{}, next, false, nil
}

func (vm *VM) stepDelete(pc int) (types.Value, int, bool, error) {
	v := vm.pop().Actual()
	if v.Cell == nil || v.Cell.Target == nil {
		return types.Value{}, pc, false, nil
	}
	if v.Cell.Target.Obj != nil {
		if err := vm.destructValue(types.Value{Type: v.Type.Deref(), Cell: v.Cell.Target}); err != nil {
			return types.Value{}, 0, false, err
		}
	}
	if err := vm.Heap.Free(v.Cell.Target); err != nil {
		return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
	}
	return types.Value{}, pc, false, nil
}

func (vm *VM) stepDeleteArray(pc int) (types.Value, int, bool, error) {
	v := vm.pop().Actual()
	if v.Cell == nil || v.Cell.Arr == nil {
		return types.Value{}, pc, false, nil
	}
	arr := v.Cell.Arr
	if arr.ElemCls != nil {
		for i := len(arr.Elems) - 1; i >= 0; i-- {
			elem := types.Value{Type: v.Type, Cell: &arr.Elems[i]}
			if err := vm.destructValue(elem); err != nil {
				return types.Value{}, 0, false, err
			}
		}
	}
	if err := vm.Heap.Free(v.Cell); err != nil {
		return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
	}
	return types.Value{}, pc, false, nil
}

func (vm *VM) stepReturn(pc int) (types.Value, int, bool, error) {
	tag := bytecode.ReturnTag(vm.prog.ReadU8(pc))
	if tag == bytecode.ReturnNone {
		return types.Void(), 0, true, nil
	}
	v := vm.pop()
	if tag == bytecode.ReturnReference {
		return v, 0, true, nil
	}
	ret := types.Clone(vm.Return, v)
	return ret, 0, true, nil
}

func (vm *VM) stepModuleCall(pc int) (types.Value, int, bool, error) {
	modID := int(vm.prog.ReadU16(pc))
	fnID := vm.prog.ReadU16(pc + 2)
	argc := int(vm.prog.ReadU16(pc + 4))
	useRet := vm.prog.ReadBool(pc + 6)
	next := pc + 7
	args := vm.popArgs(argc)
	for i := range args {
		args[i] = args[i].Actual()
	}
	ret, err := vm.mods.Call(vm.Bump, modID, uint16(fnID), args)
	if err != nil {
		return types.Value{}, 0, false, diag.NewRuntimeError(err.Error())
	}
	if useRet {
		vm.push(ret)
	}
	return types.Value{}, next, false, nil
}

// staticSlot returns the Value backing owner's static field idx,
// lazily zero-initializing the class's whole static table on first
// touch (spec §4.E: statics are not duplicated into derived classes).
func (vm *VM) staticSlot(owner types.TypeID, idx int) (types.Value, error) {
	if vm.statics == nil {
		vm.statics = make(map[types.TypeID][]types.Value)
	}
	slots, ok := vm.statics[owner]
	if !ok {
		cls := vm.reg.ClassByID(owner)
		if cls == nil {
			return types.Value{}, diag.NewRuntimeError(fmt.Sprintf("unknown static owner class id %d", owner))
		}
		slots = make([]types.Value, len(cls.Statics))
		for i, f := range cls.Statics {
			slots[i] = vm.zeroValue(f.Type)
		}
		vm.statics[owner] = slots
		if cls.StaticInitFn != nil {
			if _, err := vm.invoke(cls, cls.StaticInitFn, types.Value{}, nil); err != nil {
				return types.Value{}, err
			}
		}
	}
	if idx < 0 || idx >= len(slots) {
		return types.Value{}, diag.NewRuntimeError("static field index out of range")
	}
	return slots[idx], nil
}

// zeroValue builds the default-initialized Value for a static field's
// declared type: null for pointers, a default-constructed instance for
// class types, else a zero-bits primitive.
func (vm *VM) zeroValue(t types.TypeInfo) types.Value {
	if t.PointerLevel > 0 {
		return types.Value{Type: t, Cell: vm.Heap.NewCell()}
	}
	if cls := vm.reg.ClassByID(t.ID); cls != nil {
		layout := vm.layoutOf(t.ID)
		v := *types.MakeObject(vm.Heap, layout)
		vm.constructMembers(v, cls)
		if cls.DefaultConstructor != 0 {
			vm.invoke(cls, cls.FunctionByID(cls.DefaultConstructor), v, nil)
		}
		return v
	}
	return types.NewPrimitive(vm.Heap, t.ID.Kind(), 0)
}
