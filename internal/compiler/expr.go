package compiler

import (
	"fmt"

	"thalis/internal/bytecode"
	"thalis/internal/module"
	"thalis/internal/parser"
	"thalis/internal/semantic"
	"thalis/internal/types"
)

var modules = module.NewRegistry()

// emitExpr emits bytecode for expr and returns its static TypeInfo; the
// "GetTypeInfo" the spec describes per-node is folded into the same
// walk rather than a second pass, since Go lets emitExpr just return it.
func (e *emitter) emitExpr(expr parser.Expr) types.TypeInfo {
	switch n := expr.(type) {
	case *parser.IntLit:
		e.prog.WriteOp(bytecode.OpPushI64)
		e.prog.WriteU64(uint64(n.Val))
		return types.Plain(types.TypeID(types.KI64), 0)
	case *parser.RealLit:
		e.prog.WriteOp(bytecode.OpPushF64)
		e.prog.WriteU64(floatBits(n.Val))
		return types.Plain(types.TypeID(types.KF64), 0)
	case *parser.BoolLit:
		e.prog.WriteOp(bytecode.OpPushBool)
		e.prog.WriteBool(n.Val)
		return types.Plain(types.TypeID(types.KBool), 0)
	case *parser.CharLit:
		e.prog.WriteOp(bytecode.OpPushChar)
		e.prog.WriteU8(byte(n.Val))
		return types.Plain(types.TypeID(types.KChar), 0)
	case *parser.NullLit:
		e.prog.WriteOp(bytecode.OpPushNull)
		return types.Plain(types.InvalidType, 1)
	case *parser.StringLit:
		idx := e.prog.AddConstant(n.Val)
		e.prog.WriteOp(bytecode.OpPushString)
		e.prog.WriteU32(uint32(idx))
		return types.Plain(types.TypeID(types.KChar), 1)
	case *parser.ThisExpr:
		e.prog.WriteOp(bytecode.OpPushThis)
		return types.Plain(e.class.ID, 0)
	case *parser.Ident:
		return e.emitIdent(n)
	case *parser.Unary:
		return e.emitUnary(n)
	case *parser.Binary:
		return e.emitBinary(n)
	case *parser.Assign:
		return e.emitAssign(n)
	case *parser.CompoundAssign:
		return e.emitCompoundAssign(n)
	case *parser.Cast:
		return e.emitCast(n)
	case *parser.New:
		return e.emitNew(n)
	case *parser.NewArray:
		return e.emitNewArray(n)
	case *parser.SizeofExpr:
		e.prog.WriteOp(bytecode.OpSizeof)
		t := e.resolveTypeRef(n.Type)
		e.prog.WriteU64(fieldSize(e.reg, t))
		return types.Plain(types.TypeID(types.KU64), 0)
	case *parser.StrlenExpr:
		et := e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpStrlen)
		_ = et
		return types.Plain(types.TypeID(types.KU64), 0)
	case *parser.OffsetofExpr:
		cls := e.reg.ClassByName(n.Type.Name)
		off, _, ok := e.reg.MemberOffset(cls, []string{n.Field})
		if !ok {
			e.fail(fmt.Errorf("offsetof: unknown member %s.%s", n.Type.Name, n.Field))
		}
		e.prog.WriteOp(bytecode.OpOffsetof)
		e.prog.WriteU64(off)
		return types.Plain(types.TypeID(types.KU64), 0)
	case *parser.Call:
		return e.emitCall(n)
	case *parser.Index:
		return e.emitIndex(n)
	case *parser.Member:
		return e.emitMember(n)
	}
	e.fail(fmt.Errorf("unhandled expression node %T", expr))
	return types.TypeInfo{}
}

func floatBits(f float64) uint64 { return types.WriteBits(types.KF64, true, f, 0) }

func fieldSize(r *semantic.Registry, t types.TypeInfo) uint64 {
	return semantic.FieldSize(r, t)
}

func (e *emitter) resolveTypeRef(tr parser.TypeRef) types.TypeInfo {
	if k, ok := primitiveKind(tr.Name); ok {
		return types.Plain(types.PrimitiveTypeID(k), tr.PointerLevel)
	}
	if cls := e.reg.ClassByName(tr.Name); cls != nil {
		return types.Plain(cls.ID, tr.PointerLevel)
	}
	e.fail(fmt.Errorf("unknown type %q", tr.Name))
	return types.TypeInfo{}
}

func primitiveKind(name string) (types.Kind, bool) {
	switch name {
	case "u8":
		return types.KU8, true
	case "u16":
		return types.KU16, true
	case "u32":
		return types.KU32, true
	case "u64":
		return types.KU64, true
	case "i8":
		return types.KI8, true
	case "i16":
		return types.KI16, true
	case "i32":
		return types.KI32, true
	case "i64":
		return types.KI64, true
	case "f32":
		return types.KF32, true
	case "f64":
		return types.KF64, true
	case "bool":
		return types.KBool, true
	case "char":
		return types.KChar, true
	case "void":
		return types.KVoid, true
	}
	return 0, false
}

// emitIdent implements spec §4.D's identifier resolution order: local
// slot, then user class name (static call target — handled by the
// caller, Call/Member), then this.member, then static field.
func (e *emitter) emitIdent(n *parser.Ident) types.TypeInfo {
	if slot, ok := e.scope.Lookup(n.Name); ok {
		e.prog.WriteOp(bytecode.OpPushLocal)
		e.prog.WriteU16(uint16(slot))
		return e.localType(slot)
	}
	if off, t, ok := e.reg.MemberOffset(e.class, []string{n.Name}); ok {
		e.prog.WriteOp(bytecode.OpPushThis)
		e.prog.WriteOp(bytecode.OpPushMember)
		e.writeMemberOperands(t, off, false, false)
		return t
	}
	if owner, idx, ok := e.reg.FindStatic(e.class, n.Name); ok {
		e.prog.WriteOp(bytecode.OpPushStatic)
		e.prog.WriteU16(uint16(owner.ID))
		e.prog.WriteU16(uint16(idx))
		return owner.Statics[idx].Type
	}
	e.fail(fmt.Errorf("unresolved identifier %q", n.Name))
	return types.TypeInfo{}
}

// localType records parameter types for PUSH_LOCAL's static type; other
// locals were introduced by VarDecl and their type is tracked in
// localTypes.
func (e *emitter) localType(slot int) types.TypeInfo {
	if t, ok := e.localTypes[slot]; ok {
		return t
	}
	if slot < len(e.fn.Params) {
		return e.fn.Params[slot].Type
	}
	return types.Plain(types.TypeID(types.KI64), 0)
}

func (e *emitter) writeMemberOperands(t types.TypeInfo, offset uint64, ref, arr bool) {
	e.prog.WriteU16(uint16(t.ID))
	e.prog.WriteU8(t.PointerLevel)
	e.prog.WriteU64(offset)
	e.prog.WriteBool(ref)
	e.prog.WriteBool(arr)
}

func (e *emitter) emitUnary(n *parser.Unary) types.TypeInfo {
	switch n.Op {
	case parser.UnaryDeref:
		t := e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpDereference)
		return t.Deref()
	case parser.UnaryAddr:
		t := e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpAddressOf)
		return t.AddrOf()
	case parser.UnaryNot:
		e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpLogicalNot)
		return types.Plain(types.TypeID(types.KBool), 0)
	case parser.UnaryNeg:
		t := e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpNegate)
		return t
	case parser.UnaryInvert:
		t := e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpInvert)
		return t
	case parser.UnaryPreInc, parser.UnaryPreDec, parser.UnaryPostInc, parser.UnaryPostDec:
		t := e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpUnaryUpdate)
		delta := int8(1)
		if n.Op == parser.UnaryPreDec || n.Op == parser.UnaryPostDec {
			delta = -1
		}
		e.prog.WriteU8(uint8(delta))
		post := n.Op == parser.UnaryPostInc || n.Op == parser.UnaryPostDec
		e.prog.WriteBool(post)
		return t
	}
	e.fail(fmt.Errorf("unhandled unary op %v", n.Op))
	return types.TypeInfo{}
}

var binOpCode = map[parser.BinaryOp]bytecode.OpCode{
	parser.BinAdd: bytecode.OpAdd, parser.BinSub: bytecode.OpSub, parser.BinMul: bytecode.OpMul,
	parser.BinDiv: bytecode.OpDiv, parser.BinMod: bytecode.OpMod,
	parser.BinLt: bytecode.OpLess, parser.BinLe: bytecode.OpLessEqual,
	parser.BinGt: bytecode.OpGreater, parser.BinGe: bytecode.OpGreaterEqual,
	parser.BinEq: bytecode.OpEqual, parser.BinNe: bytecode.OpNotEqual,
	parser.BinAnd: bytecode.OpBitAnd, parser.BinOr: bytecode.OpBitOr,
	parser.BinLAnd: bytecode.OpLogicalAnd, parser.BinLOr: bytecode.OpLogicalOr,
	parser.BinShl: bytecode.OpShl, parser.BinShr: bytecode.OpShr,
}

var arithResultIsBool = map[parser.BinaryOp]bool{
	parser.BinLt: true, parser.BinLe: true, parser.BinGt: true, parser.BinGe: true,
	parser.BinEq: true, parser.BinNe: true, parser.BinLAnd: true, parser.BinLOr: true,
}

func (e *emitter) emitBinary(n *parser.Binary) types.TypeInfo {
	lt := e.emitExpr(n.L)
	rt := e.emitExpr(n.R)
	op, ok := binOpCode[n.Op]
	if !ok {
		e.fail(fmt.Errorf("unhandled binary op %v", n.Op))
		return types.TypeInfo{}
	}
	ownerID, fnID, retType, overloaded := e.resolveOperatorOverload(lt, string(n.Op), rt)
	e.prog.WriteOp(op)
	e.prog.WriteU16(uint16(ownerID))
	e.prog.WriteU32(fnID)
	if overloaded {
		return retType
	}
	if arithResultIsBool[n.Op] {
		return types.Plain(types.TypeID(types.KBool), 0)
	}
	if lt.IsPointer() {
		return lt
	}
	if rt.IsPointer() {
		return rt
	}
	return types.Plain(types.PrimitiveTypeID(types.Promote(lt.ID.Kind(), rt.ID.Kind())), 0)
}

func (e *emitter) emitAssign(n *parser.Assign) types.TypeInfo {
	lt := e.emitLValue(n.LHS)
	t := e.emitExpr(n.RHS)
	ownerID, fnID := e.resolveAssignOverload(lt)
	e.prog.WriteOp(bytecode.OpSet)
	e.prog.WriteU16(uint16(ownerID))
	e.prog.WriteU32(fnID)
	if fnID != semantic.InvalidFunctionID {
		return lt
	}
	return t
}

func (e *emitter) emitCompoundAssign(n *parser.CompoundAssign) types.TypeInfo {
	lt := e.emitLValue(n.LHS)
	e.emitExpr(n.LHS)
	rt := e.emitExpr(n.RHS)
	op, ok := binOpCode[n.Op]
	if !ok {
		e.fail(fmt.Errorf("unhandled compound-assign op %v", n.Op))
		return types.TypeInfo{}
	}
	binOwner, binFn, _, _ := e.resolveOperatorOverload(lt, string(n.Op), rt)
	e.prog.WriteOp(op)
	e.prog.WriteU16(uint16(binOwner))
	e.prog.WriteU32(binFn)
	assignOwner, assignFn := e.resolveAssignOverload(lt)
	e.prog.WriteOp(bytecode.OpSet)
	e.prog.WriteU16(uint16(assignOwner))
	e.prog.WriteU32(assignFn)
	return types.TypeInfo{}
}

// resolveOperatorOverload looks up a user-defined `operator<sym>` on lt's
// class taking a single rt-typed parameter (spec.md §8 Scenario 4). Only
// the left operand's class is consulted, matching the member-function
// parse at internal/parser/parser.go's operator-declaration handling.
func (e *emitter) resolveOperatorOverload(lt types.TypeInfo, sym string, rt types.TypeInfo) (types.TypeID, uint32, types.TypeInfo, bool) {
	if lt.IsPrimitive() || lt.PointerLevel > 0 {
		return 0, semantic.InvalidFunctionID, types.TypeInfo{}, false
	}
	cls := e.reg.ClassByID(lt.ID)
	if cls == nil {
		return 0, semantic.InvalidFunctionID, types.TypeInfo{}, false
	}
	fnID, _ := e.reg.ResolveOverload(cls, "operator"+sym, []types.TypeInfo{rt})
	if fnID == semantic.InvalidFunctionID {
		return 0, semantic.InvalidFunctionID, types.TypeInfo{}, false
	}
	return cls.ID, fnID, cls.FunctionByID(fnID).ReturnType, true
}

// resolveAssignOverload looks up lt's class's `operator=`, already
// tracked on Class.AssignOperator by AddFunction (registry.go).
func (e *emitter) resolveAssignOverload(lt types.TypeInfo) (types.TypeID, uint32) {
	if lt.IsPrimitive() || lt.PointerLevel > 0 {
		return 0, semantic.InvalidFunctionID
	}
	cls := e.reg.ClassByID(lt.ID)
	if cls == nil || cls.AssignOperator == 0 {
		return 0, semantic.InvalidFunctionID
	}
	return cls.ID, cls.AssignOperator
}

// emitLValue pushes the assignment target's member/local "slot" the
// way SET expects: a PUSH_LOCAL or PUSH_MEMBER of the destination, and
// returns its static type for operator-overload resolution.
func (e *emitter) emitLValue(target parser.Expr) types.TypeInfo {
	return e.emitExpr(target)
}

func (e *emitter) emitCast(n *parser.Cast) types.TypeInfo {
	e.emitExpr(n.X)
	t := e.resolveTypeRef(n.Type)
	e.prog.WriteOp(bytecode.OpCast)
	e.prog.WriteU16(uint16(t.ID))
	e.prog.WriteU8(t.PointerLevel)
	return t
}

func (e *emitter) emitNew(n *parser.New) types.TypeInfo {
	t := e.resolveTypeRef(n.Type)
	var ctorID uint32
	if cls := e.reg.ClassByID(t.ID); cls != nil {
		argTypes := make([]types.TypeInfo, len(n.Args))
		for i, a := range n.Args {
			argTypes[i] = e.peekType(a)
		}
		ctorID, _ = e.reg.ResolveOverload(cls, cls.Name, argTypes)
		for _, a := range n.Args {
			e.emitExpr(a)
		}
	}
	e.prog.WriteOp(bytecode.OpNew)
	e.prog.WriteU16(uint16(t.ID))
	e.prog.WriteU32(ctorID)
	return t.AddrOf()
}

func (e *emitter) emitNewArray(n *parser.NewArray) types.TypeInfo {
	t := e.resolveTypeRef(n.Type)
	for _, d := range n.Dims {
		e.emitExpr(d)
	}
	e.prog.WriteOp(bytecode.OpNewArray)
	e.prog.WriteU16(uint16(t.ID))
	e.prog.WriteU8(t.PointerLevel)
	e.prog.WriteU8(uint8(len(n.Dims)))
	return t.AddrOf()
}

// peekType infers an expression's static type without emitting, for
// overload resolution at `new`/call sites. Shares logic with emitExpr
// by emitting into a throwaway program and discarding the bytes.
func (e *emitter) peekType(expr parser.Expr) types.TypeInfo {
	scratch := bytecode.NewProgram()
	saved := e.prog
	e.prog = scratch
	t := e.emitExpr(expr)
	e.prog = saved
	return t
}

func (e *emitter) emitCall(n *parser.Call) types.TypeInfo {
	switch callee := n.Callee.(type) {
	case *parser.Ident:
		if _, ok := modules.NameToID(callee.Name); ok {
			e.fail(fmt.Errorf("bare module reference %q used as a call", callee.Name))
			return types.TypeInfo{}
		}
		if _, isLocal := e.scope.Lookup(callee.Name); !isLocal {
			if cls := e.reg.ClassByName(callee.Name); cls != nil {
				return e.emitConstructorCall(cls, n.Args)
			}
		}
		return e.emitMethodCall(e.class, true, callee.Name, n.Args)
	case *parser.Member:
		return e.emitMemberCall(callee, n.Args)
	}
	e.fail(fmt.Errorf("unsupported call target %T", n.Callee))
	return types.TypeInfo{}
}

// emitConstructorCall lowers expression-position class construction
// (e.g. `Vec3(1, 2, 3)`) to CONSTRUCTOR_CALL: a temporary, scope-owned
// instance built the same way `new` builds a heap one.
func (e *emitter) emitConstructorCall(cls *semantic.Class, args []parser.Expr) types.TypeInfo {
	argTypes := make([]types.TypeInfo, len(args))
	for i, a := range args {
		argTypes[i] = e.peekType(a)
	}
	ctorID, _ := e.reg.ResolveOverload(cls, cls.Name, argTypes)
	for _, a := range args {
		e.emitExpr(a)
	}
	e.prog.WriteOp(bytecode.OpConstructorCall)
	e.prog.WriteU16(uint16(cls.ID))
	e.prog.WriteU32(ctorID)
	e.prog.WriteU8(uint8(len(args)))
	return types.Plain(cls.ID, 0)
}

// emitMemberCall handles `recv.name(...)`: a module call if recv names
// a built-in module, a static call if recv names a user class (no
// receiver Value to push), or an instance method call otherwise
// (receiver emitted, then each intermediate `.`/`->` hop as a member
// load, landing on the final hop's owning class).
func (e *emitter) emitMemberCall(m *parser.Member, args []parser.Expr) types.TypeInfo {
	if base, ok := m.Base.(*parser.Ident); ok && len(m.Members) == 1 {
		if modID, ok := modules.NameToID(base.Name); ok {
			return e.emitModuleCall(modID, m.Members[0].Name, args)
		}
		if _, isLocal := e.scope.Lookup(base.Name); !isLocal {
			if cls := e.reg.ClassByName(base.Name); cls != nil {
				return e.emitMethodCall(cls, false, m.Members[0].Name, args)
			}
		}
	}
	recvType := e.emitExpr(m.Base)
	for _, hop := range m.Members[:len(m.Members)-1] {
		cls := e.reg.ClassByID(recvType.Dynamic())
		off, t, ok := e.reg.MemberOffset(cls, []string{hop.Name})
		if !ok {
			e.fail(fmt.Errorf("unknown member %s.%s", cls.Name, hop.Name))
			return types.TypeInfo{}
		}
		e.prog.WriteOp(bytecode.OpPushMember)
		e.writeMemberOperands(t, off, false, false)
		recvType = t
	}
	last := m.Members[len(m.Members)-1]
	cls := e.reg.ClassByID(recvType.Dynamic())
	return e.emitMethodCall(cls, false, last.Name, args)
}

func (e *emitter) emitModuleCall(modID int, fnName string, args []parser.Expr) types.TypeInfo {
	m := modules.ByID(modID)
	fnID, ok := m.FunctionID(fnName)
	if !ok {
		e.fail(fmt.Errorf("unknown function %s.%s", m.Name, fnName))
		return types.TypeInfo{}
	}
	for _, a := range args {
		e.emitExpr(a)
	}
	e.prog.WriteOp(bytecode.OpModuleFunctionCall)
	e.prog.WriteU16(uint16(modID))
	e.prog.WriteU16(fnID)
	e.prog.WriteU16(uint16(len(args)))
	ret := m.Function(fnID).Return
	e.prog.WriteBool(ret.ID.Kind() != types.KVoid)
	return ret
}

// emitMethodCall resolves and emits a call against cls's overload set.
// implicitThis means the caller has not yet pushed a receiver (a bare
// `name(...)` inside a member function); otherwise the receiver Value
// is already on the value stack (pushed by emitMemberCall).
func (e *emitter) emitMethodCall(cls *semantic.Class, implicitThis bool, name string, args []parser.Expr) types.TypeInfo {
	argTypes := make([]types.TypeInfo, len(args))
	for i, a := range args {
		argTypes[i] = e.peekType(a)
	}
	fnID, casts := e.reg.ResolveOverload(cls, name, argTypes)
	if fnID == semantic.InvalidFunctionID {
		e.fail(fmt.Errorf("no matching overload for %s::%s(%d args)", cls.Name, name, len(args)))
		return types.TypeInfo{}
	}
	fn := cls.FunctionByID(fnID)
	if implicitThis && !fn.Static {
		e.prog.WriteOp(bytecode.OpPushThis)
	}
	for i, a := range args {
		e.emitExpr(a)
		if casts[i].FuncID != 0 {
			e.prog.WriteOp(bytecode.OpConstructorCall)
			e.prog.WriteU16(uint16(casts[i].ClassID))
			e.prog.WriteU32(casts[i].FuncID)
			e.prog.WriteU8(1)
		}
	}
	useRet := fn.ReturnType.PointerLevel > 0 || fn.ReturnType.ID != types.TypeID(types.KVoid)
	if fn.Static {
		e.prog.WriteOp(bytecode.OpStaticFunctionCall)
		e.prog.WriteU16(uint16(cls.ID))
		e.prog.WriteU32(fnID)
		e.prog.WriteBool(useRet)
		return fn.ReturnType
	}
	if fn.Virtual {
		slot, ok := cls.VTableSlot(fnID)
		if !ok {
			e.fail(fmt.Errorf("no vtable slot for %s::%s", cls.Name, name))
			return types.TypeInfo{}
		}
		e.prog.WriteOp(bytecode.OpVirtualFunctionCall)
		e.prog.WriteU16(uint16(slot))
		e.prog.WriteU16(uint16(len(args)))
		e.prog.WriteBool(useRet)
		return fn.ReturnType
	}
	e.prog.WriteOp(bytecode.OpMemberFunctionCall)
	e.prog.WriteU16(uint16(cls.ID))
	e.prog.WriteU32(fnID)
	e.prog.WriteBool(useRet)
	return fn.ReturnType
}

func (e *emitter) emitIndex(n *parser.Index) types.TypeInfo {
	base := e.emitExpr(n.X)
	for _, idx := range n.Indices {
		e.emitExpr(idx)
	}
	e.prog.WriteOp(bytecode.OpPushIndexed)
	elemT := base.Deref()
	e.prog.WriteU64(fieldSize(e.reg, elemT))
	e.prog.WriteU8(uint8(len(n.Indices)))
	e.prog.WriteU16(0) // opFn: 0 unless index resolves to operator[] (not modeled; plain element access)
	return elemT
}

func (e *emitter) emitMember(n *parser.Member) types.TypeInfo {
	if base, ok := n.Base.(*parser.Ident); ok {
		if _, ok := modules.NameToID(base.Name); ok {
			e.fail(fmt.Errorf("module constant access must be a call, got bare member %s", base.Name))
			return types.TypeInfo{}
		}
		if cls := e.reg.ClassByName(base.Name); cls != nil && len(n.Members) == 1 {
			if owner, idx, ok := e.reg.FindStatic(cls, n.Members[0].Name); ok {
				e.prog.WriteOp(bytecode.OpPushStatic)
				e.prog.WriteU16(uint16(owner.ID))
				e.prog.WriteU16(uint16(idx))
				return owner.Statics[idx].Type
			}
		}
	}
	baseType := e.emitExpr(n.Base)
	cur := baseType
	for _, hop := range n.Members {
		cls := e.reg.ClassByID(cur.Dynamic())
		if cls == nil {
			e.fail(fmt.Errorf("member access on non-class type %s", cur))
			return types.TypeInfo{}
		}
		off, t, ok := e.reg.MemberOffset(cls, []string{hop.Name})
		if !ok {
			e.fail(fmt.Errorf("unknown member %s.%s", cls.Name, hop.Name))
			return types.TypeInfo{}
		}
		e.prog.WriteOp(bytecode.OpPushMember)
		e.writeMemberOperands(t, off, false, false)
		cur = t
	}
	return cur
}
