package compiler

import (
	"fmt"

	"thalis/internal/bytecode"
	"thalis/internal/parser"
	"thalis/internal/types"
)

func (e *emitter) emitBlock(b *parser.Block) {
	parent := e.pushScope()
	for _, s := range b.Stmts {
		e.emitStmt(s)
		if e.err != nil {
			break
		}
	}
	e.popScope(parent)
}

func (e *emitter) emitStmt(s parser.Stmt) {
	switch n := s.(type) {
	case *parser.VarDecl:
		e.emitVarDecl(n)
	case *parser.ExprStmt:
		e.emitExpr(n.X)
		e.prog.WriteOp(bytecode.OpPop)
	case *parser.Block:
		e.emitBlock(n)
	case *parser.If:
		e.emitIf(n)
	case *parser.For:
		e.emitFor(n)
	case *parser.While:
		e.emitWhile(n)
	case *parser.Return:
		e.emitReturn(n)
	case *parser.Break:
		e.emitBreak()
	case *parser.Continue:
		e.emitContinue()
	case *parser.Delete:
		e.emitDelete(n)
	case *parser.Breakpoint:
		e.prog.WriteOp(bytecode.OpBreakpoint)
	default:
		e.fail(fmt.Errorf("unhandled statement node %T", s))
	}
}

func (e *emitter) emitVarDecl(n *parser.VarDecl) {
	t := e.resolveTypeRef(n.Type)
	slot := e.scope.Declare(n.Name)
	e.localTypes[slot] = t

	if len(n.Dims) > 0 {
		for _, d := range n.Dims {
			e.emitExpr(d)
		}
		e.prog.WriteOp(bytecode.OpNewArray)
		e.prog.WriteU16(uint16(t.ID))
		e.prog.WriteU8(t.PointerLevel)
		e.prog.WriteU8(uint8(len(n.Dims)))
		e.prog.WriteOp(bytecode.OpDeclareLocal)
		e.prog.WriteU16(uint16(slot))
		return
	}

	if len(n.InitList) > 0 {
		e.prog.WriteOp(bytecode.OpPushI64)
		e.prog.WriteU64(uint64(len(n.InitList)))
		e.prog.WriteOp(bytecode.OpNewArray)
		e.prog.WriteU16(uint16(t.ID))
		e.prog.WriteU8(t.PointerLevel)
		e.prog.WriteU8(1)
		e.prog.WriteOp(bytecode.OpDeclareLocal)
		e.prog.WriteU16(uint16(slot))
		for i, el := range n.InitList {
			e.prog.WriteOp(bytecode.OpPushLocal)
			e.prog.WriteU16(uint16(slot))
			e.prog.WriteOp(bytecode.OpPushI64)
			e.prog.WriteU64(uint64(i))
			e.prog.WriteOp(bytecode.OpPushIndexed)
			e.prog.WriteU64(fieldSize(e.reg, t))
			e.prog.WriteU8(1)
			e.prog.WriteU16(0)
			e.emitExpr(el)
			e.prog.WriteOp(bytecode.OpSet)
			e.prog.WriteU16(0)
			e.prog.WriteU32(0)
			e.prog.WriteOp(bytecode.OpPop)
		}
		return
	}

	if cls := e.reg.ClassByID(t.ID); cls != nil && t.PointerLevel == 0 {
		if n.Init != nil {
			e.emitExpr(n.Init)
			e.prog.WriteOp(bytecode.OpDeclareObjectWithAssign)
			e.prog.WriteU16(uint16(t.ID))
			e.prog.WriteU16(uint16(slot))
			e.prog.WriteU32(cls.CopyConstructor)
			return
		}
		e.prog.WriteOp(bytecode.OpDeclareObjectWithConstructor)
		e.prog.WriteU16(uint16(t.ID))
		e.prog.WriteU32(cls.DefaultConstructor)
		e.prog.WriteU16(uint16(slot))
		return
	}

	if n.Init != nil {
		e.emitExpr(n.Init)
	} else {
		e.emitZeroValue(t)
	}
	e.prog.WriteOp(bytecode.OpDeclareLocal)
	e.prog.WriteU16(uint16(slot))
}

func (e *emitter) emitZeroValue(t types.TypeInfo) {
	if t.PointerLevel > 0 {
		e.prog.WriteOp(bytecode.OpPushNull)
		return
	}
	switch t.ID.Kind() {
	case types.KF32:
		e.prog.WriteOp(bytecode.OpPushF32)
		e.prog.WriteU64(0)
	case types.KF64:
		e.prog.WriteOp(bytecode.OpPushF64)
		e.prog.WriteU64(0)
	case types.KBool:
		e.prog.WriteOp(bytecode.OpPushBool)
		e.prog.WriteBool(false)
	default:
		e.prog.WriteOp(bytecode.OpPushI64)
		e.prog.WriteU64(0)
	}
}

func (e *emitter) emitIf(n *parser.If) {
	e.emitExpr(n.Cond)
	e.prog.WriteOp(bytecode.OpJumpIfFalse)
	elseFix := e.prog.WriteJumpPlaceholder()
	e.emitBlock(n.Then)
	if n.Else == nil {
		e.prog.PatchU32(elseFix, uint32(e.prog.Pos()))
		return
	}
	e.prog.WriteOp(bytecode.OpJump)
	endFix := e.prog.WriteJumpPlaceholder()
	e.prog.PatchU32(elseFix, uint32(e.prog.Pos()))
	e.emitStmt(n.Else)
	e.prog.PatchU32(endFix, uint32(e.prog.Pos()))
}

func (e *emitter) emitWhile(n *parser.While) {
	startPos := e.prog.Pos()
	e.prog.WriteOp(bytecode.OpPushLoop)
	startFix := e.prog.WriteJumpPlaceholder()
	endFix := e.prog.WriteJumpPlaceholder()
	loop := loopCtx{startPos: startPos, scopeDepth: len(e.loops)}
	e.loops = append(e.loops, loop)

	e.emitExpr(n.Cond)
	e.prog.WriteOp(bytecode.OpJumpIfFalse)
	exitFix := e.prog.WriteJumpPlaceholder()
	e.emitBlock(n.Body)
	e.prog.WriteOp(bytecode.OpJump)
	backFix := e.prog.WriteJumpPlaceholder()
	e.prog.PatchU32(backFix, uint32(startPos))

	end := e.prog.Pos()
	e.prog.PatchU32(exitFix, uint32(end))
	e.prog.PatchU32(startFix, uint32(startPos))
	e.prog.PatchU32(endFix, uint32(end))
	e.prog.WriteOp(bytecode.OpPopLoop)
	e.finishLoop(end)
}

func (e *emitter) emitFor(n *parser.For) {
	parent := e.pushScope()
	if n.Init != nil {
		e.emitStmt(n.Init)
	}
	condPos := e.prog.Pos()
	e.prog.WriteOp(bytecode.OpPushLoop)
	startFix := e.prog.WriteJumpPlaceholder()
	endFix := e.prog.WriteJumpPlaceholder()
	e.loops = append(e.loops, loopCtx{startPos: condPos, scopeDepth: len(e.loops)})

	if n.Cond != nil {
		e.emitExpr(n.Cond)
		e.prog.WriteOp(bytecode.OpJumpIfFalse)
		exitFix := e.prog.WriteJumpPlaceholder()
		e.emitBlock(n.Body)
		postPos := e.prog.Pos()
		if n.Post != nil {
			e.emitStmt(n.Post)
		}
		e.prog.WriteOp(bytecode.OpJump)
		backFix := e.prog.WriteJumpPlaceholder()
		e.prog.PatchU32(backFix, uint32(condPos))
		end := e.prog.Pos()
		e.prog.PatchU32(exitFix, uint32(end))
		e.prog.PatchU32(startFix, uint32(postPos))
		e.prog.PatchU32(endFix, uint32(end))
		e.prog.WriteOp(bytecode.OpPopLoop)
		e.finishLoop(end)
	}
	e.popScope(parent)
}

func (e *emitter) finishLoop(end int) {
	loop := e.loops[len(e.loops)-1]
	for _, fix := range loop.breakFixes {
		e.prog.PatchU32(fix, uint32(end))
	}
	e.loops = e.loops[:len(e.loops)-1]
}

func (e *emitter) emitBreak() {
	if len(e.loops) == 0 {
		e.fail(fmt.Errorf("break outside loop"))
		return
	}
	e.prog.WriteOp(bytecode.OpBreak)
	fix := e.prog.WriteJumpPlaceholder()
	idx := len(e.loops) - 1
	e.loops[idx].breakFixes = append(e.loops[idx].breakFixes, fix)
}

func (e *emitter) emitContinue() {
	if len(e.loops) == 0 {
		e.fail(fmt.Errorf("continue outside loop"))
		return
	}
	loop := e.loops[len(e.loops)-1]
	e.prog.WriteOp(bytecode.OpContinue)
	e.prog.WriteU32(uint32(loop.startPos))
}

func (e *emitter) emitReturn(n *parser.Return) {
	if n.X == nil {
		e.prog.WriteOp(bytecode.OpReturn)
		e.prog.WriteU8(uint8(bytecode.ReturnNone))
		return
	}
	e.emitExpr(n.X)
	e.prog.WriteOp(bytecode.OpReturn)
	if e.fn.ReturnByRef {
		e.prog.WriteU8(uint8(bytecode.ReturnReference))
	} else {
		e.prog.WriteU8(uint8(bytecode.ReturnValue))
	}
}

func (e *emitter) emitDelete(n *parser.Delete) {
	e.emitExpr(n.X)
	if n.Array {
		e.prog.WriteOp(bytecode.OpDeleteArray)
	} else {
		e.prog.WriteOp(bytecode.OpDelete)
	}
}
