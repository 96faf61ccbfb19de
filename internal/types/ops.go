package types

import (
	"fmt"
	"math"
)

// BinOp enumerates the binary operators of spec §4.A.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLess
	OpGreater
	OpLessEq
	OpGreaterEq
	OpEq
	OpNotEq
	OpLogicalAnd
	OpLogicalOr
)

// Binary implements spec §4.A's binary operator contract: pointer
// arithmetic when either side is a pointer, else primitive promotion per
// invariant I4.
func Binary(a Allocator, op BinOp, lhs, rhs Value, pointeeSize func(TypeInfo) uint64) (Value, error) {
	lhs, rhs = lhs.Actual(), rhs.Actual()

	if lhs.Type.IsPointer() || rhs.Type.IsPointer() {
		return pointerBinary(a, op, lhs, rhs, pointeeSize)
	}

	lk, rk := lhs.Type.ID.Kind(), rhs.Type.ID.Kind()
	result := Promote(lk, rk)
	lv := ReadAsF64(lk, lhs.Cell.Bits)
	rv := ReadAsF64(rk, rhs.Cell.Bits)

	switch op {
	case OpLess, OpGreater, OpLessEq, OpGreaterEq, OpEq, OpNotEq, OpLogicalAnd, OpLogicalOr:
		return NewBool(a, compareOrLogical(op, lv, rv)), nil
	}

	var out float64
	switch op {
	case OpAdd:
		out = lv + rv
	case OpSub:
		out = lv - rv
	case OpMul:
		out = lv * rv
	case OpDiv:
		if rv == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		out = lv / rv
	case OpMod:
		if IsRealFamily(result) {
			out = math.Mod(lv, rv)
		} else {
			if int64(rv) == 0 {
				return Value{}, fmt.Errorf("modulo by zero")
			}
			out = float64(int64(lv) % int64(rv))
		}
	default:
		return Value{}, fmt.Errorf("unsupported binary op %d", op)
	}
	bits := WriteBits(result, true, out, int64(out))
	return NewPrimitive(a, result, bits), nil
}

func compareOrLogical(op BinOp, l, r float64) bool {
	switch op {
	case OpLess:
		return l < r
	case OpGreater:
		return l > r
	case OpLessEq:
		return l <= r
	case OpGreaterEq:
		return l >= r
	case OpEq:
		return l == r
	case OpNotEq:
		return l != r
	case OpLogicalAnd:
		return l != 0 && r != 0
	case OpLogicalOr:
		return l != 0 || r != 0
	}
	return false
}

func pointerBinary(a Allocator, op BinOp, lhs, rhs Value, pointeeSize func(TypeInfo) uint64) (Value, error) {
	switch op {
	case OpEq, OpNotEq:
		eq := lhs.Cell.Target == rhs.Cell.Target
		if op == OpNotEq {
			eq = !eq
		}
		return NewBool(a, eq), nil
	case OpAdd, OpSub:
		if lhs.Type.IsPointer() && rhs.Type.IsPointer() {
			if op != OpSub {
				return Value{}, fmt.Errorf("invalid pointer+pointer")
			}
			if lhs.Cell.ArrBase == nil || lhs.Cell.ArrBase != rhs.Cell.ArrBase {
				return Value{}, fmt.Errorf("pointer difference requires same array")
			}
			return NewI64(a, int64(lhs.Cell.ArrIndex-rhs.Cell.ArrIndex)), nil
		}
		ptr, n := lhs, rhs
		if rhs.Type.IsPointer() {
			ptr, n = rhs, lhs
		}
		delta := ReadAsI64(n.Type.ID.Kind(), n.Cell.Bits)
		if op == OpSub {
			delta = -delta
		}
		c := a.NewCell()
		advancePointer(c, ptr.Cell, delta)
		return Value{Type: ptr.Type, Cell: c}, nil
	}
	return Value{}, fmt.Errorf("unsupported pointer operator %d", op)
}

// advancePointer moves a pointer by delta elements (spec §4.A: pointer
// arithmetic in units of sizeof(pointee)). Meaningful only when the
// pointer aliases an element of a known Array; otherwise the pointer is
// left aliasing the same cell (single-object pointers have no array to
// walk).
func advancePointer(dst, src *Cell, delta int64) {
	if src.ArrBase == nil {
		dst.Target = src.Target
		return
	}
	idx := src.ArrIndex + int(delta)
	dst.ArrBase = src.ArrBase
	dst.ArrIndex = idx
	if idx >= 0 && idx < len(src.ArrBase.Elems) {
		dst.Target = &src.ArrBase.Elems[idx]
	}
}

// Increment adds delta (negative to decrement) to v's cell in place; a
// pointer moves by delta elements via advancePointer. Negate and Invert
// below return a fresh value and leave their operand unchanged.
func Increment(v Value, delta int64) {
	k := v.Type.ID.Kind()
	if v.Type.IsPointer() {
		advancePointer(v.Cell, v.Cell, delta)
		return
	}
	if IsRealFamily(k) {
		f := ReadAsF64(k, v.Cell.Bits) + float64(delta)
		v.Cell.Bits = WriteBits(k, true, f, 0)
		return
	}
	i := ReadAsI64(k, v.Cell.Bits) + delta
	v.Cell.Bits = WriteBits(k, false, 0, i)
}

func Negate(a Allocator, v Value) Value {
	v = v.Actual()
	k := v.Type.ID.Kind()
	if IsRealFamily(k) {
		return NewPrimitive(a, k, WriteBits(k, true, -ReadAsF64(k, v.Cell.Bits), 0))
	}
	return NewPrimitive(a, k, WriteBits(k, false, 0, -ReadAsI64(k, v.Cell.Bits)))
}

func Invert(a Allocator, v Value) Value {
	v = v.Actual()
	k := v.Type.ID.Kind()
	bits := ^v.Cell.Bits
	return NewPrimitive(a, k, WriteBits(k, false, 0, ReadAsI64(k, bits)))
}

func LogicalNot(a Allocator, v Value) Value {
	v = v.Actual()
	truthy := ReadAsF64(v.Type.ID.Kind(), v.Cell.Bits) != 0
	return NewBool(a, !truthy)
}

// CastTo implements spec §4.A CastTo: primitive widening/narrowing,
// pointer rebadging without copying the target, and — for object casts —
// the caller resolves an implicit one-arg constructor separately via
// overload resolution (that needs the class registry, so it is not done
// here; CastTo only handles the primitive/pointer cases and the
// pointer-level rebadge that's independent of the registry).
func CastTo(a Allocator, v Value, target TypeInfo) (Value, error) {
	v = v.Actual()
	if target.PointerLevel > 0 {
		c := a.NewCell()
		if v.Cell != nil {
			c.Target = v.Cell.Target
		}
		return Value{Type: target, Cell: c}, nil
	}
	if !v.Type.IsPrimitive() || !target.IsPrimitive() {
		return Value{}, fmt.Errorf("CastTo requires registry-level object cast")
	}
	sk, dk := v.Type.ID.Kind(), target.ID.Kind()
	f := ReadAsF64(sk, v.Cell.Bits)
	i := ReadAsI64(sk, v.Cell.Bits)
	bits := WriteBits(dk, IsRealFamily(sk), f, i)
	return NewPrimitive(a, dk, bits), nil
}

// Assign implements spec §4.A Assign: primitive lanes write the lane,
// pointer lanes write the word, object lanes copy the payload, and
// references indirect through the target first.
func Assign(dst, src Value) {
	if dst.IsReference && dst.Cell.Target != nil {
		dst = Value{Type: dst.Type.Deref(), Cell: dst.Cell.Target}
	}
	src = src.Actual()
	if dst.Type.IsPointer() {
		dst.Cell.Target = src.Cell.Target
		return
	}
	if !dst.Type.IsPrimitive() {
		if src.Cell.Obj != nil {
			dst.Cell.Obj = cloneObject(src.Cell.Obj)
		}
		if src.Cell.Arr != nil {
			dst.Cell.Arr = cloneArray(src.Cell.Arr)
		}
		return
	}
	dst.Cell.Bits = src.Cell.Bits
}

// MakeReference aliases target's storage (DECLARE_REFERENCE).
func MakeReference(a Allocator, target Value) Value {
	c := a.NewCell()
	c.Target = target.Cell
	return Value{Type: target.Type, IsReference: true, Cell: c}
}
