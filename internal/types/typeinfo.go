// Package types implements the data model of spec.md §3 and §4.A: the
// tagged Value datum, TypeInfo, and the Object/Array payload shapes that
// back class instances and arrays.
//
// The C++ original lays objects and arrays out as raw byte buffers with a
// VTable pointer or ArrayHeader sitting immediately before the payload
// (spec invariant I3). Idiomatic Go has no raw pointer arithmetic without
// `unsafe`, so storage here is modeled as a small tagged union of Go
// pointers (Cell) rather than a byte arena: a Cell IS the address the spec
// talks about, and "the bytes immediately preceding the payload" become an
// explicit struct field (Object.VTable, Array.Header) instead of a
// pointer-arithmetic trick. The allocators in internal/memory still decide
// *when* a Cell's storage is reclaimed (bump marker vs explicit free), so
// the lifetime invariants of §3 hold even though the physical layout does
// not use raw bytes.
package types

import "fmt"

// Kind enumerates the primitive type-id range (spec §3: type id < 128).
type Kind uint16

const (
	KU8 Kind = iota
	KU16
	KU32
	KU64
	KI8
	KI16
	KI32
	KI64
	KF32
	KF64
	KBool
	KChar
	KVoid
	KTemplatePlaceholder
	firstUnusedPrimitive
)

var kindNames = map[Kind]string{
	KU8: "u8", KU16: "u16", KU32: "u32", KU64: "u64",
	KI8: "i8", KI16: "i16", KI32: "i32", KI64: "i64",
	KF32: "f32", KF64: "f64", KBool: "bool", KChar: "char", KVoid: "void",
	KTemplatePlaceholder: "template",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "?"
}

// FirstClassID is the first type id that indexes into the class table
// rather than naming a primitive kind.
const FirstClassID = 128

// TypeID is the 16-bit type id of spec §3.
type TypeID uint16

// InvalidType is the sentinel for an unresolved type.
const InvalidType TypeID = 0xFFFF

func PrimitiveTypeID(k Kind) TypeID { return TypeID(k) }

func (t TypeID) IsPrimitive() bool { return t != InvalidType && uint16(t) < FirstClassID }
func (t TypeID) Kind() Kind        { return Kind(t) }

// TypeInfo is the (type id, pointer level) pair of spec §3, plus the
// supplemental `derivedType` field from original_source/TypeInfo.h: when a
// derived-class instance is stored through a base-class-typed slot, the
// declared ID stays the base class while DerivedID records the dynamic
// type, so virtual dispatch and delete see the runtime type.
type TypeInfo struct {
	ID           TypeID
	PointerLevel uint8
	DerivedID    TypeID
}

// Plain returns the TypeInfo with DerivedID defaulted to ID, as the
// original's TypeInfo constructor does.
func Plain(id TypeID, level uint8) TypeInfo {
	return TypeInfo{ID: id, PointerLevel: level, DerivedID: id}
}

// Equal implements the §3 TypeInfo equality rule: both id and pointer
// level must match. DerivedID does not participate — it is dispatch
// metadata, not part of the declared type.
func (t TypeInfo) Equal(o TypeInfo) bool {
	return t.ID == o.ID && t.PointerLevel == o.PointerLevel
}

func (t TypeInfo) IsPointer() bool   { return t.PointerLevel > 0 }
func (t TypeInfo) IsPrimitive() bool { return t.ID.IsPrimitive() }

// Dynamic returns the type used for dispatch: DerivedID if set, else ID.
func (t TypeInfo) Dynamic() TypeID {
	if t.DerivedID != 0 && t.DerivedID != InvalidType {
		return t.DerivedID
	}
	return t.ID
}

func (t TypeInfo) WithDerived(d TypeID) TypeInfo {
	t.DerivedID = d
	return t
}

func (t TypeInfo) Deref() TypeInfo {
	if t.PointerLevel == 0 {
		return t
	}
	t.PointerLevel--
	return t
}

func (t TypeInfo) AddrOf() TypeInfo {
	t.PointerLevel++
	return t
}

func (t TypeInfo) String() string {
	base := fmt.Sprintf("#%d", t.ID)
	if t.ID.IsPrimitive() {
		base = t.ID.Kind().String()
	}
	for i := uint8(0); i < t.PointerLevel; i++ {
		base += "*"
	}
	return base
}

// SignatureName renders the type the way the registry's overload
// signature does ("T" suffixed by pointer level), spec §4.E.
func (t TypeInfo) SignatureName(className func(TypeID) string) string {
	name := t.ID.Kind().String()
	if !t.ID.IsPrimitive() {
		name = className(t.ID)
	}
	for i := uint8(0); i < t.PointerLevel; i++ {
		name += "*"
	}
	return name
}

// IsIntegerFamily / IsRealFamily / IsSigned classify primitive kinds for
// the §4.A promotion rules and the §4.E overload scoring table.
func IsIntegerFamily(k Kind) bool {
	switch k {
	case KU8, KU16, KU32, KU64, KI8, KI16, KI32, KI64, KBool, KChar:
		return true
	}
	return false
}

func IsRealFamily(k Kind) bool {
	return k == KF32 || k == KF64
}

func IsSigned(k Kind) bool {
	switch k {
	case KI8, KI16, KI32, KI64:
		return true
	}
	return false
}

// BitWidth returns the storage width used by the promotion rule (I4):
// result width = max(lhs, rhs).
func BitWidth(k Kind) int {
	switch k {
	case KU8, KI8, KBool, KChar:
		return 8
	case KU16, KI16:
		return 16
	case KU32, KI32, KF32:
		return 32
	case KU64, KI64, KF64:
		return 64
	}
	return 0
}

// Promote implements invariant I4: the wider operand's kind wins; at
// equal width a real dominates an integer, and a signed integer
// dominates an unsigned one.
func Promote(a, b Kind) Kind {
	if a == b {
		return a
	}
	wa, wb := BitWidth(a), BitWidth(b)
	if IsRealFamily(a) != IsRealFamily(b) {
		if IsRealFamily(a) {
			if wa >= wb {
				return a
			}
			return widenRealTo(wb)
		}
		if wb >= wa {
			return b
		}
		return widenRealTo(wa)
	}
	if wa != wb {
		if wa > wb {
			return a
		}
		return b
	}
	if IsSigned(a) {
		return a
	}
	return b
}

func widenRealTo(width int) Kind {
	if width > 32 {
		return KF64
	}
	return KF32
}
