package types

import (
	"fmt"
	"math"
)

// Allocator is the minimal surface internal/memory's regions expose to
// the value model: hand back a fresh, zeroed Cell tracked against the
// region's accounting and (for bump regions) its current marker.
type Allocator interface {
	NewCell() *Cell
}

// Cell is the "raw storage pointer" of spec §3/§4.A. Exactly one of the
// payload fields is meaningful for a given Value, selected by the
// Value's TypeInfo/IsArray/IsReference flags:
//
//   - primitive value:        Bits holds the primitive's bits
//   - pointer:                Target aliases the pointee's Cell
//   - reference:               Target aliases the referent's Cell
//   - object:                  Obj is non-nil
//   - array:                   Arr is non-nil
type Cell struct {
	Bits   uint64
	Target *Cell
	Obj    *Object
	Arr    *Array

	// ArrBase/ArrIndex are set when Target aliases an element of an
	// Array's Elems slice; they let pointer arithmetic (Increment,
	// Binary Add/Sub) re-derive a new element address by index instead
	// of needing real address arithmetic on Go pointers.
	ArrBase  *Array
	ArrIndex int
}

// VTable is the per-class dispatch table of spec §4.E: one function
// pointer per declared slot, not just virtual ones.
type VTable struct {
	ClassID TypeID
	Slots   []FuncRef
}

// FuncRef names a Function by (owning class, function id) so the value
// model does not need to import internal/semantic.
type FuncRef struct {
	ClassID TypeID
	FuncID  uint32
}

// ClassLayout is the subset of a semantic.Class that the value model
// needs to build an instance: field order, sizes (in the byte-equivalent
// sense used for sizeof/offsetof), and a VTable. internal/semantic
// produces these; internal/types only consumes them.
type ClassLayout struct {
	ID      TypeID
	Fields  []FieldLayout
	VTable  *VTable
	ByteSz  uint64 // sizeof(class), for sizeof()/offsetof() and array element stride
	Base    *ClassLayout
}

type FieldLayout struct {
	Name     string
	Type     TypeInfo
	IsArray  bool
	Dims     []int
	ByteOff  uint64
	Elem     *ClassLayout // non-nil when Type names a class, for recursive MakeObject
}

// Object is an instance payload: spec invariant I3 ("object payloads are
// always preceded by a VTable slot") is modeled as the explicit VTable
// field rather than a byte immediately before the data. Fields holds
// only this class's own declared members; inherited members live in
// Base, one nested Object per ancestor, mirroring ClassLayout.Base —
// there is no single flat byte buffer to lay every ancestor's fields
// into, so the object graph does the flattening findField/MemberOffset
// assume instead.
type Object struct {
	Class  *ClassLayout
	VTable *VTable
	Fields []Cell
	Base   *Object
}

// ArrayHeader mirrors spec §3's metadata block placed before array
// elements.
type ArrayHeader struct {
	ElementPointerLevel uint8
	NumDimensions       uint8
	Dims                [8]int
}

// Array is an array payload: elements are Cells so PUSH_INDEXED can hand
// back a Value aliasing one of them.
type Array struct {
	Header  ArrayHeader
	ElemTy  TypeInfo
	Elems   []Cell
	ElemCls *ClassLayout // non-nil if elements are objects (not pointers)
}

func (h ArrayHeader) Dimensions() []int { return h.Dims[:h.NumDimensions] }

// Value is the universal runtime datum of spec §3.
type Value struct {
	Type        TypeInfo
	IsReference bool
	IsArray     bool
	Cell        *Cell
}

func Void() Value { return Value{Type: Plain(TypeID(KVoid), 0)} }

func NewPrimitive(a Allocator, kind Kind, bits uint64) Value {
	c := a.NewCell()
	c.Bits = bits
	return Value{Type: Plain(PrimitiveTypeID(kind), 0), Cell: c}
}

func NewBool(a Allocator, b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return NewPrimitive(a, KBool, bits)
}

func NewI64(a Allocator, v int64) Value  { return NewPrimitive(a, KI64, uint64(v)) }
func NewU64(a Allocator, v uint64) Value { return NewPrimitive(a, KU64, v) }
func NewF64(a Allocator, v float64) Value {
	return NewPrimitive(a, KF64, math.Float64bits(v))
}

// MakeObject allocates an instance of layout in a, wiring its VTable and
// recursively default-constructing member-object/array fields (spec
// §4.A MakeObject).
func MakeObject(a Allocator, layout *ClassLayout) *Value {
	c := a.NewCell()
	c.Obj = newObject(a, layout)
	return &Value{Type: Plain(layout.ID, 0), Cell: c}
}

// newObject builds the Object of layout; base and member sub-objects are
// embedded in it and take no cell of their own from a.
func newObject(a Allocator, layout *ClassLayout) *Object {
	obj := &Object{Class: layout, VTable: layout.VTable, Fields: make([]Cell, len(layout.Fields))}
	if layout.Base != nil {
		obj.Base = newObject(a, layout.Base)
	}
	for i, f := range layout.Fields {
		switch {
		case f.IsArray:
			arr := makeArrayFields(a, f.Type, f.Dims, f.Elem)
			obj.Fields[i] = Cell{Arr: arr}
		case f.Elem != nil && f.Type.PointerLevel == 0:
			obj.Fields[i] = Cell{Obj: newObject(a, f.Elem)}
		default:
			obj.Fields[i] = Cell{}
		}
	}
	return obj
}

// MakeArray allocates an n-D array per spec §4.A, writing the
// ArrayHeader and — for object elements — each element's own VTable and
// nested headers.
func MakeArray(a Allocator, elemTy TypeInfo, dims []int, elemCls *ClassLayout) *Value {
	arr := makeArrayFields(a, elemTy, dims, elemCls)
	c := a.NewCell()
	c.Arr = arr
	return &Value{Type: elemTy, IsArray: true, Cell: c}
}

func makeArrayFields(a Allocator, elemTy TypeInfo, dims []int, elemCls *ClassLayout) *Array {
	total := 1
	for _, d := range dims {
		total *= d
	}
	hdr := ArrayHeader{ElementPointerLevel: elemTy.PointerLevel, NumDimensions: uint8(len(dims))}
	for i, d := range dims {
		if i < 8 {
			hdr.Dims[i] = d
		}
	}
	arr := &Array{Header: hdr, ElemTy: elemTy, Elems: make([]Cell, total), ElemCls: elemCls}
	if elemCls != nil && elemTy.PointerLevel == 0 {
		for i := range arr.Elems {
			arr.Elems[i] = Cell{Obj: newObject(a, elemCls)}
		}
	}
	return arr
}

// LinearOffset computes the row-major index for property P6: element
// (i0,...,in-1) of an array with dims d1..dn-1 (the leading dimension is
// not needed in the accumulation).
func LinearOffset(dims []int, idx []int) int {
	offset := 0
	for k := 0; k < len(idx); k++ {
		offset = offset*dimAt(dims, k) + idx[k]
	}
	return offset
}

func dimAt(dims []int, k int) int {
	if k < len(dims) {
		return dims[k]
	}
	return 1
}

// --- Primitive read/write with widening/narrowing conversions ---

// ReadAsF64 widens any primitive cell to a float64, per the C-style
// conversion convention of §4.A.
func ReadAsF64(kind Kind, bits uint64) float64 {
	switch kind {
	case KF32:
		return float64(math.Float32frombits(uint32(bits)))
	case KF64:
		return math.Float64frombits(bits)
	default:
		return float64(ReadAsI64(kind, bits))
	}
}

// ReadAsI64 widens/sign-extends any primitive cell to an int64.
func ReadAsI64(kind Kind, bits uint64) int64 {
	switch kind {
	case KF32:
		return int64(math.Float32frombits(uint32(bits)))
	case KF64:
		return int64(math.Float64frombits(bits))
	case KI8:
		return int64(int8(bits))
	case KI16:
		return int64(int16(bits))
	case KI32:
		return int64(int32(bits))
	case KI64:
		return int64(bits)
	case KU8:
		return int64(uint8(bits))
	case KU16:
		return int64(uint16(bits))
	case KU32:
		return int64(uint32(bits))
	case KBool, KChar:
		return int64(bits & 0xFF)
	default:
		return int64(bits)
	}
}

// ReadAsU64 zero-extends any primitive cell to a uint64.
func ReadAsU64(kind Kind, bits uint64) uint64 {
	switch kind {
	case KU8:
		return uint64(uint8(bits))
	case KU16:
		return uint64(uint16(bits))
	case KU32:
		return uint64(uint32(bits))
	case KF32:
		return uint64(math.Float32frombits(uint32(bits)))
	case KF64:
		return uint64(math.Float64frombits(bits))
	default:
		return bits
	}
}

// WriteBits narrows a float64/int64 source value into the bit pattern
// for kind, per the narrowing/truncating conversion convention.
func WriteBits(kind Kind, fromFloat bool, f float64, i int64) uint64 {
	if IsRealFamily(kind) {
		v := f
		if !fromFloat {
			v = float64(i)
		}
		if kind == KF32 {
			return uint64(math.Float32bits(float32(v)))
		}
		return math.Float64bits(v)
	}
	v := i
	if fromFloat {
		v = int64(f)
	}
	switch kind {
	case KU8:
		return uint64(uint8(v))
	case KU16:
		return uint64(uint16(v))
	case KU32:
		return uint64(uint32(v))
	case KU64:
		return uint64(v)
	case KI8:
		return uint64(uint8(int8(v)))
	case KI16:
		return uint64(uint16(int16(v)))
	case KI32:
		return uint64(uint32(int32(v)))
	case KI64:
		return uint64(v)
	case KBool:
		if v != 0 {
			return 1
		}
		return 0
	case KChar:
		return uint64(byte(v))
	}
	return uint64(v)
}

// Actual collapses a reference into the underlying Value for reads
// (spec §4.A Actual()).
func (v Value) Actual() Value {
	if v.IsReference && v.Cell != nil && v.Cell.Target != nil {
		return Value{Type: v.Type.Deref(), IsArray: v.IsArray, Cell: v.Cell.Target}
	}
	return v
}

// Dereference follows one pointer level (spec §4.A Dereference()).
func (v Value) Dereference() (Value, error) {
	if v.Type.PointerLevel == 0 || v.Cell == nil || v.Cell.Target == nil {
		return Value{}, fmt.Errorf("null or non-pointer dereference")
	}
	return Value{Type: v.Type.Deref(), Cell: v.Cell.Target}, nil
}

// AddressOf synthesises a pointer Value aliasing v's storage.
func AddressOf(a Allocator, v Value) Value {
	c := a.NewCell()
	c.Target = v.Cell
	return Value{Type: v.Type.AddrOf(), Cell: c}
}

// Clone copies the backing bytes of v into a fresh cell in a (spec
// §4.A Clone): pointers copy the word, primitives copy their bits,
// objects copy the payload without re-running constructors.
func Clone(a Allocator, v Value) Value {
	src := v.Actual()
	dst := a.NewCell()
	if src.Cell != nil {
		dst.Bits = src.Cell.Bits
		dst.Target = src.Cell.Target
		if src.Cell.Obj != nil {
			dst.Obj = cloneObject(src.Cell.Obj)
		}
		if src.Cell.Arr != nil {
			dst.Arr = cloneArray(src.Cell.Arr)
		}
	}
	return Value{Type: src.Type, IsArray: src.IsArray, Cell: dst}
}

func cloneObject(o *Object) *Object {
	n := &Object{Class: o.Class, VTable: o.VTable, Fields: make([]Cell, len(o.Fields))}
	copy(n.Fields, o.Fields)
	if o.Base != nil {
		n.Base = cloneObject(o.Base)
	}
	return n
}

// FieldAt locates the Cell backing the field at byteOffset, searching
// this class's own Fields first and then recursing into Base — the
// runtime counterpart of MemberOffset's compile-time walk, needed
// because Fields only ever holds one class's own declared members.
func FieldAt(obj *Object, layout *ClassLayout, byteOffset uint64) (*Cell, bool) {
	for i, f := range layout.Fields {
		if f.ByteOff == byteOffset {
			return &obj.Fields[i], true
		}
	}
	if layout.Base != nil && obj.Base != nil {
		return FieldAt(obj.Base, layout.Base, byteOffset)
	}
	return nil, false
}

func cloneArray(arr *Array) *Array {
	n := &Array{Header: arr.Header, ElemTy: arr.ElemTy, ElemCls: arr.ElemCls, Elems: make([]Cell, len(arr.Elems))}
	copy(n.Elems, arr.Elems)
	return n
}
