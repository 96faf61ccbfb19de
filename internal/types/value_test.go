package types

import "testing"

type fakeBump struct{ cells []*Cell }

func (b *fakeBump) NewCell() *Cell {
	c := &Cell{}
	b.cells = append(b.cells, c)
	return c
}

func TestPromotionWidthAndSignedness(t *testing.T) {
	// Promote: result width = max(lhs,rhs); at equal width a signed side
	// makes the result signed, otherwise the wider side's signedness is
	// kept; real dominates integer.
	tests := []struct {
		a, b Kind
		want Kind
	}{
		{KI32, KI64, KI64},
		{KU8, KI8, KI8},      // equal width, signed wins
		{KU32, KI32, KI32},
		{KI32, KF32, KF32},
		{KF32, KF64, KF64},
		{KU8, KU16, KU16},
	}
	for _, test := range tests {
		if got := Promote(test.a, test.b); got != test.want {
			t.Errorf("Promote(%s,%s) = %s, want %s", test.a, test.b, got, test.want)
		}
		if got := Promote(test.b, test.a); got != test.want {
			t.Errorf("Promote(%s,%s) = %s, want %s (commuted)", test.b, test.a, got, test.want)
		}
	}
}

func TestBinaryAddPromotesToWiderType(t *testing.T) {
	a := &fakeBump{}
	lhs := NewPrimitive(a, KI32, uint64(uint32(int32(3))))
	rhs := NewF64(a, 4.5)
	out, err := Binary(a, OpAdd, lhs, rhs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Type.ID.Kind() != KF64 {
		t.Fatalf("result kind = %s, want f64", out.Type.ID.Kind())
	}
	if got := ReadAsF64(KF64, out.Cell.Bits); got != 7.5 {
		t.Fatalf("3 + 4.5 = %v, want 7.5", got)
	}
}

func TestBinaryDivisionByZero(t *testing.T) {
	a := &fakeBump{}
	lhs := NewI64(a, 10)
	rhs := NewI64(a, 0)
	if _, err := Binary(a, OpDiv, lhs, rhs, nil); err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestCloneCopiesBitsNotIdentity(t *testing.T) {
	a := &fakeBump{}
	v := NewI64(a, 42)
	c := Clone(a, v)
	if c.Cell == v.Cell {
		t.Fatal("Clone must allocate a fresh cell")
	}
	if c.Cell.Bits != v.Cell.Bits {
		t.Fatalf("clone bits = %d, want %d", c.Cell.Bits, v.Cell.Bits)
	}
	// mutating the clone must not affect the original
	c.Cell.Bits = 99
	if v.Cell.Bits == 99 {
		t.Fatal("clone and original alias the same storage")
	}
}

func TestCastToNarrowing(t *testing.T) {
	a := &fakeBump{}
	v := NewI64(a, 300) // does not fit in a u8
	out, err := CastTo(a, v, Plain(TypeID(KU8), 0))
	if err != nil {
		t.Fatal(err)
	}
	if got := ReadAsU64(KU8, out.Cell.Bits); got != 300%256 {
		t.Fatalf("cast 300 to u8 = %d, want %d", got, 300%256)
	}
}

func TestAssignThroughReference(t *testing.T) {
	a := &fakeBump{}
	target := NewI64(a, 1)
	ref := MakeReference(a, target)
	src := NewI64(a, 7)
	Assign(ref, src)
	if target.Cell.Bits != 7 {
		t.Fatalf("assign through reference did not reach target: got %d", target.Cell.Bits)
	}
}

func TestActualCollapsesReference(t *testing.T) {
	a := &fakeBump{}
	target := NewI64(a, 5)
	ref := MakeReference(a, target)
	got := ref.Actual()
	if got.Cell != target.Cell {
		t.Fatal("Actual() must resolve to the referent's storage")
	}
}

func TestDereferenceDecrementsPointerLevel(t *testing.T) {
	a := &fakeBump{}
	target := NewI64(a, 5)
	ptr := AddressOf(a, target)
	if ptr.Type.PointerLevel != 1 {
		t.Fatalf("AddressOf pointer level = %d, want 1", ptr.Type.PointerLevel)
	}
	deref, err := ptr.Dereference()
	if err != nil {
		t.Fatal(err)
	}
	if deref.Type.PointerLevel != 0 {
		t.Fatalf("dereferenced pointer level = %d, want 0", deref.Type.PointerLevel)
	}
	if deref.Cell != target.Cell {
		t.Fatal("dereference must alias the original target's cell")
	}
}

func TestArrayLinearOffsetRowMajor(t *testing.T) {
	// P6: element (i0,...,in-1) of an n-D array with dims d1..dn-1.
	dims := []int{2, 3, 4}
	tests := []struct {
		idx  []int
		want int
	}{
		{[]int{0, 0, 0}, 0},
		{[]int{0, 0, 1}, 1},
		{[]int{0, 1, 0}, 4},
		{[]int{1, 0, 0}, 12},
		{[]int{1, 2, 3}, 23},
	}
	for _, test := range tests {
		if got := LinearOffset(dims, test.idx); got != test.want {
			t.Errorf("LinearOffset(%v, %v) = %d, want %d", dims, test.idx, got, test.want)
		}
	}
}

func TestMakeObjectWiresVTableAndZeroesFields(t *testing.T) {
	a := &fakeBump{}
	layout := &ClassLayout{
		ID: TypeID(FirstClassID),
		Fields: []FieldLayout{
			{Name: "x", Type: Plain(TypeID(KI32), 0)},
		},
		VTable: &VTable{ClassID: TypeID(FirstClassID)},
	}
	v := MakeObject(a, layout)
	if v.Cell.Obj == nil {
		t.Fatal("MakeObject must produce an Object-backed cell")
	}
	if v.Cell.Obj.VTable != layout.VTable {
		t.Fatal("object's VTable pointer must be the layout's VTable (invariant I3)")
	}
	if len(v.Cell.Obj.Fields) != 1 {
		t.Fatalf("fields = %d, want 1", len(v.Cell.Obj.Fields))
	}
}

func TestMakeArrayHeaderDimensions(t *testing.T) {
	a := &fakeBump{}
	v := MakeArray(a, Plain(TypeID(KI32), 0), []int{2, 3}, nil)
	arr := v.Cell.Arr
	if len(arr.Elems) != 6 {
		t.Fatalf("elems = %d, want 6", len(arr.Elems))
	}
	dims := arr.Header.Dimensions()
	if len(dims) != 2 || dims[0] != 2 || dims[1] != 3 {
		t.Fatalf("header dims = %v, want [2 3]", dims)
	}
}
