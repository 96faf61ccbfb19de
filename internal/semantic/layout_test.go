package semantic

import (
	"testing"

	"thalis/internal/types"
)

func TestClassSizeIncludesOneVTableSlotPerHierarchy(t *testing.T) {
	// invariant I3: one shared VTable slot for the whole hierarchy, not
	// one per ancestor.
	r := NewRegistry()
	base := r.DeclareClass("A")
	base.Members = append(base.Members, Field{Name: "x", Type: i32T()})
	derived := r.DeclareClass("B")
	derived.Base = base
	derived.Members = append(derived.Members, Field{Name: "y", Type: i32T()})

	baseSize := ClassSize(r, base)
	derivedSize := ClassSize(r, derived)
	if baseSize != VTableSlotSize+4 {
		t.Fatalf("ClassSize(A) = %d, want %d", baseSize, VTableSlotSize+4)
	}
	if derivedSize != VTableSlotSize+4+4 {
		t.Fatalf("ClassSize(B) = %d, want %d (one vtable slot total, not two)", derivedSize, VTableSlotSize+8)
	}
}

func TestAssignMemberOffsetsStartsAfterBase(t *testing.T) {
	r := NewRegistry()
	base := r.DeclareClass("A")
	base.Members = append(base.Members, Field{Name: "x", Type: i32T()})
	AssignMemberOffsets(r, base)

	derived := r.DeclareClass("B")
	derived.Base = base
	derived.Members = append(derived.Members, Field{Name: "y", Type: i32T()})
	AssignMemberOffsets(r, derived)

	if derived.Members[0].ByteOffset != ClassSize(r, base) {
		t.Fatalf("B.y offset = %d, want %d (immediately after A's full size)", derived.Members[0].ByteOffset, ClassSize(r, base))
	}
}

func TestFieldSizePointerIsOneWord(t *testing.T) {
	r := NewRegistry()
	if got := FieldSize(r, i32T().AddrOf()); got != PointerSize {
		t.Fatalf("FieldSize(i32*) = %d, want %d", got, PointerSize)
	}
}

func TestFieldStorageSizeArrayAddsHeader(t *testing.T) {
	r := NewRegistry()
	c := r.DeclareClass("M")
	c.Members = append(c.Members, Field{Name: "xs", Type: i32T(), IsArray: true, Dims: []int{4}})
	AssignMemberOffsets(r, c)
	want := PrimitiveSize(types.KI32)*4 + 16
	if got := fieldStorageSize(r, c.Members[0]); got != want {
		t.Fatalf("fieldStorageSize = %d, want %d", got, want)
	}
}

func TestAssignStaticOffsetsIndependentOfInstanceLayout(t *testing.T) {
	r := NewRegistry()
	c := r.DeclareClass("M")
	c.Members = append(c.Members, Field{Name: "x", Type: i32T()})
	c.Statics = append(c.Statics, Field{Name: "count", Type: i32T()})
	AssignMemberOffsets(r, c)
	AssignStaticOffsets(r, c)
	if c.Statics[0].ByteOffset != 0 {
		t.Fatalf("first static's offset = %d, want 0 (statics start their own region)", c.Statics[0].ByteOffset)
	}
}

func TestToClassLayoutWalksBaseChain(t *testing.T) {
	r := NewRegistry()
	base := r.DeclareClass("A")
	base.Members = append(base.Members, Field{Name: "x", Type: i32T()})
	derived := r.DeclareClass("B")
	derived.Base = base
	derived.Members = append(derived.Members, Field{Name: "y", Type: i32T()})

	layout := ToClassLayout(r, derived)
	if layout.Base == nil || layout.Base.ID != base.ID {
		t.Fatal("ToClassLayout must chain through Base")
	}
	if len(layout.Fields) != 1 || layout.Fields[0].Name != "y" {
		t.Fatalf("derived layout fields = %+v", layout.Fields)
	}
}
