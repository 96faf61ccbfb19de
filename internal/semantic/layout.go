package semantic

import "thalis/internal/types"

// PrimitiveSize returns sizeof(kind) in bytes, used by the member/static
// offset walkers, sizeof(), and array element stride computation.
func PrimitiveSize(k types.Kind) uint64 {
	return uint64(types.BitWidth(k)) / 8
}

const PointerSize = 8
const VTableSlotSize = 8

// FieldSize returns the byte size of one field per spec §4.A's object
// layout: a pointer is one machine word; a primitive is its own width;
// a class value embeds the class's full size (including its own VTable
// slot, since invariant I3 says object payloads are always preceded by
// one).
func FieldSize(r *Registry, t types.TypeInfo) uint64 {
	if t.PointerLevel > 0 {
		return PointerSize
	}
	if t.ID.IsPrimitive() {
		return PrimitiveSize(t.ID.Kind())
	}
	if cls := r.ClassByID(t.ID); cls != nil {
		return ClassSize(r, cls)
	}
	return PointerSize
}

// ClassSize computes sizeof(class): one shared VTable slot for the whole
// hierarchy plus every member field's size, own and inherited — a
// single-inheritance chain has one vtable pointer total, not one per
// ancestor (spec invariant I3).
func ClassSize(r *Registry, c *Class) uint64 {
	var total uint64 = VTableSlotSize
	for cur := c; cur != nil; cur = cur.Base {
		for _, f := range cur.Members {
			total += fieldStorageSize(r, f)
		}
	}
	return total
}

func fieldStorageSize(r *Registry, f Field) uint64 {
	sz := FieldSize(r, f.Type)
	if f.IsArray {
		n := uint64(1)
		for _, d := range f.Dims {
			n *= uint64(d)
		}
		sz = sz*n + 16 // + ArrayHeader
	}
	return sz
}

// AssignMemberOffsets runs the member offset walker (spec §4.E): walks
// fields in declaration order accumulating byte offsets, recursing
// through the base class first so derived fields start after it.
func AssignMemberOffsets(r *Registry, c *Class) {
	var base uint64
	if c.Base != nil {
		base = ClassSize(r, c.Base)
	}
	offset := base
	for i := range c.Members {
		c.Members[i].ByteOffset = offset
		offset += fieldStorageSize(r, c.Members[i])
	}
}

// AssignStaticOffsets runs the static offset walker over the class's
// static region (spec §4.E), independent of the instance layout.
func AssignStaticOffsets(r *Registry, c *Class) {
	var offset uint64
	for i := range c.Statics {
		c.Statics[i].ByteOffset = offset
		offset += FieldSize(r, c.Statics[i].Type)
	}
}

// ToClassLayout produces the types.ClassLayout view internal/types and
// internal/vm need to construct instances, without those packages
// importing internal/semantic (avoiding an import cycle: semantic
// already imports types).
func ToClassLayout(r *Registry, c *Class) *types.ClassLayout {
	layout := &types.ClassLayout{ID: c.ID, VTable: c.VTable, ByteSz: ClassSize(r, c)}
	if c.Base != nil {
		layout.Base = ToClassLayout(r, c.Base)
	}
	for _, f := range c.Members {
		fl := types.FieldLayout{Name: f.Name, Type: f.Type, IsArray: f.IsArray, Dims: f.Dims, ByteOff: f.ByteOffset}
		if f.ClassElem != nil {
			fl.Elem = ToClassLayout(r, f.ClassElem)
		}
		layout.Fields = append(layout.Fields, fl)
	}
	return layout
}
