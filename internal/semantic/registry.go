// Package semantic implements spec §4.E: the class/function registry,
// overload resolution with implicit-conversion scoring, member/static
// layout, and VTable construction.
package semantic

import (
	"fmt"
	"sort"

	"thalis/internal/parser"
	"thalis/internal/types"
)

// Function mirrors spec §3's Function record.
type Function struct {
	ID          uint32
	Name        string
	Access      parser.Access
	Static      bool
	Virtual     bool
	ReturnType  types.TypeInfo
	ReturnByRef bool
	ReturnTemplateTypeName string // set when ReturnType is a template placeholder
	Params      []Param
	Body        *parser.Block
	NumLocals   int
	OwnerClass  types.TypeID
	PC          int // set by the compiler once bytecode is emitted
	Signature   string
}

type Param struct {
	Type             types.TypeInfo
	ByRef            bool
	Slot             int
	Name             string
	TemplateTypeName string // set when Type is a template placeholder
}

// Field mirrors spec §3's member/static field record.
type Field struct {
	Name       string
	Type       types.TypeInfo
	IsArray    bool
	Dims       []int
	ByteOffset uint64
	ClassElem  *Class // non-nil when Type names a user class
	StaticInit parser.Expr
	TemplateTypeName string // set when the declared type is a template placeholder
}

// Class mirrors spec §3's Class record.
type Class struct {
	ID       types.TypeID
	Name     string
	Base     *Class

	Members []Field
	Statics []Field

	// overload sets: name -> ordered list of function ids
	Overloads map[string][]uint32
	// signature -> id, spec's "name-T0_T1_T2" keyed map
	BySignature map[string]uint32

	Functions []*Function // flat, indexed by FuncID within the class

	Destructor        uint32 // 0 means none; function ids start at 1
	CopyConstructor   uint32
	AssignOperator    uint32
	DefaultConstructor uint32

	VTable *types.VTable

	TemplateDef   *TemplateDefinition
	Instantiations map[string]types.TypeID // cache key -> instantiated class id, spec P5

	// StaticInitFn is the synthetic zero-argument function compiled from
	// this class's static fields' initializer expressions (spec §4.G's
	// "static-init prologue"). Nil when no static field carries one.
	StaticInitFn *Function
}

type TemplateDefinition struct {
	Params []parser.TemplateParam
}

const NoFunctionID = 0

// Registry owns the class table and provides name/id resolution for
// the whole program (spec §4.E).
type Registry struct {
	classesByID   map[types.TypeID]*Class
	classesByName map[string]*Class
	nextClassID   types.TypeID
}

func NewRegistry() *Registry {
	return &Registry{
		classesByID:   make(map[types.TypeID]*Class),
		classesByName: make(map[string]*Class),
		nextClassID:   types.FirstClassID,
	}
}

func (r *Registry) ClassByID(id types.TypeID) *Class   { return r.classesByID[id] }
func (r *Registry) ClassByName(name string) *Class     { return r.classesByName[name] }
func (r *Registry) ClassName(id types.TypeID) string {
	if c := r.classesByID[id]; c != nil {
		return c.Name
	}
	return fmt.Sprintf("#%d", id)
}

// DeclareClass reserves a class id for `name`, without yet populating
// members/functions (so forward references among sibling classes
// resolve).
func (r *Registry) DeclareClass(name string) *Class {
	if c, ok := r.classesByName[name]; ok {
		return c
	}
	c := &Class{
		ID:             r.nextClassID,
		Name:           name,
		Overloads:      make(map[string][]uint32),
		BySignature:    make(map[string]uint32),
		Instantiations: make(map[string]types.TypeID),
	}
	r.nextClassID++
	r.classesByID[c.ID] = c
	r.classesByName[name] = c
	return c
}

// RegisterClass inserts an already-built Class (used by the template
// engine when synthesizing an instantiation with a generated name).
func (r *Registry) RegisterClass(c *Class) {
	if c.ID == 0 {
		c.ID = r.nextClassID
		r.nextClassID++
	}
	r.classesByID[c.ID] = c
	r.classesByName[c.Name] = c
}

// AllClasses returns every registered class, including template
// instantiations synthesized after the initial declare pass.
func (r *Registry) AllClasses() []*Class {
	out := make([]*Class, 0, len(r.classesByID))
	for _, c := range r.classesByID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) NextClassID() types.TypeID {
	id := r.nextClassID
	r.nextClassID++
	return id
}

// ReserveClassIDsThrough bumps the next-id counter so it never reissues
// an id at or below upTo. Used by internal/cache when rehydrating a
// Registry from a stored snapshot, where classes are re-registered with
// their original ids out of allocation order.
func (r *Registry) ReserveClassIDsThrough(upTo types.TypeID) {
	if upTo >= r.nextClassID {
		r.nextClassID = upTo + 1
	}
}

// AddFunction implements spec §4.E AddFunction: push into the
// name->overload bucket; derive the textual signature; dedupe by
// signature, else allocate a new FunctionID.
func (c *Class) AddFunction(fn *Function, classNameOf func(types.TypeID) string) uint32 {
	sig := fn.Name + signatureSuffix(fn.Params, classNameOf)
	fn.Signature = sig
	if id, ok := c.BySignature[sig]; ok {
		return id
	}
	fn.ID = uint32(len(c.Functions)) + 1
	fn.OwnerClass = c.ID
	c.Functions = append(c.Functions, fn)
	c.BySignature[sig] = fn.ID
	c.Overloads[fn.Name] = append(c.Overloads[fn.Name], fn.ID)

	switch {
	case fn.Name == "~"+c.Name:
		c.Destructor = fn.ID
	case fn.Name == c.Name && len(fn.Params) == 1 && fn.Params[0].Type.ID == c.ID:
		c.CopyConstructor = fn.ID
	case fn.Name == "operator=":
		c.AssignOperator = fn.ID
	case fn.Name == c.Name && len(fn.Params) == 0:
		c.DefaultConstructor = fn.ID
	}
	return fn.ID
}

func signatureSuffix(params []Param, classNameOf func(types.TypeID) string) string {
	s := ""
	for _, p := range params {
		s += "-" + p.Type.SignatureName(classNameOf)
	}
	return s
}

func (c *Class) FunctionByID(id uint32) *Function {
	if id == 0 || int(id) > len(c.Functions) {
		return nil
	}
	return c.Functions[id-1]
}

// VTableSlot returns the slot index a function occupies in its class's
// VTable, for VIRTUAL_FUNCTION_CALL sites that must encode the slot
// rather than a fixed class/function id (spec §4.E: the slot is shared
// by every override of the same signature).
func (c *Class) VTableSlot(fnID uint32) (int, bool) {
	if c.VTable == nil {
		return 0, false
	}
	for i, s := range c.VTable.Slots {
		if s.FuncID == fnID {
			return i, true
		}
	}
	return 0, false
}

// InheritsFrom walks the base-chain (original_source Class::InheritsFrom),
// used by overload scoring's "derived -> base" pointer case.
func InheritsFrom(derived, base *Class) bool {
	for cur := derived; cur != nil; cur = cur.Base {
		if cur == base {
			return true
		}
	}
	return false
}

// MemberOffset is the member offset walker of spec §4.E: recursively
// descends nested a.b.c paths, returns (offset, false) on a missing
// name (spec: "returns UINT64_MAX on a missing name" — the Go analogue
// is an explicit ok=false).
func (r *Registry) MemberOffset(c *Class, path []string) (uint64, types.TypeInfo, bool) {
	var offset uint64
	cur := c
	var last types.TypeInfo
	for i, name := range path {
		f, idx, ok := findField(cur, name, false)
		if !ok {
			return 0, types.TypeInfo{}, false
		}
		offset += f.ByteOffset
		last = f.Type
		if i < len(path)-1 {
			if f.ClassElem == nil {
				return 0, types.TypeInfo{}, false
			}
			cur = f.ClassElem
		}
		_ = idx
	}
	return offset, last, true
}

func (r *Registry) StaticOffset(c *Class, name string) (uint64, types.TypeInfo, bool) {
	f, _, ok := findField(c, name, true)
	if !ok {
		return 0, types.TypeInfo{}, false
	}
	return f.ByteOffset, f.Type, true
}

// FindStatic locates the class that actually declares a static field
// (statics are not duplicated into derived classes, so the owner may
// differ from c), plus its index in owner.Statics — the pair the VM's
// per-class static storage table is keyed by.
func (r *Registry) FindStatic(c *Class, name string) (owner *Class, idx int, ok bool) {
	for cur := c; cur != nil; cur = cur.Base {
		for i, f := range cur.Statics {
			if f.Name == name {
				return cur, i, true
			}
		}
	}
	return nil, -1, false
}

func findField(c *Class, name string, static bool) (Field, int, bool) {
	list := c.Members
	if static {
		list = c.Statics
	}
	for cur := c; cur != nil; cur = cur.Base {
		l := cur.Members
		if static {
			l = cur.Statics
		}
		for i, f := range l {
			if f.Name == name {
				return f, i, true
			}
		}
	}
	_ = list
	return Field{}, -1, false
}

// BuildVTable implements spec §4.E: one slot per declared function (not
// just virtual), where the derived class's slot is its own override by
// name+signature if present, else the base's.
func BuildVTable(c *Class) *types.VTable {
	vt := &types.VTable{ClassID: c.ID}
	if c.Base != nil && c.Base.VTable != nil {
		vt.Slots = append(vt.Slots, c.Base.VTable.Slots...)
	}
	slotOf := make(map[string]int)
	for i, s := range vt.Slots {
		slotOf[signatureOf(c, s)] = i
	}
	names := make([]string, 0, len(c.Overloads))
	for n := range c.Overloads {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, fid := range c.Overloads[name] {
			fn := c.FunctionByID(fid)
			if fn.Static {
				continue
			}
			ref := types.FuncRef{ClassID: c.ID, FuncID: fid}
			if idx, ok := slotOf[fn.Signature]; ok {
				vt.Slots[idx] = ref
			} else {
				slotOf[fn.Signature] = len(vt.Slots)
				vt.Slots = append(vt.Slots, ref)
			}
		}
	}
	c.VTable = vt
	return vt
}

func signatureOf(c *Class, ref types.FuncRef) string {
	owner := c
	for owner != nil && owner.ID != ref.ClassID {
		owner = owner.Base
	}
	if owner == nil {
		return ""
	}
	fn := owner.FunctionByID(ref.FuncID)
	if fn == nil {
		return ""
	}
	return fn.Signature
}
