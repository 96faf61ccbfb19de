// Package module implements spec §4.I / §6: the built-in module
// gateway. Externally a module is a stable 16-bit id and a 16-bit
// function/constant id within it; internally each module is a Go
// function table so the VM's MODULE_FUNCTION_CALL/MODULE_CONSTANT
// opcodes reduce to one map lookup plus a Go call. Function and
// constant names mirror spec §6's Module ABI exactly (IO.Print,
// Math.PI, FS.ReadTextFile, ...) since user programs call them
// case-sensitively by that spelling.
package module

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"time"

	"thalis/internal/types"
)

// Stable module ids (spec §6's "reduced to a single FFI-style
// contract"); the numeric ABI must never be renumbered once assigned.
const (
	IO = iota
	Math
	FS
	Mem
	Window
	GL
	Time_
)

// Fn is one module function: its declared return type plus the Go
// implementation. Args arrive already Actual()-collapsed.
type Fn struct {
	Name   string
	Return types.TypeInfo
	Call   func(a types.Allocator, args []types.Value) (types.Value, error)
}

// Const is one module constant.
type Const struct {
	Name  string
	Type  types.TypeInfo
	Value func(a types.Allocator) types.Value
}

type Module struct {
	ID          int
	Name        string
	functions   []Fn
	byName      map[string]uint16
	constants   []Const
	constByName map[string]uint16
}

func (m *Module) addFn(name string, ret types.TypeInfo, call func(types.Allocator, []types.Value) (types.Value, error)) {
	id := uint16(len(m.functions))
	m.functions = append(m.functions, Fn{Name: name, Return: ret, Call: call})
	m.byName[name] = id
}

func (m *Module) addConst(name string, t types.TypeInfo, val func(types.Allocator) types.Value) {
	id := uint16(len(m.constants))
	m.constants = append(m.constants, Const{Name: name, Type: t, Value: val})
	m.constByName[name] = id
}

func (m *Module) FunctionID(name string) (uint16, bool) { id, ok := m.byName[name]; return id, ok }
func (m *Module) ConstantID(name string) (uint16, bool) { id, ok := m.constByName[name]; return id, ok }
func (m *Module) Function(id uint16) *Fn {
	if int(id) >= len(m.functions) {
		return nil
	}
	return &m.functions[id]
}
func (m *Module) Constant(id uint16) *Const {
	if int(id) >= len(m.constants) {
		return nil
	}
	return &m.constants[id]
}

// Registry is the full gateway: every built-in module keyed by its
// stable id and by name (for the compiler's `IO.Println(...)` lookup).
type Registry struct {
	byID   map[int]*Module
	byName map[string]int

	handles map[uint32]*os.File
	nextH   uint32
	readers map[uint32]*bufio.Reader
}

func NewRegistry() *Registry {
	r := &Registry{
		byID:    make(map[int]*Module),
		byName:  make(map[string]int),
		handles: make(map[uint32]*os.File),
		readers: make(map[uint32]*bufio.Reader),
	}
	r.register(buildIO())
	r.register(buildMath())
	r.register(r.buildFS())
	r.register(buildMem())
	r.register(buildWindow())
	r.register(buildGL())
	r.register(buildTime())
	return r
}

func (r *Registry) register(m *Module) {
	r.byID[m.ID] = m
	r.byName[m.Name] = m.ID
}

func (r *Registry) ByID(id int) *Module              { return r.byID[id] }
func (r *Registry) NameToID(name string) (int, bool) { id, ok := r.byName[name]; return id, ok }

// Call implements the gateway's `call(module_id, fn_id, args)` contract.
func (r *Registry) Call(a types.Allocator, modID int, fnID uint16, args []types.Value) (types.Value, error) {
	m := r.ByID(modID)
	if m == nil {
		return types.Value{}, fmt.Errorf("unknown module id %d", modID)
	}
	fn := m.Function(fnID)
	if fn == nil {
		return types.Value{}, fmt.Errorf("unknown function id %d in module %s", fnID, m.Name)
	}
	return fn.Call(a, args)
}

func (r *Registry) Constant(a types.Allocator, modID int, kID uint16) (types.Value, error) {
	m := r.ByID(modID)
	if m == nil {
		return types.Value{}, fmt.Errorf("unknown module id %d", modID)
	}
	c := m.Constant(kID)
	if c == nil {
		return types.Value{}, fmt.Errorf("unknown constant id %d in module %s", kID, m.Name)
	}
	return c.Value(a), nil
}

// ReturnType/ConstantType implement the gateway's type-query contract
// (spec §4.I), used by the compiler to type a MODULE_FUNCTION_CALL /
// MODULE_CONSTANT expression without evaluating it.
func (r *Registry) ReturnType(modID int, fnID uint16) types.TypeInfo {
	if m := r.ByID(modID); m != nil {
		if fn := m.Function(fnID); fn != nil {
			return fn.Return
		}
	}
	return types.Plain(types.TypeID(types.KVoid), 0)
}

func (r *Registry) ConstantType(modID int, kID uint16) types.TypeInfo {
	if m := r.ByID(modID); m != nil {
		if c := m.Constant(kID); c != nil {
			return c.Type
		}
	}
	return types.Plain(types.TypeID(types.KVoid), 0)
}

func newModule(id int, name string) *Module {
	return &Module{ID: id, Name: name, byName: make(map[string]uint16), constByName: make(map[string]uint16)}
}

func argF64(v types.Value) float64 {
	v = v.Actual()
	return types.ReadAsF64(v.Type.ID.Kind(), v.Cell.Bits)
}

func argI64(v types.Value) int64 {
	v = v.Actual()
	return types.ReadAsI64(v.Type.ID.Kind(), v.Cell.Bits)
}

func argU64(v types.Value) uint64 {
	v = v.Actual()
	return types.ReadAsU64(v.Type.ID.Kind(), v.Cell.Bits)
}

// argString reads a char* argument back into a Go string by walking the
// aliased Array's element cells (the VM materializes string literals as
// heap char arrays on PUSH_STRING, see vm.pushStringConstant).
func argString(v types.Value) string {
	v = v.Actual()
	if v.Cell == nil || v.Cell.Target == nil || v.Cell.Target.ArrBase == nil {
		return ""
	}
	arr := v.Cell.Target.ArrBase
	b := make([]byte, 0, len(arr.Elems))
	for i := v.Cell.Target.ArrIndex; i < len(arr.Elems); i++ {
		ch := byte(arr.Elems[i].Bits)
		if ch == 0 {
			break
		}
		b = append(b, ch)
	}
	return string(b)
}

// argAny formats any primitive, or a char*, the way IO.Print(T) must
// for an arbitrary T (spec §6).
func argAny(v types.Value) string {
	v = v.Actual()
	if v.Type.IsPointer() && v.Type.ID.Kind() == types.KChar {
		return argString(v)
	}
	if v.Cell == nil {
		return ""
	}
	k := v.Type.ID.Kind()
	if types.IsRealFamily(k) {
		return fmt.Sprintf("%g", types.ReadAsF64(k, v.Cell.Bits))
	}
	if k == types.KBool {
		return fmt.Sprintf("%v", v.Cell.Bits != 0)
	}
	if k == types.KChar {
		return string(rune(v.Cell.Bits))
	}
	if types.IsSigned(k) {
		return fmt.Sprintf("%d", types.ReadAsI64(k, v.Cell.Bits))
	}
	return fmt.Sprintf("%d", types.ReadAsU64(k, v.Cell.Bits))
}

func f64Ret(a types.Allocator, v float64) (types.Value, error) { return types.NewF64(a, v), nil }
func i64Ret(a types.Allocator, v int64) (types.Value, error)   { return types.NewI64(a, v), nil }
func u64Ret(a types.Allocator, v uint64) (types.Value, error)  { return types.NewU64(a, v), nil }
func voidRet() (types.Value, error)                            { return types.Void(), nil }

func boolT() types.TypeInfo { return types.Plain(types.TypeID(types.KBool), 0) }
func voidT() types.TypeInfo { return types.Plain(types.TypeID(types.KVoid), 0) }
func realT() types.TypeInfo { return types.Plain(types.TypeID(types.KF64), 0) }
func u32T() types.TypeInfo  { return types.Plain(types.TypeID(types.KU32), 0) }
func u64T() types.TypeInfo  { return types.Plain(types.TypeID(types.KU64), 0) }
func cstrT() types.TypeInfo { return types.Plain(types.TypeID(types.KChar), 1) }

// buildIO implements spec §6's `IO` module: Print(T)/Println(T) for
// any primitive or char*.
func buildIO() *Module {
	m := newModule(IO, "IO")
	m.addFn("Print", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		for _, v := range args {
			fmt.Print(argAny(v))
		}
		return voidRet()
	})
	m.addFn("Println", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		for _, v := range args {
			fmt.Print(argAny(v))
		}
		fmt.Println()
		return voidRet()
	})
	return m
}

// buildMath implements spec §6's `Math` module: transcendentals,
// rounding, min/max/clamp/lerp, exp/log family, pow/sqrt/abs, mod/modf
// (f64 throughout except Modf, which is f32), plus PI/E/TAU.
func buildMath() *Module {
	m := newModule(Math, "Math")
	r := realT()
	unary := func(f func(float64) float64) func(types.Allocator, []types.Value) (types.Value, error) {
		return func(a types.Allocator, args []types.Value) (types.Value, error) { return f64Ret(a, f(argF64(args[0]))) }
	}
	binary := func(f func(float64, float64) float64) func(types.Allocator, []types.Value) (types.Value, error) {
		return func(a types.Allocator, args []types.Value) (types.Value, error) {
			return f64Ret(a, f(argF64(args[0]), argF64(args[1])))
		}
	}
	m.addFn("Sin", r, unary(math.Sin))
	m.addFn("Cos", r, unary(math.Cos))
	m.addFn("Tan", r, unary(math.Tan))
	m.addFn("Asin", r, unary(math.Asin))
	m.addFn("Acos", r, unary(math.Acos))
	m.addFn("Atan", r, unary(math.Atan))
	m.addFn("Atan2", r, binary(math.Atan2))
	m.addFn("Floor", r, unary(math.Floor))
	m.addFn("Ceil", r, unary(math.Ceil))
	m.addFn("Round", r, unary(math.Round))
	m.addFn("Trunc", r, unary(math.Trunc))
	m.addFn("Abs", r, unary(math.Abs))
	m.addFn("Sqrt", r, unary(math.Sqrt))
	m.addFn("Exp", r, unary(math.Exp))
	m.addFn("Log", r, unary(math.Log))
	m.addFn("Log2", r, unary(math.Log2))
	m.addFn("Log10", r, unary(math.Log10))
	m.addFn("Pow", r, binary(math.Pow))
	m.addFn("Min", r, binary(math.Min))
	m.addFn("Max", r, binary(math.Max))
	m.addFn("Mod", r, binary(math.Mod))
	m.addFn("Lerp", r, func(a types.Allocator, args []types.Value) (types.Value, error) {
		t0, t1, f := argF64(args[0]), argF64(args[1]), argF64(args[2])
		return f64Ret(a, t0+(t1-t0)*f)
	})
	m.addFn("Clamp", r, func(a types.Allocator, args []types.Value) (types.Value, error) {
		v, lo, hi := argF64(args[0]), argF64(args[1]), argF64(args[2])
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		return f64Ret(a, v)
	})
	// Modf splits into integer/fractional parts; spec says it "uses
	// f32" unlike every other Math function here.
	m.addFn("Modf", types.Plain(types.TypeID(types.KF32), 0), func(a types.Allocator, args []types.Value) (types.Value, error) {
		_, frac := math.Modf(argF64(args[0]))
		return types.NewPrimitive(a, types.KF32, types.WriteBits(types.KF32, true, frac, 0)), nil
	})
	m.addConst("PI", r, func(a types.Allocator) types.Value { return types.NewF64(a, math.Pi) })
	m.addConst("E", r, func(a types.Allocator) types.Value { return types.NewF64(a, math.E) })
	m.addConst("TAU", r, func(a types.Allocator) types.Value { return types.NewF64(a, 2*math.Pi) })
	return m
}

// buildFS implements spec §6's `FS` module over the host filesystem;
// handles are small integers (0 = failure) since the value model has
// no first-class handle type.
func (r *Registry) buildFS() *Module {
	m := newModule(FS, "FS")
	m.addFn("ReadTextFile", cstrT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		b, err := os.ReadFile(argString(args[0]))
		if err != nil {
			return heapCString(a, ""), nil
		}
		return heapCString(a, string(b)), nil
	})
	m.addFn("ReadBinaryFile", types.Plain(types.TypeID(types.KU8), 1), func(a types.Allocator, args []types.Value) (types.Value, error) {
		b, err := os.ReadFile(argString(args[0]))
		if err != nil {
			b = nil
		}
		return heapByteArray(a, b), nil
	})
	m.addFn("OpenFile", u32T(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		f, err := os.Open(argString(args[0]))
		if err != nil {
			return u64Retu32Val(a, 0)
		}
		r.nextH++
		h := r.nextH
		r.handles[h] = f
		r.readers[h] = bufio.NewReader(f)
		return u64Retu32Val(a, h)
	})
	m.addFn("CloseFile", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		h := uint32(argU64(args[0]))
		if f, ok := r.handles[h]; ok {
			f.Close()
			delete(r.handles, h)
			delete(r.readers, h)
		}
		return voidRet()
	})
	m.addFn("ReadLine", boolT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		h := uint32(argU64(args[0]))
		rd, ok := r.readers[h]
		if !ok {
			return types.NewBool(a, false), nil
		}
		line, err := rd.ReadString('\n')
		if err != nil && line == "" {
			return types.NewBool(a, false), nil
		}
		buf := args[1].Actual()
		max := int(argI64(args[2]))
		writeIntoCharBuffer(buf, line, max)
		return types.NewBool(a, true), nil
	})
	return m
}

// writeIntoCharBuffer copies s (truncated to max-1 bytes, NUL-terminated)
// into the char[] buf aliases, mirroring FS.ReadLine(h, buf, max)'s
// contract.
func writeIntoCharBuffer(buf types.Value, s string, max int) {
	if buf.Cell == nil || buf.Cell.Arr == nil || max <= 0 {
		return
	}
	arr := buf.Cell.Arr
	n := len(s)
	if n > max-1 {
		n = max - 1
	}
	if n > len(arr.Elems)-1 {
		n = len(arr.Elems) - 1
	}
	for i := 0; i < n; i++ {
		arr.Elems[i].Bits = uint64(s[i])
	}
	if n < len(arr.Elems) {
		arr.Elems[n].Bits = 0
	}
}

func u64Retu32Val(a types.Allocator, v uint32) (types.Value, error) {
	return types.NewPrimitive(a, types.KU32, uint64(v)), nil
}

// buildMem implements spec §6's `Mem` module. The Cell-based value
// model has no single linear address space for raw pointer byte
// copies, so Copy/Set operate on the destination Value's own backing
// Cell(s) — the array-of-bytes shape every caller actually uses — while
// Alloc/Free hand back a heap byte array, matching FS.ReadBinaryFile's
// representation.
func buildMem() *Module {
	m := newModule(Mem, "Mem")
	m.addFn("Alloc", types.Plain(types.TypeID(types.KU8), 1), func(a types.Allocator, args []types.Value) (types.Value, error) {
		n := argI64(args[0])
		return heapByteArray(a, make([]byte, n)), nil
	})
	m.addFn("Free", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) { return voidRet() })
	m.addFn("Copy", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		dst, src, n := args[0].Actual(), args[1].Actual(), int(argI64(args[2]))
		copyCellBytes(dst, src, n)
		return voidRet()
	})
	m.addFn("Set", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		dst := args[0].Actual()
		b := byte(argI64(args[1]))
		n := int(argI64(args[2]))
		setCellBytes(dst, b, n)
		return voidRet()
	})
	return m
}

func arrBaseOf(v types.Value) *types.Array {
	if v.Cell == nil {
		return nil
	}
	if v.Cell.Arr != nil {
		return v.Cell.Arr
	}
	return v.Cell.ArrBase
}

func copyCellBytes(dst, src types.Value, n int) {
	da, sa := arrBaseOf(dst), arrBaseOf(src)
	if da == nil || sa == nil {
		return
	}
	for i := 0; i < n && i < len(da.Elems) && i < len(sa.Elems); i++ {
		da.Elems[i].Bits = sa.Elems[i].Bits
	}
}

func setCellBytes(dst types.Value, b byte, n int) {
	da := arrBaseOf(dst)
	if da == nil {
		return
	}
	for i := 0; i < n && i < len(da.Elems); i++ {
		da.Elems[i].Bits = uint64(b)
	}
}

// buildWindow / buildGL register the numeric ABI surface for the
// windowing/graphics modules the spec explicitly places out of scope
// (§1: "platform-specific windowing glue... surface area, not hard
// engineering"); calls are accepted but no-op so programs that import
// these modules still link (spec §6: "the core must not hard-fail if
// absent").
func buildWindow() *Module {
	m := newModule(Window, "Window")
	m.addFn("Create", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) { return voidRet() })
	m.addFn("ShouldClose", boolT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		return types.NewBool(a, true), nil
	})
	m.addFn("PollEvents", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) { return voidRet() })
	return m
}

func buildGL() *Module {
	m := newModule(GL, "GL")
	m.addFn("Clear", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) { return voidRet() })
	m.addFn("SwapBuffers", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) { return voidRet() })
	return m
}

func buildTime() *Module {
	m := newModule(Time_, "Time")
	m.addFn("Now", u64T(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		return u64Ret(a, uint64(time.Now().UnixMilli()))
	})
	m.addFn("Sleep", voidT(), func(a types.Allocator, args []types.Value) (types.Value, error) {
		time.Sleep(time.Duration(argI64(args[0])) * time.Millisecond)
		return voidRet()
	})
	return m
}

// heapCString materializes a Go string as a NUL-terminated char array
// (mirrors how the VM materializes string literals), returning a
// char* aliasing its first element.
func heapCString(a types.Allocator, s string) types.Value {
	bytes := append([]byte(s), 0)
	arrVal := types.MakeArray(a, types.Plain(types.TypeID(types.KChar), 0), []int{len(bytes)}, nil)
	arr := arrVal.Cell.Arr
	for i, b := range bytes {
		arr.Elems[i].Bits = uint64(b)
	}
	return arrayPointer(a, arr, types.Plain(types.TypeID(types.KChar), 1))
}

func heapByteArray(a types.Allocator, data []byte) types.Value {
	arrVal := types.MakeArray(a, types.Plain(types.TypeID(types.KU8), 0), []int{len(data)}, nil)
	arr := arrVal.Cell.Arr
	for i, b := range data {
		arr.Elems[i].Bits = uint64(b)
	}
	return arrayPointer(a, arr, types.Plain(types.TypeID(types.KU8), 1))
}

func arrayPointer(a types.Allocator, arr *types.Array, ptrType types.TypeInfo) types.Value {
	if len(arr.Elems) == 0 {
		ptr := a.NewCell()
		return types.Value{Type: ptrType, Cell: ptr}
	}
	ptr := a.NewCell()
	ptr.Target = &arr.Elems[0]
	ptr.ArrBase = arr
	ptr.ArrIndex = 0
	return types.Value{Type: ptrType, Cell: ptr}
}
