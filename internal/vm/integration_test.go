package vm_test

import (
	"strings"
	"testing"

	"thalis/internal/compiler"
	"thalis/internal/parser"
	"thalis/internal/resolve"
	"thalis/internal/types"
	"thalis/internal/vm"
)

// build parses, resolves and compiles a single-file program, failing the
// test on any error at any stage.
func build(t *testing.T, src string) *vm.VM {
	t.Helper()
	f, errs := parser.ParseFile("test.tls", src)
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	prog, err := resolve.Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	bc, err := compiler.Compile(prog)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return vm.New(prog, bc)
}

func TestRecursiveFibonacci(t *testing.T) {
	m := build(t, `
class M {
	static i32 fib(i32 n) {
		if (n < 2) { return n; }
		return fib(n-1) + fib(n-2);
	}
}`)
	out, err := m.RunFunction("M", "fib", []types.Value{types.NewI64(m.Bump, 10)})
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 55 {
		t.Fatalf("fib(10) = %d, want 55", got)
	}
}

func TestVirtualDispatchPicksOverride(t *testing.T) {
	m := build(t, `
class A {
	virtual i32 f() { return 1; }
}
class B -> inherit[A] {
	virtual i32 f() { return 2; }
}
class M {
	static i32 run() {
		A* a = new B();
		i32 r = a->f();
		delete a;
		return r;
	}
}`)
	out, err := m.RunFunction("M", "run", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 2 {
		t.Fatalf("virtual call through A* to a B instance = %d, want 2", got)
	}
	allocs, frees, live, _ := m.Heap.Stats()
	if allocs != frees || live != 0 {
		t.Fatalf("heap leaked after delete: allocs=%d frees=%d live=%d", allocs, frees, live)
	}
}

func TestDestructorOrderingChildBeforeSelf(t *testing.T) {
	m := build(t, `
class Tracer {
	static i32 logLen = 0;
	i32 id = 0;
	Tracer(i32 id) { this.id = id; }
	~Tracer() { logLen = logLen * 10 + 1; }
}
class Holder {
	Tracer child;
	~Holder() { Tracer.logLen = Tracer.logLen * 10 + 2; }
}
class M {
	static i32 run() {
		{
			Holder h;
		}
		return Tracer.logLen;
	}
}`)
	out, err := m.RunFunction("M", "run", nil)
	if err != nil {
		t.Fatal(err)
	}
	// The child's destructor appends 1, then Holder's appends 2.
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 12 {
		t.Fatalf("destructor log = %d, want 12 (child before self)", got)
	}
}

func TestArrayOutOfBoundsAborts(t *testing.T) {
	m := build(t, `
class M {
	static void run() {
		i32 xs[3] = {1, 2, 3};
		xs[5] = 9;
	}
}`)
	_, err := m.RunFunction("M", "run", nil)
	if err == nil {
		t.Fatal("expected an out-of-bounds runtime error")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "bound") && !strings.Contains(strings.ToLower(err.Error()), "index") {
		t.Fatalf("error %v does not look like a bounds violation", err)
	}
}

func TestGenericVecPushAndGetThroughFullPipeline(t *testing.T) {
	m := build(t, `
class Vec -> template[class T] {
	T items[4];
	i32 count;
	void Push(T v) {
		items[count] = v;
		count = count + 1;
	}
	T Get(u32 i) {
		return items[i];
	}
}
class M {
	static i32 run() {
		Vec<i32> v;
		v.Push(1);
		v.Push(2);
		v.Push(3);
		return v.Get(1);
	}
}`)
	out, err := m.RunFunction("M", "run", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 2 {
		t.Fatalf("Vec<i32>.Get(1) after pushing 1,2,3 = %d, want 2", got)
	}
}

func TestGenericVecInstantiatesOnceAcrossTwoCallSites(t *testing.T) {
	src := `
class Vec -> template[class T] {
	T items[2];
	i32 count;
	void Push(T v) {
		items[count] = v;
		count = count + 1;
	}
	T Get(u32 i) {
		return items[i];
	}
}
class M {
	static i32 a() {
		Vec<i32> v;
		v.Push(7);
		return v.Get(0);
	}
	static i32 b() {
		Vec<i32> v;
		v.Push(9);
		return v.Get(0);
	}
}`
	f, errs := parser.ParseFile("test.tls", src)
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	prog, err := resolve.Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	bc, err := compiler.Compile(prog)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m := vm.New(prog, bc)

	if _, err := m.RunFunction("M", "a", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RunFunction("M", "b", nil); err != nil {
		t.Fatal(err)
	}
	vecTemplate := prog.Registry.ClassByName("Vec")
	if len(vecTemplate.Instantiations) != 1 {
		t.Fatalf("Vec<i32> was instantiated %d times across two call sites, want 1 (InstantiateTemplate must cache)", len(vecTemplate.Instantiations))
	}
}

// TestOperatorOverloadDispatchesAndRunsCopyConstructor covers spec.md
// §8 scenario 4: Vec3(1,2,3)+Vec3(4,5,6) must dispatch to the
// user-defined operator+ rather than reading raw Cell.Bits off an
// object-backed value. Vec3's copy constructor must run once for each
// of the three `Vec3 x = <expr>;` declarations below (a, b, c) plus
// once more to bind operator+'s by-value rhs parameter — four times
// total; RETURN itself uses types.Clone rather than the copy
// constructor (spec §4.A), so the temporary built inside operator+'s
// body is not a fifth invocation.
func TestOperatorOverloadDispatchesAndRunsCopyConstructor(t *testing.T) {
	m := build(t, `
class Vec3 {
	static i32 copies = 0;
	i32 x;
	i32 y;
	i32 z;
	Vec3() {}
	Vec3(i32 x, i32 y, i32 z) { this.x = x; this.y = y; this.z = z; }
	Vec3(Vec3 other) {
		copies = copies + 1;
		this.x = other.x; this.y = other.y; this.z = other.z;
	}
	Vec3 operator+(Vec3 rhs) {
		return Vec3(x + rhs.x, y + rhs.y, z + rhs.z);
	}
}
class M {
	static i32 sumX() {
		Vec3 a = Vec3(1, 2, 3);
		Vec3 b = Vec3(4, 5, 6);
		Vec3 c = a + b;
		return c.x;
	}
	static i32 copyCount() {
		return Vec3.copies;
	}
}`)
	out, err := m.RunFunction("M", "sumX", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 5 {
		t.Fatalf("(Vec3(1,2,3)+Vec3(4,5,6)).x = %d, want 5", got)
	}
	copies, err := m.RunFunction("M", "copyCount", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(copies.Type.ID.Kind(), copies.Cell.Bits); got != 4 {
		t.Fatalf("Vec3's copy constructor ran %d times across declaring a, b, c and binding operator+'s by-value rhs, want 4", got)
	}
}

func TestInstructionBudgetAborts(t *testing.T) {
	m := build(t, `
class M {
	static void loop() {
		i32 i = 0;
		while (true) { i = i + 1; }
	}
}`)
	m.MaxInstructions = 1000
	_, err := m.RunFunction("M", "loop", nil)
	if err == nil {
		t.Fatal("expected the instruction budget to abort an infinite loop")
	}
}
