package resolve

import (
	"strings"
	"testing"

	"thalis/internal/parser"
)

func parseOK(t *testing.T, src string) *parser.File {
	t.Helper()
	f, errs := parser.ParseFile("test.tls", src)
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	return f
}

func TestResolveWiresInheritanceAcrossForwardReference(t *testing.T) {
	// B inherits from A even though A is declared later in the file;
	// pass 1 must declare every class before pass 1b wires bases.
	src := `
	class B ->inherit[A] {
		public i32 extra;
	}
	class A {
		public i32 x;
	}
	`
	f := parseOK(t, src)
	prog, err := Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b := prog.Registry.ClassByName("B")
	a := prog.Registry.ClassByName("A")
	if b == nil || a == nil {
		t.Fatal("expected both classes declared")
	}
	if b.Base != a {
		t.Fatalf("B.Base = %v, want A", b.Base)
	}
}

func TestResolveUnknownBaseClassErrors(t *testing.T) {
	src := `
	class B ->inherit[Ghost] {
		public i32 x;
	}
	`
	f := parseOK(t, src)
	_, err := Resolve([]*parser.File{f}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown base class")
	}
	if !strings.Contains(err.Error(), "unknown base class") {
		t.Fatalf("error = %v, want mention of the unknown base class", err)
	}
}

func TestResolveUnknownFieldTypeErrors(t *testing.T) {
	src := `
	class M {
		public Ghost g;
	}
	`
	f := parseOK(t, src)
	_, err := Resolve([]*parser.File{f}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown field type")
	}
	if !strings.Contains(err.Error(), "unknown type") {
		t.Fatalf("error = %v, want mention of the unknown type", err)
	}
}

func TestResolveAssignsMemberOffsetsAfterBase(t *testing.T) {
	src := `
	class A {
		public i32 x;
	}
	class B ->inherit[A] {
		public i32 y;
	}
	`
	f := parseOK(t, src)
	prog, err := Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a := prog.Registry.ClassByName("A")
	b := prog.Registry.ClassByName("B")
	if len(b.Members) != 1 {
		t.Fatalf("B.Members = %+v, want 1 own field", b.Members)
	}
	wantOffset := a.Members[0].ByteOffset
	if b.Members[0].ByteOffset <= wantOffset {
		t.Fatalf("B.y offset = %d, want it to start after A's layout (> %d)", b.Members[0].ByteOffset, wantOffset)
	}
}

func TestResolveRegistersFunctionsAndBuildsVTable(t *testing.T) {
	src := `
	class M {
		public i32 f() {
			return 1;
		}
	}
	`
	f := parseOK(t, src)
	prog, err := Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cls := prog.Registry.ClassByName("M")
	ids, ok := cls.Overloads["f"]
	if !ok || len(ids) != 1 {
		t.Fatalf("M.f not registered: %+v", cls.Overloads)
	}
	if cls.FunctionByID(ids[0]) == nil {
		t.Fatal("FunctionByID must resolve the registered overload")
	}
	if cls.VTable == nil {
		t.Fatal("expected a built VTable for a non-template class")
	}
}

func TestResolveInstantiatesTemplateFieldType(t *testing.T) {
	src := `
	class Box ->template[class T] {
		public T value;
	}
	class M {
		public Box<i32> b;
	}
	`
	f := parseOK(t, src)
	prog, err := Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	m := prog.Registry.ClassByName("M")
	if len(m.Members) != 1 {
		t.Fatalf("M.Members = %+v", m.Members)
	}
	inst := m.Members[0].ClassElem
	if inst == nil || !strings.HasPrefix(inst.Name, "Box<") {
		t.Fatalf("M.b's type = %+v, want a Box<...> instantiation", inst)
	}
}
