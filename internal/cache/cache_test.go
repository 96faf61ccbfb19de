package cache

import (
	"testing"

	"thalis/internal/compiler"
	"thalis/internal/parser"
	"thalis/internal/resolve"
)

func buildEntry(t *testing.T, src string) Entry {
	t.Helper()
	f, errs := parser.ParseFile("test.tls", src)
	if len(errs) != 0 {
		t.Fatalf("parse: %v", errs)
	}
	prog, err := resolve.Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	bc, err := compiler.Compile(prog)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return Entry{Registry: prog.Registry, Program: bc}
}

func TestSourceHashIsOrderIndependent(t *testing.T) {
	a := map[string]string{"x.tls": "class X {}", "y.tls": "class Y {}"}
	b := map[string]string{"y.tls": "class Y {}", "x.tls": "class X {}"}
	if SourceHash("entry.tls", a) != SourceHash("entry.tls", b) {
		t.Fatal("hash must not depend on map iteration order")
	}
}

func TestSourceHashChangesWithContent(t *testing.T) {
	h1 := SourceHash("e.tls", map[string]string{"e.tls": "class M {}"})
	h2 := SourceHash("e.tls", map[string]string{"e.tls": "class M { i32 x; }"})
	if h1 == h2 {
		t.Fatal("different source bytes must hash differently")
	}
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entry := buildEntry(t, `
class M {
	static i32 fib(i32 n) {
		if (n < 2) { return n; }
		return fib(n-1) + fib(n-2);
	}
}`)
	hash := SourceHash("m.tls", map[string]string{"m.tls": "..."})
	if err := s.Store(hash, "m.tls", entry); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Load(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}

	cls := got.Registry.ClassByName("M")
	if cls == nil {
		t.Fatal("class M missing after round trip")
	}
	fn := cls.FunctionByID(cls.Overloads["fib"][0])
	if fn == nil || fn.Name != "fib" {
		t.Fatalf("function fib missing after round trip: %+v", fn)
	}
	if fn.Body == nil {
		t.Fatal("rehydrated function must carry a non-nil sentinel Body")
	}
	if len(got.Program.Code) != len(entry.Program.Code) {
		t.Fatalf("code length = %d, want %d", len(got.Program.Code), len(entry.Program.Code))
	}
}

func TestLoadMissReturnsFalse(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, ok, err := s.Load("does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a clean miss")
	}
}
