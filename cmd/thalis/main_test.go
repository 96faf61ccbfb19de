package main

import (
	"strings"
	"testing"

	"thalis/internal/parser"
	"thalis/internal/resolve"
)

func regFrom(t *testing.T, src string) *resolve.Program {
	t.Helper()
	f, errs := parser.ParseFile("test.tls", src)
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	prog, err := resolve.Resolve([]*parser.File{f}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return prog
}

func TestFindMainClassLocatesTheDeclaringClass(t *testing.T) {
	prog := regFrom(t, `
	class App {
		static void Main() {}
	}`)
	name, err := findMainClass(prog.Registry)
	if err != nil {
		t.Fatal(err)
	}
	if name != "App" {
		t.Fatalf("findMainClass = %q, want App", name)
	}
}

func TestFindMainClassErrorsWhenAbsent(t *testing.T) {
	prog := regFrom(t, `
	class App {
		static i32 helper() { return 0; }
	}`)
	if _, err := findMainClass(prog.Registry); err == nil {
		t.Fatal("expected an error when no class declares Main()")
	}
}

func TestFindMainClassErrorsOnAmbiguity(t *testing.T) {
	prog := regFrom(t, `
	class A {
		static void Main() {}
	}
	class B {
		static void Main() {}
	}`)
	_, err := findMainClass(prog.Registry)
	if err == nil {
		t.Fatal("expected an error when multiple classes declare Main()")
	}
	if !strings.Contains(err.Error(), "multiple classes declare") {
		t.Fatalf("error = %v, want mention of the ambiguity", err)
	}
}

func TestFindMainClassIgnoresInstanceMainAndParameterizedMain(t *testing.T) {
	prog := regFrom(t, `
	class App {
		void Main() {}
		static i32 Main(i32 code) { return code; }
	}`)
	if _, err := findMainClass(prog.Registry); err == nil {
		t.Fatal("expected an error: no zero-arg static Main() is declared")
	}
}
