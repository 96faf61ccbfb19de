package compiler_test

import (
	"testing"

	"thalis/internal/compiler"
	"thalis/internal/parser"
	"thalis/internal/resolve"
	"thalis/internal/types"
	"thalis/internal/vm"
)

func build(t *testing.T, src string) (*resolve.Program, *vm.VM) {
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
	return prog, vm.New(prog, bc)
}

func TestCompileIfTakesBothBranches(t *testing.T) {
	_, m := build(t, `
	class M {
		static i32 f(i32 n) {
			if (n < 2) {
				return n;
			}
			return n * 10;
		}
	}`)
	for _, c := range []struct{ n, want int64 }{{1, 1}, {5, 50}} {
		out, err := m.RunFunction("M", "f", []types.Value{types.NewI64(m.Bump, c.n)})
		if err != nil {
			t.Fatalf("f(%d): %v", c.n, err)
		}
		if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != c.want {
			t.Fatalf("f(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestCompileWhileLoopsUntilConditionFalse(t *testing.T) {
	_, m := build(t, `
	class M {
		static i32 f() {
			i32 i = 0;
			while (i < 10) {
				i = i + 1;
			}
			return i;
		}
	}`)
	out, err := m.RunFunction("M", "f", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 10 {
		t.Fatalf("f() = %d, want 10", got)
	}
}

func TestCompileForLoopRunsPostExpressionEachIteration(t *testing.T) {
	_, m := build(t, `
	class M {
		static i32 f() {
			i32 sum = 0;
			for (i32 i = 0; i < 5; i = i + 1) {
				sum = sum + i;
			}
			return sum;
		}
	}`)
	out, err := m.RunFunction("M", "f", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 10 {
		t.Fatalf("f() = %d, want 10 (0+1+2+3+4)", got)
	}
}

func TestCompileEmitsStaticInitForInitializedStatics(t *testing.T) {
	prog, _ := build(t, `
	class M {
		static i32 count = 7;
	}`)
	cls := prog.Registry.ClassByName("M")
	if cls.StaticInitFn == nil {
		t.Fatal("expected a synthesized static-init function for an initialized static field")
	}
}

func TestCompileSkipsStaticInitWhenNoStaticHasAnInitializer(t *testing.T) {
	prog, _ := build(t, `
	class M {
		static i32 count;
	}`)
	cls := prog.Registry.ClassByName("M")
	if cls.StaticInitFn != nil {
		t.Fatal("expected no static-init function when no static field has an initializer")
	}
}

func TestCompileSkipsUninstantiatedTemplateDefinitions(t *testing.T) {
	prog, _ := build(t, `
	class Box ->template[class T] {
		public T value;
	}
	class M {
		static i32 f() {
			return 1;
		}
	}`)
	box := prog.Registry.ClassByName("Box")
	if box.TemplateDef == nil {
		t.Fatal("expected Box to remain an uninstantiated template definition")
	}
	if box.Functions != nil {
		for _, fn := range box.Functions {
			if fn.PC != 0 {
				t.Fatalf("expected the uninstantiated template's functions to have no compiled entry point, got PC=%d", fn.PC)
			}
		}
	}
}

func TestCompileBreakAndContinueInsideLoop(t *testing.T) {
	_, m := build(t, `
	class M {
		static i32 f() {
			i32 sum = 0;
			i32 i = 0;
			while (i < 10) {
				i = i + 1;
				if (i == 5) { continue; }
				if (i == 8) { break; }
				sum = sum + i;
			}
			return sum;
		}
	}`)
	out, err := m.RunFunction("M", "f", nil)
	if err != nil {
		t.Fatal(err)
	}
	// 1+2+3+4+6+7 = 23 (5 skipped via continue, loop stops at 8 via break)
	if got := types.ReadAsI64(out.Type.ID.Kind(), out.Cell.Bits); got != 23 {
		t.Fatalf("f() = %d, want 23", got)
	}
}
