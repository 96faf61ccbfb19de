package parser

import "testing"

func parseOK(t *testing.T, src string) *File {
	t.Helper()
	f, errs := ParseFile("test.tls", src)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors for %q: %v", src, errs)
	}
	return f
}

func TestParseEmptyClass(t *testing.T) {
	f := parseOK(t, `class M { }`)
	if len(f.Classes) != 1 || f.Classes[0].Name != "M" {
		t.Fatalf("got %+v", f.Classes)
	}
}

func TestParseImportModuleAndFile(t *testing.T) {
	f := parseOK(t, `Import IO; Import "other.tls"; class M {}`)
	if len(f.Imports) != 2 {
		t.Fatalf("got %d imports, want 2", len(f.Imports))
	}
	if f.Imports[0].ModuleName != "IO" {
		t.Errorf("module import: got %+v", f.Imports[0])
	}
	if f.Imports[1].Path != "other.tls" {
		t.Errorf("file import: got %+v", f.Imports[1])
	}
}

func TestParseFieldsAndFunctions(t *testing.T) {
	src := `
class M {
	private i32 count = 0;
	static i32 fib(i32 n) {
		if (n < 2) { return n; }
		return fib(n-1) + fib(n-2);
	}
}`
	f := parseOK(t, src)
	cls := f.Classes[0]
	if len(cls.Fields) != 1 || cls.Fields[0].Name != "count" {
		t.Fatalf("fields = %+v", cls.Fields)
	}
	if len(cls.Functions) != 1 || cls.Functions[0].Name != "fib" {
		t.Fatalf("functions = %+v", cls.Functions)
	}
	fn := cls.Functions[0]
	if !fn.Static {
		t.Error("fib should be parsed as static")
	}
	if len(fn.Params) != 1 || fn.Params[0].Name != "n" {
		t.Fatalf("params = %+v", fn.Params)
	}
}

func TestParseInheritAndTemplate(t *testing.T) {
	f := parseOK(t, `
class A { virtual i32 f() { return 1; } }
class B -> inherit[A] { virtual i32 f() { return 2; } }
class Vec -> template[class T] { T items[8]; }
`)
	if len(f.Classes) != 3 {
		t.Fatalf("got %d classes", len(f.Classes))
	}
	if f.Classes[1].Inherits != "A" {
		t.Errorf("B.Inherits = %q, want A", f.Classes[1].Inherits)
	}
	if len(f.Classes[2].TemplateParams) != 1 || f.Classes[2].TemplateParams[0].Name != "T" {
		t.Fatalf("Vec template params = %+v", f.Classes[2].TemplateParams)
	}
}

func TestParseBinaryPrecedence(t *testing.T) {
	// 1 + 2 * 3 must bind as 1 + (2 * 3), not (1 + 2) * 3.
	src := `class M { static i32 f() { return 1 + 2 * 3; } }`
	f := parseOK(t, src)
	body := f.Classes[0].Functions[0].Body
	if len(body.Stmts) != 1 {
		t.Fatalf("body = %+v", body.Stmts)
	}
	ret, ok := body.Stmts[0].(*Return)
	if !ok {
		t.Fatalf("stmt = %T, want *Return", body.Stmts[0])
	}
	bin, ok := ret.X.(*Binary)
	if !ok {
		t.Fatalf("value = %T, want *Binary", ret.X)
	}
	if bin.Op != BinAdd {
		t.Fatalf("outermost op = %q, want +", bin.Op)
	}
	rhs, ok := bin.R.(*Binary)
	if !ok || rhs.Op != BinMul {
		t.Fatalf("rhs = %+v, want a * binary", bin.R)
	}
}

func TestParseForAndWhileAndBreakContinue(t *testing.T) {
	src := `
class M {
	static void f() {
		for (i32 i = 0; i < 10; i = i + 1) {
			if (i == 5) { break; }
			if (i == 2) { continue; }
		}
		while (true) { break; }
	}
}`
	parseOK(t, src)
}

func TestParseArrayLiteralAndIndex(t *testing.T) {
	src := `class M { static void f() { i32 xs[3] = {10, 20, 30}; xs[2] = 5; } }`
	parseOK(t, src)
}

func TestParseNewDeleteAndPointerOps(t *testing.T) {
	src := `
class A { virtual i32 f() { return 1; } }
class M {
	static void f() {
		A* a = new A();
		delete a;
	}
}`
	parseOK(t, src)
}

func TestParseSizeofStrlenOffsetof(t *testing.T) {
	src := `
class A { i32 x; }
class M { static void f() { i32 s = sizeof(A); i32 o = offsetof(A.x); } }`
	parseOK(t, src)
}

func TestParseRecoversFromBadStatement(t *testing.T) {
	_, errs := ParseFile("test.tls", `class M { static void f() { @@@ ; return; } }`)
	if len(errs) == 0 {
		t.Fatal("expected at least one parse error")
	}
}

func TestParseClassTwoPassAllowsForwardReference(t *testing.T) {
	// pass 1 fixes field layout before pass 2 parses bodies, so a
	// method may reference a field declared later in the same class.
	src := `
class M {
	i32 g() { return x; }
	i32 x = 0;
	static i32 f() { return g(); }
}`
	parseOK(t, src)
}
