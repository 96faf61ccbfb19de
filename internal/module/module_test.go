package module

import (
	"math"
	"testing"

	"thalis/internal/memory"
	"thalis/internal/types"
)

func TestRegistryRegistersAllSevenBuiltinModules(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"IO", "Math", "FS", "Mem", "Window", "GL", "Time"} {
		if _, ok := r.NameToID(name); !ok {
			t.Errorf("module %q not registered", name)
		}
	}
}

func TestMathSqrtDispatch(t *testing.T) {
	b := memory.NewBump()
	r := NewRegistry()
	modID, _ := r.NameToID("Math")
	fnID, ok := r.ByID(modID).FunctionID("Sqrt")
	if !ok {
		t.Fatal("Math.Sqrt not registered")
	}
	out, err := r.Call(b, modID, fnID, []types.Value{types.NewF64(b, 16)})
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsF64(types.KF64, out.Cell.Bits); got != 4 {
		t.Fatalf("Sqrt(16) = %v, want 4", got)
	}
}

func TestMathConstantPI(t *testing.T) {
	b := memory.NewBump()
	r := NewRegistry()
	modID, _ := r.NameToID("Math")
	kID, ok := r.ByID(modID).ConstantID("PI")
	if !ok {
		t.Fatal("Math.PI not registered")
	}
	out, err := r.Constant(b, modID, kID)
	if err != nil {
		t.Fatal(err)
	}
	if got := types.ReadAsF64(types.KF64, out.Cell.Bits); math.Abs(got-math.Pi) > 1e-12 {
		t.Fatalf("PI = %v", got)
	}
}

func TestCallUnknownModuleErrors(t *testing.T) {
	b := memory.NewBump()
	r := NewRegistry()
	if _, err := r.Call(b, 999, 0, nil); err == nil {
		t.Fatal("expected an error for an unknown module id")
	}
}

func TestCallUnknownFunctionErrors(t *testing.T) {
	b := memory.NewBump()
	r := NewRegistry()
	modID, _ := r.NameToID("IO")
	if _, err := r.Call(b, modID, 9999, nil); err == nil {
		t.Fatal("expected an error for an unknown function id")
	}
}

func TestMemAllocReturnsRequestedLength(t *testing.T) {
	b := memory.NewBump()
	r := NewRegistry()
	modID, _ := r.NameToID("Mem")
	fnID, _ := r.ByID(modID).FunctionID("Alloc")
	out, err := r.Call(b, modID, fnID, []types.Value{types.NewI64(b, 4)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Cell.ArrBase == nil || len(out.Cell.ArrBase.Elems) != 4 {
		t.Fatalf("Alloc(4) did not produce a 4-element byte array: %+v", out.Cell)
	}
}

func TestReturnTypeAndConstantTypeQueries(t *testing.T) {
	r := NewRegistry()
	modID, _ := r.NameToID("Math")
	fnID, _ := r.ByID(modID).FunctionID("Sqrt")
	if rt := r.ReturnType(modID, fnID); rt.ID.Kind() != types.KF64 {
		t.Fatalf("Sqrt return type = %v, want f64", rt.ID.Kind())
	}
	kID, _ := r.ByID(modID).ConstantID("PI")
	if ct := r.ConstantType(modID, kID); ct.ID.Kind() != types.KF64 {
		t.Fatalf("PI constant type = %v, want f64", ct.ID.Kind())
	}
}
