package bytecode

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	p := NewProgram()
	opPos := p.WriteOp(OpAdd)
	p.WriteU8(7)
	p.WriteU16(1234)
	p.WriteU32(987654)
	p.WriteU64(123456789012)
	p.WriteBool(true)

	if got := p.ReadOp(opPos); got != OpAdd {
		t.Fatalf("ReadOp = %v, want OpAdd", got)
	}
	pc := opPos + 2
	if got := p.ReadU8(pc); got != 7 {
		t.Fatalf("ReadU8 = %d, want 7", got)
	}
	pc++
	if got := p.ReadU16(pc); got != 1234 {
		t.Fatalf("ReadU16 = %d, want 1234", got)
	}
	pc += 2
	if got := p.ReadU32(pc); got != 987654 {
		t.Fatalf("ReadU32 = %d, want 987654", got)
	}
	pc += 4
	if got := p.ReadU64(pc); got != 123456789012 {
		t.Fatalf("ReadU64 = %d, want 123456789012", got)
	}
	pc += 8
	if got := p.ReadBool(pc); !got {
		t.Fatal("ReadBool = false, want true")
	}
}

func TestJumpPlaceholderPatch(t *testing.T) {
	p := NewProgram()
	p.WriteOp(OpJump)
	pos := p.WriteJumpPlaceholder()
	p.WriteOp(OpPop)
	target := uint32(p.Pos())
	p.PatchU32(pos, target)
	if got := p.ReadU32(pos); got != target {
		t.Fatalf("patched jump = %d, want %d", got, target)
	}
}

func TestAddConstantReturnsStableIndex(t *testing.T) {
	p := NewProgram()
	i0 := p.AddConstant("hello")
	i1 := p.AddConstant("world")
	if i0 != 0 || i1 != 1 {
		t.Fatalf("indices = %d,%d want 0,1", i0, i1)
	}
	if p.Constants[i0] != "hello" || p.Constants[i1] != "world" {
		t.Fatalf("constants = %v", p.Constants)
	}
}

func TestDebugAtMissReturnsFalse(t *testing.T) {
	p := NewProgram()
	if _, ok := p.DebugAt(42); ok {
		t.Fatal("expected no debug info at an unmarked offset")
	}
	p.Mark(DebugInfo{Line: 5, File: "m.tls"})
	if d, ok := p.DebugAt(0); !ok || d.Line != 5 {
		t.Fatalf("DebugAt(0) = %+v, %v", d, ok)
	}
}
