package bytecode

import "encoding/binary"

// DebugInfo stores the source location an instruction was emitted from,
// for runtime diagnostics (diag.ThalisError.WithStack).
type DebugInfo struct {
	Line     int
	Column   int
	File     string
	Function string
}

// Program is the emitted byte stream (spec §4.G): a single flat
// instruction vector shared by every function — each Function record
// in the semantic registry stores its entry PC into this stream, so
// calls are just PC jumps rather than per-function code objects.
type Program struct {
	Code      []byte
	Constants []interface{}
	Debug     map[int]DebugInfo // sparse: only instruction-start offsets
}

func NewProgram() *Program {
	return &Program{Constants: []interface{}{}, Debug: make(map[int]DebugInfo)}
}

// Pos returns the offset the next write will land at — used to record
// function entry points and jump-patch targets.
func (p *Program) Pos() int { return len(p.Code) }

func (p *Program) Mark(d DebugInfo) { p.Debug[len(p.Code)] = d }

func (p *Program) WriteOp(op OpCode) int {
	pos := len(p.Code)
	p.Code = append(p.Code, byte(op), byte(op>>8))
	return pos
}

func (p *Program) WriteU8(b uint8)   { p.Code = append(p.Code, b) }
func (p *Program) WriteBool(b bool) {
	if b {
		p.WriteU8(1)
	} else {
		p.WriteU8(0)
	}
}

func (p *Program) WriteU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	p.Code = append(p.Code, buf[:]...)
}

func (p *Program) WriteU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	p.Code = append(p.Code, buf[:]...)
}

func (p *Program) WriteU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	p.Code = append(p.Code, buf[:]...)
}

// WriteJumpPlaceholder emits a zero u32 and returns its offset, for a
// later PatchU32 once the jump target is known (spec §4.G).
func (p *Program) WriteJumpPlaceholder() int {
	pos := len(p.Code)
	p.WriteU32(0)
	return pos
}

func (p *Program) PatchU32(pos int, target uint32) {
	binary.LittleEndian.PutUint32(p.Code[pos:pos+4], target)
}

func (p *Program) ReadU8(pc int) uint8    { return p.Code[pc] }
func (p *Program) ReadI8(pc int) int8     { return int8(p.Code[pc]) }
func (p *Program) ReadBool(pc int) bool   { return p.Code[pc] != 0 }
func (p *Program) ReadU16(pc int) uint16 { return binary.LittleEndian.Uint16(p.Code[pc : pc+2]) }
func (p *Program) ReadU32(pc int) uint32 { return binary.LittleEndian.Uint32(p.Code[pc : pc+4]) }
func (p *Program) ReadU64(pc int) uint64 { return binary.LittleEndian.Uint64(p.Code[pc : pc+8]) }
func (p *Program) ReadOp(pc int) OpCode  { return OpCode(p.Code[pc]) | OpCode(p.Code[pc+1])<<8 }

func (p *Program) AddConstant(val interface{}) int {
	p.Constants = append(p.Constants, val)
	return len(p.Constants) - 1
}

func (p *Program) DebugAt(pc int) (DebugInfo, bool) {
	d, ok := p.Debug[pc]
	return d, ok
}
