package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// The instruction set. Operand encodings are little-endian; strings are raw
// bytes terminated by a single 0x00 byte with no embedded NUL support.
const (
	OpLoadString    Opcode = 0x01 // push NUL-terminated string operand
	OpLoadFloat64   Opcode = 0x02 // push 8-byte LE IEEE-754 double operand
	OpLoadBool      Opcode = 0x03 // push boolean (operand byte 0x01 = true, else false)
	OpPop           Opcode = 0x04 // discard top of stack
	OpLoadNull      Opcode = 0x05 // push null
	OpLoadRegex     Opcode = 0x06 // push pattern-with-flags (two NUL-terminated strings)
	OpLoadUndefined Opcode = 0x07 // push undefined
	OpReturn        Opcode = 0x08 // pop frame, pop return value
	OpStoreVar      Opcode = 0x09 // pop top of stack into named variable
	OpLoadVar       Opcode = 0x0A // push named variable (undefined when unbound)
	OpCall          Opcode = 0x0B // push frame for function index (uint16 LE operand)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandShape describes the operand bytes that follow an opcode.
type OperandShape uint8

const (
	OperandNone    OperandShape = iota // no operand bytes
	OperandByte                        // 1 byte
	OperandUint16                      // 2 bytes LE
	OperandFloat64                     // 8 bytes LE
	OperandString                      // one NUL-terminated string
	OperandString2                     // two NUL-terminated strings
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string       // human-readable name
	Operand     OperandShape // shape of the operand bytes
	StackEffect int          // net effect on the evaluation stack
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpLoadString:    {"LOAD_STRING", OperandString, 1},
	OpLoadFloat64:   {"LOAD_FLOAT64", OperandFloat64, 1},
	OpLoadBool:      {"LOAD_BOOL", OperandByte, 1},
	OpPop:           {"POP", OperandNone, -1},
	OpLoadNull:      {"LOAD_NULL", OperandNone, 1},
	OpLoadRegex:     {"LOAD_REGEX", OperandString2, 1},
	OpLoadUndefined: {"LOAD_UNDEFINED", OperandNone, 1},
	OpReturn:        {"RETURN", OperandNone, -1},
	OpStoreVar:      {"STORE_VAR", OperandString, -1},
	OpLoadVar:       {"LOAD_VAR", OperandString, 1},
	OpCall:          {"CALL", OperandUint16, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// IsValid returns true if op is part of the defined instruction set.
func (op Opcode) IsValid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: helper for constructing instruction streams
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct function instruction streams.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends a raw byte to the bytecode.
func (b *BytecodeBuilder) EmitRaw(data byte) {
	b.bytes = append(b.bytes, data)
}

// EmitString appends an opcode with a NUL-terminated string operand.
func (b *BytecodeBuilder) EmitString(op Opcode, s string) {
	b.bytes = append(b.bytes, byte(op))
	b.emitString(s)
}

// EmitFloat64 appends an opcode with an 8-byte LE double operand.
func (b *BytecodeBuilder) EmitFloat64(op Opcode, f float64) {
	b.bytes = append(b.bytes, byte(op))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitBool appends a LOAD_BOOL instruction.
func (b *BytecodeBuilder) EmitBool(v bool) {
	if v {
		b.bytes = append(b.bytes, byte(OpLoadBool), 0x01)
	} else {
		b.bytes = append(b.bytes, byte(OpLoadBool), 0x00)
	}
}

// EmitRegex appends a LOAD_REGEX instruction with pattern and flags operands.
func (b *BytecodeBuilder) EmitRegex(pattern, flags string) {
	b.bytes = append(b.bytes, byte(OpLoadRegex))
	b.emitString(pattern)
	b.emitString(flags)
}

// EmitUint16 appends an opcode with a 16-bit LE operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitCall appends a CALL instruction for the given function table index.
func (b *BytecodeBuilder) EmitCall(functionIndex uint16) {
	b.EmitUint16(OpCall, functionIndex)
}

// emitString appends the raw string bytes followed by the 0x00 terminator.
func (b *BytecodeBuilder) emitString(s string) {
	b.bytes = append(b.bytes, s...)
	b.bytes = append(b.bytes, 0x00)
}

// ---------------------------------------------------------------------------
// BytecodeReader: operand decoder
// ---------------------------------------------------------------------------

// BytecodeReader is a cursor over a function's byte buffer. It decodes
// primitive operand values left-to-right, advancing the position by exactly
// the number of bytes consumed. Fixed-width reads past the end of the buffer
// fail with ErrTruncatedOperand rather than returning zeroed data.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader positioned at the start of bc.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Reset repositions the reader over a (possibly different) buffer.
func (r *BytecodeReader) Reset(bc []byte, pos int) {
	r.bytes = bc
	r.pos = pos
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// truncated builds the error for a fixed-width read of n bytes at the
// current position.
func (r *BytecodeReader) truncated(n int) error {
	return fmt.Errorf("%w: need %d bytes at %d, have %d", ErrTruncatedOperand, n, r.pos, len(r.bytes)-r.pos)
}

// ReadUint8 consumes one byte and returns its unsigned value.
func (r *BytecodeReader) ReadUint8() (uint8, error) {
	if r.pos >= len(r.bytes) {
		return 0, r.truncated(1)
	}
	b := r.bytes[r.pos]
	r.pos++
	return b, nil
}

// ReadUint16 consumes two bytes, little-endian.
func (r *BytecodeReader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.bytes) {
		return 0, r.truncated(2)
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 consumes four bytes, little-endian.
func (r *BytecodeReader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.bytes) {
		return 0, r.truncated(4)
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadFloat64 consumes eight bytes, little-endian, reinterpreted as an
// IEEE-754 double.
func (r *BytecodeReader) ReadFloat64() (float64, error) {
	if r.pos+8 > len(r.bytes) {
		return 0, r.truncated(8)
	}
	bits := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// ReadString consumes bytes until a 0x00 terminator or the end of the
// buffer. The terminator is skipped but never included in the result.
// End-of-buffer is a valid terminator, so ReadString cannot fail.
func (r *BytecodeReader) ReadString() string {
	start := r.pos
	for r.pos < len(r.bytes) && r.bytes[r.pos] != 0x00 {
		r.pos++
	}
	s := string(r.bytes[start:r.pos])
	if r.pos < len(r.bytes) {
		r.pos++ // skip the terminator
	}
	return s
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position. Returns the string representation and advances the reader past
// the instruction.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	opByte, err := r.ReadUint8()
	if err != nil {
		return fmt.Sprintf("%04d  <end>", pos)
	}
	op := Opcode(opByte)
	info := op.Info()

	// A truncated fixed-width operand consumes the rest of the buffer so
	// the disassembly loop always terminates.
	switch info.Operand {
	case OperandNone:
		return fmt.Sprintf("%04d  %s", pos, info.Name)

	case OperandByte:
		b, err := r.ReadUint8()
		if err != nil {
			r.Seek(len(r.bytes))
			return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
		}
		return fmt.Sprintf("%04d  %s 0x%02X", pos, info.Name, b)

	case OperandUint16:
		v, err := r.ReadUint16()
		if err != nil {
			r.Seek(len(r.bytes))
			return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
		}
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, v)

	case OperandFloat64:
		f, err := r.ReadFloat64()
		if err != nil {
			r.Seek(len(r.bytes))
			return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
		}
		return fmt.Sprintf("%04d  %s %g", pos, info.Name, f)

	case OperandString:
		s := r.ReadString()
		return fmt.Sprintf("%04d  %s %q", pos, info.Name, s)

	case OperandString2:
		pattern := r.ReadString()
		flags := r.ReadString()
		return fmt.Sprintf("%04d  %s /%s/%s", pos, info.Name, pattern, flags)

	default:
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble returns a full disassembly of a function's bytecode, one
// instruction per line.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r))
	}
	return sb.String()
}
