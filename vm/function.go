package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// CompiledFunction: one function's instruction stream
// ---------------------------------------------------------------------------

// CompiledFunction is an immutable byte buffer holding one compiled
// function's instruction stream. It is created once at module construction
// and never mutated afterwards.
type CompiledFunction struct {
	code []byte
}

// NewCompiledFunction copies code into a new compiled function. The copy
// keeps the function immutable even if the caller reuses its buffer.
func NewCompiledFunction(code []byte) *CompiledFunction {
	buf := make([]byte, len(code))
	copy(buf, code)
	return &CompiledFunction{code: buf}
}

// Code returns the instruction stream. Callers must not modify it.
func (f *CompiledFunction) Code() []byte {
	return f.code
}

// Len returns the length of the instruction stream in bytes.
func (f *CompiledFunction) Len() int {
	return len(f.code)
}

// Disassemble returns a disassembly of the function's bytecode.
func (f *CompiledFunction) Disassemble() string {
	return Disassemble(f.code)
}

// ---------------------------------------------------------------------------
// Module: the ordered function table
// ---------------------------------------------------------------------------

// ErrEmptyModule indicates a module with no functions was supplied.
var ErrEmptyModule = errors.New("module has no functions")

// Module is the ordered table of compiled functions parsed once from a
// supplied bytecode module. Index 0 is the entry function. A Module is
// immutable after construction and may be shared read-only by any number
// of VM instances.
type Module struct {
	funcs []*CompiledFunction
}

// NewModule builds a module from an ordered list of function buffers.
// Buffer 0 is the entry function.
func NewModule(buffers [][]byte) (*Module, error) {
	if len(buffers) == 0 {
		return nil, ErrEmptyModule
	}
	funcs := make([]*CompiledFunction, len(buffers))
	for i, buf := range buffers {
		funcs[i] = NewCompiledFunction(buf)
	}
	return &Module{funcs: funcs}, nil
}

// NumFunctions returns the number of functions in the table.
func (m *Module) NumFunctions() int {
	return len(m.funcs)
}

// Function returns the compiled function at the given table index.
func (m *Module) Function(index int) (*CompiledFunction, error) {
	if index < 0 || index >= len(m.funcs) {
		return nil, fmt.Errorf("%w: index %d (table has %d)", ErrNoSuchFunction, index, len(m.funcs))
	}
	return m.funcs[index], nil
}

// Entry returns the entry function (table index 0).
func (m *Module) Entry() *CompiledFunction {
	return m.funcs[0]
}

// Buffers returns copies of all function instruction streams, in table
// order. Used by the on-disk encoders.
func (m *Module) Buffers() [][]byte {
	out := make([][]byte, len(m.funcs))
	for i, f := range m.funcs {
		buf := make([]byte, len(f.code))
		copy(buf, f.code)
		out[i] = buf
	}
	return out
}
