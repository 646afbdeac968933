package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Fault taxonomy
// ---------------------------------------------------------------------------

// Fault classes. Every terminal execution error wraps one of these, so hosts
// can classify faults with errors.Is. None of them are recoverable: a fault
// always ends the run.
var (
	// ErrUnknownOpcode is the class for opcode bytes outside the defined set.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrStackUnderflow is the class for pop/peek on an empty evaluation
	// stack. Treated as a defect in the supplied bytecode.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrTruncatedOperand is the class for fixed-width operand reads that
	// run past the end of the current function's buffer.
	ErrTruncatedOperand = errors.New("truncated operand")

	// ErrInvalidPatternFlags is the class for regex flags strings that fail
	// validation.
	ErrInvalidPatternFlags = errors.New("invalid pattern flags")

	// ErrNoSuchFunction is the class for CALL indices outside the function
	// table.
	ErrNoSuchFunction = errors.New("no such function")

	// ErrStepLimit is the class for runs that exceed the configured step
	// budget.
	ErrStepLimit = errors.New("step limit exceeded")
)

// Fault is a structured terminal execution error. It records where execution
// stopped: the function table index, the instruction pointer at the opcode
// byte, and the opcode being executed.
type Fault struct {
	Function int    // function table index
	Pos      int    // instruction pointer at the opcode byte
	Op       Opcode // offending opcode byte
	Err      error  // underlying fault, wrapping one of the Err* classes
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("fault in function %d at %04d (%s): %v", f.Function, f.Pos, f.Op.Name(), f.Err)
}

// Unwrap returns the underlying fault class for errors.Is/errors.As.
func (f *Fault) Unwrap() error {
	return f.Err
}
