package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// CallFrame: execution state for one invocation
// ---------------------------------------------------------------------------

// CallFrame is the bookkeeping for one active invocation: which function it
// executes and its own resume position within that function's buffer. Every
// call transition saves the caller's position here and RETURN restores it,
// so there is no shared global cursor.
type CallFrame struct {
	Function int // function table index
	IP       int // instruction pointer within that function's buffer
}

// ---------------------------------------------------------------------------
// VM: the fetch-decode-execute engine
// ---------------------------------------------------------------------------

// VM executes one compiled module. The evaluation stack, call stack, and
// variable table are exclusively owned by the instance; the module itself is
// read-only and may be shared across any number of VMs. Execution is
// strictly single-threaded and synchronous.
type VM struct {
	module *Module

	stack []Value // evaluation stack, shared across all frames
	sp    int     // stack pointer (next free slot)

	frames []*CallFrame // call stack
	fp     int          // frame pointer (current frame index)

	vars map[string]Value // named variables (STORE_VAR / LOAD_VAR)

	tracer    Tracer // instruction observer, nil means no-op
	stepLimit int    // 0 means unlimited
}

// New creates a VM for the given module. The module's function at index 0
// is the entry function.
func New(module *Module) *VM {
	return &VM{
		module: module,
		stack:  make([]Value, 64),
		sp:     0,
		frames: make([]*CallFrame, 0, 8),
		fp:     -1,
		vars:   make(map[string]Value),
	}
}

// SetTracer installs an instruction observer. Passing nil restores the
// default no-op behavior.
func (vm *VM) SetTracer(t Tracer) {
	vm.tracer = t
}

// SetStepLimit bounds the number of instructions a run may execute.
// Exceeding the budget faults with ErrStepLimit. Zero (the default)
// means unlimited.
func (vm *VM) SetStepLimit(n int) {
	vm.stepLimit = n
}

// Module returns the module this VM executes.
func (vm *VM) Module() *Module {
	return vm.module
}

// ---------------------------------------------------------------------------
// Evaluation stack
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	if vm.sp >= len(vm.stack) {
		grown := make([]Value, len(vm.stack)*2)
		copy(grown, vm.stack)
		vm.stack = grown
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() (Value, error) {
	if vm.sp <= 0 {
		return Undefined, ErrStackUnderflow
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

// Peek returns the top of the evaluation stack without removing it.
func (vm *VM) Peek() (Value, error) {
	if vm.sp <= 0 {
		return Undefined, ErrStackUnderflow
	}
	return vm.stack[vm.sp-1], nil
}

// StackDepth returns the number of values on the evaluation stack.
func (vm *VM) StackDepth() int {
	return vm.sp
}

// Var returns the value bound to a named variable, if any.
func (vm *VM) Var(name string) (Value, bool) {
	v, ok := vm.vars[name]
	return v, ok
}

// ---------------------------------------------------------------------------
// Call stack
// ---------------------------------------------------------------------------

func (vm *VM) pushFrame(function int) {
	vm.frames = append(vm.frames, &CallFrame{Function: function, IP: 0})
	vm.fp = len(vm.frames) - 1
}

// returnValue pops the current frame and hands v to the caller. When the
// popped frame was the last one the run is over: the value is yielded as
// the result and is not pushed back onto the stack.
func (vm *VM) returnValue(v Value) (Value, bool) {
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.fp--
	if vm.fp < 0 {
		return v, true
	}
	vm.push(v)
	return Undefined, false
}

func (vm *VM) fault(frame *CallFrame, pos int, op Opcode, err error) error {
	return &Fault{Function: frame.Function, Pos: pos, Op: op, Err: err}
}

func (vm *VM) trace(pos int, op Opcode) {
	if vm.tracer == nil {
		return
	}
	top := Undefined
	if vm.sp > 0 {
		top = vm.stack[vm.sp-1]
	}
	vm.tracer.Trace(pos, op, top)
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// Run executes the module from its entry function and returns the value
// popped by the terminating RETURN. A frame that runs off the end of its
// buffer without RETURN returns undefined implicitly. On a fault the error
// is a *Fault wrapping one of the Err* classes; a fault always ends the
// run with no partial result. Run resets all execution state, so the same
// VM may run its module repeatedly.
func (vm *VM) Run() (Value, error) {
	vm.sp = 0
	vm.frames = vm.frames[:0]
	vm.fp = -1
	vm.vars = make(map[string]Value)
	vm.pushFrame(0)

	r := NewBytecodeReader(nil)
	steps := 0

	for vm.fp >= 0 {
		frame := vm.frames[vm.fp]
		fn, err := vm.module.Function(frame.Function)
		if err != nil {
			return Undefined, vm.fault(frame, frame.IP, 0, err)
		}
		code := fn.Code()

		if frame.IP >= len(code) {
			// Ran off the end of the buffer: implicit undefined return.
			if result, done := vm.returnValue(Undefined); done {
				return result, nil
			}
			continue
		}

		pos := frame.IP
		op := Opcode(code[pos])

		if vm.stepLimit > 0 {
			steps++
			if steps > vm.stepLimit {
				return Undefined, vm.fault(frame, pos, op, fmt.Errorf("%w: budget %d", ErrStepLimit, vm.stepLimit))
			}
		}

		r.Reset(code, pos+1)

		switch op {
		case OpLoadString:
			vm.push(FromString(r.ReadString()))

		case OpLoadFloat64:
			f, err := r.ReadFloat64()
			if err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}
			vm.push(FromFloat64(f))

		case OpLoadBool:
			b, err := r.ReadUint8()
			if err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}
			vm.push(FromBool(b == 0x01))

		case OpPop:
			if _, err := vm.pop(); err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}

		case OpLoadNull:
			vm.push(Null)

		case OpLoadRegex:
			pattern := r.ReadString()
			flags := r.ReadString()
			v, err := NewRegex(pattern, flags)
			if err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}
			vm.push(v)

		case OpLoadUndefined:
			vm.push(Undefined)

		case OpReturn:
			v, err := vm.pop()
			if err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}
			if result, done := vm.returnValue(v); done {
				vm.trace(pos, op)
				return result, nil
			}

		case OpStoreVar:
			name := r.ReadString()
			v, err := vm.pop()
			if err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}
			vm.vars[name] = v

		case OpLoadVar:
			name := r.ReadString()
			v, ok := vm.vars[name]
			if !ok {
				v = Undefined
			}
			vm.push(v)

		case OpCall:
			idx, err := r.ReadUint16()
			if err != nil {
				return Undefined, vm.fault(frame, pos, op, err)
			}
			// Save the caller's resume position before transferring control.
			frame.IP = r.Position()
			if int(idx) >= vm.module.NumFunctions() {
				return Undefined, vm.fault(frame, pos, op,
					fmt.Errorf("%w: index %d (table has %d)", ErrNoSuchFunction, idx, vm.module.NumFunctions()))
			}
			vm.pushFrame(int(idx))
			vm.trace(pos, op)
			continue

		default:
			return Undefined, vm.fault(frame, pos, op,
				fmt.Errorf("%w: byte 0x%02X", ErrUnknownOpcode, byte(op)))
		}

		frame.IP = r.Position()
		vm.trace(pos, op)
	}

	// The loop only exits through returnValue, which reports completion
	// before the frame stack empties.
	return Undefined, nil
}
