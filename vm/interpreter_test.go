package vm

import (
	"errors"
	"math"
	"testing"
)

// singleFunction builds a one-function module from raw bytecode.
func singleFunction(t *testing.T, code []byte) *Module {
	t.Helper()
	m, err := NewModule([][]byte{code})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Load opcodes: push then peek yields the decoded value
// ---------------------------------------------------------------------------

func TestRunLoadString(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitString(OpLoadString, "hello")
	b.Emit(OpReturn)

	result, err := New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsString() || result.Str() != "hello" {
		t.Errorf("result = %v, want \"hello\"", result)
	}
}

func TestRunLoadEmptyString(t *testing.T) {
	// [0x01, 0x00] pushes "".
	m := singleFunction(t, []byte{0x01, 0x00})
	v := New(m)
	if _, err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top, err := v.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !top.IsString() || top.Str() != "" {
		t.Errorf("top = %v, want empty string", top)
	}
}

func TestRunLoadFloat64(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitFloat64(OpLoadFloat64, 3.14)
	b.Emit(OpReturn)

	result, err := New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsFloat() || result.Float64() != 3.14 {
		t.Errorf("result = %v, want 3.14", result)
	}
}

func TestRunLoadFloat64BitExact(t *testing.T) {
	values := []float64{
		math.Copysign(0, -1),
		math.NaN(),
		math.SmallestNonzeroFloat64,
		math.MaxFloat64,
	}
	for _, want := range values {
		b := NewBytecodeBuilder()
		b.EmitFloat64(OpLoadFloat64, want)
		b.Emit(OpReturn)

		result, err := New(singleFunction(t, b.Bytes())).Run()
		if err != nil {
			t.Fatalf("Run(%v): %v", want, err)
		}
		if math.Float64bits(result.Float64()) != math.Float64bits(want) {
			t.Errorf("bits = %#x, want %#x", math.Float64bits(result.Float64()), math.Float64bits(want))
		}
	}
}

func TestRunLoadBool(t *testing.T) {
	// 0x01 is true; every other operand byte is false.
	tests := []struct {
		operand byte
		want    Value
	}{
		{0x01, True},
		{0x00, False},
		{0xFF, False},
		{0x02, False},
	}
	for _, tt := range tests {
		m := singleFunction(t, []byte{byte(OpLoadBool), tt.operand, byte(OpReturn)})
		result, err := New(m).Run()
		if err != nil {
			t.Fatalf("Run(%#x): %v", tt.operand, err)
		}
		if result != tt.want {
			t.Errorf("operand %#x: result = %v, want %v", tt.operand, result, tt.want)
		}
	}
}

func TestRunLoadNullAndUndefined(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpLoadNull)
	b.Emit(OpReturn)
	result, err := New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != Null {
		t.Errorf("result = %v, want null", result)
	}

	b = NewBytecodeBuilder()
	b.Emit(OpLoadUndefined)
	b.Emit(OpReturn)
	result, err = New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != Undefined {
		t.Errorf("result = %v, want undefined", result)
	}
}

func TestRunLoadRegex(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitRegex("a[bc]+", "gi")
	b.Emit(OpReturn)

	result, err := New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsRegex() {
		t.Fatalf("result = %v, want regex", result)
	}
	if result.Pattern() != "a[bc]+" || result.Flags() != "gi" {
		t.Errorf("regex = /%s/%s, want /a[bc]+/gi", result.Pattern(), result.Flags())
	}
}

// ---------------------------------------------------------------------------
// POP and implicit termination
// ---------------------------------------------------------------------------

func TestRunNullPopEndsClean(t *testing.T) {
	// [LOAD_NULL, POP] ends with an empty stack and no fault.
	v := New(singleFunction(t, []byte{0x05, 0x04}))
	result, err := v.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.StackDepth() != 0 {
		t.Errorf("stack depth = %d, want 0", v.StackDepth())
	}
	// Falling off the end of the entry buffer returns undefined implicitly.
	if result != Undefined {
		t.Errorf("result = %v, want undefined", result)
	}
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestRunUnknownOpcode(t *testing.T) {
	m := singleFunction(t, []byte{0x05, 0xFF})
	_, err := New(m).Run()
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("err is not a *Fault: %v", err)
	}
	if fault.Pos != 1 {
		t.Errorf("fault position = %d, want 1", fault.Pos)
	}
	if byte(fault.Op) != 0xFF {
		t.Errorf("fault opcode = %#x, want 0xFF", byte(fault.Op))
	}
}

func TestRunReturnOnEmptyStack(t *testing.T) {
	m := singleFunction(t, []byte{byte(OpReturn)})
	_, err := New(m).Run()
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("err = %v, want ErrStackUnderflow", err)
	}
}

func TestRunPopOnEmptyStack(t *testing.T) {
	m := singleFunction(t, []byte{byte(OpPop)})
	_, err := New(m).Run()
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("err = %v, want ErrStackUnderflow", err)
	}
}

func TestRunTruncatedFloatOperand(t *testing.T) {
	m := singleFunction(t, []byte{byte(OpLoadFloat64), 0x01, 0x02})
	_, err := New(m).Run()
	if !errors.Is(err, ErrTruncatedOperand) {
		t.Fatalf("err = %v, want ErrTruncatedOperand", err)
	}
}

func TestRunTruncatedBoolOperand(t *testing.T) {
	m := singleFunction(t, []byte{byte(OpLoadBool)})
	_, err := New(m).Run()
	if !errors.Is(err, ErrTruncatedOperand) {
		t.Fatalf("err = %v, want ErrTruncatedOperand", err)
	}
}

func TestRunInvalidRegexFlags(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpLoadRegex)
	b.EmitRaw('a')
	b.EmitRaw(0x00)
	b.EmitRaw('z') // not a valid flag
	b.EmitRaw(0x00)

	_, err := New(singleFunction(t, b.Bytes())).Run()
	if !errors.Is(err, ErrInvalidPatternFlags) {
		t.Fatalf("err = %v, want ErrInvalidPatternFlags", err)
	}
}

func TestRunStepLimit(t *testing.T) {
	// A long run of LOAD_NULL/POP pairs trips a small budget.
	b := NewBytecodeBuilder()
	for i := 0; i < 100; i++ {
		b.Emit(OpLoadNull)
		b.Emit(OpPop)
	}
	v := New(singleFunction(t, b.Bytes()))
	v.SetStepLimit(10)
	_, err := v.Run()
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func TestRunStoreAndLoadVar(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitFloat64(OpLoadFloat64, 42)
	b.EmitString(OpStoreVar, "x")
	b.EmitString(OpLoadVar, "x")
	b.Emit(OpReturn)

	result, err := New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsFloat() || result.Float64() != 42 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestRunStoreVarPopsValue(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitString(OpLoadString, "bound")
	b.EmitString(OpStoreVar, "name")

	v := New(singleFunction(t, b.Bytes()))
	if _, err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.StackDepth() != 0 {
		t.Errorf("stack depth = %d, want 0 (STORE_VAR pops)", v.StackDepth())
	}
	bound, ok := v.Var("name")
	if !ok || bound.Str() != "bound" {
		t.Errorf("Var(name) = %v, %v", bound, ok)
	}
}

func TestRunLoadUnboundVar(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitString(OpLoadVar, "missing")
	b.Emit(OpReturn)

	result, err := New(singleFunction(t, b.Bytes())).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != Undefined {
		t.Errorf("result = %v, want undefined", result)
	}
}

func TestRunStoreVarOnEmptyStack(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitString(OpStoreVar, "x")
	_, err := New(singleFunction(t, b.Bytes())).Run()
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("err = %v, want ErrStackUnderflow", err)
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestRunCallAndReturn(t *testing.T) {
	// Function 1 returns 7; the entry calls it, stores the result, and
	// returns a string pushed after the call. Verifies the caller resumes
	// at its own saved position.
	callee := NewBytecodeBuilder()
	callee.EmitFloat64(OpLoadFloat64, 7)
	callee.Emit(OpReturn)

	entry := NewBytecodeBuilder()
	entry.EmitCall(1)
	entry.EmitString(OpStoreVar, "got")
	entry.EmitString(OpLoadString, "after")
	entry.Emit(OpReturn)

	m, err := NewModule([][]byte{entry.Bytes(), callee.Bytes()})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	v := New(m)
	result, err := v.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsString() || result.Str() != "after" {
		t.Errorf("result = %v, want \"after\"", result)
	}
	got, ok := v.Var("got")
	if !ok || !got.IsFloat() || got.Float64() != 7 {
		t.Errorf("Var(got) = %v, %v, want 7", got, ok)
	}
}

func TestRunCallImplicitReturn(t *testing.T) {
	// A callee that runs off the end of its buffer returns undefined.
	callee := NewBytecodeBuilder()
	callee.Emit(OpLoadNull)
	callee.Emit(OpPop)

	entry := NewBytecodeBuilder()
	entry.EmitCall(1)
	entry.Emit(OpReturn)

	m, err := NewModule([][]byte{entry.Bytes(), callee.Bytes()})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	result, err := New(m).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != Undefined {
		t.Errorf("result = %v, want undefined", result)
	}
}

func TestRunCallOutOfRange(t *testing.T) {
	entry := NewBytecodeBuilder()
	entry.EmitCall(9)

	_, err := New(singleFunction(t, entry.Bytes())).Run()
	if !errors.Is(err, ErrNoSuchFunction) {
		t.Fatalf("err = %v, want ErrNoSuchFunction", err)
	}
}

func TestRunNestedCalls(t *testing.T) {
	// entry -> f1 -> f2; each level passes the callee's result through.
	f2 := NewBytecodeBuilder()
	f2.EmitString(OpLoadString, "deep")
	f2.Emit(OpReturn)

	f1 := NewBytecodeBuilder()
	f1.EmitCall(2)
	f1.Emit(OpReturn)

	entry := NewBytecodeBuilder()
	entry.EmitCall(1)
	entry.Emit(OpReturn)

	m, err := NewModule([][]byte{entry.Bytes(), f1.Bytes(), f2.Bytes()})
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	result, err := New(m).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsString() || result.Str() != "deep" {
		t.Errorf("result = %v, want \"deep\"", result)
	}
}

// ---------------------------------------------------------------------------
// Instance isolation and tracing
// ---------------------------------------------------------------------------

func TestRunIndependentInstances(t *testing.T) {
	// Two VMs over one module produce identical results: the module is
	// read-only and all mutable state is per-instance.
	b := NewBytecodeBuilder()
	b.EmitFloat64(OpLoadFloat64, 1.5)
	b.EmitString(OpStoreVar, "x")
	b.EmitString(OpLoadVar, "x")
	b.Emit(OpReturn)
	m := singleFunction(t, b.Bytes())

	r1, err1 := New(m).Run()
	r2, err2 := New(m).Run()
	if err1 != nil || err2 != nil {
		t.Fatalf("Run: %v, %v", err1, err2)
	}
	if r1 != r2 {
		t.Errorf("results differ: %v vs %v", r1, r2)
	}
}

func TestRunReusesInstance(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitFloat64(OpLoadFloat64, 2)
	b.Emit(OpReturn)
	v := New(singleFunction(t, b.Bytes()))

	for i := 0; i < 3; i++ {
		result, err := v.Run()
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if result.Float64() != 2 {
			t.Errorf("Run %d: result = %v, want 2", i, result)
		}
	}
}

type recordingTracer struct {
	ops  []Opcode
	tops []Value
}

func (r *recordingTracer) Trace(pos int, op Opcode, top Value) {
	r.ops = append(r.ops, op)
	r.tops = append(r.tops, top)
}

func TestRunTracer(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitFloat64(OpLoadFloat64, 9)
	b.Emit(OpPop)

	v := New(singleFunction(t, b.Bytes()))
	rec := &recordingTracer{}
	v.SetTracer(rec)
	if _, err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rec.ops) != 2 {
		t.Fatalf("traced %d instructions, want 2", len(rec.ops))
	}
	if rec.ops[0] != OpLoadFloat64 || rec.ops[1] != OpPop {
		t.Errorf("ops = %v", rec.ops)
	}
	if !rec.tops[0].IsFloat() || rec.tops[0].Float64() != 9 {
		t.Errorf("top after load = %v, want 9", rec.tops[0])
	}
	// After POP the stack is empty; the tracer sees undefined.
	if rec.tops[1] != Undefined {
		t.Errorf("top after pop = %v, want undefined", rec.tops[1])
	}
}

func TestRunNopTracer(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpLoadNull)
	b.Emit(OpPop)
	v := New(singleFunction(t, b.Bytes()))
	v.SetTracer(NopTracer{})
	if _, err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
