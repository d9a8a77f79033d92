package vm

import (
	"testing"

	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// buildProc wraps a hand-assembled instruction stream in a bytecode Proc
// targeting Object, the way a compiler's output would look once lowered.
func buildProc(wk *values.WellKnownClasses, nregs int, iseq ...opcodes.Instruction) *values.Proc {
	irep := &values.Irep{NRegs: nregs, ISeq: iseq}
	return values.NewBytecodeProc(irep, nil, nil, wk.Object)
}

func TestArithmeticAddAndReturn(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	proc := buildProc(wk, 4,
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 0, B: 5},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 1, B: 7},
		opcodes.Instruction{Op: opcodes.OpAdd, A: 0},
		opcodes.Instruction{Op: opcodes.OpReturn, A: 0},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsFixnum() || result.FixnumValue() != 12 {
		t.Fatalf("expected fixnum 12, got %v", result)
	}
}

// TestArithmeticOverflowDemotesToFloat covers scenario S5: summing
// (1<<62)+(1<<62)+(1<<62). The first addition overflows int64 and demotes
// the running total to a float (P5); the second addition must then add a
// fixnum operand onto that already-demoted float total and keep
// accumulating correctly rather than re-overflowing or losing precision.
func TestArithmeticOverflowDemotesToFloat(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	term := int64(1) << 62
	irep := &values.Irep{
		NRegs: 4,
		Pool:  []values.Value{values.Fixnum(term), values.Fixnum(term), values.Fixnum(term)},
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpLoadL, A: 0, B: 0},
			{Op: opcodes.OpLoadL, A: 1, B: 1},
			{Op: opcodes.OpAdd, A: 0}, // reg0 = term + term, overflows -> demotes to float
			{Op: opcodes.OpLoadL, A: 1, B: 2},
			{Op: opcodes.OpAdd, A: 0}, // reg0 = float(2*term) + term
			{Op: opcodes.OpReturn, A: 0},
		},
	}
	proc := values.NewBytecodeProc(irep, nil, nil, wk.Object)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsFloat() {
		t.Fatalf("expected overflowing fixnum add to demote to float, got %v", result.Type)
	}
	want := float64(term) * 3
	if result.FloatValue() != want {
		t.Fatalf("expected the float total to stay correct across the second addition: got %v, want %v", result.FloatValue(), want)
	}
}

func TestJumpNotSkipsOnFalse(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	proc := buildProc(wk, 4,
		opcodes.Instruction{Op: opcodes.OpLoadF, A: 0},
		opcodes.Instruction{Op: opcodes.OpJmpNot, A: 0, B: 4},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 1, B: 1},
		opcodes.Instruction{Op: opcodes.OpJmp, A: 5},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 1, B: 2},
		opcodes.Instruction{Op: opcodes.OpReturn, A: 1},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if result.FixnumValue() != 2 {
		t.Fatalf("expected the jump-not branch to be taken, got %v", result)
	}
}

func TestRaiseUnwindsToTopLevel(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	exc := values.NewException(wk.RuntimeError, "boom")
	irep := &values.Irep{
		NRegs: 2,
		Pool:  []values.Value{exc},
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpLoadL, A: 0, B: 0},
			{Op: opcodes.OpRaise, A: 0},
			{Op: opcodes.OpReturn, A: 0},
		},
	}
	proc := values.NewBytecodeProc(irep, nil, nil, wk.Object)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsException() {
		t.Fatalf("expected an uncaught raise to surface as the exception value, got %v", result.Type)
	}
}
