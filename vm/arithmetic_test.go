package vm

import (
	"testing"

	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

func TestFixnumDivideByZeroRaisesZeroDivisionError(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	proc := buildProc(wk, 4,
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 0, B: 10},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 1, B: 0},
		opcodes.Instruction{Op: opcodes.OpDiv, A: 0},
		opcodes.Instruction{Op: opcodes.OpReturn, A: 0},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsException() {
		t.Fatalf("expected an uncaught division by zero to surface as an exception, got %v", result.Type)
	}
	if _, ok := result.Ref.(*values.ExceptionObj); !ok {
		t.Fatalf("expected an ExceptionObj, got %T", result.Ref)
	}
	if values.ClassOf(result, wk) != wk.ZeroDivisionError {
		t.Fatalf("expected the exception's class to be ZeroDivisionError, got %v", values.ClassOf(result, wk))
	}
}

func TestFixnumDivideNonZeroReturnsQuotient(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	proc := buildProc(wk, 4,
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 0, B: 10},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 1, B: 3},
		opcodes.Instruction{Op: opcodes.OpDiv, A: 0},
		opcodes.Instruction{Op: opcodes.OpReturn, A: 0},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if result.FixnumValue() != 3 {
		t.Fatalf("expected integer division 10/3 to yield 3, got %v", result)
	}
}
