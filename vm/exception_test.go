package vm

import (
	"testing"

	"github.com/wudi/rbvm/values"
)

func TestLookupErrorClassKnownAndFallback(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	if m.lookupErrorClass("TypeError") != wk.TypeError {
		t.Fatal("expected TypeError to resolve to wk.TypeError")
	}
	if m.lookupErrorClass("SomeUnknownError") != wk.StandardError {
		t.Fatal("expected an unrecognized name to fall back to StandardError")
	}
}

func TestIsKindOfWalksSuperchain(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	exc := values.NewException(wk.ArgumentError, "bad arg")
	if !m.isKindOf(exc, wk.ArgumentError) || !m.isKindOf(exc, wk.StandardError) || !m.isKindOf(exc, wk.Exception) {
		t.Fatal("expected an ArgumentError instance to be a kind of its whole ancestor chain")
	}
	if m.isKindOf(exc, wk.TypeError) {
		t.Fatal("expected an ArgumentError instance not to be a kind of a sibling class")
	}
}

func TestRescueMatchesByClass(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	ctx := NewContext()
	exc := values.NewException(wk.RuntimeError, "boom")

	matched, err := m.Rescue(ctx, exc, values.NewClassValue(wk.StandardError))
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if !matched {
		t.Fatal("expected RuntimeError to match a StandardError rescue clause")
	}

	matched, err = m.Rescue(ctx, exc, values.NewClassValue(wk.ArgumentError))
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if matched {
		t.Fatal("expected RuntimeError not to match an unrelated ArgumentError rescue clause")
	}
}

func TestRescueRejectsNonClassOperand(t *testing.T) {
	m := New()
	ctx := NewContext()
	if _, err := m.Rescue(ctx, values.Nil(), values.Fixnum(1)); err == nil {
		t.Fatal("expected a non-class rescue operand to raise TypeError")
	}
}

func TestPushPopRescueStack(t *testing.T) {
	m := New()
	ctx := NewContext()
	if err := m.pushRescue(ctx, 10); err != nil {
		t.Fatalf("pushRescue: %v", err)
	}
	if err := m.pushRescue(ctx, 20); err != nil {
		t.Fatalf("pushRescue: %v", err)
	}
	if len(ctx.RescueStack) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ctx.RescueStack))
	}
	ctx.popRescue(1)
	if len(ctx.RescueStack) != 1 || ctx.RescueStack[0] != 10 {
		t.Fatalf("expected popRescue(1) to leave [10], got %v", ctx.RescueStack)
	}
	ctx.popRescue(5)
	if len(ctx.RescueStack) != 0 {
		t.Fatal("expected popRescue to clamp n to the stack's length")
	}
}

func TestRunEnsuresExecutesInReversePushOrder(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	ctx := NewContext()

	var order []int
	makeEnsure := func(tag int) *values.Proc {
		return values.NewNativeProc(func(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
			order = append(order, tag)
			return values.Nil(), nil
		}, wk.Object)
	}
	ctx.pushEnsure(makeEnsure(1))
	ctx.pushEnsure(makeEnsure(2))
	ctx.pushEnsure(makeEnsure(3))

	self := values.NewObject(wk.Object)
	if err := m.runEnsures(ctx, 3, self, wk.Object); err != nil {
		t.Fatalf("runEnsures: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected ensures to run in reverse push order, got %v", order)
	}
	if len(ctx.EnsureStack) != 0 {
		t.Fatal("expected runEnsures to pop all requested entries")
	}
}
