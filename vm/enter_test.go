package vm

import (
	"testing"

	"github.com/wudi/rbvm/values"
)

func TestDecodeEnterMaskUnpacksAllFields(t *testing.T) {
	raw := int32(2<<18 | 1<<13 | 1<<12 | 1<<7 | 1)
	mask := DecodeEnterMask(raw)
	want := EnterMask{M1: 2, O: 1, R: true, M2: 1, K: 0, KD: false, B: true}
	if mask != want {
		t.Fatalf("DecodeEnterMask(%d) = %+v, want %+v", raw, mask, want)
	}
}

func TestDoEnterSufficientArgsFillsPositionals(t *testing.T) {
	m := New()
	ctx := NewContext()
	mask := EnterMask{M1: 2}
	regs := []values.Value{values.Nil(), values.Fixnum(10), values.Fixnum(20)}
	ci := &CallInfo{Argc: 2}

	if err := m.doEnter(ctx, ci, mask, regs, "foo"); err != nil {
		t.Fatalf("doEnter: %v", err)
	}
	if regs[1].FixnumValue() != 10 || regs[2].FixnumValue() != 20 {
		t.Fatalf("expected positional args copied in place, got %v", regs)
	}
	if ci.Argc != 2 {
		t.Fatalf("expected ci.Argc to settle at the declared length 2, got %d", ci.Argc)
	}
}

func TestDoEnterUnderflowZeroFillsMissingNonStrict(t *testing.T) {
	m := New()
	ctx := NewContext()
	mask := EnterMask{M1: 2}
	regs := []values.Value{values.Nil(), values.Nil(), values.Nil()}
	ci := &CallInfo{Argc: 0}

	if err := m.doEnter(ctx, ci, mask, regs, "foo"); err != nil {
		t.Fatalf("doEnter: %v", err)
	}
	if !regs[1].IsNil() || !regs[2].IsNil() {
		t.Fatalf("expected missing required args to be nil-filled, got %v", regs)
	}
}

func TestDoEnterStrictScopeRejectsTooFewArgs(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	ctx := NewContext()
	proc := values.NewBytecodeProc(&values.Irep{}, nil, nil, wk.Object)
	proc.Flags |= values.FlagIsStrictScope
	mask := EnterMask{M1: 1}
	regs := []values.Value{values.Nil(), values.Nil()}
	ci := &CallInfo{Argc: 0, Proc: proc}

	if err := m.doEnter(ctx, ci, mask, regs, "foo"); err == nil {
		t.Fatal("expected a strict-scope call with too few arguments to raise ArgumentError")
	}
}

func TestKeyPKArgKeyEnd(t *testing.T) {
	wk := New().Registry.WellKnown
	hashVal := values.NewHash(wk.Hash)
	kdict := hashVal.Ref.(*values.HashObj)
	sym := int64(7)
	kdict.Set(values.Symbol(sym), values.Fixnum(42))

	if !keyP(kdict, sym) {
		t.Fatal("expected keyP to find the keyword before it's consumed")
	}
	got, ok := kArg(kdict, sym)
	if !ok || got.FixnumValue() != 42 {
		t.Fatalf("expected kArg to pop the keyword's value, got (%v, %v)", got, ok)
	}
	if keyP(kdict, sym) {
		t.Fatal("expected keyP to report false once kArg has deleted the key")
	}

	m := New()
	ctx := NewContext()
	if err := m.keyEnd(ctx, kdict); err != nil {
		t.Fatalf("expected keyEnd to accept an emptied kdict, got %v", err)
	}
	kdict.Set(values.Symbol(99), values.Fixnum(1))
	if err := m.keyEnd(ctx, kdict); err == nil {
		t.Fatal("expected keyEnd to raise ArgumentError on a leftover unknown keyword")
	}
}
