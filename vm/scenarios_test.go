package vm

import (
	"testing"

	"github.com/wudi/rbvm/config"
	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// TestReturnBlockUnwindsThroughNativeYield covers scenario S1:
//
//	def f; (1..3).each { return 7 }; 99; end; f  #=> 7
//
// "each" is modeled here as a native method that yields its block once
// (the same shape as runtime's arrayEach), so the RETURN_BLK the block
// issues has to unwind past the native call's own callinfo and back out
// of f entirely, skipping f's trailing LOADI/RETURN rather than letting
// the SEND that invoked "each" resume as if it had returned normally.
func TestReturnBlockUnwindsThroughNativeYield(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	sym := m.Registry.Symbols.Intern

	wk.Object.DefineMethod(sym("callOnce"), &values.MethodEntry{
		Native: func(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
			vm := raw.(*VirtualMachine)
			return vm.Yield(vm.Current, block, nil)
		},
	})

	block := &values.Irep{
		NRegs: 2,
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpLoadI, A: 1, B: 7},
			{Op: opcodes.OpReturnBlk, A: 1},
		},
	}
	f := &values.Irep{
		NRegs: 2,
		Reps:  []*values.Irep{block},
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpBlock, A: 1, B: 0},
			{Op: opcodes.OpSendB, A: 0, B: int32(sym("callOnce")), C: 0},
			{Op: opcodes.OpLoadI, A: 1, B: 99},
			{Op: opcodes.OpReturn, A: 1},
		},
	}
	fProc := values.NewBytecodeProc(f, nil, nil, wk.Object)
	fProc.Flags |= values.FlagIsStrictScope

	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, fProc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsFixnum() || result.FixnumValue() != 7 {
		t.Fatalf("expected RETURN_BLK to unwind f entirely with value 7, got %v", result)
	}
}

// TestBreakUnwindsThroughCatchBreak covers scenario S3:
//
//	def y; yield 1; 2; end; y { |v| break v*10 }  #=> 10
//
// Mirrors the S1 test's shape but the block issues BREAK instead of
// RETURN_BLK, exercising VirtualMachine.CatchBreak directly: the whole
// y(...) call must evaluate to the break's value (10), never reaching
// y's trailing LOADI 2.
func TestBreakUnwindsThroughCatchBreak(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	sym := m.Registry.Symbols.Intern

	wk.Object.DefineMethod(sym("callOnce"), &values.MethodEntry{
		Native: func(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
			vm := raw.(*VirtualMachine)
			return vm.Yield(vm.Current, block, []values.Value{values.Fixnum(1)})
		},
	})

	block := &values.Irep{
		NRegs: 3,
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpLoadI, A: 2, B: 10},
			{Op: opcodes.OpMul, A: 1}, // reg1 = v * 10
			{Op: opcodes.OpBreak, A: 1},
		},
	}
	y := &values.Irep{
		NRegs: 2,
		Reps:  []*values.Irep{block},
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpBlock, A: 1, B: 0},
			{Op: opcodes.OpSendB, A: 0, B: int32(sym("callOnce")), C: 0},
			{Op: opcodes.OpLoadI, A: 1, B: 2},
			{Op: opcodes.OpReturn, A: 1},
		},
	}
	yProc := values.NewBytecodeProc(y, nil, nil, wk.Object)
	yProc.Flags |= values.FlagIsStrictScope

	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, yProc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsFixnum() || result.FixnumValue() != 10 {
		t.Fatalf("expected BREAK to unwind y entirely with value 10, got %v", result)
	}
}

// TestNestedEnsureRunsInnerBeforeOuterDuringUnwind covers scenario S2: a
// raise unwinding through two ensures pushed in the same frame (the
// bytecode shape "begin; begin; ...; ensure; :inner; end; ensure; :outer;
// end" compiles to within one method body) must run the innermost ensure
// first, recording [:inner, :outer].
func TestNestedEnsureRunsInnerBeforeOuterDuringUnwind(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown

	var order []string
	outer := values.NewProcValue(values.NewNativeProc(func(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
		order = append(order, "outer")
		return values.Nil(), nil
	}, wk.Object))
	inner := values.NewProcValue(values.NewNativeProc(func(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
		order = append(order, "inner")
		return values.Nil(), nil
	}, wk.Object))
	exc := values.NewException(wk.RuntimeError, "boom")

	irep := &values.Irep{
		NRegs: 1,
		Pool:  []values.Value{outer, inner, exc},
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpLoadL, A: 0, B: 0},
			{Op: opcodes.OpEPush, A: 0},
			{Op: opcodes.OpLoadL, A: 0, B: 1},
			{Op: opcodes.OpEPush, A: 0},
			{Op: opcodes.OpLoadL, A: 0, B: 2},
			{Op: opcodes.OpRaise, A: 0},
			{Op: opcodes.OpReturn, A: 0},
		},
	}
	proc := values.NewBytecodeProc(irep, nil, nil, wk.Object)
	self := values.NewObject(wk.Object)
	if _, err := m.TopLevelRun(m.Root, proc, self, 1); err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if len(order) != 2 || order[0] != "inner" || order[1] != "outer" {
		t.Fatalf("expected ensures to run innermost-first during unwind, got %v", order)
	}
}

// TestKeywordDefaultingThroughSendEnterKarg covers scenario S4:
//
//	def k(a:, b: 2, **r); [a, b, r]; end
//	k(a: 1, c: 3, d: 4)  #=> [1, 2, {c: 3, d: 4}]
//
// Exercises the real SEND -> ENTER -> KEY_P/KARG bytecode path rather
// than calling doEnter/keyP/kArg directly: the caller packs its keyword
// hash as the sole positional argument, ENTER parks it at KDictReg, and
// the callee binds "a" unconditionally, "b" via a KEY_P-gated default,
// and "r" from whatever KARG left behind in the kdict.
func TestKeywordDefaultingThroughSendEnterKarg(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown
	sym := m.Registry.Symbols.Intern
	symA, symB := sym("a"), sym("b")

	// mask: m1=0 o=0 r=0 m2=0 k=0 kd=1 b=0 -> only the kd bit (1<<1) set.
	const enterMask = int32(2)
	k := &values.Irep{
		NRegs: 6,
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpEnter, A: enterMask},
			{Op: opcodes.OpKArg, A: 2, B: int32(symA)}, // a = kdict[:a]
			{Op: opcodes.OpKeyP, A: 5, B: int32(symB)}, // reg5 = kdict.key?(:b)
			{Op: opcodes.OpJmpNot, A: 5, B: 6},
			{Op: opcodes.OpKArg, A: 3, B: int32(symB)}, // b = kdict[:b]
			{Op: opcodes.OpJmp, A: 7},
			{Op: opcodes.OpLoadI, A: 3, B: 2}, // b defaults to 2
			{Op: opcodes.OpMove, A: 4, B: 1},  // r = whatever's left in kdict
			{Op: opcodes.OpArray, A: 2, B: 3}, // [a, b, r]
			{Op: opcodes.OpReturn, A: 2},
		},
	}
	kProc := values.NewBytecodeProc(k, nil, nil, wk.Object)
	kProc.Flags |= values.FlagIsMethod | values.FlagIsStrictScope
	wk.Object.DefineMethod(sym("k"), &values.MethodEntry{Proc: kProc})

	kwargs := values.NewHash(wk.Hash)
	h := kwargs.Ref.(*values.HashObj)
	h.Set(values.Symbol(sym("a")), values.Fixnum(1))
	h.Set(values.Symbol(sym("c")), values.Fixnum(3))
	h.Set(values.Symbol(sym("d")), values.Fixnum(4))

	caller := &values.Irep{
		NRegs: 2,
		Pool:  []values.Value{kwargs},
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpLoadL, A: 1, B: 0},
			{Op: opcodes.OpSend, A: 0, B: int32(sym("k")), C: 1},
			{Op: opcodes.OpReturn, A: 0},
		},
	}
	callerProc := values.NewBytecodeProc(caller, nil, nil, wk.Object)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, callerProc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	arr, ok := result.Ref.(*values.ArrayObj)
	if !ok || len(arr.Elems) != 3 {
		t.Fatalf("expected a 3-element array result, got %v", result)
	}
	if arr.Elems[0].FixnumValue() != 1 {
		t.Fatalf("expected a=1, got %v", arr.Elems[0])
	}
	if arr.Elems[1].FixnumValue() != 2 {
		t.Fatalf("expected b to default to 2, got %v", arr.Elems[1])
	}
	rest, ok := arr.Elems[2].Ref.(*values.HashObj)
	if !ok || rest.Len() != 2 {
		t.Fatalf("expected the leftover keyword dict to carry c and d, got %v", arr.Elems[2])
	}
	if v, ok := rest.Get(values.Symbol(sym("c"))); !ok || v.FixnumValue() != 3 {
		t.Fatalf("expected r[:c] == 3, got (%v, %v)", v, ok)
	}
	if v, ok := rest.Get(values.Symbol(sym("d"))); !ok || v.FixnumValue() != 4 {
		t.Fatalf("expected r[:d] == 4, got (%v, %v)", v, ok)
	}
}

// TestRecursionRaisesPreallocatedStackOverflow covers scenario S7:
//
//	def r; r; end; r
//
// must raise the pre-allocated stack-overflow exception rather than
// growing the register stack without bound or crashing. The register
// ceiling is narrowed via ApplyStackConfig so the recursion bottoms out
// after a handful of real Go-level execBytecode recursions instead of
// requiring thousands.
func TestRecursionRaisesPreallocatedStackOverflow(t *testing.T) {
	m := New()
	m.ApplyStackConfig(config.StackConfig{MaxRegisters: 20})
	wk := m.Registry.WellKnown
	sym := m.Registry.Symbols.Intern

	r := &values.Irep{
		NRegs: 1,
		ISeq: []opcodes.Instruction{
			{Op: opcodes.OpSend, A: 0, B: int32(sym("r")), C: 0},
			{Op: opcodes.OpReturn, A: 0},
		},
	}
	rProc := values.NewBytecodeProc(r, nil, nil, wk.Object)
	rProc.Flags |= values.FlagIsMethod | values.FlagIsStrictScope
	wk.Object.DefineMethod(sym("r"), &values.MethodEntry{Proc: rProc})

	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, rProc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if !result.IsException() {
		t.Fatalf("expected unbounded recursion to surface the stack-overflow exception, got %v", result)
	}
	exc, _ := result.Ref.(*values.ExceptionObj)
	if exc == nil || exc.Class != wk.RuntimeError {
		t.Fatalf("expected the pre-allocated stack-overflow exception's class, got %v", result)
	}
}
