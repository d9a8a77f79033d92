package vm

import (
	"testing"

	"github.com/wudi/rbvm/values"
)

func TestMaterializeEnvPointsIntoStackWindow(t *testing.T) {
	ctx := NewContext()
	ctx.StackTop = 4
	ctx.Stack[0] = values.Fixnum(10)
	ctx.Stack[1] = values.Fixnum(20)
	ci := &CallInfo{StackEnt: 0}

	env := ctx.materializeEnv(ci, 2)
	if ci.Env != env {
		t.Fatal("expected materializeEnv to cache the env on the callinfo")
	}
	if env.Get(1).FixnumValue() != 20 {
		t.Fatalf("expected the env to alias the stack window, got %v", env.Get(1))
	}

	ctx.Stack[1] = values.Fixnum(99)
	if env.Get(1).FixnumValue() != 99 {
		t.Fatal("expected the env slice to still alias live stack slots until unshared")
	}
}

func TestMaterializeEnvIsIdempotent(t *testing.T) {
	ctx := NewContext()
	ctx.StackTop = 2
	ci := &CallInfo{StackEnt: 0}
	first := ctx.materializeEnv(ci, 1)
	second := ctx.materializeEnv(ci, 1)
	if first != second {
		t.Fatal("expected a second materializeEnv call to return the already-cached env")
	}
}

func TestUnshareEnvCopiesOffStack(t *testing.T) {
	ctx := NewContext()
	ctx.StackTop = 2
	ci := &CallInfo{StackEnt: 0}
	env := ctx.materializeEnv(ci, 1)
	ctx.Stack[0] = values.Fixnum(5)

	ctx.unshareEnv(ci)
	if !env.Unshared {
		t.Fatal("expected unshareEnv to mark the env unshared")
	}
	ctx.Stack[0] = values.Fixnum(123)
	if env.Get(0).FixnumValue() != 5 {
		t.Fatal("expected the unshared env to keep its own copy, unaffected by later stack writes")
	}
}

func TestGetSetUpVarWalksUpperChain(t *testing.T) {
	wk := New().Registry.WellKnown
	grandparent := values.NewBytecodeProc(&values.Irep{}, nil, values.NewEnv(nil, []values.Value{values.Fixnum(7)}, 0, 0), wk.Object)
	parent := values.NewBytecodeProc(&values.Irep{}, grandparent, nil, wk.Object)
	child := values.NewBytecodeProc(&values.Irep{}, parent, nil, wk.Object)

	if got := getUpVar(child, 2, 0); got.FixnumValue() != 7 {
		t.Fatalf("expected depth-2 lookup to reach the grandparent's env, got %v", got)
	}
	if got := getUpVar(child, 1, 0); !got.IsNil() {
		t.Fatalf("expected depth-1 lookup (parent, no env) to yield nil, got %v", got)
	}

	setUpVar(child, 2, 0, values.Fixnum(42))
	if got := getUpVar(child, 2, 0); got.FixnumValue() != 42 {
		t.Fatalf("expected setUpVar to mutate the grandparent's env slot, got %v", got)
	}
}

func TestEnsureStackCapacityGrowsLinearlyAndFixesUpEnvs(t *testing.T) {
	ctx := NewContext()
	ci := &CallInfo{StackEnt: 0}
	ctx.StackTop = 1
	env := ctx.materializeEnv(ci, 1)
	ctx.Stack[0] = values.Fixnum(3)
	ctx.CallInfos = append(ctx.CallInfos, ci)

	if !ctx.EnsureStackCapacity(1000) {
		t.Fatal("expected capacity growth within maxStackSize to succeed")
	}
	if len(ctx.Stack) < 1001 {
		t.Fatalf("expected the stack to have grown to fit the request, got len %d", len(ctx.Stack))
	}
	if env.Get(0).FixnumValue() != 3 {
		t.Fatal("expected the shared env to be rebased onto the new stack buffer")
	}
}

func TestEnsureStackCapacityRejectsOverLimit(t *testing.T) {
	ctx := NewContext()
	if ctx.EnsureStackCapacity(maxStackSize + 1) {
		t.Fatal("expected a request larger than maxStackSize to fail")
	}
}
