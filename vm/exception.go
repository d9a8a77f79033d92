package vm

import (
	"fmt"

	"github.com/wudi/rbvm/values"
)

// bootstrapExceptionHierarchy wires the Exception/StandardError tree onto
// the registry's well-known classes (spec.md §7's named exception
// classes), so lookupErrorClass and isKindOf have something to walk
// before runtime.Bootstrap adds any user-visible methods to them.
func (vm *VirtualMachine) bootstrapExceptionHierarchy() {
	wk := vm.Registry.WellKnown
	wk.Exception = vm.Registry.DefineClass("Exception", wk.Object)
	wk.StandardError = vm.Registry.DefineClass("StandardError", wk.Exception)
	wk.ArgumentError = vm.Registry.DefineClass("ArgumentError", wk.StandardError)
	wk.TypeError = vm.Registry.DefineClass("TypeError", wk.StandardError)
	wk.LocalJumpError = vm.Registry.DefineClass("LocalJumpError", wk.StandardError)
	wk.NoMethodError = vm.Registry.DefineClass("NoMethodError", wk.StandardError)
	wk.NotImplementedError = vm.Registry.DefineClass("NotImplementedError", wk.StandardError)
	wk.RuntimeError = vm.Registry.DefineClass("RuntimeError", wk.StandardError)
	wk.FiberError = vm.Registry.DefineClass("FiberError", wk.StandardError)
	wk.ZeroDivisionError = vm.Registry.DefineClass("ZeroDivisionError", wk.StandardError)
}

// pushRescue implements ONERR(offset): push a bytecode offset onto the
// per-context rescue stack, growing it 16 -> double -> max 65535 (spec.md
// §4.3). Overflow raises RuntimeError rather than the Go error, since it
// is a language-visible condition.
func (vm *VirtualMachine) pushRescue(ctx *Context, offset int) error {
	if len(ctx.RescueStack) >= ctx.maxRescueSize {
		return vm.raiseRuntimeError(ctx, "nested rescue too deep")
	}
	ctx.RescueStack = append(ctx.RescueStack, offset)
	return nil
}

// popRescue implements POPERR(n): pop n entries off the rescue stack.
func (ctx *Context) popRescue(n int) {
	if n > len(ctx.RescueStack) {
		n = len(ctx.RescueStack)
	}
	ctx.RescueStack = ctx.RescueStack[:len(ctx.RescueStack)-n]
}

// pushEnsure implements EPUSH(proc): push an ensure-procedure.
func (ctx *Context) pushEnsure(p *values.Proc) {
	ctx.EnsureStack = append(ctx.EnsureStack, p)
}

// runEnsures implements EPOP(n): pop n ensure procedures and run each in
// reverse push order as a zero-argument call, preserving the current self
// and target class (spec.md §4.3, invariant P6). ecall recursion is capped
// at ctx.maxEnsureNesting; exceeding it raises the pre-allocated
// stack-overflow exception.
func (vm *VirtualMachine) runEnsures(ctx *Context, n int, self values.Value, targetClass *values.Class) error {
	if n > len(ctx.EnsureStack) {
		n = len(ctx.EnsureStack)
	}
	if n == 0 {
		return nil
	}
	start := len(ctx.EnsureStack) - n
	popped := ctx.EnsureStack[start:]
	ctx.EnsureStack = ctx.EnsureStack[:start]

	for i := len(popped) - 1; i >= 0; i-- {
		ctx.ensureNestingDepth++
		if ctx.ensureNestingDepth > ctx.maxEnsureNesting {
			return vm.StackOverflowError()
		}
		_, err := vm.CallProc(ctx, popped[i], self, nil, nil, targetClass)
		ctx.ensureNestingDepth--
		if err != nil {
			return err
		}
	}
	return nil
}

// Raise implements RAISE(r): copy regs[r] into the VM's current-exception
// slot and begin unwinding (spec.md §4.3).
func (vm *VirtualMachine) Raise(ctx *Context, exc values.Value) error {
	vm.CurrentException = &exc
	return vm.Unwind(ctx)
}

func (vm *VirtualMachine) raiseNamed(ctx *Context, className string, msg string) error {
	cls := vm.lookupErrorClass(className)
	exc := values.NewException(cls, msg)
	return vm.Raise(ctx, exc)
}

func (vm *VirtualMachine) raiseRuntimeError(ctx *Context, msg string) error {
	return vm.raiseNamed(ctx, "RuntimeError", msg)
}

func (vm *VirtualMachine) raiseArgumentError(ctx *Context, msg string) error {
	return vm.raiseNamed(ctx, "ArgumentError", msg)
}

func (vm *VirtualMachine) raiseTypeError(ctx *Context, msg string) error {
	return vm.raiseNamed(ctx, "TypeError", msg)
}

func (vm *VirtualMachine) raiseLocalJumpError(ctx *Context, msg string) error {
	return vm.raiseNamed(ctx, "LocalJumpError", msg)
}

func (vm *VirtualMachine) raiseNoMethodError(ctx *Context, msg string) error {
	return vm.raiseNamed(ctx, "NoMethodError", msg)
}

func (vm *VirtualMachine) lookupErrorClass(name string) *values.Class {
	wk := vm.Registry.WellKnown
	switch name {
	case "ArgumentError":
		return wk.ArgumentError
	case "TypeError":
		return wk.TypeError
	case "LocalJumpError":
		return wk.LocalJumpError
	case "NoMethodError":
		return wk.NoMethodError
	case "NotImplementedError":
		return wk.NotImplementedError
	case "RuntimeError":
		return wk.RuntimeError
	case "FiberError":
		return wk.FiberError
	case "ZeroDivisionError":
		return wk.ZeroDivisionError
	}
	return wk.StandardError
}

// StackOverflowError returns the pre-allocated stack-overflow exception
// (spec.md §3.7: "two pre-allocated exception objects ... are used when
// allocation/growth would itself fail") and sets it as the current
// exception, beginning unwind. Pre-allocating avoids needing to allocate
// while already out of stack headroom.
func (vm *VirtualMachine) StackOverflowError() error {
	exc := vm.preallocStackOverflow
	vm.CurrentException = &exc
	return errUnwind
}

// errUnwind is the sentinel the dispatch loop's top-level run() function
// recognizes as "an exception is pending in vm.CurrentException, perform
// the unwind algorithm", modeling spec.md §9's recommended "control flow
// is data" design: Unwind doesn't panic/longjmp, it returns this value
// and callers must check for it explicitly.
var errUnwind = fmt.Errorf("vm: unwind pending")

// Unwind implements spec.md §4.3's unwind algorithm. Starting from the
// current callinfo, while the current frame has no active rescue in
// scope, pop the frame (running ensures whose epos covers it), restore
// the stack to the popped frame's stackent, and if the popped frame's acc
// == -1, signal the top-level run() to stop (errUnwind). If the fiber's
// base is reached with no rescue, the fiber terminates and unwinding
// continues in its predecessor. If the root context's base is reached,
// the exception is left in VM state for the caller.
func (vm *VirtualMachine) Unwind(ctx *Context) error {
	cur := ctx
	for {
		for len(cur.CallInfos) > 0 {
			ci := cur.CurrentCallInfo()
			if len(cur.RescueStack) > ci.RescueIdx {
				// A rescue is in scope at this frame's depth: leave it
				// on the stack for the dispatch loop's RESCUE opcode to
				// consume; stop unwinding here.
				return errRescued
			}
			popped := cur.PopCallInfo()
			self := values.Nil()
			if len(cur.Stack) > popped.StackEnt {
				self = cur.Stack[popped.StackEnt]
			}
			if err := vm.runEnsures(cur, len(cur.EnsureStack)-popped.EnsurePos, self, popped.TargetClass); err != nil {
				return err
			}
			cur.unshareEnv(popped)
			cur.StackTop = popped.StackEnt
			if popped.Acc == -1 {
				return errUnwind
			}
		}
		if cur.Prev == nil {
			// Root context base reached: leave the exception in VM
			// state and stop.
			return errUnwind
		}
		cur.Status = StatusTerminated
		pred := cur.Prev
		cur.Prev = nil
		cur = pred
		vm.Current = cur
	}
}

// errRescued signals the dispatch loop that an in-scope rescue offset is
// now the top of the rescue stack and execution should resume there
// (RESCUE opcode handles the actual jump + exception retrieval).
var errRescued = fmt.Errorf("vm: rescue in scope")

// Rescue implements RESCUE(exc_reg, class_reg): test isa? between the
// pending exception and a class/module operand.
func (vm *VirtualMachine) Rescue(ctx *Context, exc values.Value, classOrModule values.Value) (bool, error) {
	if !classOrModule.IsClass() {
		return false, vm.raiseTypeError(ctx, "class or module required for rescue clause")
	}
	cls, _ := classOrModule.Ref.(*values.Class)
	return vm.isKindOf(exc, cls), nil
}

func (vm *VirtualMachine) isKindOf(v values.Value, cls *values.Class) bool {
	vc := values.ClassOf(v, vm.Registry.WellKnown)
	for c := vc; c != nil; c = c.Super {
		if c == cls {
			return true
		}
	}
	return false
}

// Break implements BREAK(r) (spec.md §4.3 "Break semantics"): construct a
// break object tagged with the enclosing method proc, found by walking
// Upper past any non-strict (block) scopes the same way RETURN_BLK's
// target search does, and hand it straight to CatchBreak. The dispatch
// loop catches break objects specially rather than unwinding them like an
// ordinary exception.
func (vm *VirtualMachine) Break(ctx *Context, fromProc *values.Proc, value values.Value) error {
	target := fromProc
	for target != nil && !target.IsStrictScope() {
		target = target.Upper
	}
	brk := values.NewBreak(target, value)
	return vm.CatchBreak(ctx, brk.Ref.(*values.BreakObj))
}

// CatchBreak is invoked when the pending exception is a Break value: if
// the target procedure is still live on the callinfo stack, pop frames
// through and including it, deliver the carried value into the target's
// own caller's acc register exactly as a RETURN would, and resume there;
// otherwise raise LocalJumpError("break from proc-closure") (spec.md
// §4.3, matching the observable result of spec.md §8.2 scenario S3: the
// whole method call that received the block evaluates to the break
// value).
func (vm *VirtualMachine) CatchBreak(ctx *Context, brk *values.BreakObj) error {
	for i := len(ctx.CallInfos) - 1; i >= 0; i-- {
		if ctx.CallInfos[i].Proc == brk.Target {
			var poppedTarget *CallInfo
			for len(ctx.CallInfos) > i {
				popped := ctx.PopCallInfo()
				self := ctx.Stack[popped.StackEnt]
				if err := vm.runEnsures(ctx, len(ctx.EnsureStack)-popped.EnsurePos, self, popped.TargetClass); err != nil {
					return err
				}
				ctx.unshareEnv(popped)
				ctx.StackTop = popped.StackEnt
				poppedTarget = popped
			}
			if caller := ctx.CurrentCallInfo(); caller != nil && poppedTarget.Acc >= 0 {
				ctx.Stack[caller.StackEnt+poppedTarget.Acc] = brk.Value
			}
			return nil
		}
	}
	return vm.raiseLocalJumpError(ctx, "break from proc-closure")
}
