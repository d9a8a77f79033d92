package vm

import (
	"github.com/wudi/rbvm/values"
)

// fiberChannels is the handoff machinery between a fiber's goroutine and
// whoever resumes/transfers into it. Unlike the call-stack/register-window
// machinery elsewhere in this package (which models mruby's longjmp-based
// context switch directly as data), a genuine suspend-at-arbitrary-depth
// coroutine has no equivalent in a single Go call stack: execBytecode's
// frames are ordinary Go stack frames, and Go gives no way to unwind only
// partway through one and resume later. A goroutine blocked on a channel
// receive *is* a suspended call stack, so each fiber gets its own
// goroutine parked on resumeCh between turns; yield/resume/transfer are
// implemented as channel sends, not as data manipulation of ctx state.
type fiberChannels struct {
	resumeCh chan fiberMessage
	yieldCh  chan fiberMessage
}

// fiberMessage carries either a value handed across the boundary or a
// pending Go error/exception state to re-raise on the other side.
type fiberMessage struct {
	values []values.Value
	err    error
	exc    *values.Value
}

// NewFiber implements Fiber.new: wraps proc in a FiberObj and spins up
// the goroutine that will run it, parked immediately on its first resume
// (spec.md §4.7, §3.6 StatusCreated).
func (vm *VirtualMachine) NewFiber(proc *values.Proc) values.Value {
	fv := values.NewFiber(vm.Registry.WellKnown.Fiber, proc)
	fiberCtx := NewContext()
	fiberCtx.Status = StatusCreated
	fiberCtx.maxStackSize = vm.Root.maxStackSize
	fiberCtx.maxRescueSize = vm.Root.maxRescueSize
	fiberCtx.maxEnsureNesting = vm.Root.maxEnsureNesting
	ch := &fiberChannels{
		resumeCh: make(chan fiberMessage),
		yieldCh:  make(chan fiberMessage),
	}
	fobj := fv.Ref.(*values.FiberObj)
	fobj.RunContext = fiberCtx
	fiberCtx.Fiber = &fv

	go vm.runFiberBody(fiberCtx, ch, proc)
	fiberCtx.channels = ch
	return fv
}

// runFiberBody is the goroutine entry point: it blocks for the first
// resume, then runs proc to completion (or until the fiber terminates by
// raising past its own base, per Unwind's fiber-boundary handling),
// delivering every suspension and the final result through yieldCh.
func (vm *VirtualMachine) runFiberBody(fiberCtx *Context, ch *fiberChannels, proc *values.Proc) {
	first := <-ch.resumeCh
	fiberCtx.Status = StatusRunning

	var self values.Value
	if len(first.values) > 0 {
		self = first.values[0]
	} else {
		self = values.Nil()
	}
	args := first.values
	if len(args) > 0 {
		args = args[1:]
	}

	result, err := vm.Run(fiberCtx, proc, self, len(args)+2)
	fiberCtx.Status = StatusTerminated
	if err != nil {
		ch.yieldCh <- fiberMessage{err: err}
		return
	}
	ch.yieldCh <- fiberMessage{values: []values.Value{result}}
}

// Resume implements Fiber#resume (spec.md §4.7): hand args to a created
// or suspended fiber, switch vm.Current to it, block until it yields or
// terminates, then switch back. Resuming a running/terminated fiber
// raises FiberError.
func (vm *VirtualMachine) Resume(ctx *Context, fiberVal values.Value, args []values.Value) (values.Value, error) {
	fobj, ok := fiberVal.Ref.(*values.FiberObj)
	if !ok {
		return values.Nil(), vm.raiseTypeError(ctx, "not a fiber")
	}
	fiberCtx, _ := fobj.RunContext.(*Context)
	if fiberCtx == nil {
		return values.Nil(), vm.raiseNamed(ctx, "FiberError", "fiber not properly initialized")
	}
	switch fiberCtx.Status {
	case StatusRunning, StatusResumed:
		return values.Nil(), vm.raiseNamed(ctx, "FiberError", "double resume")
	case StatusTerminated:
		return values.Nil(), vm.raiseNamed(ctx, "FiberError", "dead fiber called")
	}

	prevStatus := ctx.Status
	ctx.Status = StatusResumed
	fiberCtx.Prev = ctx
	fiberCtx.Status = StatusRunning
	vm.Current = fiberCtx

	packed := append([]values.Value{values.Nil()}, args...)
	fiberCtx.channels.resumeCh <- fiberMessage{values: packed}
	msg := <-fiberCtx.channels.yieldCh

	vm.Current = ctx
	ctx.Status = prevStatus

	if msg.err != nil {
		return values.Nil(), msg.err
	}
	if len(msg.values) > 0 {
		return msg.values[0], nil
	}
	return values.Nil(), nil
}

// FiberYield implements Fiber.yield (spec.md §4.7): suspend the current
// fiber, deliver value to its resumer, and block until resumed again.
// Called from outside any fiber (the root context) raises FiberError.
func (vm *VirtualMachine) FiberYield(ctx *Context, value values.Value) (values.Value, error) {
	if ctx.channels == nil {
		return values.Nil(), vm.raiseNamed(ctx, "FiberError", "can't yield from root fiber")
	}
	ctx.Status = StatusSuspended
	ctx.channels.yieldCh <- fiberMessage{values: []values.Value{value}}
	msg := <-ctx.channels.resumeCh
	ctx.Status = StatusRunning
	if len(msg.values) > 0 {
		return msg.values[0], nil
	}
	return values.Nil(), nil
}

// Transfer implements Fiber#transfer (spec.md §4.7): switch execution to
// target without establishing a resume relationship back to the caller
// (unlike Resume, the target's Prev link is not set to the caller).
func (vm *VirtualMachine) Transfer(ctx *Context, fiberVal values.Value, args []values.Value) (values.Value, error) {
	fobj, ok := fiberVal.Ref.(*values.FiberObj)
	if !ok {
		return values.Nil(), vm.raiseTypeError(ctx, "not a fiber")
	}
	fiberCtx, _ := fobj.RunContext.(*Context)
	if fiberCtx == nil || fiberCtx.Status == StatusTerminated {
		return values.Nil(), vm.raiseNamed(ctx, "FiberError", "dead fiber called")
	}
	ctx.Status = StatusTransferred
	fiberCtx.Status = StatusRunning
	vm.Current = fiberCtx

	packed := append([]values.Value{values.Nil()}, args...)
	fiberCtx.channels.resumeCh <- fiberMessage{values: packed}
	msg := <-fiberCtx.channels.yieldCh

	vm.Current = ctx
	if msg.err != nil {
		return values.Nil(), msg.err
	}
	if len(msg.values) > 0 {
		return msg.values[0], nil
	}
	return values.Nil(), nil
}

// Alive reports whether the fiber has neither terminated nor errored out
// (Fiber#alive?).
func (vm *VirtualMachine) Alive(fiberVal values.Value) bool {
	fobj, ok := fiberVal.Ref.(*values.FiberObj)
	if !ok {
		return false
	}
	fiberCtx, _ := fobj.RunContext.(*Context)
	return fiberCtx != nil && fiberCtx.Status != StatusTerminated
}
