package vm

import (
	"fmt"

	"github.com/wudi/rbvm/values"
)

// SendOptions bundles the small per-call variations the unified send path
// handles: whether argc was splatted (-1), the block register value, and
// whether this is a super call (which changes where method_search starts).
type SendOptions struct {
	Receiver    values.Value
	MethodID    int64
	Argc        int // -1 if splatted (single array argument)
	Args        []values.Value
	Block       values.Value
	AccReg      int
	IsSuper     bool
	SuperStart  *values.Class // for SUPER: target_class_of_current_proc.super
}

// Send implements spec.md §4.5's unified send path for SEND/SENDB (and,
// via IsSuper, SUPER). It resolves the method, pushes a callinfo, and
// either invokes the native function directly or switches the dispatch
// loop to the callee's bytecode.
func (vm *VirtualMachine) Send(ctx *Context, opts SendOptions) (values.Value, error) {
	block := opts.Block
	if block.Truthy() && !block.IsProc() {
		coerced, err := vm.callMethod(ctx, block, vm.Registry.Symbols.Intern("to_proc"), nil, values.Nil())
		if err != nil {
			return values.Nil(), err
		}
		block = coerced
	}

	var cls *values.Class
	if opts.IsSuper {
		cls = opts.SuperStart
		if cls == nil {
			return values.Nil(), vm.raiseNoMethodError(ctx, "super called outside of method")
		}
	} else {
		cls = values.ClassOf(opts.Receiver, vm.Registry.WellKnown)
	}

	entry, defCls := values.MethodSearch(cls, opts.MethodID)
	if entry == nil && !opts.IsSuper {
		// Kernel sits after Object at the end of every ordinary lookup chain.
		entry, defCls = values.MethodSearch(vm.Registry.WellKnown.Kernel, opts.MethodID)
	}
	argc := opts.Argc
	args := opts.Args
	mid := opts.MethodID

	if entry == nil {
		mmSym := vm.Registry.Symbols.Intern("method_missing")
		cur := ctx.CurrentCallInfo()
		if cur != nil && mid == cur.MethodID && sameValue(opts.Receiver, vm.selfOf(ctx, cur)) {
			return values.Nil(), vm.raiseNoMethodError(ctx, fmt.Sprintf("undefined method '%s' (recursive method_missing)", vm.Registry.Symbols.Name(mid)))
		}
		mmEntry, _ := values.MethodSearch(cls, mmSym)
		if mmEntry == nil {
			return values.Nil(), vm.raiseNoMethodError(ctx, fmt.Sprintf("undefined method '%s' for %s", vm.Registry.Symbols.Name(mid), cls.Name))
		}
		packed := make([]values.Value, 0, len(args)+1)
		packed = append(packed, values.Symbol(mid))
		packed = append(packed, args...)
		args = packed
		argc = -1
		entry, defCls = mmEntry, cls
		mid = mmSym
	}

	ci := &CallInfo{
		MethodID:    mid,
		StackEnt:    ctx.StackTop,
		RescueIdx:   len(ctx.RescueStack),
		EnsurePos:   len(ctx.EnsureStack),
		Argc:        argc,
		Acc:         opts.AccReg,
		TargetClass: defCls,
	}

	native := entry.Native
	if native == nil && entry.Proc != nil && entry.Proc.Body.IsNative() {
		native = entry.Proc.Body.Native
	}
	if native != nil {
		ctx.PushCallInfo(ci)
		result, err := native(vm, opts.Receiver, args, procOrNil(block))
		// A block this native method yielded to may have issued
		// RETURN_BLK/BREAK targeting a frame at or above ci, in which case
		// ci (and possibly more) is already gone from ctx.CallInfos; only
		// pop here if ci is still the one sitting on top.
		if ctx.CurrentCallInfo() == ci {
			ctx.PopCallInfo()
		}
		return result, err
	}

	ci.Proc = entry.Proc
	ci.Irep = entry.Proc.Body.Bytecode
	ctx.PushCallInfo(ci)
	needed := 3
	if argc >= 0 {
		needed = 0
	}
	if entry.Proc.Body.Bytecode != nil && entry.Proc.Body.Bytecode.NRegs > needed {
		needed = entry.Proc.Body.Bytecode.NRegs
	}
	if !ctx.EnsureStackCapacity(needed) {
		ctx.PopCallInfo()
		return values.Nil(), vm.StackOverflowError()
	}
	if ctx.StackTop+needed > len(ctx.Stack) {
		// EnsureStackCapacity already grew; StackTop itself advances to
		// the callee's base below.
	}
	base := ci.StackEnt
	ctx.Stack[base] = opts.Receiver
	blockPos := base + 1 + len(args)
	if argc < 0 {
		ctx.Stack[base+1] = values.NewArray(vm.Registry.WellKnown.Array, append([]values.Value(nil), args...))
		blockPos = base + 2
	} else {
		for i, a := range args {
			ctx.Stack[base+1+i] = a
		}
	}
	if blockPos < len(ctx.Stack) {
		ctx.Stack[blockPos] = block
	}
	if ctx.StackTop < base+needed {
		ctx.StackTop = base + needed
	}
	return vm.execBytecode(ctx, ci)
}

func procOrNil(v values.Value) *values.Proc {
	if v.IsProc() {
		return v.Ref.(*values.Proc)
	}
	return nil
}

func sameValue(a, b values.Value) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Ref != nil || b.Ref != nil {
		return a.Ref == b.Ref
	}
	return a.Num == b.Num && a.Flo == b.Flo
}

func (vm *VirtualMachine) selfOf(ctx *Context, ci *CallInfo) values.Value {
	if ci.StackEnt < len(ctx.Stack) {
		return ctx.Stack[ci.StackEnt]
	}
	return values.Nil()
}

// callMethod is a small convenience wrapper over Send used internally
// (to_proc coercion, etc) where only a single positional argument (or
// none) is needed and the acc register is irrelevant to the caller.
func (vm *VirtualMachine) callMethod(ctx *Context, receiver values.Value, mid int64, args []values.Value, block values.Value) (values.Value, error) {
	return vm.Send(ctx, SendOptions{Receiver: receiver, MethodID: mid, Argc: len(args), Args: args, Block: block, AccReg: -1})
}

// CallProc re-enters a procedure directly (used for ensure execution and
// for the native-side Proc#call without going through method_search).
func (vm *VirtualMachine) CallProc(ctx *Context, p *values.Proc, self values.Value, args []values.Value, block *values.Value, targetClass *values.Class) (values.Value, error) {
	blockVal := values.Nil()
	if block != nil {
		blockVal = *block
	}
	if p.Body.IsNative() {
		return p.Body.Native(vm, self, args, procOrNil(blockVal))
	}
	ci := &CallInfo{
		MethodID:    p.MethodID,
		Proc:        p,
		StackEnt:    ctx.StackTop,
		RescueIdx:   len(ctx.RescueStack),
		EnsurePos:   len(ctx.EnsureStack),
		Argc:        len(args),
		Acc:         -1,
		TargetClass: targetClass,
		Irep:        p.Body.Bytecode,
	}
	needed := p.Body.Bytecode.NRegs
	if !ctx.EnsureStackCapacity(needed) {
		return values.Nil(), vm.StackOverflowError()
	}
	base := ci.StackEnt
	ctx.Stack[base] = self
	for i, a := range args {
		ctx.Stack[base+1+i] = a
	}
	if len(ctx.Stack) > base+1+len(args) {
		ctx.Stack[base+1+len(args)] = blockVal
	}
	ctx.StackTop = base + needed
	ctx.PushCallInfo(ci)
	return vm.execBytecode(ctx, ci)
}

// Call implements `R(0).call`: resolve the receiver as a procedure and
// re-enter it, reusing the current callinfo tail-style, rebinding
// target_class and (if the closure's environment records a method id)
// mid (spec.md §4.5 "Call").
func (vm *VirtualMachine) Call(ctx *Context, receiver values.Value, args []values.Value, block values.Value) (values.Value, error) {
	if !receiver.IsProc() {
		return values.Nil(), vm.raiseTypeError(ctx, "not a proc")
	}
	p := receiver.Ref.(*values.Proc)
	ci := ctx.CurrentCallInfo()
	targetClass := p.TargetClass
	if targetClass == nil && p.Env != nil {
		targetClass = values.ClassOf(ctx.Stack[p.Env.StackBase], vm.Registry.WellKnown)
	}
	if ci != nil {
		ci.TargetClass = targetClass
		if p.Env != nil && p.Env.MethodID != 0 {
			ci.MethodID = p.Env.MethodID
		}
	}
	bp := &block
	return vm.CallProc(ctx, p, receiver, args, bp, targetClass)
}

// Yield implements mrb_yield*: synthesize a fresh call with mid copied
// from the current frame, acc = -1, receiver drawn from the closure's
// captured self (environment slot 0), and target class from its captured
// target class (spec.md §4.5 "Yield").
func (vm *VirtualMachine) Yield(ctx *Context, blockProc *values.Proc, args []values.Value) (values.Value, error) {
	if blockProc == nil {
		return values.Nil(), vm.raiseLocalJumpError(ctx, "no block given (yield)")
	}
	cur := ctx.CurrentCallInfo()
	mid := int64(0)
	if cur != nil {
		mid = cur.MethodID
	}
	var self values.Value
	var targetClass *values.Class
	if blockProc.Env != nil {
		self = blockProc.Env.Get(0)
		targetClass = values.ClassOf(self, vm.Registry.WellKnown)
	} else {
		targetClass = blockProc.TargetClass
	}
	ci := &CallInfo{
		MethodID:    mid,
		Proc:        blockProc,
		StackEnt:    ctx.StackTop,
		RescueIdx:   len(ctx.RescueStack),
		EnsurePos:   len(ctx.EnsureStack),
		Argc:        len(args),
		Acc:         -1,
		TargetClass: targetClass,
		Irep:        blockProc.Body.Bytecode,
	}
	if blockProc.Body.IsNative() {
		ctx.PushCallInfo(ci)
		result, err := blockProc.Body.Native(vm, self, args, nil)
		ctx.PopCallInfo()
		return result, err
	}
	needed := blockProc.Body.Bytecode.NRegs
	if !ctx.EnsureStackCapacity(needed) {
		return values.Nil(), vm.StackOverflowError()
	}
	base := ci.StackEnt
	ctx.Stack[base] = self
	for i, a := range args {
		ctx.Stack[base+1+i] = a
	}
	ctx.StackTop = base + needed
	ctx.PushCallInfo(ci)
	return vm.execBytecode(ctx, ci)
}
