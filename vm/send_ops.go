package vm

import (
	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// regFn/setFn are the closures execBytecode's step() builds per
// instruction; the SEND family needs to both read operands and, for
// bytecode callees, leave the dispatch loop (the recursive execBytecode
// call inside Send handles that), so these are passed through rather
// than recomputed.
type regFn func(int32) values.Value
type setFn func(int32, values.Value)

// execSend implements SEND/SENDB/SENDV/SENDVB (spec.md §4.5 step 1-2):
// resolve argc (operand, or -1 for the V/splatted forms) and the block
// register, then delegate to the unified Send path.
func (vm *VirtualMachine) execSend(ctx *Context, ci *CallInfo, inst opcodes.Instruction, reg regFn, setReg setFn) (values.Value, bool, error) {
	recvReg := inst.A
	mid := int64(inst.B)
	argc := int(inst.C)
	hasBlock := inst.Op == opcodes.OpSendB || inst.Op == opcodes.OpSendVB
	splatted := inst.Op == opcodes.OpSendV || inst.Op == opcodes.OpSendVB

	receiver := reg(recvReg)
	var args []values.Value
	block := values.Nil()

	win := ctx.Regs(ci.StackEnt)
	base := int(recvReg) + 1

	if splatted {
		argc = -1
		arr, _ := win[base].Ref.(*values.ArrayObj)
		if arr != nil {
			args = arr.Elems
		}
		if hasBlock {
			block = win[base+1]
		}
	} else {
		if argc > 0 {
			args = make([]values.Value, argc)
			copy(args, win[base:base+argc])
		}
		if hasBlock {
			block = win[base+argc]
		}
	}

	result, err := vm.Send(ctx, SendOptions{
		Receiver: receiver,
		MethodID: mid,
		Argc:     argc,
		Args:     args,
		Block:    block,
		AccReg:   int(recvReg),
	})
	if err != nil {
		return values.Nil(), false, err
	}
	if ctx.CurrentCallInfo() != ci {
		// A block invoked somewhere inside this send (directly, or many
		// Yield/CallProc levels down) issued RETURN_BLK/BREAK targeting a
		// frame at or above this one: ci is no longer on ctx.CallInfos,
		// so this dispatch loop must stop now rather than keep stepping
		// through its own (already torn down) instruction stream.
		return result, true, nil
	}
	setReg(recvReg, result)
	return values.Nil(), false, nil
}

// execSuper implements SUPER(a, b): starts lookup at
// target_class_of_current_proc.super, preserving the receiver (spec.md
// §4.5 "Super").
func (vm *VirtualMachine) execSuper(ctx *Context, ci *CallInfo, inst opcodes.Instruction, reg regFn, setReg setFn) (values.Value, bool, error) {
	if ci.Proc == nil || ci.TargetClass == nil {
		return values.Nil(), false, vm.raiseNoMethodError(ctx, "super called outside of method")
	}
	receiver := ctx.Stack[ci.StackEnt]
	origClass := ci.TargetClass
	if !vm.isKindOf(receiver, origClass) {
		return values.Nil(), false, vm.raiseTypeError(ctx, "self has wrong type to call super in this context")
	}
	argc := int(inst.B)
	win := ctx.Regs(ci.StackEnt)
	base := int(inst.A)
	args := make([]values.Value, argc)
	copy(args, win[base:base+argc])

	result, err := vm.Send(ctx, SendOptions{
		Receiver:   receiver,
		MethodID:   ci.MethodID,
		Argc:       argc,
		Args:       args,
		Block:      values.Nil(),
		AccReg:     0,
		IsSuper:    true,
		SuperStart: origClass.Super,
	})
	if err != nil {
		return values.Nil(), false, err
	}
	if ctx.CurrentCallInfo() != ci {
		return result, true, nil
	}
	setReg(0, result)
	return values.Nil(), false, nil
}

// execCall implements `R(0).call`: R(0) holds the proc, remaining
// registers hold args per the current callinfo's argc (spec.md §4.5
// "Call"). Simplified here to operate on the receiver already sitting in
// R(0) with args in R(1..argc).
func (vm *VirtualMachine) execCall(ctx *Context, ci *CallInfo, reg regFn, setReg setFn) (values.Value, bool, error) {
	receiver := reg(0)
	argc := ci.Argc
	if argc < 0 {
		argc = 0
	}
	win := ctx.Regs(ci.StackEnt)
	args := make([]values.Value, 0, argc)
	if argc > 0 && argc+1 <= len(win) {
		args = append(args, win[1:1+argc]...)
	}
	result, err := vm.Call(ctx, receiver, args, values.Nil())
	if err != nil {
		return values.Nil(), false, err
	}
	if ctx.CurrentCallInfo() != ci {
		return result, true, nil
	}
	setReg(0, result)
	return values.Nil(), false, nil
}
