package vm

import (
	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// execClosureOp implements LAMBDA/BLOCK/METHOD (spec.md §4.6): construct
// a procedure from the nested sub-irep at ci.Irep.Reps[inst.B]. METHOD
// sets is_strict_scope; LAMBDA combines both block and strict bits;
// BLOCK captures the enclosing environment without the strict bit so a
// non-local return inside it targets the enclosing method instead.
func (vm *VirtualMachine) execClosureOp(ctx *Context, ci *CallInfo, inst opcodes.Instruction, setReg setFn) error {
	if int(inst.B) >= len(ci.Irep.Reps) {
		return newVMError(ctx, inst.Op, ci.PC, ErrMalformedIrep, "sub-irep index out of range")
	}
	sub := ci.Irep.Reps[inst.B]

	var env *values.Env
	var targetClass *values.Class
	if inst.Op == opcodes.OpMethod {
		targetClass = ci.TargetClass
	} else {
		env = ctx.captureEnv(ci, sub.NLocals)
	}

	proc := values.NewBytecodeProc(sub, ci.Proc, env, targetClass)
	switch inst.Op {
	case opcodes.OpMethod:
		proc.Flags |= values.FlagIsMethod | values.FlagIsStrictScope
	case opcodes.OpLambda:
		proc.Flags |= values.FlagIsStrictScope
	}
	proc.MethodID = ci.MethodID
	setReg(inst.A, values.NewProcValue(proc))
	return nil
}

// execClassOp implements CLASS/MODULE: define (or reopen) a named class
// or module under the outer class held in register A (Object when A holds
// no class), installed as a constant on that outer class (the construction mechanics are a thin layer over
// registry.DefineClass since full class/method table construction is out
// of scope per spec.md §1 — the core only needs a class value it can set
// as the new target class and continue executing the class body against).
func (vm *VirtualMachine) execClassOp(ctx *Context, ci *CallInfo, inst opcodes.Instruction, reg regFn, setReg setFn) error {
	outer := reg(inst.A)
	var outerClass *values.Class
	if outer.IsClass() {
		outerClass, _ = outer.Ref.(*values.Class)
	}
	if outerClass == nil {
		outerClass = vm.Registry.WellKnown.Object
	}

	nameSym := int64(inst.B)
	name := vm.Registry.Symbols.Name(nameSym)

	if existing, ok := outerClass.Consts[nameSym]; ok && existing.IsClass() {
		setReg(inst.A, existing)
		return nil
	}

	var super *values.Class
	if inst.Op == opcodes.OpClass {
		superVal := reg(inst.A + 1)
		if superVal.IsClass() {
			super, _ = superVal.Ref.(*values.Class)
		}
	}
	c := vm.Registry.DefineClass(name, super)
	if inst.Op == opcodes.OpModule {
		c.Kind = values.KindModule
	}
	outerClass.Consts[nameSym] = values.NewClassValue(c)
	setReg(inst.A, values.NewClassValue(c))
	return nil
}

// execExec implements EXEC: run the class/module body (a nested sub-irep)
// with the target class switched to the value in inst.A (spec.md §4.6
// "Class/module definition"). It re-enters execBytecode recursively, the
// same way SEND enters a bytecode callee.
func (vm *VirtualMachine) execExec(ctx *Context, ci *CallInfo, inst opcodes.Instruction, reg regFn) (values.Value, bool, error) {
	classVal := reg(inst.A)
	cls, _ := classVal.Ref.(*values.Class)
	if int(inst.B) >= len(ci.Irep.Reps) {
		return values.Nil(), false, newVMError(ctx, inst.Op, ci.PC, ErrMalformedIrep, "sub-irep index out of range")
	}
	sub := ci.Irep.Reps[inst.B]

	childCI := &CallInfo{
		MethodID:    0,
		StackEnt:    ctx.StackTop,
		RescueIdx:   len(ctx.RescueStack),
		EnsurePos:   len(ctx.EnsureStack),
		Argc:        0,
		Acc:         -1,
		TargetClass: cls,
		Irep:        sub,
	}
	if !ctx.EnsureStackCapacity(sub.NRegs) {
		return values.Nil(), false, vm.StackOverflowError()
	}
	ctx.Stack[childCI.StackEnt] = classVal
	ctx.StackTop = childCI.StackEnt + sub.NRegs
	ctx.PushCallInfo(childCI)
	result, err := vm.execBytecode(ctx, childCI)
	return result, false, err
}

// execDef implements DEF(sym): install the procedure held in register
// A+1 onto the target class's method table.
func (vm *VirtualMachine) execDef(ctx *Context, ci *CallInfo, inst opcodes.Instruction, reg regFn) {
	if ci.TargetClass == nil {
		return
	}
	p, _ := reg(inst.A + 1).Ref.(*values.Proc)
	p.MethodID = int64(inst.B)
	ci.TargetClass.DefineMethod(int64(inst.B), &values.MethodEntry{Proc: p})
}

func (vm *VirtualMachine) execAlias(ci *CallInfo, inst opcodes.Instruction) {
	if ci.TargetClass == nil {
		return
	}
	if entry, _ := values.MethodSearch(ci.TargetClass, int64(inst.B)); entry != nil {
		ci.TargetClass.DefineMethod(int64(inst.A), entry)
	}
}

func (vm *VirtualMachine) execUndef(ci *CallInfo, inst opcodes.Instruction) {
	if ci.TargetClass == nil {
		return
	}
	delete(ci.TargetClass.Methods, int64(inst.A))
}
