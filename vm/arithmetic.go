package vm

import (
	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

var arithMethodNames = map[opcodes.Opcode]string{
	opcodes.OpAdd: "+", opcodes.OpSub: "-", opcodes.OpMul: "*", opcodes.OpDiv: "/",
	opcodes.OpEQ: "==", opcodes.OpLT: "<", opcodes.OpLE: "<=", opcodes.OpGT: ">", opcodes.OpGE: ">=",
}

// execArith implements the arithmetic fast paths of spec.md §4.6:
// fixnum⊕fixnum, fixnum⊕float (both directions), float⊕float inline;
// anything else falls through to a method call on the operator symbol.
// Overflow on integer add/sub/mul demotes to float (P5).
func (vm *VirtualMachine) execArith(ctx *Context, ci *CallInfo, inst opcodes.Instruction, reg regFn, setReg setFn) (values.Value, bool, error) {
	op := inst.Op
	if op == opcodes.OpAddI || op == opcodes.OpSubI {
		lhs := reg(inst.A)
		imm := int64(inst.B)
		if lhs.IsFixnum() {
			if op == opcodes.OpAddI {
				setReg(inst.A, addFixnum(lhs.FixnumValue(), imm))
			} else {
				setReg(inst.A, subFixnum(lhs.FixnumValue(), imm))
			}
			return values.Nil(), false, nil
		}
		if lhs.IsFloat() {
			f := lhs.FloatValue()
			if op == opcodes.OpAddI {
				setReg(inst.A, values.Float(f+float64(imm)))
			} else {
				setReg(inst.A, values.Float(f-float64(imm)))
			}
			return values.Nil(), false, nil
		}
		return vm.arithSlowPath(ctx, ci, op, inst.A, values.Fixnum(imm), setReg)
	}

	lhs := reg(inst.A)
	rhs := reg(inst.A + 1)

	if lhs.IsFixnum() && rhs.IsFixnum() {
		a, b := lhs.FixnumValue(), rhs.FixnumValue()
		switch op {
		case opcodes.OpAdd:
			setReg(inst.A, addFixnum(a, b))
		case opcodes.OpSub:
			setReg(inst.A, subFixnum(a, b))
		case opcodes.OpMul:
			setReg(inst.A, mulFixnum(a, b))
		case opcodes.OpDiv:
			if b == 0 {
				return values.Nil(), false, vm.raiseNamed(ctx, "ZeroDivisionError", "divided by 0")
			}
			setReg(inst.A, values.Fixnum(a/b))
		case opcodes.OpEQ:
			setReg(inst.A, values.Bool(a == b))
		case opcodes.OpLT:
			setReg(inst.A, values.Bool(a < b))
		case opcodes.OpLE:
			setReg(inst.A, values.Bool(a <= b))
		case opcodes.OpGT:
			setReg(inst.A, values.Bool(a > b))
		case opcodes.OpGE:
			setReg(inst.A, values.Bool(a >= b))
		}
		return values.Nil(), false, nil
	}

	if lhs.IsNumeric() && rhs.IsNumeric() {
		a, b := numericToFloat(lhs), numericToFloat(rhs)
		switch op {
		case opcodes.OpAdd:
			setReg(inst.A, values.Float(a+b))
		case opcodes.OpSub:
			setReg(inst.A, values.Float(a-b))
		case opcodes.OpMul:
			setReg(inst.A, values.Float(a*b))
		case opcodes.OpDiv:
			setReg(inst.A, values.Float(a/b))
		case opcodes.OpEQ:
			setReg(inst.A, values.Bool(a == b))
		case opcodes.OpLT:
			setReg(inst.A, values.Bool(a < b))
		case opcodes.OpLE:
			setReg(inst.A, values.Bool(a <= b))
		case opcodes.OpGT:
			setReg(inst.A, values.Bool(a > b))
		case opcodes.OpGE:
			setReg(inst.A, values.Bool(a >= b))
		}
		return values.Nil(), false, nil
	}

	return vm.arithSlowPath(ctx, ci, op, inst.A, rhs, setReg)
}

func numericToFloat(v values.Value) float64 {
	if v.IsFixnum() {
		return float64(v.FixnumValue())
	}
	return v.FloatValue()
}

// arithSlowPath falls through to a regular method call on the operator
// symbol when either operand isn't a fast-path numeric (spec.md §4.6).
func (vm *VirtualMachine) arithSlowPath(ctx *Context, ci *CallInfo, op opcodes.Opcode, a int32, rhs values.Value, setReg setFn) (values.Value, bool, error) {
	name := arithMethodNames[op]
	sym := vm.Registry.Symbols.Intern(name)
	receiver := ctx.Stack[ci.StackEnt+int(a)]
	result, err := vm.callMethod(ctx, receiver, sym, []values.Value{rhs}, values.Nil())
	if err != nil {
		return values.Nil(), false, err
	}
	setReg(a, result)
	return values.Nil(), false, nil
}
