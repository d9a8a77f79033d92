package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// execBytecode is the instruction dispatch loop (spec.md §4.6, component
// G): it runs exactly the frames rooted at ci until ci itself returns (via
// RETURN/RETURN_BLK/STOP), propagates up the Go call stack, or is popped
// out from under it by an in-flight unwind (see exception.go). Nested
// SEND/YIELD/CALL invocations that themselves enter bytecode recurse into
// their own execBytecode call, so this loop only ever needs to track its
// own frame's position in ctx.CallInfos.
func (vm *VirtualMachine) execBytecode(ctx *Context, ci *CallInfo) (values.Value, error) {
	var pendingExt pendingWiden

	for {
		if ci.PC < 0 || ci.PC >= len(ci.Irep.ISeq) {
			return values.Nil(), newVMError(ctx, opcodes.OpNop, ci.PC, ErrBadJumpTarget, "pc out of range")
		}
		inst := ci.Irep.ISeq[ci.PC]
		ci.PC++

		if opcodes.IsEXT(inst.Op) {
			pendingExt.accumulate(inst)
			continue
		}
		inst = pendingExt.apply(inst)
		pendingExt = pendingWiden{}

		vm.bumpProfile(inst.Op)

		ret, done, err := vm.step(ctx, ci, inst)
		if err != nil {
			if errors.Is(err, errRescued) && ctx.CurrentCallInfo() == ci {
				offset := ctx.RescueStack[len(ctx.RescueStack)-1]
				ci.PC = offset
				continue
			}
			return values.Nil(), err
		}
		if done {
			return ret, nil
		}
	}
}

// pendingWiden accumulates the high bits carried by an EXT1/EXT2/EXT3
// prefix (opcodes.IsEXT) until the instruction it widens is dispatched.
// EXT1 supplies the high bits of the next instruction's A operand, EXT2 of
// B, EXT3 of both at once (spec.md §4.6, P8).
type pendingWiden struct {
	widenA, widenB bool
	highA, highB   int32
}

func (p *pendingWiden) accumulate(inst opcodes.Instruction) {
	switch inst.Op {
	case opcodes.OpEXT1:
		p.widenA, p.highA = true, inst.A
	case opcodes.OpEXT2:
		p.widenB, p.highB = true, inst.A
	case opcodes.OpEXT3:
		p.widenA, p.highA = true, inst.A
		p.widenB, p.highB = true, inst.B
	}
}

// apply combines any pending EXT high bits into inst's A/B operands and
// records which operand(s) were widened in inst.EXTWidth.
func (p pendingWiden) apply(inst opcodes.Instruction) opcodes.Instruction {
	if p.widenA {
		inst.A = p.highA<<16 | (inst.A & 0xffff)
		inst.EXTWidth |= 1
	}
	if p.widenB {
		inst.B = p.highB<<16 | (inst.B & 0xffff)
		inst.EXTWidth |= 2
	}
	return inst
}

// step executes a single decoded instruction against ci's register
// window. It returns (value, true, nil) when the instruction ends this
// call (RETURN family, STOP), and (_, false, err) on error.
func (vm *VirtualMachine) step(ctx *Context, ci *CallInfo, inst opcodes.Instruction) (values.Value, bool, error) {
	reg := func(i int32) values.Value { return ctx.Stack[ci.StackEnt+int(i)] }
	setReg := func(i int32, v values.Value) { ctx.Stack[ci.StackEnt+int(i)] = v }

	switch inst.Op {
	case opcodes.OpNop:
		// no-op

	case opcodes.OpMove:
		setReg(inst.A, reg(inst.B))

	case opcodes.OpLoadL:
		if int(inst.B) >= len(ci.Irep.Pool) {
			return values.Nil(), false, newVMError(ctx, inst.Op, ci.PC, ErrConstantOutOfRange, "")
		}
		setReg(inst.A, ci.Irep.Pool[inst.B])

	case opcodes.OpLoadI:
		setReg(inst.A, values.Fixnum(int64(inst.B)))
	case opcodes.OpLoadI16, opcodes.OpLoadI32, opcodes.OpLoadI64:
		setReg(inst.A, values.Fixnum(int64(inst.B)))

	case opcodes.OpLoadSym:
		setReg(inst.A, values.Symbol(int64(inst.B)))
	case opcodes.OpLoadNil:
		setReg(inst.A, values.Nil())
	case opcodes.OpLoadSelf:
		setReg(inst.A, reg(0))
	case opcodes.OpLoadT:
		setReg(inst.A, values.True())
	case opcodes.OpLoadF:
		setReg(inst.A, values.False())

	case opcodes.OpGetGV:
		setReg(inst.A, vm.Registry.GetGlobal(int64(inst.B)))
	case opcodes.OpSetGV:
		vm.Registry.SetGlobal(int64(inst.B), reg(inst.A))

	case opcodes.OpGetIV:
		setReg(inst.A, vm.getIVar(reg(0), int64(inst.B)))
	case opcodes.OpSetIV:
		vm.setIVar(reg(0), int64(inst.B), reg(inst.A))

	case opcodes.OpGetCV, opcodes.OpGetConst, opcodes.OpGetMCnst:
		setReg(inst.A, vm.getConst(ci, int64(inst.B)))
	case opcodes.OpSetCV, opcodes.OpSetConst, opcodes.OpSetMCnst:
		vm.setConst(ci, int64(inst.B), reg(inst.A))

	case opcodes.OpGetUpVar:
		setReg(inst.A, getUpVar(ci.Proc, int(inst.C), int(inst.B)))
	case opcodes.OpSetUpVar:
		setUpVar(ci.Proc, int(inst.C), int(inst.B), reg(inst.A))

	case opcodes.OpJmp:
		ci.PC = int(inst.A)
	case opcodes.OpJmpIf:
		if reg(inst.A).Truthy() {
			ci.PC = int(inst.B)
		}
	case opcodes.OpJmpNot:
		if !reg(inst.A).Truthy() {
			ci.PC = int(inst.B)
		}
	case opcodes.OpJmpNil:
		if reg(inst.A).IsNil() {
			ci.PC = int(inst.B)
		}

	case opcodes.OpOnErr:
		if err := vm.pushRescue(ctx, int(inst.A)); err != nil {
			return values.Nil(), false, err
		}
	case opcodes.OpPopErr:
		ctx.popRescue(int(inst.A))
	case opcodes.OpExcept:
		exc := values.Nil()
		if vm.CurrentException != nil {
			exc = *vm.CurrentException
			vm.CurrentException = nil
		}
		setReg(inst.A, exc)
	case opcodes.OpRescue:
		ok, err := vm.Rescue(ctx, reg(inst.A), reg(inst.B))
		if err != nil {
			return values.Nil(), false, err
		}
		setReg(inst.A, values.Bool(ok))
	case opcodes.OpRaise:
		if brk, ok := reg(inst.A).Ref.(*values.BreakObj); ok && reg(inst.A).IsBreak() {
			val := brk.Value
			if err := vm.CatchBreak(ctx, brk); err != nil {
				return values.Nil(), false, err
			}
			if ctx.CurrentCallInfo() != ci {
				// The break's target sat at or above this frame: ci is
				// already gone from ctx.CallInfos, so stop this dispatch
				// loop instead of stepping into its torn-down remainder.
				return val, true, nil
			}
			return values.Nil(), false, nil
		}
		if err := vm.Raise(ctx, reg(inst.A)); err != nil {
			return values.Nil(), false, err
		}
	case opcodes.OpEPush:
		if p, ok := reg(inst.A).Ref.(*values.Proc); ok {
			ctx.pushEnsure(p)
		}
	case opcodes.OpEPop:
		if err := vm.runEnsures(ctx, int(inst.A), reg(0), ci.TargetClass); err != nil {
			return values.Nil(), false, err
		}

	case opcodes.OpSend, opcodes.OpSendB, opcodes.OpSendV, opcodes.OpSendVB:
		return vm.execSend(ctx, ci, inst, reg, setReg)
	case opcodes.OpSuper:
		return vm.execSuper(ctx, ci, inst, reg, setReg)
	case opcodes.OpCall:
		return vm.execCall(ctx, ci, reg, setReg)

	case opcodes.OpEnter:
		mask := DecodeEnterMask(inst.A)
		name := vm.Registry.Symbols.Name(ci.MethodID)
		if err := vm.doEnter(ctx, ci, mask, ctx.Regs(ci.StackEnt), name); err != nil {
			return values.Nil(), false, err
		}
	case opcodes.OpKeyP:
		kdict := vm.kdictOf(ctx, ci)
		setReg(inst.A, values.Bool(keyP(kdict, int64(inst.B))))
	case opcodes.OpKArg:
		kdict := vm.kdictOf(ctx, ci)
		val, _ := kArg(kdict, int64(inst.B))
		setReg(inst.A, val)
	case opcodes.OpKeyEnd:
		if err := vm.keyEnd(ctx, vm.kdictOf(ctx, ci)); err != nil {
			return values.Nil(), false, err
		}

	case opcodes.OpReturn:
		return vm.execReturn(ctx, ci, reg(inst.A))
	case opcodes.OpReturnBlk:
		return vm.execReturnBlock(ctx, ci, reg(inst.A))
	case opcodes.OpBreak:
		// Break() pops this frame (and everything above its target) off
		// ctx.CallInfos before returning, so the frame this step() call is
		// running for no longer exists; stop this dispatch loop the same
		// way RETURN does rather than looping into the now-stale ci.
		val := reg(inst.A)
		if err := vm.Break(ctx, ci.Proc, val); err != nil {
			return values.Nil(), false, err
		}
		return val, true, nil
	case opcodes.OpBlkPush:
		env := ctx.materializeEnv(ci, int(inst.B))
		setReg(inst.A, env.Get(0))

	case opcodes.OpAdd, opcodes.OpAddI, opcodes.OpSub, opcodes.OpSubI, opcodes.OpMul, opcodes.OpDiv,
		opcodes.OpEQ, opcodes.OpLT, opcodes.OpLE, opcodes.OpGT, opcodes.OpGE:
		return vm.execArith(ctx, ci, inst, reg, setReg)

	case opcodes.OpArray:
		n := int(inst.B)
		elems := make([]values.Value, n)
		copy(elems, ctx.Regs(ci.StackEnt)[inst.A:int(inst.A)+n])
		setReg(inst.A, values.NewArray(vm.Registry.WellKnown.Array, elems))
	case opcodes.OpArray2:
		n := int(inst.C)
		elems := make([]values.Value, n)
		copy(elems, ctx.Regs(ci.StackEnt)[inst.B:int(inst.B)+n])
		setReg(inst.A, values.NewArray(vm.Registry.WellKnown.Array, elems))
	case opcodes.OpARYCat:
		dst := reg(inst.A).Ref.(*values.ArrayObj)
		if src, ok := reg(inst.A + 1).Ref.(*values.ArrayObj); ok {
			dst.Elems = append(dst.Elems, src.Elems...)
		}
	case opcodes.OpARYPush:
		dst := reg(inst.A).Ref.(*values.ArrayObj)
		dst.Elems = append(dst.Elems, reg(inst.A+1))
	case opcodes.OpARYDup:
		src := reg(inst.A).Ref.(*values.ArrayObj)
		dup := make([]values.Value, len(src.Elems))
		copy(dup, src.Elems)
		setReg(inst.A, values.NewArray(vm.Registry.WellKnown.Array, dup))
	case opcodes.OpARef:
		arr := reg(inst.B).Ref.(*values.ArrayObj)
		idx := int(inst.C)
		if idx >= 0 && idx < len(arr.Elems) {
			setReg(inst.A, arr.Elems[idx])
		} else {
			setReg(inst.A, values.Nil())
		}
	case opcodes.OpASet:
		arr := reg(inst.B).Ref.(*values.ArrayObj)
		idx := int(inst.C)
		for len(arr.Elems) <= idx {
			arr.Elems = append(arr.Elems, values.Nil())
		}
		arr.Elems[idx] = reg(inst.A)
	case opcodes.OpAPost:
		arr := reg(inst.A).Ref.(*values.ArrayObj)
		pre, post := int(inst.B), int(inst.C)
		vm.execAPost(ctx, ci, inst.A, arr, pre, post)

	case opcodes.OpString:
		if int(inst.B) >= len(ci.Irep.Pool) {
			return values.Nil(), false, newVMError(ctx, inst.Op, ci.PC, ErrConstantOutOfRange, "")
		}
		lit := ci.Irep.Pool[inst.B]
		s, _ := lit.Ref.(*values.StringObj)
		setReg(inst.A, values.NewString(vm.Registry.WellKnown.String, s.Str))
	case opcodes.OpStrCat:
		dst := reg(inst.A).Ref.(*values.StringObj)
		src := reg(inst.A + 1)
		dst.Str += src.String()
	case opcodes.OpIntern:
		s := reg(inst.A).Ref.(*values.StringObj)
		setReg(inst.A, values.Symbol(vm.Registry.Symbols.Intern(s.Str)))
	case opcodes.OpSymbol:
		if int(inst.B) >= len(ci.Irep.Pool) {
			return values.Nil(), false, newVMError(ctx, inst.Op, ci.PC, ErrConstantOutOfRange, "")
		}
		lit := ci.Irep.Pool[inst.B]
		s, _ := lit.Ref.(*values.StringObj)
		setReg(inst.A, values.Symbol(vm.Registry.Symbols.Intern(s.Str)))

	case opcodes.OpHash:
		h := values.NewHash(vm.Registry.WellKnown.Hash)
		hv := h.Ref.(*values.HashObj)
		n := int(inst.B)
		win := ctx.Regs(ci.StackEnt)
		for i := 0; i < n; i++ {
			hv.Set(win[int(inst.A)+i*2], win[int(inst.A)+i*2+1])
		}
		setReg(inst.A, h)
	case opcodes.OpHashAdd:
		hv := reg(inst.A).Ref.(*values.HashObj)
		hv.Set(reg(inst.A+1), reg(inst.A+2))
	case opcodes.OpHashCat:
		dst := reg(inst.A).Ref.(*values.HashObj)
		if src, ok := reg(inst.A + 1).Ref.(*values.HashObj); ok {
			for i, k := range src.Keys {
				dst.Set(k, src.Vals[i])
			}
		}

	case opcodes.OpRangeInc:
		setReg(inst.A, values.NewRange(vm.Registry.WellKnown.Range, reg(inst.A), reg(inst.A+1), false))
	case opcodes.OpRangeExc:
		setReg(inst.A, values.NewRange(vm.Registry.WellKnown.Range, reg(inst.A), reg(inst.A+1), true))

	case opcodes.OpLambda, opcodes.OpBlock, opcodes.OpMethod:
		return values.Nil(), false, vm.execClosureOp(ctx, ci, inst, setReg)

	case opcodes.OpOClass:
		setReg(inst.A, values.NewClassValue(vm.Registry.WellKnown.Object))
	case opcodes.OpClass, opcodes.OpModule:
		return values.Nil(), false, vm.execClassOp(ctx, ci, inst, reg, setReg)
	case opcodes.OpExec:
		return vm.execExec(ctx, ci, inst, reg)
	case opcodes.OpDef:
		vm.execDef(ctx, ci, inst, reg)
	case opcodes.OpAlias:
		vm.execAlias(ci, inst)
	case opcodes.OpUndef:
		vm.execUndef(ci, inst)
	case opcodes.OpSClass:
		setReg(inst.A, reg(inst.A))
	case opcodes.OpTClass:
		if ci.TargetClass != nil {
			setReg(inst.A, values.NewClassValue(ci.TargetClass))
		} else {
			return values.Nil(), false, vm.raiseTypeError(ctx, "no target class or module")
		}

	case opcodes.OpStop:
		return values.Nil(), true, nil
	case opcodes.OpDebug:
		// Trace hook; the core carries no debugger protocol (non-goal), but
		// at debugLevel>0 each DEBUG instruction still leaves a record in
		// ctx's debug log for GetDebugReport, the way a profiling build
		// would.
		if vm.debugLevel > 0 {
			ctx.appendDebugRecord(fmt.Sprintf("DEBUG pc=%d a=%d b=%d c=%d", ci.PC-1, inst.A, inst.B, inst.C))
		}
	case opcodes.OpErr:
		return values.Nil(), false, vm.raiseLocalJumpError(ctx, "ERR instruction")

	default:
		return values.Nil(), false, newVMError(ctx, inst.Op, ci.PC, ErrMalformedIrep, "unimplemented opcode")
	}
	return values.Nil(), false, nil
}

func (vm *VirtualMachine) execReturn(ctx *Context, ci *CallInfo, val values.Value) (values.Value, bool, error) {
	ctx.unshareEnv(ci)
	popped := ctx.PopCallInfo()
	ctx.StackTop = popped.StackEnt
	if caller := ctx.CurrentCallInfo(); caller != nil && popped.Acc >= 0 {
		ctx.Stack[caller.StackEnt+popped.Acc] = val
	}
	return val, true, nil
}

// execReturnBlock implements RETURN_BLK: a return originating inside a
// block targets the enclosing strict-scope (method) procedure; if that
// proc's call-info frame is no longer on the stack (its method already
// returned, an orphan block per spec.md §3.3/§3.8), raise LocalJumpError
// (spec.md §4.6).
func (vm *VirtualMachine) execReturnBlock(ctx *Context, ci *CallInfo, val values.Value) (values.Value, bool, error) {
	target := ci.Proc
	for target != nil && !target.IsStrictScope() {
		target = target.Upper
	}
	if target == nil {
		return values.Nil(), false, vm.raiseLocalJumpError(ctx, "unexpected return")
	}
	for i := len(ctx.CallInfos) - 1; i >= 0; i-- {
		if ctx.CallInfos[i].Proc == target {
			for len(ctx.CallInfos)-1 > i {
				popped := ctx.PopCallInfo()
				ctx.unshareEnv(popped)
			}
			return vm.execReturn(ctx, ctx.CurrentCallInfo(), val)
		}
	}
	return values.Nil(), false, vm.raiseLocalJumpError(ctx, "return from proc-closure")
}

func (vm *VirtualMachine) getIVar(self values.Value, sym int64) values.Value {
	switch self.Type {
	case values.TypeObject:
		if v, ok := self.Ref.(*values.Object).IVars[sym]; ok {
			return v
		}
	case values.TypeException:
		if v, ok := self.Ref.(*values.ExceptionObj).IVars[sym]; ok {
			return v
		}
	}
	return values.Nil()
}

func (vm *VirtualMachine) setIVar(self values.Value, sym int64, v values.Value) {
	switch self.Type {
	case values.TypeObject:
		self.Ref.(*values.Object).IVars[sym] = v
	case values.TypeException:
		self.Ref.(*values.ExceptionObj).IVars[sym] = v
	}
}

func (vm *VirtualMachine) getConst(ci *CallInfo, sym int64) values.Value {
	if ci.TargetClass != nil {
		for c := ci.TargetClass; c != nil; c = c.Super {
			if v, ok := c.Consts[sym]; ok {
				return v
			}
		}
	}
	if v, ok := vm.Registry.WellKnown.Object.Consts[sym]; ok {
		return v
	}
	return values.Nil()
}

func (vm *VirtualMachine) setConst(ci *CallInfo, sym int64, v values.Value) {
	target := ci.TargetClass
	if target == nil {
		target = vm.Registry.WellKnown.Object
	}
	target.Consts[sym] = v
}

func (vm *VirtualMachine) execAPost(ctx *Context, ci *CallInfo, base int32, arr *values.ArrayObj, pre, post int) {
	win := ctx.Regs(ci.StackEnt)
	rest := len(arr.Elems) - pre - post
	if rest < 0 {
		rest = 0
	}
	restElems := make([]values.Value, rest)
	if rest > 0 {
		copy(restElems, arr.Elems[pre:pre+rest])
	}
	win[base] = values.NewArray(vm.Registry.WellKnown.Array, restElems)
	for i := 0; i < post; i++ {
		idx := pre + rest + i
		if idx < len(arr.Elems) {
			win[int(base)+1+i] = arr.Elems[idx]
		} else {
			win[int(base)+1+i] = values.Nil()
		}
	}
}

// demoteOverflow implements spec.md P5: fixnum+fixnum yields a fixnum iff
// representable, otherwise a float equal to the float sum.
func addFixnum(a, b int64) values.Value {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return values.Float(float64(a) + float64(b))
	}
	return values.Fixnum(sum)
}

func subFixnum(a, b int64) values.Value {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return values.Float(float64(a) - float64(b))
	}
	return values.Fixnum(diff)
}

func mulFixnum(a, b int64) values.Value {
	if a == 0 || b == 0 {
		return values.Fixnum(0)
	}
	if b == -1 && a == math.MinInt64 {
		return values.Float(float64(a) * float64(b))
	}
	prod := a * b
	if prod/b != a {
		return values.Float(float64(a) * float64(b))
	}
	return values.Fixnum(prod)
}
