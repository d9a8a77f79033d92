package vm

import (
	"fmt"

	"github.com/wudi/rbvm/values"
)

// EnterMask is the decoded 23-bit ENTER operand (spec.md §4.4): m1
// (required before rest), o (optionals), r (has rest?), m2 (required
// after rest), k (keyword count), kd (has keyword dict?), b (has block?).
type EnterMask struct {
	M1 int
	O  int
	R  bool
	M2 int
	K  int
	KD bool
	B  bool
}

// DecodeEnterMask unpacks the 23-bit mask the same way mruby's ENTER
// operand is laid out: m1(5) o(5) r(1) m2(5) k(5) kd(1) b(1), high to low.
func DecodeEnterMask(mask int32) EnterMask {
	return EnterMask{
		M1: int((mask >> 18) & 0x1f),
		O:  int((mask >> 13) & 0x1f),
		R:  (mask>>12)&0x1 != 0,
		M2: int((mask >> 7) & 0x1f),
		K:  int((mask >> 2) & 0x1f),
		KD: (mask>>1)&0x1 != 0,
		B:  mask&0x1 != 0,
	}
}

// enterArgs carries the marshalling state threaded through the steps of
// doEnter below.
type enterArgs struct {
	argv     []values.Value
	argc     int
	kdict    *values.HashObj
	kdictVal values.Value
	block    values.Value
}

// doEnter implements the ENTER opcode's full argument-marshalling
// protocol (spec.md §4.4, steps 1-6). callee is the callinfo just pushed
// for the procedure being entered; mask is the decoded operand. regs is
// the callee's register window (regs[0] is self).
func (vm *VirtualMachine) doEnter(ctx *Context, ci *CallInfo, mask EnterMask, regs []values.Value, methodName string) error {
	ea := enterArgs{}

	// Step 1: argc == -1 means a single packed array is on the stack.
	if ci.Argc < 0 {
		arr, ok := regs[1].Ref.(*values.ArrayObj)
		if !ok {
			return vm.raiseArgumentError(ctx, "wrong argument type (expected Array)")
		}
		ea.argv = arr.Elems
		ea.argc = len(arr.Elems)
		ea.block = regs[2]
	} else {
		ea.argc = ci.Argc
		if ea.argc > 0 {
			ea.argv = regs[1 : 1+ea.argc]
		}
		if mask.B {
			ea.block = regs[1+ea.argc]
		} else {
			ea.block = values.Nil()
		}
	}

	isStrict := ci.Proc != nil && ci.Proc.IsStrictScope()

	// Step 2: strict-scope arity validation.
	if isStrict {
		lo := mask.M1 + mask.M2
		if ea.argc < lo {
			return vm.raiseArgumentError(ctx, arityMessage(ea.argc, lo, mask, methodName))
		}
		if !mask.R {
			hi := mask.M1 + mask.O + mask.M2
			if mask.KD {
				hi++
			}
			if ea.argc > hi {
				return vm.raiseArgumentError(ctx, arityMessage(ea.argc, hi, mask, methodName))
			}
		}
	}

	// Step 3: lone array argument splat, when arity wants more than one
	// positional value.
	positionalWanted := mask.M1 + mask.O + mask.M2
	if ea.argc == 1 && positionalWanted > 1 {
		if arr, ok := ea.argv[0].Ref.(*values.ArrayObj); ok {
			ea.argv = arr.Elems
			ea.argc = len(arr.Elems)
		}
	}

	// Step 4: keyword dictionary determination.
	kargs := 0
	if mask.KD {
		switch {
		case ea.argc == mask.M1+mask.M2:
			ea.kdict = &values.HashObj{}
			ea.kdictVal = values.NewHash(vm.Registry.WellKnown.Hash)
			ea.kdict = ea.kdictVal.Ref.(*values.HashObj)
		case ea.argc > 0 && ea.argv[ea.argc-1].IsHash():
			h := ea.argv[ea.argc-1].Ref.(*values.HashObj)
			ea.kdict = h
			ea.kdictVal = ea.argv[ea.argc-1]
			kargs = 1
		case !mask.R && isStrict:
			return vm.raiseArgumentError(ctx, "missing keywords")
		default:
			ea.kdictVal = values.NewHash(vm.Registry.WellKnown.Hash)
			ea.kdict = ea.kdictVal.Ref.(*values.HashObj)
		}
	}

	length := mask.M1 + mask.O + boolToInt(mask.R) + mask.M2
	blkPos := length
	if mask.KD {
		blkPos++
	}
	blkPos++ // self is regs[0]; positional start at regs[1]

	avail := ea.argc - kargs

	if avail < length {
		// Step 5, underflow case: move block, copy available positional
		// args, zero-fill missing required, place post-mandatory tail,
		// synthesize empty rest array if needed.
		if mask.B {
			regs[blkPos] = ea.block
		}
		for i := 0; i < avail && i < mask.M1+mask.O; i++ {
			regs[1+i] = ea.argv[i]
		}
		for i := avail; i < mask.M1+mask.O; i++ {
			regs[1+i] = values.Nil()
		}
		if mask.R {
			regs[mask.M1+mask.O+1] = values.NewArray(vm.Registry.WellKnown.Array, nil)
		}
		postStart := length - mask.M2 + 1
		for i := 0; i < mask.M2; i++ {
			if avail-mask.M2+i >= 0 && avail-mask.M2+i < avail {
				regs[postStart+i] = ea.argv[avail-mask.M2+i]
			} else {
				regs[postStart+i] = values.Nil()
			}
		}
		// advance program counter past unused optional-initializer jumps
		consumed := avail - mask.M1 - mask.M2
		if consumed < 0 {
			consumed = 0
		}
		ci.PC += consumed * 3
	} else {
		// Step 5, sufficient-args case.
		for i := 0; i < mask.M1+mask.O; i++ {
			regs[1+i] = ea.argv[i]
		}
		if mask.R {
			restLen := avail - mask.M1 - mask.O - mask.M2
			if restLen < 0 {
				restLen = 0
			}
			rest := make([]values.Value, restLen)
			copy(rest, ea.argv[mask.M1+mask.O:mask.M1+mask.O+restLen])
			regs[mask.M1+mask.O+1] = values.NewArray(vm.Registry.WellKnown.Array, rest)
		}
		postStart := length - mask.M2 + 1
		for i := 0; i < mask.M2; i++ {
			regs[postStart+i] = ea.argv[avail-mask.M2+i]
		}
		if mask.B {
			regs[blkPos] = ea.block
		}
		ci.PC += mask.O * 3
	}

	// Step 6.
	if mask.KD {
		regs[length+1] = ea.kdictVal
		ci.KDictReg = length + 1
	}
	ci.Argc = length
	if mask.KD {
		ci.Argc++
	}
	return nil
}

func arityMessage(got, want int, mask EnterMask, methodName string) string {
	suffix := ""
	if methodName != "" {
		suffix = fmt.Sprintf(" in '%s'", methodName)
	}
	return fmt.Sprintf("wrong number of arguments (%d for %d)%s", got, want, suffix)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// kdictOf fetches the keyword-dictionary hash ENTER parked for this call
// (spec.md §4.4 step 6), or nil if the call has none.
func (vm *VirtualMachine) kdictOf(ctx *Context, ci *CallInfo) *values.HashObj {
	if ci.KDictReg == 0 {
		return nil
	}
	v := ctx.Stack[ci.StackEnt+ci.KDictReg]
	h, _ := v.Ref.(*values.HashObj)
	return h
}

// KeyP implements KEY_P(reg, sym): test keyword existence in a callee's
// kdict slot without removing it.
func keyP(kdict *values.HashObj, sym int64) bool {
	if kdict == nil {
		return false
	}
	_, ok := kdict.Get(values.Symbol(sym))
	return ok
}

// KArg implements KARG(reg, sym): pop-with-delete a keyword's value;
// default handling (Step in spec.md §4.4's final paragraph) falls to
// caller-supplied default-initializer bytecode when the key is absent.
func kArg(kdict *values.HashObj, sym int64) (values.Value, bool) {
	if kdict == nil {
		return values.Nil(), false
	}
	return kdict.Delete(values.Symbol(sym))
}

// KeyEnd implements KEYEND: raise ArgumentError if kdict is non-empty
// after all keyword binding has consumed its expected keys.
func (vm *VirtualMachine) keyEnd(ctx *Context, kdict *values.HashObj) error {
	if kdict != nil && kdict.Len() > 0 {
		return vm.raiseArgumentError(ctx, "unknown keyword")
	}
	return nil
}
