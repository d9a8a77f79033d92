package vm

import "github.com/wudi/rbvm/values"

// CallInfo is a record per active call (spec.md §3.5). Ported from the
// teacher's call_stack.go frame-manager idiom, generalized from PHP call
// frames to mruby's full callinfo shape (target class, acc, ridx/epos
// snapshots for unwind).
type CallInfo struct {
	MethodID     int64
	Proc         *values.Proc
	StackEnt     int // stack base on entry
	RescueIdx    int // rescue-stack index snapshot at entry
	EnsurePos    int // ensure-stack position snapshot at entry
	Env          *values.Env
	PC           int
	ErrorPC      int
	Argc         int // negative means "packed into one array on the stack"
	Acc          int // caller register to receive return; negative = "return to caller code path"
	TargetClass  *values.Class

	// KDictReg is the register ENTER placed the keyword dictionary into
	// (spec.md §4.4 step 6), or 0 if this call has no keyword dict (self
	// always occupies register 0, so a kdict register is never 0).
	// KEY_P/KARG/KEYEND read it from here rather than re-deriving it.
	KDictReg int

	// Cached bytecode-execution tables, refreshed on entering a bytecode
	// callee (spec.md §4.6's "four tables" note).
	Irep *values.Irep
}

// PushCallInfo grows the callinfo stack (capacity doubles, per spec.md
// §4.1) and appends ci.
func (c *Context) PushCallInfo(ci *CallInfo) {
	c.CallInfos = append(c.CallInfos, ci)
}

// PopCallInfo removes and returns the innermost callinfo.
func (c *Context) PopCallInfo() *CallInfo {
	if len(c.CallInfos) == 0 {
		return nil
	}
	ci := c.CallInfos[len(c.CallInfos)-1]
	c.CallInfos = c.CallInfos[:len(c.CallInfos)-1]
	return ci
}

// EnsureStackCapacity grows the register stack so that at least
// requested additional slots are available beyond the current top,
// implementing spec.md §4.1's growth policy: linear +128 if the request
// is <=128, otherwise grow by exactly the request; never doubling. The
// absolute cap is c.maxStackSize (config.StackConfig.MaxRegisters, or the
// built-in default); exceeding it returns false so the caller can raise
// the pre-allocated stack-overflow exception (spec.md P2).
func (c *Context) EnsureStackCapacity(requested int) bool {
	needed := c.StackTop + requested
	if needed > c.maxStackSize {
		return false
	}
	if needed <= len(c.Stack) {
		return true
	}
	growBy := stackGrowLinear
	if requested > stackGrowLinear {
		growBy = requested
	}
	newSize := len(c.Stack) + growBy
	if newSize > c.maxStackSize {
		newSize = c.maxStackSize
	}
	if newSize < needed {
		return false
	}
	c.growStackTo(newSize)
	return true
}

// growStackTo reallocates the register stack to newSize and fixes up
// every pointer that referred into the old buffer (spec.md §4.1's
// pointer fix-up, P3): each live callinfo's StackEnt is an index so it
// needs no rebasing by itself, but every environment still
// shared-on-stack and belonging to this context has its slice rebased
// because Go slices (unlike C pointers) do not follow a realloc.
func (c *Context) growStackTo(newSize int) {
	old := c.Stack
	newStack := make([]values.Value, newSize)
	copy(newStack, old)
	c.Stack = newStack

	for _, ci := range c.CallInfos {
		if ci.Env != nil && !ci.Env.Unshared && ci.Env.Context == c {
			base := ci.Env.StackBase
			length := len(ci.Env.Slots)
			ci.Env.Slots = c.Stack[base : base+length]
		}
		if ci.Proc != nil && ci.Proc.Env != nil && !ci.Proc.Env.Unshared && ci.Proc.Env.Context == c && ci.Proc.Env != ci.Env {
			base := ci.Proc.Env.StackBase
			length := len(ci.Proc.Env.Slots)
			ci.Proc.Env.Slots = c.Stack[base : base+length]
		}
	}
}
