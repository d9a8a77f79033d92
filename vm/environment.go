package vm

import "github.com/wudi/rbvm/values"

// materializeEnv implements the implicit environment creation spec.md
// §4.2 describes: the first instruction that needs outer-scope access
// (GETUPVAR/SETUPVAR/BLKPUSH/ARGARY/closure creation) materializes an
// environment pointing into the active register window.
func (ctx *Context) materializeEnv(ci *CallInfo, localCount int) *values.Env {
	if ci.Env != nil {
		return ci.Env
	}
	slots := ctx.Stack[ci.StackEnt : ci.StackEnt+localCount]
	env := values.NewEnv(ctx, slots, ci.StackEnt, ci.MethodID)
	ci.Env = env
	return env
}

// captureEnv is called when a CLOSURE/LAMBDA instruction constructs a new
// procedure that closes over the current scope (spec.md §4.2 "Capture").
func (ctx *Context) captureEnv(ci *CallInfo, localCount int) *values.Env {
	return ctx.materializeEnv(ci, localCount)
}

// unshareEnv is called on call-frame pop (cipop): if the frame owned an
// environment still shared-on-stack and belonging to this context, it is
// copied to a freshly allocated heap slice and the flag flips to
// unshared (spec.md §4.2 "Unshare"). A write barrier would be emitted
// here by a cooperating GC; the core has none (out of scope) but the
// call site is preserved so a future collector has somewhere to hook in.
func (ctx *Context) unshareEnv(ci *CallInfo) {
	if ci.Env == nil || ci.Env.Unshared || ci.Env.Context != ctx {
		return
	}
	heapCopy := make([]values.Value, len(ci.Env.Slots))
	copy(heapCopy, ci.Env.Slots)
	ci.Env.Slots = heapCopy
	ci.Env.Unshared = true
	// write_barrier(ci.Env) would be called here.
}

// getUpVar implements GETUPVAR(dst, index, depth): walk the active
// procedure's upper chain depth times, obtain that procedure's captured
// environment, and read slot index. Missing environment or out-of-range
// index yields nil rather than erroring (spec.md §4.2).
func getUpVar(proc *values.Proc, depth, index int) values.Value {
	p := proc
	for i := 0; i < depth && p != nil; i++ {
		p = p.Upper
	}
	if p == nil || p.Env == nil {
		return values.Nil()
	}
	return p.Env.Get(index)
}

// setUpVar implements SETUPVAR symmetrically.
func setUpVar(proc *values.Proc, depth, index int, v values.Value) {
	p := proc
	for i := 0; i < depth && p != nil; i++ {
		p = p.Upper
	}
	if p == nil || p.Env == nil {
		return
	}
	p.Env.Set(index, v)
	// field_write_barrier(p.Env, v) would be called here.
}
