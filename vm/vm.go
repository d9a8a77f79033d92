// Package vm implements the execution core: value/class model consumer,
// call-frame stack, instruction dispatch, argument marshalling, the
// exception/ensure unwind machinery, and fiber context switching.
package vm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"

	"github.com/wudi/rbvm/config"
	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/registry"
	"github.com/wudi/rbvm/values"
)

// VirtualMachine is the process-wide state spec.md §3.7 describes: the
// currently running context, the root context, the pending exception (if
// any), well-known classes, the symbol table (via Registry), and a
// profiler/debug layer carried over from the teacher's instrumentation
// idiom (vm/vm.go's profile/debugLevel fields).
type VirtualMachine struct {
	Registry *registry.Registry

	Root    *Context
	Current *Context

	CurrentException *values.Value

	preallocStackOverflow values.Value
	preallocNoMemory      values.Value

	atexit []func()

	profile    *profileState
	debugLevel int
}

type profileState struct {
	mu        sync.Mutex
	startedAt time.Time
	opCounts  map[opcodes.Opcode]int64
	totalOps  int64
	enabled   bool
}

// New creates a VirtualMachine with a freshly bootstrapped registry, a
// root context, and the two pre-allocated non-recoverable exceptions
// spec.md §3.7 requires (so raising them never needs to allocate).
func New() *VirtualMachine {
	reg := registry.New()
	root := NewContext()
	root.Status = StatusRunning

	vm := &VirtualMachine{
		Registry: reg,
		Root:     root,
		Current:  root,
		profile: &profileState{
			startedAt: time.Now(),
			opCounts:  make(map[opcodes.Opcode]int64),
			enabled:   true,
		},
	}
	vm.bootstrapExceptionHierarchy()
	vm.preallocStackOverflow = values.NewException(vm.Registry.WellKnown.RuntimeError, "stack level too deep")
	vm.preallocNoMemory = values.NewException(vm.Registry.WellKnown.RuntimeError, "failed to allocate memory")
	return vm
}

// ApplyStackConfig narrows this VM's register/rescue/ensure ceilings to
// cfg's values, clamped to the built-in maximums (a config file can only
// tighten the limits, never exceed the hard compile-time caps). Zero
// fields in cfg leave the corresponding ceiling untouched. It rewrites
// Root's ceilings in place; any fiber context created afterward inherits
// them via NewFiber.
func (vm *VirtualMachine) ApplyStackConfig(cfg config.StackConfig) {
	if cfg.MaxRegisters > 0 {
		vm.Root.maxStackSize = clampMax(cfg.MaxRegisters, maxStackSize)
	}
	if cfg.MaxEnsureDepth > 0 {
		vm.Root.maxEnsureNesting = clampMax(cfg.MaxEnsureDepth, maxEnsureNesting)
	}
	if cfg.MaxRescueSize > 0 {
		vm.Root.maxRescueSize = clampMax(cfg.MaxRescueSize, maxRescueSize)
	}
}

func clampMax(requested, hardMax int) int {
	if requested > hardMax {
		return hardMax
	}
	return requested
}

// SetDebugLevel sets the profiler/breakpoint verbosity level (spec.md
// §3.7's debug_level field), read by the DEBUG instruction in the dispatch
// loop: while it is above zero, each DEBUG leaves a record via
// appendDebugRecord.
func (vm *VirtualMachine) SetDebugLevel(level int) {
	vm.debugLevel = level
}

// DebugLevel reports the current debug verbosity.
func (vm *VirtualMachine) DebugLevel() int {
	return vm.debugLevel
}

func (vm *VirtualMachine) bumpProfile(op opcodes.Opcode) {
	if vm.profile == nil {
		return
	}
	vm.profile.mu.Lock()
	if vm.profile.enabled {
		vm.profile.opCounts[op]++
		vm.profile.totalOps++
	}
	vm.profile.mu.Unlock()
}

// SetProfilingEnabled toggles whether the instruction dispatch loop keeps
// bumping the opcode-frequency profile (config.DebugConfig.Profile). It
// starts enabled; disabling it avoids the per-instruction mutex and map
// traffic for a VM that doesn't want GetPerformanceReport.
func (vm *VirtualMachine) SetProfilingEnabled(enabled bool) {
	vm.profile.mu.Lock()
	vm.profile.enabled = enabled
	vm.profile.mu.Unlock()
}

// GetPerformanceReport renders the opcode-frequency profile collected
// since New(), using go-humanize for readable counts/durations and
// go-strftime for the report timestamp — carried over from the teacher's
// profiler/debug instrumentation, re-grounded on this opcode set.
func (vm *VirtualMachine) GetPerformanceReport() string {
	vm.profile.mu.Lock()
	defer vm.profile.mu.Unlock()

	elapsed := time.Since(vm.profile.startedAt)
	stamp, _ := strftime.Format("%Y-%m-%d %H:%M:%S", time.Now())
	report := fmt.Sprintf("VM performance report @ %s\n", stamp)
	report += fmt.Sprintf("  uptime: %s\n", humanize.RelTime(vm.profile.startedAt, time.Now(), "ago", "from now"))
	report += fmt.Sprintf("  instructions executed: %s (%s)\n", humanize.Comma(vm.profile.totalOps), elapsed)
	for op, count := range vm.profile.opCounts {
		if count == 0 {
			continue
		}
		report += fmt.Sprintf("    %-12s %s\n", op, humanize.Comma(count))
	}
	return report
}

// GetDebugReport returns the debug log accumulated by Current's context
// while vm.debugLevel was above zero (OP_DEBUG records, via
// Context.appendDebugRecord).
func (vm *VirtualMachine) GetDebugReport() string {
	if vm.Current == nil {
		return ""
	}
	return strings.Join(vm.Current.drainDebugRecords(), "\n")
}

// AtExit registers a cleanup routine run by Shutdown, mirroring
// spec.md §3.7's "atexit stack".
func (vm *VirtualMachine) AtExit(fn func()) {
	vm.atexit = append(vm.atexit, fn)
}

func (vm *VirtualMachine) Shutdown() {
	for i := len(vm.atexit) - 1; i >= 0; i-- {
		vm.atexit[i]()
	}
}

// --- public entry points (spec.md §6.1) ---

// Run implements vm_run: ensure the register stack holds at least
// proc.irep.nregs slots, place self at slot 0, dispatch, and return the
// result (or the pending exception as a value).
func (vm *VirtualMachine) Run(ctx *Context, proc *values.Proc, self values.Value, stackKeep int) (values.Value, error) {
	if proc.Body.IsNative() {
		return proc.Body.Native(vm, self, nil, nil)
	}
	irep := proc.Body.Bytecode
	needed := irep.NRegs
	if needed < stackKeep {
		needed = stackKeep
	}
	if !ctx.EnsureStackCapacity(needed) {
		return values.Nil(), vm.StackOverflowError()
	}
	base := ctx.StackTop
	ctx.Stack[base] = self
	for i := stackKeep; i < needed; i++ {
		ctx.Stack[base+i] = values.Nil()
	}
	ctx.StackTop = base + needed

	depthBefore := len(ctx.CallInfos)
	ci := &CallInfo{
		StackEnt:    base,
		RescueIdx:   len(ctx.RescueStack),
		EnsurePos:   len(ctx.EnsureStack),
		Argc:        stackKeep - 2,
		Acc:         -1,
		TargetClass: proc.TargetClass,
		Proc:        proc,
		Irep:        irep,
	}
	ctx.PushCallInfo(ci)

	result, err := vm.execBytecode(ctx, ci)
	for len(ctx.CallInfos) > depthBefore {
		ctx.PopCallInfo()
	}
	if err != nil {
		if vm.CurrentException != nil {
			return *vm.CurrentException, nil
		}
		return values.Nil(), err
	}
	return result, nil
}

// Exec implements vm_exec: dispatch loop entry used internally and by
// resumed fibers, starting at an explicit pc rather than proc's entry.
func (vm *VirtualMachine) Exec(ctx *Context, proc *values.Proc, initialPC int) (values.Value, error) {
	ci := ctx.CurrentCallInfo()
	if ci == nil {
		return values.Nil(), ErrNoUnwindBuffer
	}
	ci.PC = initialPC
	ci.Proc = proc
	ci.Irep = proc.Body.Bytecode
	return vm.execBytecode(ctx, ci)
}

// TopLevelRun implements top_run: if no call is active, behave as Run;
// otherwise push a minimal callinfo first so a raised exception unwinds
// cleanly to this caller (spec.md §6.1).
func (vm *VirtualMachine) TopLevelRun(ctx *Context, proc *values.Proc, self values.Value, stackKeep int) (values.Value, error) {
	if ctx.CurrentCallInfo() == nil {
		return vm.Run(ctx, proc, self, stackKeep)
	}
	ctx.PushCallInfo(&CallInfo{
		StackEnt:  ctx.StackTop,
		RescueIdx: len(ctx.RescueStack),
		EnsurePos: len(ctx.EnsureStack),
		Acc:       -1,
	})
	defer ctx.PopCallInfo()
	return vm.Run(ctx, proc, self, stackKeep)
}

// Funcall implements funcall: a public method-invocation helper. When no
// unwind buffer is installed it installs one locally (modeled here simply
// as "this call always catches its own unwind") and translates exceptions
// into return values rather than propagating Go errors for VM-internal
// control-flow sentinels.
func (vm *VirtualMachine) Funcall(ctx *Context, receiver values.Value, name string, args ...values.Value) (values.Value, error) {
	return vm.FuncallArgv(ctx, receiver, name, args, values.Nil())
}

func (vm *VirtualMachine) FuncallArgv(ctx *Context, receiver values.Value, name string, args []values.Value, block values.Value) (values.Value, error) {
	if len(args) > 16 {
		return values.Nil(), vm.raiseArgumentError(ctx, "too many arguments")
	}
	sym := vm.Registry.Symbols.Intern(name)
	result, err := vm.Send(ctx, SendOptions{Receiver: receiver, MethodID: sym, Argc: len(args), Args: args, Block: block, AccReg: -1})
	if err != nil {
		if vm.CurrentException != nil {
			exc := *vm.CurrentException
			vm.CurrentException = nil
			return exc, nil
		}
		return values.Nil(), err
	}
	return result, nil
}

func (vm *VirtualMachine) FuncallWithBlock(ctx *Context, receiver values.Value, name string, args []values.Value, block *values.Proc) (values.Value, error) {
	bv := values.Nil()
	if block != nil {
		bv = values.NewProcValue(block)
	}
	return vm.FuncallArgv(ctx, receiver, name, args, bv)
}

// YieldArgv implements yield_argv: invoke a block procedure with args.
func (vm *VirtualMachine) YieldArgv(ctx *Context, block *values.Proc, args []values.Value) (values.Value, error) {
	return vm.Yield(ctx, block, args)
}

// YieldWithClass implements yield_with_class: as YieldArgv, but executes
// under an explicit self/target-class override rather than the block's
// own captured self.
func (vm *VirtualMachine) YieldWithClass(ctx *Context, block *values.Proc, self values.Value, args []values.Value, targetClass *values.Class) (values.Value, error) {
	return vm.CallProc(ctx, block, self, args, nil, targetClass)
}

// FSend implements Kernel#send: resolves the target symbol from arg 0
// and re-shifts the remaining args in place (spec.md §6.1).
func (vm *VirtualMachine) FSend(ctx *Context, receiver values.Value, args []values.Value, block values.Value) (values.Value, error) {
	if len(args) == 0 {
		return values.Nil(), vm.raiseArgumentError(ctx, "no method name given")
	}
	if !args[0].IsSymbol() && !args[0].IsString() {
		return values.Nil(), vm.raiseTypeError(ctx, "method name must be a symbol or string")
	}
	var sym int64
	if args[0].IsSymbol() {
		sym = args[0].SymbolID()
	} else {
		sym = vm.Registry.Symbols.Intern(args[0].Ref.(*values.StringObj).Str)
	}
	return vm.Send(ctx, SendOptions{Receiver: receiver, MethodID: sym, Argc: len(args) - 1, Args: args[1:], Block: block, AccReg: -1})
}

// ModuleEval implements mod_module_eval: execute a block under the given
// module as target class.
func (vm *VirtualMachine) ModuleEval(ctx *Context, mod *values.Class, block *values.Proc) (values.Value, error) {
	return vm.CallProc(ctx, block, values.NewClassValue(mod), nil, nil, mod)
}

// InstanceEval implements obj_instance_eval: execute a block with target
// class set to receiver's singleton class for non-primitive receivers;
// primitives get a nil target class (spec.md §6.1).
func (vm *VirtualMachine) InstanceEval(ctx *Context, receiver values.Value, block *values.Proc) (values.Value, error) {
	var targetClass *values.Class
	if receiver.Type.IsObjectBearing() {
		targetClass = values.ClassOf(receiver, vm.Registry.WellKnown)
	}
	return vm.CallProc(ctx, block, receiver, nil, nil, targetClass)
}
