package vm

import (
	"sync"

	"github.com/wudi/rbvm/values"
)

// Status is a fiber execution context's lifecycle state (spec.md §3.6,
// the numeric ordering matches mruby's mrb_fiber_state enum).
type Status byte

const (
	StatusCreated Status = iota
	StatusRunning
	StatusResumed
	StatusSuspended
	StatusTransferred
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusResumed:
		return "resumed"
	case StatusSuspended:
		return "suspended"
	case StatusTransferred:
		return "transferred"
	case StatusTerminated:
		return "terminated"
	}
	return "unknown"
}

const (
	initialStackSize  = 128
	initialCallInfos  = 32
	stackGrowLinear   = 128
	maxStackSize      = 262144 - 128
	initialRescueSize = 16
	maxRescueSize     = 65535
	maxEnsureNesting  = 512
)

// Context owns one coroutine's worth of execution state: the register
// stack, the callinfo stack, the rescue/ensure stacks, and a link to its
// resumer (spec.md §3.6). Ported from the teacher's ExecutionContext
// (vm/context.go), generalized from "one PHP call stack" to a full fiber.
type Context struct {
	Prev *Context

	Stack    []values.Value
	StackTop int // index of the next free slot

	CallInfos []*CallInfo

	RescueStack []int // bytecode offsets pushed by ONERR
	EnsureStack []*values.Proc

	Status             Status
	NeedsVMReentry     bool
	Fiber              *values.Value // back-pointer to the wrapping Fiber value, if any
	channels           *fiberChannels
	ensureNestingDepth int

	debugMu  sync.Mutex
	debugLog []string

	// Ceilings below default to the package constants above but can be
	// narrowed (never widened past the absolute constants) by a loaded
	// config.StackConfig via VirtualMachine.ApplyStackConfig. A fiber
	// context inherits whatever its VM was configured with (NewFiber).
	maxStackSize     int
	maxRescueSize    int
	maxEnsureNesting int
}

// NewContext allocates a context with the initial stack sizes spec.md
// §4.1 mandates (128 register slots, 32 callinfo slots) and the built-in
// stack/rescue/ensure ceilings.
func NewContext() *Context {
	return &Context{
		Stack:            make([]values.Value, initialStackSize),
		CallInfos:        make([]*CallInfo, 0, initialCallInfos),
		RescueStack:      make([]int, 0, initialRescueSize),
		EnsureStack:      make([]*values.Proc, 0, initialRescueSize),
		Status:           StatusCreated,
		maxStackSize:     maxStackSize,
		maxRescueSize:    maxRescueSize,
		maxEnsureNesting: maxEnsureNesting,
	}
}

// CurrentCallInfo returns the innermost active call, or nil if the
// context has no active call (freshly created, or fully unwound).
func (c *Context) CurrentCallInfo() *CallInfo {
	if len(c.CallInfos) == 0 {
		return nil
	}
	return c.CallInfos[len(c.CallInfos)-1]
}

// Regs returns the live register window for the given call frame's
// stackent, i.e. the slice starting at that base through the current
// stack top.
func (c *Context) Regs(stackent int) []values.Value {
	return c.Stack[stackent:c.StackTop]
}

// appendDebugRecord records an entry for later inspection via
// VirtualMachine.GetDebugReport, gated by the VM's debug level (OP_DEBUG).
func (c *Context) appendDebugRecord(record string) {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	c.debugLog = append(c.debugLog, record)
}

// drainDebugRecords returns a copy of the accumulated debug log.
func (c *Context) drainDebugRecords() []string {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	out := make([]string, len(c.debugLog))
	copy(out, c.debugLog)
	return out
}
