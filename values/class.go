package values

import "github.com/wudi/rbvm/opcodes"

// ClassKind distinguishes the four type-tag flavors a Class header can
// carry (spec.md §3.2).
type ClassKind byte

const (
	KindClass ClassKind = iota
	KindModule
	KindIClass
	KindSClass
)

// MethodEntry is either a native function pointer or a reference to a
// user-defined procedure (spec.md §3.2).
type MethodEntry struct {
	Native NativeFunc
	Proc   *Proc
}

func (m *MethodEntry) IsNative() bool { return m.Native != nil }

// NativeFunc is a built-in method implementation: (vm, self) -> value,
// given the full argument list and an optional block procedure. The vm
// parameter is typed interface{} to avoid an import cycle between values
// and vm (the teacher's values.Closure.Function field uses the same
// trick for the same reason).
type NativeFunc func(vm interface{}, self Value, args []Value, block *Proc) (Value, error)

// Class carries a superclass pointer, a method table, an instance
// variable name table, and a type tag (spec.md §3.2). It is itself
// object-bearing so that Class.Header.Class points at its own metaclass.
type Class struct {
	Header
	Name      string
	Kind      ClassKind
	Super     *Class
	Methods   map[int64]*MethodEntry
	IVarNames map[int64]bool
	Consts    map[int64]Value
}

func (c *Class) gcHeader() *Header { return &c.Header }

func NewClass(name string, super *Class, kind ClassKind) *Class {
	return &Class{
		Header:    Header{TypeTag: GCTypeClass},
		Name:      name,
		Kind:      kind,
		Super:     super,
		Methods:   make(map[int64]*MethodEntry),
		IVarNames: make(map[int64]bool),
		Consts:    make(map[int64]Value),
	}
}

func NewClassValue(c *Class) Value {
	t := TypeClass
	switch c.Kind {
	case KindModule:
		t = TypeModule
	case KindIClass:
		t = TypeIClass
	case KindSClass:
		t = TypeSClass
	}
	return Value{Type: t, Ref: c}
}

// MethodSearch walks the inheritance chain from cls looking for sym,
// implementing spec.md §3.2's method_search(cls, sym) -> (entry,
// defining_class).
func MethodSearch(cls *Class, sym int64) (*MethodEntry, *Class) {
	for c := cls; c != nil; c = c.Super {
		if e, ok := c.Methods[sym]; ok {
			return e, c
		}
	}
	return nil, nil
}

// DefineMethod installs sym -> entry directly on cls (no search).
func (c *Class) DefineMethod(sym int64, entry *MethodEntry) {
	c.Methods[sym] = entry
}

// Irep is an immutable unit of compiled bytecode: local count, register
// count, flags, instruction stream, constant pool, symbol table, nested
// sub-ireps, and a local-name table (spec.md §3.3). The core never
// constructs one from source — it only executes ireps handed to it by an
// external compiler, so this type is a pure data carrier.
type Irep struct {
	NLocals   int
	NRegs     int
	Flags     uint32
	ISeq      []opcodes.Instruction
	Pool      []Value
	Syms      []int64 // symbol ids used by the irep; the dispatch loop does not read it (operands carry symbol ids directly)
	Reps      []*Irep // nested sub-ireps (for block/closure literals)
	LocalVars []int64 // symbol ids of locals, for upvalue name resolution
	Filename  string
	Lines     []int
}

// ProcBody is the native-or-bytecode union described in spec.md §3.3.
type ProcBody struct {
	Native   NativeFunc
	Bytecode *Irep
}

func (p ProcBody) IsNative() bool { return p.Native != nil }

// Proc is a procedure value: native or bytecode, with an upper link to
// its lexically enclosing procedure and either a captured environment or
// a target-class reference, mutually exclusive and selected by HasEnv
// (spec.md §3.3).
type Proc struct {
	Header
	Upper       *Proc
	Body        ProcBody
	Env         *Env   // captured environment, when HasEnv is set
	TargetClass *Class // target class, when HasEnv is clear
	MethodID    int64  // the symbol this proc was defined/bound under, if any
}

func (p *Proc) gcHeader() *Header { return &p.Header }

func (p *Proc) IsMethod() bool      { return p.Flags&FlagIsMethod != 0 }
func (p *Proc) IsStrictScope() bool { return p.Flags&FlagIsStrictScope != 0 }
func (p *Proc) HasEnv() bool        { return p.Flags&FlagHasEnv != 0 }

func NewNativeProc(fn NativeFunc, targetClass *Class) *Proc {
	return &Proc{Header: Header{TypeTag: GCTypeProc}, Body: ProcBody{Native: fn}, TargetClass: targetClass}
}

func NewBytecodeProc(irep *Irep, upper *Proc, env *Env, targetClass *Class) *Proc {
	p := &Proc{Header: Header{TypeTag: GCTypeProc}, Body: ProcBody{Bytecode: irep}, Upper: upper}
	if env != nil {
		p.Env = env
		p.Flags |= FlagHasEnv
	} else {
		p.TargetClass = targetClass
	}
	return p
}

func NewProcValue(p *Proc) Value { return Value{Type: TypeProc, Ref: p} }

// Env is a heap-liftable local frame (spec.md §3.4): a slice of values
// initially aliasing the live register stack, later copied to its own
// heap-owned slice when unshared. StackBase records the slice's position
// in the owning context's register stack while shared;
// once Unshared is true, Slots is the sole owner of the backing array.
type Env struct {
	Header
	Slots     []Value
	Context   interface{} // owning *vm.Context; interface{} to avoid an import cycle
	MethodID  int64
	Unshared  bool
	StackBase int // index into the context's register stack, while shared
}

func (e *Env) gcHeader() *Header { return &e.Header }

// Len returns the scope's recorded local count (the low bits of flags in
// the spec's C representation; modeled here as the length of Slots since
// Go has no bitfield packing pressure to justify cramming it into Flags).
func (e *Env) Len() int { return len(e.Slots) }

func NewEnv(ctx interface{}, slots []Value, base int, methodID int64) *Env {
	return &Env{Header: Header{TypeTag: GCTypeEnv}, Slots: slots, Context: ctx, StackBase: base, MethodID: methodID}
}

// Get/Set implement GETUPVAR/SETUPVAR's leaf access once the right
// environment and index have been found; out-of-range reads yield nil
// per spec.md §4.2 rather than panicking.
func (e *Env) Get(index int) Value {
	if e == nil || index < 0 || index >= len(e.Slots) {
		return Nil()
	}
	return e.Slots[index]
}

func (e *Env) Set(index int, v Value) {
	if e == nil || index < 0 || index >= len(e.Slots) {
		return
	}
	e.Slots[index] = v
}

// WellKnownClasses is the VM-wide table of singleton classes for
// primitive values plus the handful of core classes the dispatch loop
// references directly (spec.md §3.7).
type WellKnownClasses struct {
	Object, Class, Module    *Class
	Proc, Array, Hash, Range *Class
	String, Fixnum, Float    *Class
	TrueClass, FalseClass    *Class
	NilClass, Symbol         *Class
	Kernel                   *Class
	Exception, StandardError *Class
	ArgumentError            *Class
	TypeError                *Class
	LocalJumpError           *Class
	NoMethodError            *Class
	NotImplementedError      *Class
	RuntimeError             *Class
	FiberError               *Class
	ZeroDivisionError        *Class
	Fiber                    *Class
}
