// Package runtime registers the native methods the bootstrapped
// well-known classes need so a loaded program has somewhere to dispatch
// Kernel/Object/Array/Hash/Fiber/Exception calls to. This is a consumer
// of vm and registry, not part of the execution core itself (spec.md §1
// scopes the core to the interpreter loop and its immediate
// dependencies); it is grounded on the teacher's runtime/exception.go
// class-descriptor registration idiom, adapted from building
// *registry.ClassDescriptor/*registry.Function pairs for a PHP object
// model onto defining values.MethodEntry/values.NativeFunc pairs
// directly against values.Class.Methods for this VM's object model.
package runtime

import (
	"fmt"

	"github.com/wudi/rbvm/config"
	"github.com/wudi/rbvm/values"
	"github.com/wudi/rbvm/vm"
)

// Bootstrap installs the native method set onto a freshly created
// VirtualMachine's well-known classes. Call once after vm.New(). sources
// is the config.Config.Sources DSN table (may be nil); it lets
// Database.new resolve a bare name like "primary" to its configured
// driver+dsn instead of requiring a full "driver:dsn" string every call
// site.
func Bootstrap(m *vm.VirtualMachine, sources map[string]config.DataSource) {
	wk := m.Registry.WellKnown
	sym := m.Registry.Symbols.Intern

	def := func(c *values.Class, name string, fn values.NativeFunc) {
		c.DefineMethod(sym(name), &values.MethodEntry{Native: fn})
	}

	// --- Kernel / Object ---
	def(wk.Kernel, "puts", kernelPuts)
	def(wk.Kernel, "print", kernelPrint)
	def(wk.Kernel, "p", kernelP)
	def(wk.Kernel, "raise", kernelRaise)
	def(wk.Kernel, "block_given?", kernelBlockGiven)
	def(wk.Object, "class", objectClass)
	def(wk.Object, "inspect", objectInspect)
	def(wk.Object, "to_s", objectInspect)
	def(wk.Object, "==", objectEq)
	def(wk.Object, "respond_to?", objectRespondTo)
	def(wk.Object, "is_a?", objectIsA)
	def(wk.Object, "send", objectSend)
	def(wk.Object, "instance_variable_get", objectIVarGet)
	def(wk.Object, "instance_variable_set", objectIVarSet)
	def(wk.Class, "new", classNew)
	def(wk.Object, "initialize", objectInitialize)

	// --- numeric/string/array/hash display ---
	def(wk.Fixnum, "to_s", numToS)
	def(wk.Float, "to_s", numToS)
	def(wk.String, "to_s", stringIdentity)
	def(wk.String, "length", stringLength)
	def(wk.String, "+", stringConcat)
	def(wk.Array, "length", arrayLength)
	def(wk.Array, "push", arrayPush)
	def(wk.Array, "[]", arrayIndex)
	def(wk.Array, "each", arrayEach)
	def(wk.Hash, "[]", hashIndex)
	def(wk.Hash, "[]=", hashIndexSet)

	// --- Exception ---
	def(wk.Exception, "initialize", excInitialize)
	def(wk.Exception, "message", excMessage)
	def(wk.Exception, "to_s", excMessage)

	// --- Fiber ---
	def(wk.Fiber, "resume", fiberResume)
	def(wk.Fiber, "alive?", fiberAlive)
	def(wk.Fiber, "transfer", fiberTransfer)

	// --- Database (runtime/db) ---
	database := bootstrapDatabase(m, sources)

	// --- SecureRandom / Ed25519Key (runtime/secure) ---
	bootstrapSecure(m)

	// GETCONST resolves top-level names against Object's constant table
	// (vm/dispatch.go's getConst falls back to it); register every
	// bootstrapped class there so bytecode can reach "Array", "Hash",
	// "Fiber", "Database", and friends by name, the way OP_CLASS does
	// automatically for classes a program defines itself.
	for _, c := range []*values.Class{
		wk.Object, wk.Module, wk.Class, wk.Proc, wk.Array, wk.Hash, wk.Range,
		wk.String, wk.Fixnum, wk.Float, wk.TrueClass, wk.FalseClass,
		wk.NilClass, wk.Symbol, wk.Kernel, wk.Fiber,
		wk.Exception, wk.StandardError, wk.ArgumentError, wk.TypeError,
		wk.LocalJumpError, wk.NoMethodError, wk.NotImplementedError,
		wk.RuntimeError, wk.FiberError, wk.ZeroDivisionError, database,
	} {
		wk.Object.Consts[sym(c.Name)] = values.NewClassValue(c)
	}
}

func vmOf(raw interface{}) *vm.VirtualMachine { return raw.(*vm.VirtualMachine) }

func kernelPuts(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	if len(args) == 0 {
		fmt.Println()
	}
	for _, a := range args {
		fmt.Println(displayString(a))
	}
	return values.Nil(), nil
}

func kernelPrint(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	for _, a := range args {
		fmt.Print(displayString(a))
	}
	return values.Nil(), nil
}

func kernelP(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	for _, a := range args {
		fmt.Println(a.String())
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return values.Nil(), nil
}

func kernelRaise(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	if len(args) == 0 {
		exc := values.NewException(m.Registry.WellKnown.RuntimeError, "unhandled exception")
		return values.Nil(), m.Raise(m.Current, exc)
	}
	if args[0].IsClass() {
		msg := "unhandled exception"
		if len(args) > 1 && args[1].IsString() {
			msg = args[1].Ref.(*values.StringObj).Str
		}
		cls := args[0].Ref.(*values.Class)
		exc := values.NewException(cls, msg)
		return values.Nil(), m.Raise(m.Current, exc)
	}
	return values.Nil(), m.Raise(m.Current, args[0])
}

func kernelBlockGiven(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	return values.Bool(block != nil), nil
}

func objectInitialize(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	return values.Nil(), nil
}

func objectClass(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return values.NewClassValue(values.ClassOf(self, m.Registry.WellKnown)), nil
}

func objectInspect(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return values.NewString(m.Registry.WellKnown.String, self.String()), nil
}

func objectEq(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	if len(args) == 0 {
		return values.False(), nil
	}
	other := args[0]
	if self.Type != other.Type {
		return values.False(), nil
	}
	if self.Ref != nil || other.Ref != nil {
		return values.Bool(self.Ref == other.Ref), nil
	}
	return values.Bool(self.Num == other.Num && self.Flo == other.Flo), nil
}

func objectRespondTo(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	if len(args) == 0 || !args[0].IsSymbol() {
		return values.False(), nil
	}
	cls := values.ClassOf(self, m.Registry.WellKnown)
	entry, _ := values.MethodSearch(cls, args[0].SymbolID())
	return values.Bool(entry != nil), nil
}

func objectIsA(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	if len(args) == 0 || !args[0].IsClass() {
		return values.False(), nil
	}
	target := args[0].Ref.(*values.Class)
	for c := values.ClassOf(self, m.Registry.WellKnown); c != nil; c = c.Super {
		if c == target {
			return values.True(), nil
		}
	}
	return values.False(), nil
}

func objectSend(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	blockVal := values.Nil()
	if block != nil {
		blockVal = values.NewProcValue(block)
	}
	return m.FSend(m.Current, self, args, blockVal)
}

func objectIVarGet(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	if len(args) == 0 || !args[0].IsSymbol() {
		return values.Nil(), nil
	}
	if obj, ok := self.Ref.(*values.Object); ok {
		return obj.IVars[args[0].SymbolID()], nil
	}
	return values.Nil(), nil
}

func objectIVarSet(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	if len(args) < 2 || !args[0].IsSymbol() {
		return values.Nil(), nil
	}
	if obj, ok := self.Ref.(*values.Object); ok {
		obj.IVars[args[0].SymbolID()] = args[1]
	}
	return args[1], nil
}

func numToS(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return values.NewString(m.Registry.WellKnown.String, self.String()), nil
}

func stringIdentity(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	return self, nil
}

func stringLength(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	s, _ := self.Ref.(*values.StringObj)
	if s == nil {
		return values.Fixnum(0), nil
	}
	return values.Fixnum(int64(len([]rune(s.Str)))), nil
}

func stringConcat(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	s, _ := self.Ref.(*values.StringObj)
	var other string
	if len(args) > 0 {
		other = displayString(args[0])
	}
	base := ""
	if s != nil {
		base = s.Str
	}
	return values.NewString(m.Registry.WellKnown.String, base+other), nil
}

func arrayLength(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	a, _ := self.Ref.(*values.ArrayObj)
	if a == nil {
		return values.Fixnum(0), nil
	}
	return values.Fixnum(int64(len(a.Elems))), nil
}

func arrayPush(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	a, _ := self.Ref.(*values.ArrayObj)
	if a == nil {
		return self, nil
	}
	a.Elems = append(a.Elems, args...)
	return self, nil
}

func arrayIndex(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	a, _ := self.Ref.(*values.ArrayObj)
	if a == nil || len(args) == 0 || !args[0].IsFixnum() {
		return values.Nil(), nil
	}
	i := int(args[0].FixnumValue())
	if i < 0 {
		i += len(a.Elems)
	}
	if i < 0 || i >= len(a.Elems) {
		return values.Nil(), nil
	}
	return a.Elems[i], nil
}

func arrayEach(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	a, _ := self.Ref.(*values.ArrayObj)
	if a == nil || block == nil {
		return self, nil
	}
	for _, elem := range a.Elems {
		if _, err := m.YieldArgv(m.Current, block, []values.Value{elem}); err != nil {
			return values.Nil(), err
		}
	}
	return self, nil
}

func hashIndex(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	h, _ := self.Ref.(*values.HashObj)
	if h == nil || len(args) == 0 {
		return values.Nil(), nil
	}
	v, _ := h.Get(args[0])
	return v, nil
}

func hashIndexSet(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	h, _ := self.Ref.(*values.HashObj)
	if h == nil || len(args) < 2 {
		return values.Nil(), nil
	}
	h.Set(args[0], args[1])
	return args[1], nil
}

func excInitialize(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	exc, _ := self.Ref.(*values.ExceptionObj)
	if exc != nil && len(args) > 0 {
		exc.Message = displayString(args[0])
	}
	return values.Nil(), nil
}

func excMessage(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	exc, _ := self.Ref.(*values.ExceptionObj)
	if exc == nil {
		return values.NewString(m.Registry.WellKnown.String, ""), nil
	}
	return values.NewString(m.Registry.WellKnown.String, exc.Message), nil
}

// classNew implements the generic `SomeClass.new(...)` constructor
// protocol: allocate an instance and dispatch #initialize, with a
// special case for Fiber (whose "instance" is a coroutine handle rather
// than an IVar-bearing Object, so allocation works differently).
func classNew(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	cls, _ := self.Ref.(*values.Class)
	if cls == nil {
		return values.Nil(), fmt.Errorf("new called on non-class")
	}
	if cls == m.Registry.WellKnown.Fiber {
		if block == nil {
			return values.Nil(), fmt.Errorf("Fiber.new requires a block")
		}
		return m.NewFiber(block), nil
	}
	instance := values.NewObject(cls)
	if _, err := m.FuncallArgv(m.Current, instance, "initialize", args, values.Nil()); err != nil {
		return values.Nil(), err
	}
	return instance, nil
}

func fiberResume(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return m.Resume(m.Current, self, args)
}

func fiberAlive(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return values.Bool(m.Alive(self)), nil
}

func fiberTransfer(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return m.Transfer(m.Current, self, args)
}

func displayString(v values.Value) string {
	if s, ok := v.Ref.(*values.StringObj); ok {
		return s.Str
	}
	return v.String()
}
