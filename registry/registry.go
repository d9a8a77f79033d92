package registry

import (
	"sync"

	"github.com/wudi/rbvm/values"
)

// Registry is the VM-wide lookup table: interned symbols, global
// variables, and the well-known singleton classes spec.md §3.7 requires
// class_of to be total against. It does not itself construct the method
// tables hung off those classes — runtime.Bootstrap (a consumer, not part
// of the core) populates their method tables and the exception hierarchy.
type Registry struct {
	Symbols *SymbolTable

	mu      sync.RWMutex
	globals map[int64]values.Value

	WellKnown *values.WellKnownClasses
}

// New creates a Registry with the core well-known classes wired to each
// other (Object <- Module <- Class, etc) but empty method tables; callers
// (runtime.Bootstrap) populate native methods afterward.
func New() *Registry {
	r := &Registry{
		Symbols: NewSymbolTable(),
		globals: make(map[int64]values.Value),
	}
	r.bootstrapCoreClasses()
	return r
}

func (r *Registry) bootstrapCoreClasses() {
	wk := &values.WellKnownClasses{}

	wk.Object = values.NewClass("Object", nil, values.KindClass)
	wk.Module = values.NewClass("Module", wk.Object, values.KindClass)
	wk.Class = values.NewClass("Class", wk.Module, values.KindClass)
	wk.Kernel = values.NewClass("Kernel", nil, values.KindModule)

	wk.Proc = values.NewClass("Proc", wk.Object, values.KindClass)
	wk.Array = values.NewClass("Array", wk.Object, values.KindClass)
	wk.Hash = values.NewClass("Hash", wk.Object, values.KindClass)
	wk.Range = values.NewClass("Range", wk.Object, values.KindClass)
	wk.String = values.NewClass("String", wk.Object, values.KindClass)
	wk.Fixnum = values.NewClass("Integer", wk.Object, values.KindClass)
	wk.Float = values.NewClass("Float", wk.Object, values.KindClass)
	wk.TrueClass = values.NewClass("TrueClass", wk.Object, values.KindClass)
	wk.FalseClass = values.NewClass("FalseClass", wk.Object, values.KindClass)
	wk.NilClass = values.NewClass("NilClass", wk.Object, values.KindClass)
	wk.Symbol = values.NewClass("Symbol", wk.Object, values.KindClass)
	wk.Fiber = values.NewClass("Fiber", wk.Object, values.KindClass)

	r.WellKnown = wk

	// Class headers point at their own metaclass-like Class object; the
	// core does not model a full singleton-class chain for the
	// bootstrapped classes themselves (that belongs to the out-of-scope
	// class/method table construction component) so it simply points
	// each class's header at Class.
	for _, c := range []*values.Class{
		wk.Object, wk.Module, wk.Class, wk.Kernel, wk.Proc, wk.Array, wk.Hash,
		wk.Range, wk.String, wk.Fixnum, wk.Float, wk.TrueClass, wk.FalseClass,
		wk.NilClass, wk.Symbol, wk.Fiber,
	} {
		c.Header.Class = wk.Class
	}
}

// DefineClass registers a new named class under super (or Object if nil)
// and returns it, for runtime.Bootstrap and domain extensions to use when
// adding classes beyond the well-known set.
func (r *Registry) DefineClass(name string, super *values.Class) *values.Class {
	if super == nil {
		super = r.WellKnown.Object
	}
	c := values.NewClass(name, super, values.KindClass)
	c.Header.Class = r.WellKnown.Class
	return c
}

// GetGlobal/SetGlobal implement the global-variable table named in
// spec.md §3.7 and read/written by GETGV/SETGV.
func (r *Registry) GetGlobal(sym int64) values.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.globals[sym]; ok {
		return v
	}
	return values.Nil()
}

func (r *Registry) SetGlobal(sym int64, v values.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[sym] = v
}
