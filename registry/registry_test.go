package registry

import (
	"testing"

	"github.com/wudi/rbvm/values"
)

func TestNewWiresWellKnownSuperchain(t *testing.T) {
	r := New()
	wk := r.WellKnown
	if wk.Object.Super != nil {
		t.Fatal("Object must have no superclass")
	}
	if wk.String.Super != wk.Object || wk.Array.Super != wk.Object {
		t.Fatal("expected String/Array to descend directly from Object")
	}
	if wk.Class.Header.Class != wk.Class {
		t.Fatalf("expected Class's own header to be bootstrapped before DefineClass is ever called; got %v", wk.Class.Header.Class)
	}
}

func TestDefineClassDefaultsToObjectSuper(t *testing.T) {
	r := New()
	c := r.DefineClass("Widget", nil)
	if c.Super != r.WellKnown.Object {
		t.Fatal("expected a nil super to default to Object")
	}
	if c.Header.Class != r.WellKnown.Class {
		t.Fatal("expected the new class's header to point at the Class metaclass")
	}
}

func TestGlobalsRoundTrip(t *testing.T) {
	r := New()
	sym := r.Symbols.Intern("$counter")
	if got := r.GetGlobal(sym); !got.IsNil() {
		t.Fatalf("expected an unset global to read as nil, got %v", got)
	}
	r.SetGlobal(sym, values.Fixnum(7))
	if got := r.GetGlobal(sym); got.IsNil() {
		t.Fatal("expected the set global to persist")
	}
}
