// Package values defines the tagged runtime value representation the core
// operates on: the nil/false/true/fixnum/float/symbol immediates and the
// object-reference variants that share a common header.
package values

import (
	"fmt"
	"math"
)

// Type is the tag discriminating a Value's variant.
type Type byte

const (
	TypeNil Type = iota
	TypeFalse
	TypeTrue
	TypeFixnum
	TypeFloat
	TypeSymbol
	TypeObject
	TypeClass
	TypeModule
	TypeIClass
	TypeSClass
	TypeProc
	TypeArray
	TypeHash
	TypeString
	TypeRange
	TypeException
	TypeEnv
	TypeFiber
	TypeBreak
	TypeData
	TypeIStruct
	TypeCPtr
	TypeFile
	TypeUndef
	TypeFree
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeFalse:
		return "false"
	case TypeTrue:
		return "true"
	case TypeFixnum:
		return "fixnum"
	case TypeFloat:
		return "float"
	case TypeSymbol:
		return "symbol"
	case TypeObject:
		return "object"
	case TypeClass:
		return "class"
	case TypeModule:
		return "module"
	case TypeIClass:
		return "iclass"
	case TypeSClass:
		return "sclass"
	case TypeProc:
		return "proc"
	case TypeArray:
		return "array"
	case TypeHash:
		return "hash"
	case TypeString:
		return "string"
	case TypeRange:
		return "range"
	case TypeException:
		return "exception"
	case TypeEnv:
		return "env"
	case TypeFiber:
		return "fiber"
	case TypeBreak:
		return "break"
	case TypeData:
		return "data"
	case TypeIStruct:
		return "istruct"
	case TypeCPtr:
		return "cptr"
	case TypeFile:
		return "file"
	case TypeUndef:
		return "undef"
	case TypeFree:
		return "free"
	}
	return "unknown"
}

// IsObjectBearing reports whether values of this type carry an *Object
// header (class pointer, gc metadata) rather than being an immediate.
func (t Type) IsObjectBearing() bool {
	return t >= TypeObject
}

// GCColor is the tri-color mark used by a cooperating collector. The core
// itself does not implement a collector (out of scope); it only carries
// the field and the write-barrier call sites the GC needs.
type GCColor byte

const (
	GCWhite GCColor = iota
	GCGray
	GCBlack
)

// ObjectFlags are per-object bits layered on top of the common header.
type ObjectFlags uint32

const (
	FlagFrozen ObjectFlags = 1 << iota
	FlagIsMethod
	FlagIsStrictScope
	FlagHasEnv
)

// Header is the common prefix every object-bearing value variant begins
// with: a type tag, a GC mark color, generic flags, the owning class, and
// a GC-managed link used by the (external) collector to chain live
// objects. It is embedded by Object, Class, Proc, Array, Hash, and every
// other heap-allocated variant.
type Header struct {
	TypeTag GCObjectType
	Color   GCColor
	Flags   ObjectFlags
	Class   *Class
	GCLink  GCObject
}

// GCObjectType further distinguishes object-bearing values beyond Type,
// matching the tag the header itself carries independent of the Value
// wrapper (needed once an object outlives the Value that pointed to it).
type GCObjectType byte

const (
	GCTypeObject GCObjectType = iota
	GCTypeClass
	GCTypeModule
	GCTypeIClass
	GCTypeSClass
	GCTypeProc
	GCTypeArray
	GCTypeHash
	GCTypeString
	GCTypeRange
	GCTypeException
	GCTypeEnv
	GCTypeFiber
	GCTypeBreak
	GCTypeData
	GCTypeIStruct
	GCTypeCPtr
	GCTypeFile
)

// GCObject is implemented by every object-bearing payload; it lets the
// (external) collector walk the object graph without a full type switch.
type GCObject interface {
	gcHeader() *Header
}

// Value is the tagged value the dispatch loop pushes and pops from the
// register stack. Fixnum/Float/Symbol are carried inline; every other
// non-immediate variant stores a pointer to its payload in Ref.
type Value struct {
	Type Type
	Num  int64       // fixnum payload, or symbol id
	Flo  float64     // float payload
	Ref  interface{} // object-bearing payload (one of the *T types below)
}

// --- immediates ---

var (
	vNil   = Value{Type: TypeNil}
	vFalse = Value{Type: TypeFalse}
	vTrue  = Value{Type: TypeTrue}
)

func Nil() Value   { return vNil }
func False() Value { return vFalse }
func True() Value  { return vTrue }

func Bool(b bool) Value {
	if b {
		return vTrue
	}
	return vFalse
}

func Fixnum(i int64) Value { return Value{Type: TypeFixnum, Num: i} }
func Float(f float64) Value { return Value{Type: TypeFloat, Flo: f} }
func Symbol(id int64) Value { return Value{Type: TypeSymbol, Num: id} }

// --- predicates ---

func (v Value) IsNil() bool   { return v.Type == TypeNil }
func (v Value) IsFalse() bool { return v.Type == TypeFalse }
func (v Value) IsTrue() bool  { return v.Type == TypeTrue }

// Truthy implements Ruby truthiness: everything except nil and false.
func (v Value) Truthy() bool { return v.Type != TypeNil && v.Type != TypeFalse }

func (v Value) IsFixnum() bool { return v.Type == TypeFixnum }
func (v Value) IsFloat() bool  { return v.Type == TypeFloat }
func (v Value) IsSymbol() bool { return v.Type == TypeSymbol }
func (v Value) IsNumeric() bool { return v.Type == TypeFixnum || v.Type == TypeFloat }

func (v Value) IsObject() bool    { return v.Type == TypeObject }
func (v Value) IsClass() bool     { return v.Type == TypeClass || v.Type == TypeModule || v.Type == TypeSClass || v.Type == TypeIClass }
func (v Value) IsProc() bool      { return v.Type == TypeProc }
func (v Value) IsArray() bool     { return v.Type == TypeArray }
func (v Value) IsHash() bool      { return v.Type == TypeHash }
func (v Value) IsString() bool    { return v.Type == TypeString }
func (v Value) IsException() bool { return v.Type == TypeException }
func (v Value) IsBreak() bool     { return v.Type == TypeBreak }
func (v Value) IsUndef() bool     { return v.Type == TypeUndef }

// FixnumValue/FloatValue/SymbolID extract the immediate payload; callers
// must have checked the type predicate first.
func (v Value) FixnumValue() int64  { return v.Num }
func (v Value) FloatValue() float64 { return v.Flo }
func (v Value) SymbolID() int64     { return v.Num }

func (v Value) String() string {
	switch v.Type {
	case TypeNil:
		return "nil"
	case TypeFalse:
		return "false"
	case TypeTrue:
		return "true"
	case TypeFixnum:
		return fmt.Sprintf("%d", v.Num)
	case TypeFloat:
		return formatFloat(v.Flo)
	case TypeSymbol:
		return fmt.Sprintf(":sym#%d", v.Num)
	case TypeString:
		if s, ok := v.Ref.(*StringObj); ok {
			return s.Str
		}
	}
	return fmt.Sprintf("#<%s>", v.Type)
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	return fmt.Sprintf("%g", f)
}

// --- object-bearing payloads ---

// Object is the generic instance payload: a header plus an ivar table.
type Object struct {
	Header
	IVars map[int64]Value // symbol id -> value
}

func (o *Object) gcHeader() *Header { return &o.Header }

func NewObject(class *Class) Value {
	obj := &Object{Header: Header{TypeTag: GCTypeObject, Class: class}, IVars: make(map[int64]Value)}
	return Value{Type: TypeObject, Ref: obj}
}

// ArrayObj backs TypeArray.
type ArrayObj struct {
	Header
	Elems []Value
}

func (a *ArrayObj) gcHeader() *Header { return &a.Header }

func NewArray(class *Class, elems []Value) Value {
	return Value{Type: TypeArray, Ref: &ArrayObj{Header: Header{TypeTag: GCTypeArray, Class: class}, Elems: elems}}
}

// HashObj backs TypeHash. Keys are Values compared by hashKeyOf(); Go maps
// can't key on a struct containing interface{} safely for our purposes,
// so HashObj keeps parallel slices and a lookup index built lazily, the
// same tradeoff the teacher's Array makes with interface{} keys.
type HashObj struct {
	Header
	Keys   []Value
	Vals   []Value
	index  map[interface{}]int
	Frozen bool
}

func (h *HashObj) gcHeader() *Header { return &h.Header }

func NewHash(class *Class) Value {
	return Value{Type: TypeHash, Ref: &HashObj{Header: Header{TypeTag: GCTypeHash, Class: class}, index: make(map[interface{}]int)}}
}

func hashKeyOf(v Value) interface{} {
	switch v.Type {
	case TypeFixnum, TypeSymbol:
		return v.Num
	case TypeFloat:
		return v.Flo
	case TypeString:
		if s, ok := v.Ref.(*StringObj); ok {
			return "s:" + s.Str
		}
	case TypeTrue:
		return true
	case TypeFalse:
		return false
	case TypeNil:
		return nil
	}
	return v.Ref
}

func (h *HashObj) Get(key Value) (Value, bool) {
	if h.index == nil {
		h.index = make(map[interface{}]int)
	}
	if i, ok := h.index[hashKeyOf(key)]; ok {
		return h.Vals[i], true
	}
	return Nil(), false
}

func (h *HashObj) Set(key, val Value) {
	if h.index == nil {
		h.index = make(map[interface{}]int)
	}
	k := hashKeyOf(key)
	if i, ok := h.index[k]; ok {
		h.Vals[i] = val
		return
	}
	h.index[k] = len(h.Keys)
	h.Keys = append(h.Keys, key)
	h.Vals = append(h.Vals, val)
}

func (h *HashObj) Delete(key Value) (Value, bool) {
	k := hashKeyOf(key)
	i, ok := h.index[k]
	if !ok {
		return Nil(), false
	}
	val := h.Vals[i]
	h.Keys = append(h.Keys[:i], h.Keys[i+1:]...)
	h.Vals = append(h.Vals[:i], h.Vals[i+1:]...)
	delete(h.index, k)
	for kk, idx := range h.index {
		if idx > i {
			h.index[kk] = idx - 1
		}
	}
	return val, true
}

func (h *HashObj) Len() int { return len(h.Keys) }

// StringObj backs TypeString.
type StringObj struct {
	Header
	Str    string
	Frozen bool
}

func (s *StringObj) gcHeader() *Header { return &s.Header }

func NewString(class *Class, s string) Value {
	return Value{Type: TypeString, Ref: &StringObj{Header: Header{TypeTag: GCTypeString, Class: class}, Str: s}}
}

// RangeObj backs TypeRange.
type RangeObj struct {
	Header
	Begin, End Value
	Exclusive  bool
}

func (r *RangeObj) gcHeader() *Header { return &r.Header }

func NewRange(class *Class, begin, end Value, exclusive bool) Value {
	return Value{Type: TypeRange, Ref: &RangeObj{Header: Header{TypeTag: GCTypeRange, Class: class}, Begin: begin, End: end, Exclusive: exclusive}}
}

// ExceptionObj backs TypeException.
type ExceptionObj struct {
	Header
	Message string
	IVars   map[int64]Value
}

func (e *ExceptionObj) gcHeader() *Header { return &e.Header }

func NewException(class *Class, message string) Value {
	return Value{Type: TypeException, Ref: &ExceptionObj{
		Header:  Header{TypeTag: GCTypeException, Class: class},
		Message: message,
		IVars:   make(map[int64]Value),
	}}
}

// BreakObj backs TypeBreak: spec.md §3.8, a transient non-local-control
// carrier surfaced through the exception slot.
type BreakObj struct {
	Header
	Target *Proc
	Value  Value
}

func (b *BreakObj) gcHeader() *Header { return &b.Header }

func NewBreak(target *Proc, value Value) Value {
	return Value{Type: TypeBreak, Ref: &BreakObj{Header: Header{TypeTag: GCTypeBreak}, Target: target, Value: value}}
}

// FiberObj backs TypeFiber (spec.md §3.6): a handle onto a suspended
// coroutine. RunContext is typed interface{} to avoid an import cycle
// between values and vm (the same trick as Env.Context/NativeFunc's vm
// parameter) — it holds the *vm.Context the fiber resumes into.
type FiberObj struct {
	Header
	RootProc   *Proc
	RunContext interface{}
}

func (f *FiberObj) gcHeader() *Header { return &f.Header }

func NewFiber(class *Class, root *Proc) Value {
	return Value{Type: TypeFiber, Ref: &FiberObj{Header: Header{TypeTag: GCTypeFiber, Class: class}, RootProc: root}}
}

func (v Value) IsFiber() bool { return v.Type == TypeFiber }

// Undef is the "unbound"/never-assigned sentinel (distinct from Nil).
func Undef() Value { return Value{Type: TypeUndef} }

// --- class_of ---

// ClassOf implements spec.md §3.1's invariant that class_of is total:
// primitives map to singleton classes drawn from the supplied well-known
// set; objects return their carried class pointer.
func ClassOf(v Value, wk *WellKnownClasses) *Class {
	switch v.Type {
	case TypeNil:
		return wk.NilClass
	case TypeFalse:
		return wk.FalseClass
	case TypeTrue:
		return wk.TrueClass
	case TypeFixnum:
		return wk.Fixnum
	case TypeFloat:
		return wk.Float
	case TypeSymbol:
		return wk.Symbol
	case TypeArray:
		return wk.Array
	case TypeHash:
		return wk.Hash
	case TypeString:
		return wk.String
	case TypeRange:
		return wk.Range
	case TypeException:
		if obj, ok := v.Ref.(*ExceptionObj); ok && obj.Class != nil {
			return obj.Class
		}
		return wk.Exception
	case TypeClass:
		return wk.Class
	case TypeModule:
		return wk.Module
	}
	if gc, ok := v.Ref.(GCObject); ok {
		if h := gc.gcHeader(); h.Class != nil {
			return h.Class
		}
	}
	return wk.Object
}
