package runtime

import (
	"crypto/rand"
	"sync"

	"github.com/wudi/rbvm/runtime/secure"
	"github.com/wudi/rbvm/values"
	"github.com/wudi/rbvm/vm"
)

var (
	keysMu sync.Mutex
	keys   = make(map[*values.Object]*secure.KeyPair)
)

// bootstrapSecure installs SecureRandom (a stateless module of class
// methods) and Ed25519Key (an instance per keypair, mirroring Database's
// connection-handle pattern since a KeyPair is likewise not representable
// as plain Values).
func bootstrapSecure(m *vm.VirtualMachine) {
	wk := m.Registry.WellKnown
	sym := m.Registry.Symbols.Intern

	secureRandom := m.Registry.DefineClass("SecureRandom", wk.Object)
	secureRandom.Kind = values.KindModule
	secureRandom.DefineMethod(sym("uuid"), &values.MethodEntry{Native: secureRandomUUID})

	ed25519Key := m.Registry.DefineClass("Ed25519Key", wk.Object)
	ed25519Key.DefineMethod(sym("initialize"), &values.MethodEntry{Native: ed25519KeyInitialize})
	ed25519Key.DefineMethod(sym("public_bytes"), &values.MethodEntry{Native: ed25519KeyPublicBytes})
	ed25519Key.DefineMethod(sym("sign"), &values.MethodEntry{Native: ed25519KeySign})

	ed25519Module := m.Registry.DefineClass("Ed25519", wk.Object)
	ed25519Module.Kind = values.KindModule
	ed25519Module.DefineMethod(sym("verify"), &values.MethodEntry{Native: ed25519Verify})

	wk.Object.Consts[sym("SecureRandom")] = values.NewClassValue(secureRandom)
	wk.Object.Consts[sym("Ed25519Key")] = values.NewClassValue(ed25519Key)
	wk.Object.Consts[sym("Ed25519")] = values.NewClassValue(ed25519Module)
}

func secureRandomUUID(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	return values.NewString(m.Registry.WellKnown.String, secure.NewUUID()), nil
}

func ed25519KeyInitialize(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	obj, ok := self.Ref.(*values.Object)
	if !ok {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.TypeError, "Ed25519Key#initialize called on non-object")
	}
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, err.Error())
	}
	kp, err := secure.GenerateKeyPair(seed)
	if err != nil {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, err.Error())
	}
	keysMu.Lock()
	keys[obj] = kp
	keysMu.Unlock()
	return values.Nil(), nil
}

func keyOf(self values.Value) (*secure.KeyPair, bool) {
	obj, ok := self.Ref.(*values.Object)
	if !ok {
		return nil, false
	}
	keysMu.Lock()
	defer keysMu.Unlock()
	kp, ok := keys[obj]
	return kp, ok
}

func ed25519KeyPublicBytes(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	kp, ok := keyOf(self)
	if !ok {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, "key not initialized")
	}
	return values.NewString(m.Registry.WellKnown.String, string(kp.PublicBytes())), nil
}

func ed25519KeySign(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	kp, ok := keyOf(self)
	if !ok || len(args) == 0 || !args[0].IsString() {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.ArgumentError, "sign requires a message string")
	}
	sig, err := kp.Sign([]byte(args[0].Ref.(*values.StringObj).Str))
	if err != nil {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, err.Error())
	}
	return values.NewString(m.Registry.WellKnown.String, string(sig)), nil
}

func ed25519Verify(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	if len(args) < 3 || !args[0].IsString() || !args[1].IsString() || !args[2].IsString() {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.ArgumentError, "verify(public_key, message, signature) requires three strings")
	}
	ok, err := secure.Verify(
		[]byte(args[0].Ref.(*values.StringObj).Str),
		[]byte(args[1].Ref.(*values.StringObj).Str),
		[]byte(args[2].Ref.(*values.StringObj).Str),
	)
	if err != nil {
		return values.False(), nil
	}
	return values.Bool(ok), nil
}
