package vm

import (
	"errors"
	"fmt"

	"github.com/wudi/rbvm/opcodes"
)

// Sentinel errors a VMError can wrap. These are Go-level failures of the
// execution core itself (stack exhaustion, malformed bytecode) and are
// distinct from language-level exception objects raised into rescue
// clauses — see exception.go for that taxonomy (spec.md §7).
var (
	ErrStackOverflow      = errors.New("stack level too deep")
	ErrConstantOutOfRange = errors.New("constant pool index out of range")
	ErrSymbolOutOfRange   = errors.New("symbol index out of range")
	ErrBadJumpTarget      = errors.New("jump target out of range")
	ErrNoUnwindBuffer     = errors.New("no unwind buffer installed")
	ErrMalformedIrep      = errors.New("malformed irep")
)

// VMError decorates a sentinel error with the execution context it was
// raised from, so a caller can report "SEND at ip=42 in frame #3" rather
// than a bare message. Ported from the teacher's vm/errors.go wrapping
// style (a typed error carrying Context/Frame/Opcode/IP alongside an
// Unwrap so errors.Is/errors.As keep working through the dispatch loop).
type VMError struct {
	Err   error
	Frame int
	Op    opcodes.Opcode
	IP    int
	Msg   string
}

func (e *VMError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s (frame=%d op=%s ip=%d): %s", e.Err, e.Frame, e.Op, e.IP, e.Msg)
	}
	return fmt.Sprintf("%s (frame=%d op=%s ip=%d)", e.Err, e.Frame, e.Op, e.IP)
}

func (e *VMError) Unwrap() error { return e.Err }

func (e *VMError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newVMError(ctx *Context, op opcodes.Opcode, ip int, err error, msg string) *VMError {
	return &VMError{Err: err, Frame: len(ctx.CallInfos) - 1, Op: op, IP: ip, Msg: msg}
}
