package vm

import (
	"testing"

	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// TestEXT2WidensLoadIOperand exercises the EXT2 prefix against an operand
// value that doesn't fit in 16 bits, asserting the dispatch loop actually
// combines the prefix's high bits with the following instruction's B
// operand (spec.md §4.6, P8) rather than discarding them.
func TestEXT2WidensLoadIOperand(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown

	const want = int64(100000) // > 0xffff, requires the EXT2 high word
	high := int32(want >> 16)
	low := int32(want & 0xffff)

	proc := buildProc(wk, 2,
		opcodes.Instruction{Op: opcodes.OpEXT2, A: high},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 0, B: low},
		opcodes.Instruction{Op: opcodes.OpReturn, A: 0},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if result.FixnumValue() != want {
		t.Fatalf("EXT2 did not widen LOADI's operand: got %d, want %d", result.FixnumValue(), want)
	}
}

// TestEXT3WidensBothOperands exercises EXT3, which widens both A and B of
// the following instruction at once.
func TestEXT3WidensBothOperands(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown

	const wantVal = int64(70000) // > 0xffff
	highB := int32(wantVal >> 16)
	lowB := int32(wantVal & 0xffff)

	proc := buildProc(wk, 2,
		// Register index 0 needs no widening in practice, but EXT3 must
		// still widen A mechanically: use 0 as the high word so A stays 0.
		opcodes.Instruction{Op: opcodes.OpEXT3, A: 0, B: highB},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 0, B: lowB},
		opcodes.Instruction{Op: opcodes.OpReturn, A: 0},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if result.FixnumValue() != wantVal {
		t.Fatalf("EXT3 did not widen LOADI's B operand: got %d, want %d", result.FixnumValue(), wantVal)
	}
}

// TestEXTOnlyWidensImmediatelyFollowingInstruction confirms the EXT prefix
// doesn't leak state past the single instruction it targets (spec.md P8).
func TestEXTOnlyWidensImmediatelyFollowingInstruction(t *testing.T) {
	m := New()
	wk := m.Registry.WellKnown

	proc := buildProc(wk, 2,
		opcodes.Instruction{Op: opcodes.OpEXT2, A: 1},
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 0, B: 0}, // widened to 1<<16
		opcodes.Instruction{Op: opcodes.OpLoadI, A: 1, B: 5}, // must NOT be widened
		opcodes.Instruction{Op: opcodes.OpReturn, A: 1},
	)
	self := values.NewObject(wk.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		t.Fatalf("TopLevelRun: %v", err)
	}
	if result.FixnumValue() != 5 {
		t.Fatalf("EXT2 leaked past its target instruction: got %d, want 5", result.FixnumValue())
	}
}
