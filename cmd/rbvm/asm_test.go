package main

import (
	"testing"

	"github.com/wudi/rbvm/opcodes"
)

func TestAssembleSkipsCommentsAndBlanks(t *testing.T) {
	irep, err := assemble(`
		# a leading comment
		loadi 0 5

		loadi 1 7   # trailing comment
		add   0
		return 0
	`)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(irep.ISeq) != 4 {
		t.Fatalf("expected 4 instructions, got %d", len(irep.ISeq))
	}
	if irep.ISeq[0].Op != opcodes.OpLoadI || irep.ISeq[0].A != 0 || irep.ISeq[0].B != 5 {
		t.Fatalf("unexpected first instruction: %+v", irep.ISeq[0])
	}
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	if _, err := assemble("bogus 0 1"); err == nil {
		t.Fatal("expected an error for an unknown mnemonic")
	}
}

func TestAssembleBadOperand(t *testing.T) {
	if _, err := assemble("loadi 0 notanumber"); err == nil {
		t.Fatal("expected an error for a non-numeric operand")
	}
}

func TestAssembleGrowsRegisterCount(t *testing.T) {
	irep, err := assemble("move 20 3")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if irep.NRegs < 22 {
		t.Fatalf("expected NRegs to grow past the highest referenced register, got %d", irep.NRegs)
	}
}
