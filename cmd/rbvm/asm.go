package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/rbvm/opcodes"
	"github.com/wudi/rbvm/values"
)

// assemble is a minimal textual bytecode assembler. There is no compiler
// in this repository (spec.md §1 scopes the core to the interpreter
// loop, not the language frontend that would produce ireps from source
// text), so this is the only way to get an Irep to feed the VM from the
// command line: one mnemonic per line, up to three signed integer
// operands, '#' starts a line comment. It exists purely as a demo/test
// harness for the dispatch loop, not as a language implementation.
//
//	loadi 0 5
//	loadi 1 7
//	add   0
//	return 0
func assemble(src string) (*values.Irep, error) {
	irep := &values.Irep{NRegs: 8}
	scanner := bufio.NewScanner(strings.NewReader(src))
	maxReg := int32(-1)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		op, ok := opcodes.Lookup(fields[0])
		if !ok {
			return nil, fmt.Errorf("asm:%d: unknown mnemonic %q", lineNo, fields[0])
		}
		var operands [3]int32
		for i, tok := range fields[1:] {
			if i >= 3 {
				break
			}
			n, err := strconv.ParseInt(tok, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("asm:%d: bad operand %q: %w", lineNo, tok, err)
			}
			operands[i] = int32(n)
			if operands[i] > maxReg {
				maxReg = operands[i]
			}
		}
		irep.ISeq = append(irep.ISeq, opcodes.Instruction{
			Op: op, A: operands[0], B: operands[1], C: operands[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if maxReg+2 > int32(irep.NRegs) {
		irep.NRegs = int(maxReg) + 2
	}
	return irep, nil
}
