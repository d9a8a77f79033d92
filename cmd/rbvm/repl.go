package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/wudi/rbvm/config"
	"github.com/wudi/rbvm/runtime"
	"github.com/wudi/rbvm/values"
	"github.com/wudi/rbvm/vm"
)

// replCommand starts an interactive assembler session: each line (or
// blank-line-terminated block) is assembled and run against a single
// long-lived VirtualMachine/Context pair, the way the teacher's own REPL
// keeps one interpreter alive across input lines rather than restarting
// it per statement.
var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "interactive bytecode assembler REPL",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd.String("config"))
		if err != nil {
			return err
		}
		return runRepl(cfg)
	},
}

func runRepl(cfg *config.Config) error {
	m := vm.New()
	applyConfig(m, cfg)
	runtime.Bootstrap(m, cfg.Sources)

	prompt := "rbvm> "
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		// Piped input: skip the fancy line editor, read lines straight
		// off stdin so scripted/CI usage still works.
		return runReplPiped(m, os.Stdin)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFilePath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	var block []string
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(block) == 0 {
				continue
			}
			block = nil
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(block) > 0 {
				evalBlock(m, block)
				block = nil
				rl.SetPrompt(prompt)
			}
			continue
		}
		block = append(block, line)
		rl.SetPrompt("    ...> ")
	}
}

func runReplPiped(m *vm.VirtualMachine, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	evalBlock(m, strings.Split(string(data), "\n"))
	return nil
}

func evalBlock(m *vm.VirtualMachine, lines []string) {
	irep, err := assemble(strings.Join(lines, "\n"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "asm error: %v\n", err)
		return
	}
	proc := values.NewBytecodeProc(irep, nil, nil, m.Registry.WellKnown.Object)
	self := values.NewObject(m.Registry.WellKnown.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "=> error: %v\n", err)
		return
	}
	fmt.Printf("=> %s\n", result.String())
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rbvm_history"
	}
	return home + "/.rbvm_history"
}
