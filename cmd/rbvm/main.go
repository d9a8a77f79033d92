package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wudi/rbvm/config"
	"github.com/wudi/rbvm/runtime"
	"github.com/wudi/rbvm/values"
	"github.com/wudi/rbvm/version"
	"github.com/wudi/rbvm/vm"
)

func main() {
	app := &cli.Command{
		Name:  "rbvm",
		Usage: "a register-based bytecode VM core",
		Commands: []*cli.Command{
			runCommand,
			replCommand,
			versionCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rbvm: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "assemble and run a bytecode listing",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("usage: rbvm run <file.rbasm>")
		}
		cfg, err := loadConfig(cmd.String("config"))
		if err != nil {
			return err
		}
		src, err := os.ReadFile(cmd.Args().First())
		if err != nil {
			return err
		}
		return runSource(string(src), cfg)
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the VM version",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		fmt.Println(version.Version())
		return nil
	},
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// runSource assembles src and executes it at the top level, printing the
// result (or the propagated exception's message) the way a small
// language runtime's batch mode would.
func runSource(src string, cfg *config.Config) error {
	irep, err := assemble(src)
	if err != nil {
		return err
	}
	m := vm.New()
	applyConfig(m, cfg)
	runtime.Bootstrap(m, cfg.Sources)

	proc := values.NewBytecodeProc(irep, nil, nil, m.Registry.WellKnown.Object)
	self := values.NewObject(m.Registry.WellKnown.Object)
	result, err := m.TopLevelRun(m.Root, proc, self, 1)
	if err != nil {
		return err
	}
	if exc, ok := result.Ref.(*values.ExceptionObj); ok && m.CurrentException != nil {
		fmt.Println(exc.Message)
		return nil
	}
	if result.Type != values.TypeNil {
		fmt.Println(result.String())
	}
	return nil
}

func applyConfig(m *vm.VirtualMachine, cfg *config.Config) {
	m.ApplyStackConfig(cfg.Stack)
	m.SetDebugLevel(cfg.Debug.Level)
	m.SetProfilingEnabled(cfg.Debug.Profile)
}
