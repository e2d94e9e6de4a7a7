// Command leveler rewrites text at a simpler reading level with a GGUF model
// running on this device.
//
// Usage:
//
//	leveler simplify "The committee deliberated at length."
//	cat notes.txt | leveler simplify
//	leveler serve
//	leveler diagnostics export
//	leveler model check ~/models/gemma-3-1b-it.Q4_K_M.gguf --load
//	leveler service install
//
// Configuration comes from LEVELER_* environment variables and an optional
// .env file in the working directory.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"leveler/core"
	"leveler/textinput"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Logger isn't initialized yet.
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries the process streams and the global flags into every command.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	modelPath string
	quiet     bool
}

func (c *cli) printer() *printer { return newPrinter(c.stderr, c.quiet) }

func (c *cli) appOptions(interactive bool) appOptions {
	return appOptions{modelPath: c.modelPath, interactive: interactive}
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := newRootCommand(c)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	code := exitCode(err)
	if err != nil {
		reportError(newPrinter(stderr, false), err, code)
	}
	return code
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "leveler",
		Short:         "Rewrite text at a simpler reading level, entirely on this device",
		Version:       core.GetVersionInfo(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&c.modelPath, "model", "m", "", "GGUF model file (overrides "+core.EnvModelPath+")")
	root.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "only print the result and errors")

	root.AddCommand(
		newSimplifyCommand(c),
		newServeCommand(c),
		newDiagnosticsCommand(c),
		newModelCommand(c),
		newServiceCommand(c),
	)
	return root
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return core.ExitCodeSuccess
	}
	var exitErr *core.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return core.ExitCodeError
}

// reportError prints the user-facing form of err.
func reportError(p *printer, err error, code int) {
	if core.IsSignalExit(code) {
		p.Warning("Interrupted")
		return
	}
	msg := textinput.UserMessage(err)
	if msg == "" || msg == textinput.MessageGeneric {
		msg = err.Error()
	}
	p.Failure("%s", msg)
}
