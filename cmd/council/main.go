// cmd/council/main.go
//
// This is the entry point for the council CLI.
// When you run `council "task"` from a project directory, this is what executes.
//
// Flow:
// 1. Load .council/config.yaml (defaults apply when it is missing)
// 2. Merge command-line flags into one RunConfig
// 3. Start the council, follow it (plain progress lines or the live board)
// 4. Print the report; exit 1 when the council could not start, 130 when interrupted

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// version is set at build time via ldflags.
var version = "dev"

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(&streams{in: stdin, out: stdout, err: stderr})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		if code == exitInterrupted {
			fmt.Fprintln(stderr, "council: interrupted")
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return code
	}
	return exitOK
}

// exitCode maps a command error to the process exit status. Startup
// precondition failures and usage errors exit 1; member failures never reach
// here because they are part of the report.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}
