// Command gpu-burn stress-tests every compute device of a node and reports
// which ones miscompute, run slow, or die.
//
// Usage:
//
//	gpu-burn [flags] [TIME]
//
// TIME is the burn duration in seconds (or a Go duration such as "5m");
// the default is 10 seconds. See "gpu-burn --help" for every flag and the
// exit codes in exitcode.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(compatArgs(os.Args[1:]))
	err := root.ExecuteContext(ctx)
	cancel()

	code := exitCodeOf(err)
	if code == ExitUsage && err != nil {
		fmt.Fprintf(os.Stderr, "gpu-burn: %v\nRun 'gpu-burn --help' for usage.\n", err)
	}
	os.Exit(code)
}
