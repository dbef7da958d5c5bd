package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/pacai/pacai-verify/cmd"
)

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "pacai-verify",
		Usage:  "Verify signed PacAI export bundles",
		Writer: stdout,
		Commands: []*cli.Command{
			cmd.VerifyCommand(),
			cmd.InspectCommand(),
			cmd.ReceiptCommand(),
		},
		// Exit codes are mapped in main so deferred cleanup in commands runs.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newApp(os.Stdout).Run(ctx, os.Args)
	os.Exit(exitCode(err, os.Stderr))
}

// exitCode reports err on stderr and returns the process status
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return cmd.ExitVerified
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return exitErr.ExitCode()
	}

	fmt.Fprintln(stderr, err)
	return cmd.ExitOperational
}
