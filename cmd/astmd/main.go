// Command astmd is an ASTM E1381 gateway and test tool.
//
// Usage:
//
//	astmd listen   [flags]   accept instrument connections, capture and optionally reply
//	astmd send     [flags]   send one message to a peer and print the reply
//	astmd simulate [flags]   act as an instrument that pushes results on connect
//
// Every sub-command accepts --config with a YAML, JSON or TOML file. Values
// can also be set by ASTM_* environment variables, e.g.
// ASTM_SESSION_READTIMEOUT=5s or ASTM_CAPTURE_FILE=/var/lib/astm/capture.astm.
// Flags override the environment, which overrides the file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

const usage = `usage: astmd <command> [flags]

commands:
  listen     accept instrument connections, capture and optionally reply
  send       send one message to a peer and print the reply
  simulate   act as an instrument that pushes results on connect

run "astmd <command> --help" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error

	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "listen":
		err = runListen(ctx, args)
	case "send":
		err = runSend(ctx, args, os.Stdout)
	case "simulate":
		err = runSimulate(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)

		return
	default:
		fmt.Fprintf(os.Stderr, "astmd: unknown command %q\n\n%s", cmd, usage)
		stop()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "astmd:", err)
		stop()
		os.Exit(1)
	}
}
