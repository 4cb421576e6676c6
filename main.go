// sockcon - an interactive network console over TCP, websockets, or SSH.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sockcon/cmd"
	ncerr "sockcon/internal/errors"
)

func main() {
	// A vanished peer should surface as a write error, not kill us.
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)

	err := cmd.Execute(ctx, os.Args[1:])
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sockcon: %v\n", err)
	}
	os.Exit(ncerr.ExitCode(err))
}
