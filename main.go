// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkoreth/quill-cli/cmd"
)

func main() {
	// Interrupts cancel the command context so in-flight commands and the
	// session teardown run to completion instead of dying mid-write.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			// Ctrl+C during a command is a clean shutdown, not a failure.
			os.Exit(0)
		}
		os.Exit(1)
	}
}
