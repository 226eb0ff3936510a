package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchSignals cancels on SIGINT or SIGTERM when no admin server owns
// signal handling.
func watchSignals(ctx context.Context, stop func()) {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	stop()
}
