// Package main is the kaiwa binary entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kaiwahq/kaiwa/internal/app"
)

func main() {
	os.Exit(run())
}

// run owns the root context so deferred cleanup happens before exit.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
