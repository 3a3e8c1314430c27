// Command htsmaster operates the historical time-series master.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AntonStoeckl/bitemporal-master-go/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}

	os.Exit(cli.GetExitCode(err))
}
