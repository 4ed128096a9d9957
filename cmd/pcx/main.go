// Command pcx loads persistence-context schemas and shows how sessions
// fetch data: identity-map hits, lazy proxies, N+1 patterns and batching.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/pcx/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "pcx: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
