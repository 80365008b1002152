package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rancher/auto-rebase/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.Execute(ctx, cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err != nil {
		fmt.Fprintf(os.Stderr, "auto-rebase: %v\n", err)
		stop()
		os.Exit(1)
	}
}
