package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rshade/apicache/internal/cli"
	"github.com/rshade/apicache/pkg/version"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitMiss  = 2
)

func main() {
	err := run()
	if err != nil && !errors.Is(err, cli.ErrCacheMiss) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func run() error {
	return cli.NewRootCmd(version.GetVersion()).ExecuteContext(context.Background())
}

// exitCode maps a command error to the process exit status. A cache miss
// from "get" exits 2 so scripts can tell it apart from failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cli.ErrCacheMiss):
		return exitMiss
	default:
		return exitError
	}
}
