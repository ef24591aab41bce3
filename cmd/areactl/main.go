// Command areactl maintains the area hierarchy, its derived borders and its
// GeoJSON projections.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
)

// Exit codes.
const (
	exitOK       = 0
	exitRejected = 1
	exitFailure  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// an interrupt cancels the running command; border runs abort before
	// their swap
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	defer c.close()

	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "areactl: %v\n", err)
		if c.app != nil {
			c.app.log.Error("Command failed", err, map[string]interface{}{
				"command": root.CalledAs(),
				"code":    areaerrors.CodeOf(err),
			})
		}
	}
	return exitCode(err)
}

// exitCode maps an error to the process exit status: domain rejections the
// caller can fix exit with 1, everything else with 2.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case areaerrors.IsRecoverable(err):
		return exitRejected
	default:
		return exitFailure
	}
}
