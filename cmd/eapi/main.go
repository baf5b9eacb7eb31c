// Command eapi calls the ČSOB payment gateway from the command line, one
// operation per run.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/paygate/eapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	err := newRootCmd(a).ExecuteContext(ctx)
	if terr := a.teardown(); terr != nil && err == nil {
		err = terr
	}
	if err != nil {
		a.reportFailure(os.Stderr, err)
		stop()
		var e *eapi.Error
		if errors.As(err, &e) && e.Type == eapi.RemoteBusinessError {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
