package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := fang.Execute(
		ctx,
		cli.NewRootCommand(),
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(errorHandler),
	)

	stop()

	os.Exit(apperrors.ExitCode(err))
}

// errorHandler keeps failures on one plain line: handler stderr usually ends up
// in the engine's log, not a terminal.
func errorHandler(w io.Writer, _ fang.Styles, err error) {
	_, _ = fmt.Fprintf(w, "marmot-hook: %v\n", err)
}
