package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/compozy/codeassist/cli"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.RootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// CliErrors were already reported in the command's output mode.
		var cliErr *helpers.CliError
		if !errors.As(err, &cliErr) {
			helpers.OutputErrorTo(os.Stderr, helpers.Classify(err), helpers.DetectModeFromConfig(config.Default()))
		}
		os.Exit(1)
	}
}
