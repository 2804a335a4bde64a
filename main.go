package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xmjiao/jianpu-ly/cmd"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(jerrors.ExitCode(err))
	}
}
