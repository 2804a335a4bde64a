package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/convert"
	"github.com/xmjiao/jianpu-ly/internal/deliver"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/history"
	"github.com/xmjiao/jianpu-ly/internal/provision"
	"github.com/xmjiao/jianpu-ly/internal/shell"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

// app holds the collaborators the stage commands share.
type app struct {
	cfg     *config.Config
	workdir string
	runner  *shell.ExecRunner
	fetcher *fetch.HTTPFetcher
}

// newApp resolves the working directory and validates the active config.
func newApp() (*app, error) {
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		return nil, jerrors.NewUsageError("%v", err)
	}
	wd := cfg.Workdir
	if wd == "" {
		wd = "."
	}
	abs, err := filepath.Abs(wd)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}
	return &app{
		cfg:     cfg,
		workdir: abs,
		runner:  shell.NewExecRunner(),
		fetcher: fetch.NewHTTPFetcher(nil),
	}, nil
}

// childOutput is where external tools write while they run. Output is only
// streamed with --verbose; otherwise failures still carry the output tail.
func (a *app) childOutput() (io.Writer, io.Writer) {
	if a.cfg.Verbose {
		return os.Stderr, os.Stderr
	}
	return nil, nil
}

func (a *app) provisioner() *provision.Provisioner {
	p := provision.New(a.cfg, a.runner, a.runner, a.fetcher)
	p.SetOutput(a.childOutput())
	p.OnStep = func(name string) {
		tui.Debug("provision step %s", name)
	}
	return p
}

func (a *app) converter() *convert.ScriptConverter {
	c := convert.NewScriptConverter(a.cfg, a.runner)
	c.Stdout, c.Stderr = a.childOutput()
	return c
}

func (a *app) mounter() *deliver.Mounter {
	return deliver.NewMounter(a.cfg.Mount, a.runner)
}

// openHistory opens the run history. A database that cannot be opened
// disables history for this invocation instead of failing the run.
func (a *app) openHistory(ctx context.Context) *history.Store {
	store, err := history.Open(ctx, a.cfg.State.Path)
	if err != nil {
		tui.Warn("run history disabled: %v", err)
		return nil
	}
	return store
}

// destination picks the --dest flag when given, else the configured one.
func (a *app) destination(flag string, changed bool) string {
	if changed {
		return flag
	}
	return a.cfg.Delivery.Destination
}
