// Package convert runs the conversion script against caller input.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	"github.com/xmjiao/jianpu-ly/internal/config"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/shell"
)

// Request is one conversion: arguments are forwarded verbatim to the script.
type Request struct {
	Workdir string
	Args    []string
}

//go:generate mockgen -destination=mocks/convert_mock.go -package=mocks github.com/xmjiao/jianpu-ly/internal/convert Converter

// Converter turns a request into an artifact set.
type Converter interface {
	Convert(ctx context.Context, req Request) (collect.ArtifactSet, error)
}

// ScriptConverter invokes the fetched script with an interpreter.
type ScriptConverter struct {
	Runner          shell.Runner
	Interpreter     string
	Script          string
	FixedFlags      []string
	DescriptionGlob string
	Headless        bool
	RuntimeDir      string
	// Stdout and Stderr receive the script's output as it runs. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// NewScriptConverter builds a converter from config.
func NewScriptConverter(cfg *config.Config, runner shell.Runner) *ScriptConverter {
	return &ScriptConverter{
		Runner:          runner,
		Interpreter:     cfg.Script.Interpreter,
		Script:          cfg.Script.Name,
		FixedFlags:      cfg.Conversion.FixedFlags,
		DescriptionGlob: cfg.Conversion.DescriptionGlob,
		Headless:        cfg.Conversion.Headless,
		RuntimeDir:      cfg.RuntimeDir(),
	}
}

// Convert clears stale description files, runs the script in req.Workdir and
// resolves the artifact set it produced.
func (c *ScriptConverter) Convert(ctx context.Context, req Request) (collect.ArtifactSet, error) {
	if len(req.Args) == 0 {
		return collect.ArtifactSet{}, jerrors.NewUsageError("conversion requires at least one argument")
	}
	if req.Workdir == "" {
		return collect.ArtifactSet{}, jerrors.NewUsageError("working directory is required")
	}

	if _, err := RemoveStale(req.Workdir, c.DescriptionGlob); err != nil {
		return collect.ArtifactSet{}, jerrors.NewConversionError(err)
	}

	env, err := c.environment()
	if err != nil {
		return collect.ArtifactSet{}, jerrors.NewConversionError(err)
	}

	cmd := shell.Command{
		Name:   c.Interpreter,
		Args:   c.Argv(req.Args),
		Dir:    req.Workdir,
		Env:    env,
		Stdout: c.Stdout,
		Stderr: c.Stderr,
	}
	if _, err := c.Runner.Run(ctx, cmd); err != nil {
		return collect.ArtifactSet{}, jerrors.NewConversionError(fmt.Errorf("conversion script failed: %w", err))
	}

	set, err := collect.Collect(req.Workdir, c.DescriptionGlob)
	if err != nil {
		return collect.ArtifactSet{}, jerrors.NewConversionError(err)
	}
	return set, nil
}

// Argv returns the script argument list: script, fixed flags, then caller args.
func (c *ScriptConverter) Argv(args []string) []string {
	argv := make([]string, 0, 1+len(c.FixedFlags)+len(args))
	argv = append(argv, c.Script)
	argv = append(argv, c.FixedFlags...)
	return append(argv, args...)
}

func (c *ScriptConverter) environment() ([]string, error) {
	var env []string
	if c.Headless {
		env = append(env, "QT_QPA_PLATFORM=offscreen")
	}
	if c.RuntimeDir != "" {
		if err := ensureRuntimeDir(c.RuntimeDir); err != nil {
			return nil, err
		}
		env = append(env, "XDG_RUNTIME_DIR="+c.RuntimeDir)
	}
	return env, nil
}

// ensureRuntimeDir creates dir with mode 0700, tightening an existing one.
// Qt refuses runtime directories readable by others.
func ensureRuntimeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return fmt.Errorf("chmod runtime dir: %w", err)
	}
	return nil
}

// RemoveStale deletes description files left over from earlier runs so the
// next base-name resolution sees only fresh output.
func RemoveStale(workdir, pattern string) ([]string, error) {
	files, err := collect.DescriptionFiles(workdir, pattern)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove stale %s: %w", filepath.Base(f), err)
		}
		removed = append(removed, f)
	}
	return removed, nil
}
