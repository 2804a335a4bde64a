// Package provision installs the external toolchain once per machine.
package provision

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/editorconf"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/shell"
	"github.com/xmjiao/jianpu-ly/pkg/provisioners"
)

// Result describes what Ensure did.
type Result struct {
	Skipped     bool                      `json:"skipped" yaml:"skipped"`
	PrimaryTool string                    `json:"primaryTool" yaml:"primaryTool"`
	ToolPath    string                    `json:"toolPath,omitempty" yaml:"toolPath,omitempty"`
	Steps       []provisioners.StepResult `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Provisioner checks for the primary tool and installs everything when it is
// absent.
type Provisioner struct {
	cfg      *config.Config
	detector shell.Detector
	registry *provisioners.Registry
	env      provisioners.Env

	// OnStep, when set, is called before each step runs.
	OnStep func(name string)
}

// New returns a provisioner with the default step registry.
func New(cfg *config.Config, runner shell.Runner, detector shell.Detector, fetcher fetch.Fetcher) *Provisioner {
	return &Provisioner{
		cfg:      cfg,
		detector: detector,
		registry: provisioners.NewRegistry(),
		env: provisioners.Env{
			Config:  cfg,
			Runner:  runner,
			Fetcher: fetcher,
		},
	}
}

// SetOutput routes child process output.
func (p *Provisioner) SetOutput(stdout, stderr io.Writer) {
	p.env.Stdout = stdout
	p.env.Stderr = stderr
}

// Registry exposes the step registry.
func (p *Provisioner) Registry() *provisioners.Registry {
	return p.registry
}

// Installed reports whether the primary tool is on PATH and where.
func (p *Provisioner) Installed() (string, bool) {
	path, err := p.detector.LookPath(p.cfg.Provision.PrimaryTool)
	if err != nil {
		return "", false
	}
	return path, true
}

// Ensure skips everything when the primary tool is already installed.
// Otherwise it runs every step in order and stops at the first failure.
// The editor binary is installed last among the tools, so its presence
// implies the earlier steps completed.
func (p *Provisioner) Ensure(ctx context.Context) (Result, error) {
	res := Result{PrimaryTool: p.cfg.Provision.PrimaryTool}
	if path, ok := p.Installed(); ok {
		res.Skipped = true
		res.ToolPath = path
		return res, nil
	}

	for _, step := range p.registry.Steps() {
		sr, err := p.Apply(ctx, step)
		if err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, sr)
	}

	if path, ok := p.Installed(); ok {
		res.ToolPath = path
	}
	return res, nil
}

// Apply runs one step and classifies its failure as an install error that
// carries the failing tool's exit status.
func (p *Provisioner) Apply(ctx context.Context, step provisioners.Step) (provisioners.StepResult, error) {
	if p.OnStep != nil {
		p.OnStep(step.Name())
	}
	start := time.Now()
	detail, err := step.Apply(ctx, p.env)
	if err != nil {
		return provisioners.StepResult{}, jerrors.NewInstallError(shell.ExitCodeOf(err),
			fmt.Errorf("provision %s: %w", step.Name(), err))
	}
	return provisioners.StepResult{Name: step.Name(), Detail: detail, Elapsed: time.Since(start)}, nil
}

// WriteEditorConfig writes only the editor settings file.
func (p *Provisioner) WriteEditorConfig() ([]editorconf.Entry, error) {
	entries, err := editorconf.Write(p.cfg.Editor.ConfigPath, provisioners.EditorSettings(p.cfg))
	if err != nil {
		return nil, jerrors.NewInstallError(jerrors.ExitError, err)
	}
	return entries, nil
}
