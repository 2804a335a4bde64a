package provisioners

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/editorconf"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/shell"
)

// Env is what a step needs to do its work.
type Env struct {
	Config  *config.Config
	Runner  shell.Runner
	Fetcher fetch.Fetcher
	// Stdout and Stderr receive child output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// StepResult records one applied step.
type StepResult struct {
	Name    string        `json:"name" yaml:"name"`
	Detail  string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Step is one installation step.
type Step interface {
	// Name identifies the step in progress output and errors.
	Name() string
	// Apply performs the step and returns a short detail line.
	Apply(ctx context.Context, env Env) (string, error)
}

// Registry holds steps in the order they must run.
type Registry struct {
	order []string
	steps map[string]Step
}

// NewRegistry creates a registry with every environment step registered in
// install order.
func NewRegistry() *Registry {
	r := &Registry{steps: make(map[string]Step)}
	r.Register(&AptUpdateStep{})
	r.Register(&AptInstallStep{})
	r.Register(&FontStep{})
	r.Register(&PipStep{})
	r.Register(&EditorBinaryStep{})
	r.Register(&EditorConfigStep{})
	return r
}

// Register appends a step. Registering a name twice replaces the step in place.
func (r *Registry) Register(s Step) {
	if _, exists := r.steps[s.Name()]; !exists {
		r.order = append(r.order, s.Name())
	}
	r.steps[s.Name()] = s
}

// Get returns the step with the given name.
func (r *Registry) Get(name string) (Step, error) {
	s, ok := r.steps[name]
	if !ok {
		return nil, fmt.Errorf("no provisioning step %q (available: %s)",
			name, strings.Join(r.Names(), ", "))
	}
	return s, nil
}

// Names returns step names in run order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Steps returns steps in run order.
func (r *Registry) Steps() []Step {
	steps := make([]Step, 0, len(r.order))
	for _, n := range r.order {
		steps = append(steps, r.steps[n])
	}
	return steps
}

func run(ctx context.Context, env Env, sudo bool, name string, args ...string) error {
	if sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	_, err := env.Runner.Run(ctx, shell.Command{
		Name:   name,
		Args:   args,
		Env:    []string{"DEBIAN_FRONTEND=noninteractive"},
		Stdout: env.Stdout,
		Stderr: env.Stderr,
	})
	return err
}

// --- Package index ---

// AptUpdateStep refreshes the system package index.
type AptUpdateStep struct{}

func (s *AptUpdateStep) Name() string { return "apt-update" }

func (s *AptUpdateStep) Apply(ctx context.Context, env Env) (string, error) {
	if err := run(ctx, env, env.Config.Provision.UseSudo, "apt-get", "update", "-qq"); err != nil {
		return "", err
	}
	return "package index refreshed", nil
}

// --- System packages ---

// AptInstallStep installs typesetting, audio, PDF and font packages.
type AptInstallStep struct{}

func (s *AptInstallStep) Name() string { return "apt-install" }

func (s *AptInstallStep) Apply(ctx context.Context, env Env) (string, error) {
	pkgs := env.Config.Provision.AptPackages
	if len(pkgs) == 0 {
		return "no packages configured", nil
	}
	args := append([]string{"install", "-y", "-qq", "--no-install-recommends"}, pkgs...)
	if err := run(ctx, env, env.Config.Provision.UseSudo, "apt-get", args...); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d packages", len(pkgs)), nil
}

// --- Fonts ---

// FontStep fetches the font bundle into the user font dir and rebuilds the
// font cache.
type FontStep struct{}

func (s *FontStep) Name() string { return "fonts" }

func (s *FontStep) Apply(ctx context.Context, env Env) (string, error) {
	pc := env.Config.Provision
	detail := "font cache rebuilt"
	if pc.FontBundleURL != "" {
		data, err := env.Fetcher.Fetch(ctx, pc.FontBundleURL)
		if err != nil {
			return "", fmt.Errorf("font bundle: %w", err)
		}
		if pc.FontBundleChecksum != "" {
			if err := fetch.Verify(data, pc.FontBundleChecksum); err != nil {
				return "", fmt.Errorf("font bundle: %w", err)
			}
		}
		files, err := fetch.Extract(fetch.ArchiveName(pc.FontBundleURL), data, pc.FontDir)
		if err != nil {
			return "", fmt.Errorf("font bundle: %w", err)
		}
		detail = fmt.Sprintf("%d font files into %s", len(files), pc.FontDir)
	}
	if err := run(ctx, env, false, "fc-cache", "-f"); err != nil {
		return "", err
	}
	return detail, nil
}

// --- Python helpers ---

// PipStep installs the Python libraries the conversion script imports.
type PipStep struct{}

func (s *PipStep) Name() string { return "pip" }

func (s *PipStep) Apply(ctx context.Context, env Env) (string, error) {
	pkgs := env.Config.Provision.PipPackages
	if len(pkgs) == 0 {
		return "no packages configured", nil
	}
	args := append([]string{"-m", "pip", "install", "-q"}, pkgs...)
	if err := run(ctx, env, false, env.Config.Script.Interpreter, args...); err != nil {
		return "", err
	}
	return strings.Join(pkgs, ", "), nil
}

// --- Notation editor ---

// EditorBinaryStep downloads the self-contained editor executable onto PATH.
type EditorBinaryStep struct{}

func (s *EditorBinaryStep) Name() string { return "editor-binary" }

func (s *EditorBinaryStep) Apply(ctx context.Context, env Env) (string, error) {
	ec := env.Config.Editor
	dest := env.Config.EditorBinaryPath()

	if !env.Config.Provision.UseSudo {
		res, err := fetch.Download(ctx, env.Fetcher, ec.BinaryURL, dest, ec.BinaryChecksum, 0o755)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%d bytes)", dest, res.Bytes), nil
	}

	// The bin dir is root-owned: stage in a temp dir, then install with sudo.
	tmpDir, err := os.MkdirTemp("", "jianpu-ly-editor-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)
	staged := filepath.Join(tmpDir, ec.BinaryName)
	res, err := fetch.Download(ctx, env.Fetcher, ec.BinaryURL, staged, ec.BinaryChecksum, 0o755)
	if err != nil {
		return "", err
	}
	if err := run(ctx, env, true, "install", "-D", "-m", "0755", staged, dest); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d bytes)", dest, res.Bytes), nil
}

// --- Editor configuration ---

// EditorConfigStep writes the editor's INI settings.
type EditorConfigStep struct{}

func (s *EditorConfigStep) Name() string { return "editor-config" }

func (s *EditorConfigStep) Apply(_ context.Context, env Env) (string, error) {
	entries, err := editorconf.Write(env.Config.Editor.ConfigPath, EditorSettings(env.Config))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d keys in %s", len(entries), env.Config.Editor.ConfigPath), nil
}

// EditorSettings maps config onto editor settings.
func EditorSettings(cfg *config.Config) editorconf.Settings {
	return editorconf.Settings{
		Metronome:     cfg.Editor.Metronome,
		FullDefaults:  cfg.Editor.FullDefaults,
		CloudClientID: cfg.Editor.CloudClientID,
	}
}
