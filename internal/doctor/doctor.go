// Package doctor checks that the environment can run the pipeline.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/deliver"
	"github.com/xmjiao/jianpu-ly/internal/editorconf"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/history"
	"github.com/xmjiao/jianpu-ly/internal/shell"
	"github.com/xmjiao/jianpu-ly/internal/tui"
	"github.com/xmjiao/jianpu-ly/pkg/provisioners"
)

// Status of one check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Env is what checks can look at.
type Env struct {
	Config     *config.Config
	ConfigPath string
	Workdir    string
	Detector   shell.Detector
	// Mounted defaults to deliver.IsMounted.
	Mounted func(path string) (bool, string, error)
}

// Check is one prerequisite. A failing Optional check is a warning.
type Check struct {
	Name     string
	Optional bool
	Run      func(ctx context.Context, env Env) (string, error)
}

// Result is the outcome of one check.
type Result struct {
	Check  string `json:"check" yaml:"check"`
	Status Status `json:"status" yaml:"status"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Summary counts results by status.
type Summary struct {
	Pass int `json:"pass" yaml:"pass"`
	Warn int `json:"warn" yaml:"warn"`
	Fail int `json:"fail" yaml:"fail"`
}

// Report is every result plus a summary.
type Report struct {
	Checks  []Result `json:"checks" yaml:"checks"`
	Summary Summary  `json:"summary" yaml:"summary"`
}

// Failed reports whether any required check failed.
func (r Report) Failed() bool { return r.Summary.Fail > 0 }

// Err returns a non-nil error when a required check failed.
func (r Report) Err() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("%d check(s) failed", r.Summary.Fail)
}

// RequiredTools lists the external programs the pipeline runs.
func RequiredTools(cfg *config.Config) []string {
	tools := []string{
		cfg.Script.Interpreter,
		"lilypond",
		"timidity",
		"lame",
		"ffmpeg",
		collect.PreviewTool,
		"fc-cache",
		cfg.Provision.PrimaryTool,
	}
	seen := make(map[string]bool, len(tools))
	out := tools[:0]
	for _, t := range tools {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Checks returns the standard check list for cfg.
func Checks(cfg *config.Config) []Check {
	checks := []Check{
		{Name: "Config file", Optional: true, Run: checkConfigFile},
		{Name: "Config valid", Run: checkConfigValid},
	}
	for _, tool := range RequiredTools(cfg) {
		checks = append(checks, Check{Name: tool, Run: lookPath(tool)})
	}
	checks = append(checks,
		Check{Name: "Conversion script", Optional: true, Run: checkScript},
		Check{Name: "Editor config", Optional: true, Run: checkEditorConfig},
		Check{Name: "Working directory", Run: checkWorkdir},
		Check{Name: "Drive mount", Optional: true, Run: checkMount},
		Check{Name: "Run history", Run: checkHistory},
	)
	return checks
}

// Run executes checks in order. It never stops early.
func Run(ctx context.Context, env Env, checks []Check) Report {
	var rep Report
	for _, c := range checks {
		detail, err := c.Run(ctx, env)
		res := Result{Check: c.Name, Status: StatusPass, Detail: detail}
		if err != nil {
			res.Detail = err.Error()
			res.Status = StatusFail
			if c.Optional {
				res.Status = StatusWarn
			}
		}
		switch res.Status {
		case StatusPass:
			rep.Summary.Pass++
		case StatusWarn:
			rep.Summary.Warn++
		default:
			rep.Summary.Fail++
		}
		rep.Checks = append(rep.Checks, res)
	}
	return rep
}

// Text renders the report for a terminal.
func (r Report) Text() string {
	var sb strings.Builder
	sb.WriteString("\n" + tui.TitleStyle.Render("  jianpu-ly doctor") + "\n\n")
	for _, res := range r.Checks {
		level := tui.LevelOK
		switch res.Status {
		case StatusWarn:
			level = tui.LevelWarn
		case StatusFail:
			level = tui.LevelFail
		}
		fmt.Fprintf(&sb, "  %s %s", tui.DiagIcon(level), res.Check)
		if res.Detail != "" {
			if res.Status == StatusPass {
				fmt.Fprintf(&sb, "  %s", tui.DimStyle.Render(res.Detail))
			} else {
				fmt.Fprintf(&sb, "\n    %s", tui.DimStyle.Render(res.Detail))
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n  %s %d passed", tui.SuccessStyle.Render(tui.IconCheck), r.Summary.Pass)
	if r.Summary.Warn > 0 {
		fmt.Fprintf(&sb, "  %s %d warnings", tui.WarningStyle.Render(tui.IconWarn), r.Summary.Warn)
	}
	if r.Summary.Fail > 0 {
		fmt.Fprintf(&sb, "  %s %d failed", tui.ErrorStyle.Render(tui.IconCross), r.Summary.Fail)
	}
	sb.WriteString("\n\n")
	return sb.String()
}

// FailWith returns a check body that always fails with err.
func FailWith(err error) func(context.Context, Env) (string, error) {
	return func(context.Context, Env) (string, error) { return "", err }
}

func checkConfigFile(_ context.Context, env Env) (string, error) {
	if _, err := os.Stat(env.ConfigPath); err != nil {
		return "", fmt.Errorf("no config at %s, using defaults", env.ConfigPath)
	}
	return env.ConfigPath, nil
}

func checkConfigValid(_ context.Context, env Env) (string, error) {
	if err := env.Config.Validate(); err != nil {
		return "", err
	}
	return "", nil
}

func lookPath(tool string) func(context.Context, Env) (string, error) {
	return func(_ context.Context, env Env) (string, error) {
		path, err := env.Detector.LookPath(tool)
		if err != nil {
			return "", fmt.Errorf("%s not found in PATH, run 'jianpu-ly provision'", tool)
		}
		return path, nil
	}
}

func checkScript(_ context.Context, env Env) (string, error) {
	path := filepath.Join(env.Workdir, env.Config.Script.Name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s not fetched yet, run 'jianpu-ly fetch'", path)
	}
	if env.Config.Script.Checksum == "" {
		return path + " (no checksum configured)", nil
	}
	if err := fetch.VerifyFile(path, env.Config.Script.Checksum); err != nil {
		return "", err
	}
	return path + ", checksum ok", nil
}

func checkEditorConfig(_ context.Context, env Env) (string, error) {
	path := env.Config.Editor.ConfigPath
	if err := editorconf.Check(path, provisioners.EditorSettings(env.Config)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s missing, run 'jianpu-ly provision --config-only'", path)
		}
		return "", err
	}
	return path, nil
}

func checkWorkdir(_ context.Context, env Env) (string, error) {
	if err := os.MkdirAll(env.Workdir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(env.Workdir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("%s is not writable: %w", env.Workdir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return env.Workdir, nil
}

func checkMount(_ context.Context, env Env) (string, error) {
	mounted := env.Mounted
	if mounted == nil {
		mounted = deliver.IsMounted
	}
	point := env.Config.Mount.Point
	ok, fsType, err := mounted(point)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s is not mounted, run 'jianpu-ly mount'", point)
	}
	return fmt.Sprintf("%s (%s)", point, fsType), nil
}

func checkHistory(ctx context.Context, env Env) (string, error) {
	store, err := history.Open(ctx, env.Config.State.Path)
	if err != nil {
		return "", err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return "", err
	}
	return env.Config.State.Path, nil
}
