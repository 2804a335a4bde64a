// Package pipeline runs provision, fetch, convert, collect and deliver in
// order against one working directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/convert"
	"github.com/xmjiao/jianpu-ly/internal/deliver"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/history"
	"github.com/xmjiao/jianpu-ly/internal/lock"
	"github.com/xmjiao/jianpu-ly/internal/metrics"
	"github.com/xmjiao/jianpu-ly/internal/provision"
)

// Stage names.
const (
	StageProvision = "provision"
	StageFetch     = "fetch"
	StageMount     = "mount"
	StageConvert   = "convert"
	StageCollect   = "collect"
	StageDeliver   = "deliver"
)

// Provisioner ensures the toolchain is installed.
type Provisioner interface {
	Ensure(ctx context.Context) (provision.Result, error)
}

// Sink delivers an artifact set.
type Sink interface {
	Deliver(ctx context.Context, set collect.ArtifactSet, dest string) (deliver.Report, error)
}

// Mounter attaches durable storage.
type Mounter interface {
	Mount(ctx context.Context, force bool) error
}

// Options describe one run.
type Options struct {
	Workdir     string
	Args        []string
	Destination string
	// Mount (re)mounts the drive before converting. ForceMount unmounts first.
	Mount      bool
	ForceMount bool
	// SkipProvision trusts that the toolchain is present.
	SkipProvision bool
}

// Outcome is everything a run produced.
type Outcome struct {
	RunID     string              `json:"runId,omitempty" yaml:"runId,omitempty"`
	Workdir   string              `json:"workdir" yaml:"workdir"`
	Provision *provision.Result   `json:"provision,omitempty" yaml:"provision,omitempty"`
	Script    *fetch.Result       `json:"script,omitempty" yaml:"script,omitempty"`
	Artifacts collect.ArtifactSet `json:"artifacts" yaml:"artifacts"`
	Delivery  *deliver.Report     `json:"delivery,omitempty" yaml:"delivery,omitempty"`
	Stages    []history.Stage     `json:"stages" yaml:"stages"`
}

// Pipeline wires the stages together. History and Metrics are optional.
type Pipeline struct {
	Config      *config.Config
	Provisioner Provisioner
	Fetcher     fetch.Fetcher
	Converter   convert.Converter
	Sink        Sink
	Mounter     Mounter
	History     *history.Store
	Metrics     *metrics.Recorder

	now func() time.Time
}

// Step is one stage ready to run.
type Step struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Execution is a started run. It holds the workdir lock until Finish.
type Execution struct {
	p       *Pipeline
	opts    Options
	lock    *lock.WorkdirLock
	outcome Outcome
	steps   []Step
}

// Run executes every stage in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Outcome, error) {
	ex, err := p.Start(ctx, opts)
	if err != nil {
		return Outcome{}, err
	}
	var runErr error
	for _, step := range ex.Steps() {
		if _, runErr = step.Run(ctx); runErr != nil {
			break
		}
	}
	return ex.Finish(ctx, runErr)
}

// Start validates options, locks the workdir and opens a history record.
func (p *Pipeline) Start(ctx context.Context, opts Options) (*Execution, error) {
	if len(opts.Args) == 0 {
		return nil, jerrors.NewUsageError("requires at least one argument for the conversion script")
	}
	if opts.Workdir == "" {
		return nil, jerrors.NewUsageError("working directory is required")
	}
	abs, err := filepath.Abs(opts.Workdir)
	if err != nil {
		return nil, err
	}
	opts.Workdir = abs

	l, err := lock.Acquire(opts.Workdir)
	if err != nil {
		return nil, err
	}

	ex := &Execution{p: p, opts: opts, lock: l, outcome: Outcome{Workdir: opts.Workdir}}
	if p.History != nil {
		id, err := p.History.Begin(ctx, history.Run{
			Args:        opts.Args,
			Workdir:     opts.Workdir,
			Destination: opts.Destination,
		})
		if err != nil {
			_ = l.Release()
			return nil, err
		}
		ex.outcome.RunID = id
	}
	ex.steps = ex.plan()
	return ex, nil
}

// Steps returns the stages in run order. Each step records itself in history
// and metrics.
func (ex *Execution) Steps() []Step {
	return ex.steps
}

// Outcome returns what the run produced so far.
func (ex *Execution) Outcome() Outcome {
	return ex.outcome
}

// Finish records the final status, writes metrics and releases the lock.
// It returns runErr unchanged so callers can propagate it.
func (ex *Execution) Finish(ctx context.Context, runErr error) (Outcome, error) {
	defer ex.lock.Release()

	p := ex.p
	finished := p.clock()
	if p.History != nil && ex.outcome.RunID != "" {
		f := history.Finish{Status: history.StatusSucceeded, BaseName: ex.outcome.Artifacts.BaseName}
		if runErr != nil {
			f.Status = history.StatusFailed
			f.Error = runErr.Error()
			f.ExitCode = jerrors.ExitCode(runErr)
		}
		// a cancelled run still gets its final row
		if err := p.History.Finish(context.WithoutCancel(ctx), ex.outcome.RunID, f); err != nil && runErr == nil {
			runErr = err
		}
	}
	if p.Metrics != nil {
		p.Metrics.ObserveRun(runErr == nil, finished)
		if p.Config != nil && p.Config.Metrics.Enabled {
			if err := p.Metrics.WriteTextfile(p.Config.Metrics.Textfile); err != nil && runErr == nil {
				runErr = err
			}
		}
	}
	return ex.outcome, runErr
}

func (ex *Execution) plan() []Step {
	var steps []Step
	if !ex.opts.SkipProvision && ex.p.Provisioner != nil {
		steps = append(steps, ex.step(StageProvision, ex.provision))
	}
	steps = append(steps, ex.step(StageFetch, ex.fetchScript))
	if ex.opts.Mount && ex.p.Mounter != nil {
		steps = append(steps, ex.step(StageMount, ex.mount))
	}
	steps = append(steps,
		ex.step(StageConvert, ex.convert),
		ex.step(StageCollect, ex.collect),
	)
	if ex.opts.Destination != "" {
		steps = append(steps, ex.step(StageDeliver, ex.deliver))
	}
	return steps
}

func (ex *Execution) step(name string, fn func(ctx context.Context) (string, error)) Step {
	return Step{Name: name, Run: func(ctx context.Context) (string, error) {
		start := ex.p.clock()
		detail, err := fn(ctx)
		st := history.Stage{
			Name:      name,
			Status:    history.StatusSucceeded,
			Detail:    detail,
			StartedAt: start,
			Duration:  ex.p.clock().Sub(start),
		}
		kind := ""
		if err != nil {
			st.Status = history.StatusFailed
			st.Error = err.Error()
			kind = string(jerrors.KindOf(err))
			if kind == "" {
				kind = "unknown"
			}
		}
		ex.outcome.Stages = append(ex.outcome.Stages, st)
		if ex.p.History != nil && ex.outcome.RunID != "" {
			if herr := ex.p.History.RecordStage(context.WithoutCancel(ctx), ex.outcome.RunID, st); herr != nil && err == nil {
				err = herr
			}
		}
		if ex.p.Metrics != nil {
			ex.p.Metrics.ObserveStage(name, st.Duration, kind)
		}
		return detail, err
	}}
}

func (ex *Execution) provision(ctx context.Context) (string, error) {
	res, err := ex.p.Provisioner.Ensure(ctx)
	if err != nil {
		return "", err
	}
	ex.outcome.Provision = &res
	if res.Skipped {
		return fmt.Sprintf("%s already at %s", res.PrimaryTool, res.ToolPath), nil
	}
	return fmt.Sprintf("%d steps applied", len(res.Steps)), nil
}

func (ex *Execution) fetchScript(ctx context.Context) (string, error) {
	sc := ex.p.Config.Script
	dest := filepath.Join(ex.opts.Workdir, sc.Name)
	res, err := fetch.Download(ctx, ex.p.Fetcher, sc.URL, dest, sc.Checksum, 0o644)
	if err != nil {
		return "", jerrors.NewFetchError(err)
	}
	ex.outcome.Script = &res
	detail := fmt.Sprintf("%s (%d bytes)", sc.Name, res.Bytes)
	if res.Verified {
		detail += ", checksum ok"
	}
	return detail, nil
}

func (ex *Execution) mount(ctx context.Context) (string, error) {
	if err := ex.p.Mounter.Mount(ctx, ex.opts.ForceMount); err != nil {
		return "", err
	}
	return ex.p.Config.Mount.Point, nil
}

func (ex *Execution) convert(ctx context.Context) (string, error) {
	set, err := ex.p.Converter.Convert(ctx, convert.Request{Workdir: ex.opts.Workdir, Args: ex.opts.Args})
	if err != nil {
		return "", err
	}
	ex.outcome.Artifacts = set
	return set.BaseName, nil
}

// collect reports which artifacts exist. Partial sets are not an error here;
// delivery names each missing file.
func (ex *Execution) collect(context.Context) (string, error) {
	set := ex.outcome.Artifacts
	if set.BaseName == "" {
		return "", jerrors.NewConversionError(collect.ErrNoDescription)
	}
	missing := set.Missing()
	if len(missing) == 0 {
		return fmt.Sprintf("%s.{pdf,midi,mp3}", set.BaseName), nil
	}
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = filepath.Base(m)
	}
	return fmt.Sprintf("%s, missing %s", set.BaseName, strings.Join(names, ", ")), nil
}

func (ex *Execution) deliver(ctx context.Context) (string, error) {
	report, err := ex.p.Sink.Deliver(ctx, ex.outcome.Artifacts, ex.opts.Destination)
	ex.outcome.Delivery = &report
	if ex.p.Metrics != nil {
		ex.p.Metrics.ObserveDelivery(len(report.Copied), report.Bytes())
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d files to %s", len(report.Copied), report.Destination), nil
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// IsBusy reports whether err means another run holds the workdir.
func IsBusy(err error) bool {
	return errors.Is(err, lock.ErrBusy)
}
