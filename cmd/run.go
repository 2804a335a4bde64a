package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	"github.com/xmjiao/jianpu-ly/internal/deliver"
	"github.com/xmjiao/jianpu-ly/internal/metrics"
	"github.com/xmjiao/jianpu-ly/internal/pipeline"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

var stageTitles = map[string]string{
	pipeline.StageProvision: "Provisioning toolchain",
	pipeline.StageFetch:     "Fetching conversion script",
	pipeline.StageMount:     "Mounting drive",
	pipeline.StageConvert:   "Converting",
	pipeline.StageCollect:   "Collecting artifacts",
	pipeline.StageDeliver:   "Delivering",
}

func newRunCmd() *cobra.Command {
	var (
		dest          string
		noDeliver     bool
		mount         bool
		noForce       bool
		skipProvision bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] <input> [args...]",
		Short: "Run the whole pipeline",
		Long: `Provisions the toolchain if needed, fetches the latest conversion script,
converts the input, and copies {base}.pdf, {base}.midi and {base}.mp3 to the
delivery destination.

Everything after the first positional argument is passed to the conversion
script unchanged, flags included.`,
		Example: `  jianpu-ly run song.txt
  jianpu-ly run --dest /content/drive/MyDrive/songs song.txt -B
  jianpu-ly run --mount --skip-provision song.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError(cmd, "run requires at least one argument for the conversion script")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			opts := pipeline.Options{
				Workdir:       a.workdir,
				Args:          args,
				Destination:   a.destination(dest, cmd.Flags().Changed("dest")),
				Mount:         mount,
				ForceMount:    !noForce,
				SkipProvision: skipProvision,
			}
			if noDeliver {
				opts.Destination = ""
			}
			return a.runPipeline(cmd.Context(), opts)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&dest, "dest", "", "delivery destination (default from config)")
	cmd.Flags().BoolVar(&noDeliver, "no-deliver", false, "stop after collecting artifacts")
	cmd.Flags().BoolVar(&mount, "mount", false, "mount the drive before converting")
	cmd.Flags().BoolVar(&noForce, "no-force", false, "keep an existing mount instead of remounting")
	cmd.Flags().BoolVar(&skipProvision, "skip-provision", false, "assume the toolchain is installed")
	_ = cmd.RegisterFlagCompletionFunc("dest", completeDirs)
	return cmd
}

func (a *app) runPipeline(ctx context.Context, opts pipeline.Options) error {
	var sinkOut bytes.Buffer
	store := a.openHistory(ctx)
	if store != nil {
		defer store.Close()
	}

	p := &pipeline.Pipeline{
		Config:      a.cfg,
		Provisioner: a.provisioner(),
		Fetcher:     a.fetcher,
		Converter:   a.converter(),
		Sink:        deliver.NewSink(&sinkOut, a.cfg.Mount.BrowseURL),
		Mounter:     a.mounter(),
		History:     store,
		Metrics:     metrics.New(),
	}

	ex, err := p.Start(ctx, opts)
	if err != nil {
		return err
	}
	steps := ex.Steps()
	tsteps := make([]tui.Step, len(steps))
	for i, s := range steps {
		tsteps[i] = tui.Step{Title: stageTitles[s.Name], Run: s.Run}
	}

	_, runErr := tui.RunSteps(ctx, "jianpu-ly run", tsteps)
	outcome, err := ex.Finish(ctx, runErr)
	if rerr := tui.RenderOutput(outcome, outcomeText(outcome, sinkOut.String())); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// outcomeText renders a run for the terminal. Delivery lines come from the
// sink; without a delivery the artifact set is listed instead.
func outcomeText(o pipeline.Outcome, delivered string) string {
	var sb strings.Builder
	if delivered != "" {
		sb.WriteString(delivered)
	} else if o.Artifacts.BaseName != "" {
		sb.WriteString(artifactText(o.Artifacts))
	}
	if o.RunID != "" {
		sb.WriteString(tui.DimStyle.Render("run "+o.RunID) + "\n")
	}
	return sb.String()
}

func artifactText(set collect.ArtifactSet) string {
	var sb strings.Builder
	missing := make(map[string]bool)
	for _, m := range set.Missing() {
		missing[m] = true
	}
	fmt.Fprintf(&sb, "%s\n", tui.KeyValue("Base name", set.BaseName))
	for _, p := range set.Paths() {
		fmt.Fprintf(&sb, "  %s\n", tui.ArtifactBadge(p, !missing[p]))
	}
	return sb.String()
}
