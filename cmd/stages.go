package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	"github.com/xmjiao/jianpu-ly/internal/convert"
	"github.com/xmjiao/jianpu-ly/internal/deliver"
	"github.com/xmjiao/jianpu-ly/internal/editorconf"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/lock"
	"github.com/xmjiao/jianpu-ly/internal/provision"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

func newProvisionCmd() *cobra.Command {
	var configOnly bool
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Install the conversion toolchain",
		Long: `Installs typesetting, audio and PDF tools, fonts, Python helpers and the
notation editor, then writes the editor's config file. Nothing is installed
when the editor is already on PATH.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			p := a.provisioner()
			if configOnly {
				return writeEditorConfig(cmd.Context(), p, a.cfg.Editor.ConfigPath)
			}

			var res provision.Result
			_, err = tui.Spin(cmd.Context(), "Provisioning toolchain", func(ctx context.Context) (string, error) {
				var err error
				res, err = p.Ensure(ctx)
				if err != nil {
					return "", err
				}
				if res.Skipped {
					return res.PrimaryTool + " already installed", nil
				}
				return fmt.Sprintf("%d steps applied", len(res.Steps)), nil
			})
			if err != nil {
				return err
			}
			return tui.RenderOutput(res, provisionText(res))
		},
	}
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "only write the editor config file")
	return cmd
}

func writeEditorConfig(ctx context.Context, p *provision.Provisioner, path string) error {
	var entries []editorconf.Entry
	_, err := tui.Spin(ctx, "Writing editor config", func(context.Context) (string, error) {
		var err error
		entries, err = p.WriteEditorConfig()
		return path, err
	})
	if err != nil {
		return err
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Section, e.Key, e.Value}
	}
	return tui.RenderOutput(entries, tui.Table([]string{"SECTION", "KEY", "VALUE"}, rows)+"\n")
}

func provisionText(res provision.Result) string {
	if res.Skipped {
		return tui.KeyValue(res.PrimaryTool, tui.PathStyle.Render(res.ToolPath)) + "\n"
	}
	rows := make([][]string, len(res.Steps))
	for i, s := range res.Steps {
		rows[i] = []string{s.Name, tui.ValueOrMuted(s.Detail, "-"), s.Elapsed.Round(time.Millisecond).String()}
	}
	return tui.Table([]string{"STEP", "DETAIL", "ELAPSED"}, rows) + "\n"
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download the latest conversion script",
		Long:  "Downloads the conversion script into the working directory, replacing any local copy. A configured checksum is verified before the copy is replaced.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			l, err := lock.Acquire(a.workdir)
			if err != nil {
				return err
			}
			defer l.Release()

			sc := a.cfg.Script
			dest := filepath.Join(a.workdir, sc.Name)
			var res fetch.Result
			_, err = tui.Spin(cmd.Context(), "Fetching conversion script", func(ctx context.Context) (string, error) {
				var err error
				res, err = fetch.Download(ctx, a.fetcher, sc.URL, dest, sc.Checksum, 0o644)
				if err != nil {
					return "", jerrors.NewFetchError(err)
				}
				return fmt.Sprintf("%s (%s)", sc.Name, tui.HumanBytes(int64(res.Bytes))), nil
			})
			if err != nil {
				return err
			}
			text := tui.KeyValue("Script", tui.PathStyle.Render(res.Path)) + "\n" +
				tui.KeyValue("BLAKE3", res.Blake3) + "\n"
			if res.Verified {
				text += tui.KeyValue("Checksum", tui.SuccessStyle.Render("verified")) + "\n"
			}
			return tui.RenderOutput(res, text)
		},
	}
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <input> [args...]",
		Short: "Run the conversion script and collect its artifacts",
		Long: `Runs the previously fetched conversion script in the working directory and
resolves the artifact set it produced. Arguments are passed to the script
unchanged, after the configured fixed flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError(cmd, "convert requires at least one argument for the conversion script")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			l, err := lock.Acquire(a.workdir)
			if err != nil {
				return err
			}
			defer l.Release()

			c := a.converter()
			var set collect.ArtifactSet
			_, err = tui.Spin(cmd.Context(), "Converting", func(ctx context.Context) (string, error) {
				var err error
				set, err = c.Convert(ctx, convert.Request{Workdir: a.workdir, Args: args})
				return set.BaseName, err
			})
			if err != nil {
				return err
			}
			return tui.RenderOutput(set, artifactText(set))
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// collectResult is the structured form of `collect`.
type collectResult struct {
	collect.ArtifactSet `yaml:",inline"`
	Missing             []string      `json:"missing,omitempty" yaml:"missing,omitempty"`
	Pages               []previewPage `json:"pages,omitempty" yaml:"pages,omitempty"`
}

type previewPage struct {
	Number int `json:"number" yaml:"number"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func newCollectCmd() *cobra.Command {
	var (
		preview bool
		dpi     int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Resolve the base name and list the artifact set",
		Long: `Finds the description file the conversion left behind, derives the base
name from it and reports which of {base}.pdf, {base}.midi and {base}.mp3
exist. With --preview every score page is rendered and decoded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			set, err := collect.Collect(a.workdir, a.cfg.Conversion.DescriptionGlob)
			if err != nil {
				return jerrors.NewConversionError(err)
			}
			res := collectResult{ArtifactSet: set, Missing: set.Missing()}
			text := artifactText(set)

			if preview {
				pages, err := collect.Preview(cmd.Context(), a.runner, set.Score(), dpi)
				if err != nil {
					return jerrors.NewConversionError(err)
				}
				var sb strings.Builder
				sb.WriteString(tui.SectionHeader("Preview") + "\n")
				for _, pg := range pages {
					b := pg.Image.Bounds()
					res.Pages = append(res.Pages, previewPage{Number: pg.Number, Width: b.Dx(), Height: b.Dy()})
					fmt.Fprintf(&sb, "  %s page %d  %s\n", tui.IconNote, pg.Number,
						tui.DimStyle.Render(fmt.Sprintf("%dx%d", b.Dx(), b.Dy())))
				}
				text += sb.String()
			}
			return tui.RenderOutput(res, text)
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "render and decode every score page")
	cmd.Flags().IntVar(&dpi, "dpi", collect.DefaultPreviewDPI, "preview resolution")
	return cmd
}

func newDeliverCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "deliver [base]",
		Short: "Copy the artifact set to the destination",
		Long: `Copies {base}.pdf, {base}.midi and {base}.mp3 from the working directory to
the destination, creating it if needed. Without [base] the base name is
resolved from the description file. Every copy is attempted; each missing
file is reported.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			set := collect.ArtifactSet{Workdir: a.workdir}
			if len(args) == 1 {
				set.BaseName = args[0]
			} else if set.BaseName, err = collect.ResolveBaseName(a.workdir, a.cfg.Conversion.DescriptionGlob); err != nil {
				return jerrors.NewConversionError(err)
			}

			var out bytes.Buffer
			sink := deliver.NewSink(&out, a.cfg.Mount.BrowseURL)
			report, err := sink.Deliver(cmd.Context(), set, a.destination(dest, cmd.Flags().Changed("dest")))
			if rerr := tui.RenderOutput(report, out.String()); rerr != nil && err == nil {
				err = rerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "delivery destination (default from config)")
	_ = cmd.RegisterFlagCompletionFunc("dest", completeDirs)
	return cmd
}

// mountStatus is the structured form of `mount`.
type mountStatus struct {
	Point      string `json:"point" yaml:"point"`
	Mounted    bool   `json:"mounted" yaml:"mounted"`
	Filesystem string `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
}

func newMountCmd() *cobra.Command {
	var (
		noForce bool
		status  bool
	)
	cmd := &cobra.Command{
		Use:   "mount",
		Short: "Mount the cloud drive",
		Long:  "Mounts the cloud drive at the configured mount point. By default an existing mount is detached first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m := a.mounter()
			if !status {
				_, err = tui.Spin(cmd.Context(), "Mounting drive", func(ctx context.Context) (string, error) {
					return m.Point, m.Mount(ctx, !noForce)
				})
				if err != nil {
					return err
				}
			}
			ok, fsType, err := m.Mounted()
			if err != nil {
				return jerrors.NewDeliveryError(err)
			}
			st := mountStatus{Point: m.Point, Mounted: ok, Filesystem: fsType}
			text := tui.KeyValue("Mount point", tui.PathStyle.Render(st.Point)) + "\n" +
				tui.KeyValue("Mounted", tui.StatusIcon(ok)+" "+tui.ValueOrMuted(fsType, "no")) + "\n"
			return tui.RenderOutput(st, text)
		},
	}
	cmd.Flags().BoolVar(&noForce, "no-force", false, "keep an existing mount")
	cmd.Flags().BoolVar(&status, "status", false, "only report whether the drive is mounted")
	return cmd
}
