package cmd

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/notebook"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

func newHelperCmd() *cobra.Command {
	var (
		out   string
		colab bool
	)
	cmd := &cobra.Command{
		Use:   "helper",
		Short: "Write the notebook helper module",
		Long: `Writes a Python module for notebook sessions with find_and_convert_to_images,
copy_to_drive and mount_drive. The description glob, mount point and default
destination are taken from the active config. Use --out - for stdout.`,
		Example: `  jianpu-ly helper
  jianpu-ly helper --colab --out /content/jianpu_helper.py`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			p := notebook.ParamsFromConfig(cfg, Version)
			p.Colab = colab

			var buf bytes.Buffer
			if err := notebook.Render(&buf, p); err != nil {
				return err
			}
			if out == "-" {
				_, err := cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if out == "" {
				out = filepath.Join(cfg.Workdir, notebook.DefaultFileName)
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := fetch.WriteAtomic(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			tui.Success("Wrote %s", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file, - for stdout (default <workdir>/"+notebook.DefaultFileName+")")
	cmd.Flags().BoolVar(&colab, "colab", false, "mount through google.colab instead of the configured command")
	return cmd
}
