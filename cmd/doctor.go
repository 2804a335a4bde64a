package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/doctor"
	"github.com/xmjiao/jianpu-ly/internal/shell"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check prerequisites",
	Long: `Validates that the local environment can run the pipeline.

Checks include:
  - jianpu-ly config file exists and is valid
  - Required tools are on PATH (python3, lilypond, timidity, lame, ffmpeg, ...)
  - The conversion script is fetched and matches its checksum
  - The editor config file is written
  - The working directory is writable
  - The cloud drive is mounted
  - The run history database is reachable`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	path := cfgFile
	if path == "" {
		path = config.ConfigPath()
	}

	env := doctor.Env{
		Config:     cfg,
		ConfigPath: path,
		Workdir:    cfg.Workdir,
		Detector:   shell.NewExecRunner(),
	}
	checks := doctor.Checks(cfg)
	if configErr != nil {
		checks[0].Optional = false
		checks[0].Run = doctor.FailWith(configErr)
	}

	report := doctor.Run(cmd.Context(), env, checks)
	if err := tui.RenderOutput(report, report.Text()); err != nil {
		return err
	}
	return report.Err()
}
