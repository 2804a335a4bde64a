package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/config"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
	// Commit is set at build time via ldflags.
	Commit = "none"

	cfgFile     string
	workdir     string
	output      string
	verbose     bool
	quiet       bool
	nonInteract bool

	// configErr is a config file that exists but does not parse.
	configErr error
)

var rootCmd = &cobra.Command{
	Use:   "jianpu-ly",
	Short: "Turn jianpu notation into sheet music and audio",
	Long: `jianpu-ly drives an external conversion script that turns numbered
(jianpu) notation into an engraved PDF score, a MIDI sequence and an MP3
rendering, then copies all three to a mounted cloud drive.

The pipeline is strictly sequential:

  provision -> fetch -> convert -> collect -> deliver

Each stage is also available as its own command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: applyGlobalFlags,
}

// Execute runs the root command. The caller maps the returned error to an
// exit status with errors.ExitCode.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		tui.Error("%v", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/jianpu-ly/config.yaml)")
	pf.StringVarP(&workdir, "workdir", "C", "", "working directory for every stage (default from config)")
	pf.StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	pf.BoolVar(&verbose, "verbose", false, "stream child process output and print debug lines")
	pf.BoolVar(&quiet, "quiet", false, "suppress informational output")
	pf.BoolVar(&nonInteract, "non-interactive", false, "disable spinners and interactive tables")
	_ = rootCmd.RegisterFlagCompletionFunc("output", completeFormats)
	_ = rootCmd.RegisterFlagCompletionFunc("workdir", completeDirs)

	rootCmd.AddCommand(
		newRunCmd(),
		newProvisionCmd(),
		newFetchCmd(),
		newConvertCmd(),
		newCollectCmd(),
		newDeliverCmd(),
		newMountCmd(),
		newHelperCmd(),
		newHistoryCmd(),
		newServeCmd(),
		doctorCmd,
		initCmd,
		versionCmd,
		completionCmd,
	)
}

func initConfig() {
	path := cfgFile
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	configErr = err
	if err != nil {
		cfg = config.Default()
	}
	config.Set(cfg)
}

// applyGlobalFlags layers persistent flags over the loaded config.
func applyGlobalFlags(cmd *cobra.Command, _ []string) error {
	format, err := tui.ParseOutputFormat(output)
	if err != nil {
		return jerrors.NewUsageError("%v", err)
	}
	tui.SetOutputFormat(string(format))

	cfg := config.Get()
	if cmd.Flags().Changed("workdir") {
		cfg.Workdir = workdir
	}
	if verbose {
		cfg.Verbose = true
	}
	if quiet {
		cfg.Quiet = true
	}
	if nonInteract {
		cfg.Interactive = false
	}
	// streamed child output and a redrawing spinner cannot share a terminal
	if !cfg.Interactive || cfg.Verbose {
		tui.SetInteractive(false)
	}
	config.Set(cfg)

	if configErr != nil && !skipsConfig(cmd) {
		return jerrors.NewUsageError("load config: %v", configErr)
	}
	return nil
}

// skipsConfig reports whether cmd works without a parseable config.
func skipsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "completion", "doctor", "init":
		return true
	}
	return false
}

// usageError prints cmd's usage and returns a usage error.
func usageError(cmd *cobra.Command, format string, args ...any) error {
	fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
	return jerrors.NewUsageError(format, args...)
}

// --- Inline simple commands ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print jianpu-ly version",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := struct {
			Version string `json:"version" yaml:"version"`
			Commit  string `json:"commit" yaml:"commit"`
		}{Version, Commit}
		return tui.RenderOutput(info, fmt.Sprintf("jianpu-ly %s (commit: %s)\n", Version, Commit))
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  "Writes the default configuration to $XDG_CONFIG_HOME/jianpu-ly/config.yaml (or --config) unless a file already exists.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := cfgFile
	if path == "" {
		path = config.ConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return jerrors.NewUsageError("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	tui.Success("Wrote %s", path)
	return nil
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for jianpu-ly.

Examples:
  # Bash
  source <(jianpu-ly completion bash)

  # Zsh
  jianpu-ly completion zsh > "${fpath[1]}/_jianpu-ly"

  # Fish
  jianpu-ly completion fish | source`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return jerrors.NewUsageError("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
}
