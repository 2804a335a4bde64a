package cmd

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/history"
	"github.com/xmjiao/jianpu-ly/internal/serve"
)

func newServeCmd() *cobra.Command {
	var (
		listen string
		root   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse delivered files and run history over HTTP",
		Long: `Serves the delivery destination read-only under /files/, run history under
/api/runs and a /healthz check. Binds to loopback unless --listen says
otherwise. Stops on Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if !cmd.Flags().Changed("listen") {
				listen = cfg.Serve.Listen
			}
			if !cmd.Flags().Changed("root") {
				root = cfg.Delivery.Destination
			}

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx := cmd.Context()
			var runs serve.RunStore
			if store, err := history.Open(ctx, cfg.State.Path); err != nil {
				logger.Warn("run history unavailable", "path", cfg.State.Path, "error", err)
			} else {
				defer store.Close()
				runs = store
			}

			// pipeline metrics go to the textfile; this registry covers the server process
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			srv := serve.New(serve.Config{Listen: listen, Root: root}, runs, reg, logger)
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	cmd.Flags().StringVar(&root, "root", "", "directory served under /files/ (default delivery destination)")
	_ = cmd.RegisterFlagCompletionFunc("root", completeDirs)
	return cmd
}
