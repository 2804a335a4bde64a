package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/history"
	"github.com/xmjiao/jianpu-ly/internal/tui"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		browse bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long:  "Lists pipeline runs recorded in the history database, newest first. With --interactive, runs open in a browser where Enter shows stage details.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := history.Open(ctx, config.Get().State.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if tui.IsStructured() {
				return tui.RenderOutput(runs, "")
			}
			if len(runs) == 0 {
				tui.Info("No runs recorded yet")
				return nil
			}

			headers := []string{"ID", "STARTED", "STATUS", "BASE", "ARGS"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}
			if browse {
				_, err := tui.Browse(tui.BrowserConfig{
					Title:   "Run history",
					Headers: headers,
					Rows:    rows,
					Detail: func(_ []string, index int) string {
						run, err := store.Get(ctx, runs[index].ID)
						if err != nil {
							return tui.ErrorStyle.Render(err.Error())
						}
						return runDetailText(run)
					},
				})
				return err
			}
			return tui.RenderOutput(runs, tui.Table(headers, rows)+"\n")
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().BoolVarP(&browse, "interactive", "i", false, "browse runs in a full-screen table")
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "show <run-id>",
		Short:             "Show one run and its stages",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := history.Open(ctx, config.Get().State.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return tui.RenderOutput(run, runDetailText(run))
		},
	}
}

func runRow(r history.Run) []string {
	return []string{
		shortID(r.ID),
		r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		tui.RunStatusBadge(r.Status),
		tui.ValueOrMuted(r.BaseName, "-"),
		strings.Join(r.Args, " "),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runDetailText renders a run with its stages.
func runDetailText(r history.Run) string {
	var sb strings.Builder
	sb.WriteString(tui.BannerStyle.Render("Run "+r.ID) + "\n\n")
	sb.WriteString(tui.KeyValue("Status", tui.RunStatusBadge(r.Status)) + "\n")
	sb.WriteString(tui.KeyValue("Args", strings.Join(r.Args, " ")) + "\n")
	sb.WriteString(tui.KeyValue("Workdir", tui.PathStyle.Render(r.Workdir)) + "\n")
	sb.WriteString(tui.KeyValue("Destination", tui.ValueOrMuted(r.Destination, "not delivered")) + "\n")
	sb.WriteString(tui.KeyValue("Base name", tui.ValueOrMuted(r.BaseName, "-")) + "\n")
	sb.WriteString(tui.KeyValue("Started", r.StartedAt.Local().Format(time.RFC3339)) + "\n")
	if !r.FinishedAt.IsZero() {
		sb.WriteString(tui.KeyValue("Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()) + "\n")
	}
	if r.Error != "" {
		sb.WriteString(tui.KeyValue("Error", tui.ErrorStyle.Render(r.Error)) + "\n")
		sb.WriteString(tui.KeyValue("Exit code", fmt.Sprint(r.ExitCode)) + "\n")
	}

	if len(r.Stages) > 0 {
		sb.WriteString(tui.SectionHeader("Stages") + "\n")
		for i, st := range r.Stages {
			msg := st.Detail
			if st.Error != "" {
				msg = st.Error
			}
			label := fmt.Sprintf("%s %s", st.Name, tui.DimStyle.Render(st.Duration.Round(time.Millisecond).String()))
			sb.WriteString(tui.TreeNode(label, tui.RunStatusBadge(st.Status), msg, i == len(r.Stages)-1) + "\n")
		}
	}
	return sb.String()
}

// completeRunIDs offers recent run IDs for shell completion.
func completeRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := history.Open(ctx, config.Get().State.Path)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer store.Close()

	runs, err := store.List(ctx, 50)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var ids []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, toComplete) {
			ids = append(ids, fmt.Sprintf("%s\t%s %s", r.ID, r.Status, strings.Join(r.Args, " ")))
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}
