package cli

import (
	coreapp "codegraph/internal/core/app"
	"codegraph/internal/shared/util"
	"codegraph/internal/ui/tui"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newIndexCommand(opts *globalOptions) *cobra.Command {
	var languages []string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Bring the index up to date with the working tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := loadRuntime(ctx, opts, runtimeOptions{stderr: cmd.ErrOrStderr(), languages: languages})
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.app.Index(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(w, report)
			}
			renderTable(w, []string{"FILES", "COMMITTED", "UNCHANGED", "PARSE ERRORS", "DELETED", "REVISION", "TIME"}, [][]string{{
				strconv.Itoa(report.Files),
				strconv.Itoa(report.Committed),
				strconv.Itoa(report.Unchanged),
				strconv.Itoa(report.ParseErrors),
				strconv.Itoa(report.Deleted),
				strconv.FormatUint(uint64(report.Revision), 10),
				report.Duration.Round(time.Millisecond).String(),
			}})
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&languages, "languages", nil, "Index only these languages for this run (comma separated)")
	return cmd
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index size, breakdowns and cache effectiveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(_ context.Context, rt *runtime) error {
				st := rt.app.Stats()
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				renderStats(cmd.OutOrStdout(), st, opts.verbose)
				return nil
			})
		},
	}
}

func renderStats(w io.Writer, st coreapp.Stats, verbose bool) {
	renderTable(w, []string{"REVISION", "FILES", "SYMBOLS", "RELATIONSHIPS", "UNRESOLVED", "CACHE HIT RATIO"}, [][]string{{
		strconv.FormatUint(uint64(st.Revision), 10),
		strconv.Itoa(st.Files),
		strconv.Itoa(st.Symbols),
		strconv.Itoa(st.Relationships),
		strconv.Itoa(st.Unresolved),
		fmt.Sprintf("%.2f", st.Cache.HitRatio),
	}})
	if len(st.StaleFiles) > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d stale files", len(st.StaleFiles))))
	}
	if !verbose {
		return
	}
	var rows [][]string
	add := func(group string, counts map[string]int) {
		for _, k := range util.SortedStringKeys(counts) {
			rows = append(rows, []string{group, k, strconv.Itoa(counts[k])})
		}
	}
	add("symbols", st.SymbolsByKind)
	add("relationships", st.RelationsByKind)
	add("files", st.FilesByLanguage)
	renderTable(w, []string{"GROUP", "KIND", "COUNT"}, rows)
	for _, f := range st.StaleFiles {
		fmt.Fprintln(w, "stale: "+f)
	}
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var ui bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index, then keep the index current as files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := loadRuntime(ctx, opts, runtimeOptions{logToFile: ui, stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.close()
			return runWatch(ctx, rt, ui)
		},
	}
	cmd.Flags().BoolVar(&ui, "ui", false, "Show the live dashboard")
	return cmd
}

func runWatch(ctx context.Context, rt *runtime, ui bool) error {
	if err := rt.sync(ctx); err != nil {
		return err
	}
	rt.app.Start()
	if err := rt.app.Watch(ctx); err != nil {
		return err
	}

	if rt.cfg.Metrics.Enabled {
		srv := coreapp.NewObservabilityServer(rt.cfg.Metrics.Address, rt.app)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	if ui {
		return tui.Run(ctx, rt.app.Stats, time.Second)
	}
	slog.Info("watching for changes; press Ctrl+C to stop", "root", rt.app.Paths.ProjectRoot)
	<-ctx.Done()
	return nil
}
