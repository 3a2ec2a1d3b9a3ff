package cli

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/query"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// withRuntime loads the project, catches the index up with the disk and
// runs fn against it.
func withRuntime(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := loadRuntime(ctx, opts, runtimeOptions{stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.close()
	if err := rt.sync(ctx); err != nil {
		return err
	}
	return fn(ctx, rt)
}

func (f *targetFlags) target(name string) query.Target {
	return query.Target{Name: name, File: f.file, Kind: facts.SymbolKind(strings.ToLower(f.kind))}
}

func newLookupCommand(opts *globalOptions) *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:   "lookup <name>",
		Short: "List the symbols with an exact simple or qualified name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.app.Service().Lookup(ctx, tf.target(args[0]))
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(w, res)
				}
				if len(res.Candidates) == 0 {
					fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("no symbol named %q", args[0])))
				} else {
					renderTable(w, symbolHeaders, symbolRows(res.Candidates))
				}
				renderMeta(w, res.Meta)
				return nil
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func newNeighborCommand(opts *globalOptions, use, short string) *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				svc := rt.app.Service()
				t := tf.target(args[0])
				var (
					res *query.NeighborResult
					err error
				)
				switch use {
				case "callers":
					res, err = svc.Callers(ctx, t)
				case "callees":
					res, err = svc.Callees(ctx, t)
				default:
					res, err = svc.References(ctx, t)
				}
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderNeighbors(cmd.OutOrStdout(), t, res)
				return nil
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func newDepsCommand(opts *globalOptions) *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:   "deps <name|file>",
		Short: "Roll the imports and calls of a symbol or file up to the files they reach",
		Long: `deps treats its argument as a file when it names a source file the
index knows about, and as a symbol name otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				req := query.DependencyRequest{Target: tf.target(args[0])}
				if tf.file == "" && tf.kind == "" && rt.app.Updater.IsIndexed(args[0]) {
					req = query.DependencyRequest{File: args[0]}
				}
				res, err := rt.app.Service().Dependencies(ctx, req)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderDependencies(cmd.OutOrStdout(), req.Target, res)
				return nil
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func parseRelationKinds(raw []string) ([]facts.RelationKind, error) {
	var kinds []facts.RelationKind
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if part == "all" {
				return nil, nil
			}
			k, ok := facts.ParseRelationKind(part)
			if !ok {
				return nil, errors.AddContext(errors.New(errors.CodeValidationError, "unknown relationship kind"), "kind", part)
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

func newPathCommand(opts *globalOptions) *cobra.Command {
	var (
		kinds []string
		depth int
	)
	cmd := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Find the shortest chain of relationships from one symbol to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseRelationKinds(kinds)
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				if !cmd.Flags().Changed("depth") {
					depth = rt.cfg.Query.MaxDepth
				}
				req := query.PathRequest{
					From:     query.Target{Name: args[0]},
					To:       query.Target{Name: args[1]},
					Kinds:    parsed,
					MaxDepth: depth,
				}
				res, err := rt.app.Service().Path(ctx, req)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderPath(cmd.OutOrStdout(), req, res)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kinds", []string{string(facts.RelCalls)}, "Relationship kinds to follow, or \"all\"")
	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum path length (default: query.max_depth)")
	return cmd
}

func newImpactCommand(opts *globalOptions) *cobra.Command {
	var (
		tf     targetFlags
		change string
		to     string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "impact <name>",
		Short: "List the symbols a hypothetical change to <name> would affect",
		Long: `impact walks incoming relationships from the target breadth first.

Change kinds:
  delete       every caller, referrer and importer is affected
  rename       like delete; --to is required and collisions are reported
  change_type  callers, referrers and subtypes; --to is required`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := query.ParseChangeKind(change)
			if !ok {
				return errors.AddContext(errors.New(errors.CodeValidationError, "unknown change kind"), "change", change)
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				if !cmd.Flags().Changed("depth") {
					depth = rt.cfg.Query.MaxDepth
				}
				req := query.ImpactRequest{Target: tf.target(args[0]), Change: kind, To: to, MaxDepth: depth}
				res, err := rt.app.Service().Impact(ctx, req)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				renderImpact(cmd.OutOrStdout(), req, res)
				return nil
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&change, "change", string(query.ChangeDelete), "Change kind: delete, rename or change_type")
	cmd.Flags().StringVar(&to, "to", "", "New name or type for rename and change_type")
	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum traversal depth (default: query.max_depth)")
	return cmd
}
