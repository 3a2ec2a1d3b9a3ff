// Package cli is the codegraph command line.
package cli

import (
	"codegraph/internal/core/errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const versionString = "0.1.0"

type globalOptions struct {
	configPath string
	verbose    bool
	json       bool
}

// targetFlags are the disambiguation flags shared by symbol commands.
type targetFlags struct {
	file string
	kind string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "file", "", "Only match symbols defined in this file")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only match symbols of this kind (function, method, type, ...)")
}

func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "codegraph",
		Short: "Incremental code graph index with structural queries",
		Long: `codegraph keeps a revisioned index of the symbols and relationships in a
source tree and answers structural queries against it: who calls a
function, what it depends on, how two symbols connect, and what a change
to a symbol would affect.`,
		Version:       versionString,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("codegraph v{{.Version}}\n")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: nearest .codegraph.toml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print results as JSON")

	root.AddCommand(
		newIndexCommand(opts),
		newWatchCommand(opts),
		newStatsCommand(opts),
		newVersionCommand(),
		newLookupCommand(opts),
		newNeighborCommand(opts, "callers", "List the symbols that call <name>"),
		newNeighborCommand(opts, "callees", "List the symbols <name> calls"),
		newNeighborCommand(opts, "references", "List the symbols that reference <name>"),
		newDepsCommand(opts),
		newPathCommand(opts),
		newImpactCommand(opts),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codegraph v%s\n", versionString)
		},
	}
}

// Run executes the command line and returns the process exit code:
// 0 on success, 2 for invalid input, 1 for anything else.
func Run(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.IsCode(err, errors.CodeValidationError) {
			return 2
		}
		return 1
	}
	return 0
}
