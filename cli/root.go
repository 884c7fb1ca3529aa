// Package cli implements the planwright command line.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/martinemde/planwright/llm"
)

type options struct {
	client llm.Completer
	stdout io.Writer
	stderr io.Writer
}

// Option customizes the command tree.
type Option func(*options)

// WithClient replaces the configured reasoning client.
func WithClient(c llm.Completer) Option {
	return func(o *options) { o.client = c }
}

// WithOutput redirects command output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// New returns the root command with every subcommand attached.
func New(opts ...Option) *cobra.Command {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	f := &flags{}

	root := &cobra.Command{
		Use:   "planwright",
		Short: "Research a change request, then apply it one snippet at a time",
		Long: `planwright turns a natural-language change request into code edits in
two phases. Research explores the workspace through hypotheses and distills
an implementation plan; execution walks the plan one atomic task at a time,
replacing exactly one code snippet per step.

Every step is checkpointed, so an interrupted or failed run can be resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if o.stdout != nil {
		root.SetOut(o.stdout)
	}
	if o.stderr != nil {
		root.SetErr(o.stderr)
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/planwright/config.yaml)")
	pf.StringVarP(&f.dir, "dir", "C", ".", "workspace root")
	pf.String("model", "", "model identifier")
	pf.String("provider", "", "provider name (inferred from the model when empty)")
	pf.String("store", "", "checkpoint store driver: sqlite or memory")
	pf.String("store-path", "", "sqlite database path, relative to the workspace root")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "print state transitions and checkpoints")

	root.AddCommand(
		newResearchCmd(o, f),
		newExecuteCmd(o, f),
		newRunCmd(o, f),
		newResumeCmd(o, f),
		newRunsCmd(o, f),
	)
	return root
}

// Execute runs the command line against ctx.
func Execute(ctx context.Context, opts ...Option) error {
	return New(opts...).ExecuteContext(ctx)
}
