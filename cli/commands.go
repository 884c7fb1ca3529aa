package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/martinemde/planwright/failure"
	"github.com/martinemde/planwright/plan"
	"github.com/martinemde/planwright/runstate"
)

func newResearchCmd(o *options, f *flags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "research <request>",
		Short: "Research a change request and write its implementation plan",
		Long: `Run the research phase only. The plan is printed, and written to --out
when given. The run is checkpointed at the hand-off to execution, so
'planwright resume --run <id>' applies it later.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o, f, true)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.orch.RunResearch(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return runFailed(err)
			}
			a.flush()

			w := cmd.OutOrStdout()
			if out != "" {
				if err := plan.Save(afero.NewOsFs(), out, res.Plan); err != nil {
					return err
				}
				fmt.Fprintf(w, "Plan written to %s\n", out)
			}
			if res.Degraded {
				fmt.Fprintf(w, "Research ended early: %s\n", res.Reason)
			}
			fmt.Fprintf(w, "\n%s\n\n%s\n", res.Summary, res.Plan.Render())
			fmt.Fprintf(w, "Run %s is ready to execute: planwright resume --run %s\n", res.RunID, res.RunID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the plan to this file (.yaml or .json)")
	return cmd
}

func newExecuteCmd(o *options, f *flags) *cobra.Command {
	var planFile string
	cmd := &cobra.Command{
		Use:   "execute --plan <file>",
		Short: "Apply an implementation plan to the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(afero.NewOsFs(), planFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, o, f, true)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.orch.RunExecution(cmd.Context(), p)
			if err != nil {
				return runFailed(err)
			}
			a.flush()
			printOutcome(cmd.OutOrStdout(), res.RunID, res.MutatedFiles, len(res.Diffs), res.Failures)
			return nil
		},
	}
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "plan file (.yaml or .json)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newRunCmd(o *options, f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <request>",
		Short: "Research a change request and apply the resulting plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o, f, true)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.orch.RunFull(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return runFailed(err)
			}
			a.flush()
			printOutcome(cmd.OutOrStdout(), res.RunID, res.MutatedFiles, len(res.Diffs), res.Failures)
			return nil
		},
	}
}

func newResumeCmd(o *options, f *flags) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "resume --run <id>",
		Short: "Continue a checkpointed run",
		Long: `Continue a run from its last checkpoint. A run stopped by a failure is
retried from the step that failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o, f, true)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.orch.Resume(cmd.Context(), runID)
			if err != nil {
				return runFailed(err)
			}
			a.flush()
			printOutcome(cmd.OutOrStdout(), res.RunID, res.MutatedFiles, len(res.Diffs), res.Failures)
			return nil
		},
	}
	cmd.Flags().StringVarP(&runID, "run", "r", "", "run ID")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newRunsCmd(o *options, f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List checkpointed runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o, f, false)
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPHASE\tDIFFS\tFAILURES\tUPDATED\tREQUEST")
			for _, s := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
					s.ID, s.Phase, s.Diffs, s.Tasks, s.Failures,
					s.UpdatedAt.Local().Format(time.DateTime), truncate(s.Request, 48))
			}
			return tw.Flush()
		},
	}
}

func printOutcome(w io.Writer, runID string, files []string, diffs int, failures []runstate.FailureRecord) {
	fmt.Fprintf(w, "\nRun %s complete: %d edit(s) across %d file(s)\n", runID, diffs, len(files))
	for _, p := range files {
		fmt.Fprintf(w, "  %s\n", p)
	}
	if len(failures) > 0 {
		fmt.Fprintf(w, "Recovered from %d earlier failure(s)\n", len(failures))
	}
}

// runFailed adds the resume hint to errors that stopped a checkpointed run.
func runFailed(err error) error {
	var re *runstate.RunError
	if !errors.As(err, &re) || re.State == nil {
		return err
	}
	if re.State.Phase == runstate.PhaseFailed || failure.KindOf(err) == failure.KindCancelled {
		return fmt.Errorf("%w\nresume with: planwright resume --run %s", err, re.State.ID)
	}
	return err
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
