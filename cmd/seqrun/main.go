package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingrea/seqrun/internal/batch"
)

// exitError carries a process exit code without an extra error message.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// cli holds flag values and the process streams for one invocation.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	runner batch.Runner

	configPath string
	verbose    bool
	autoYes    bool
	workDir    string
	fromStep   int
	tail       int
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "seqrun",
		Short: "Sequential simulation step controller",
		Long: `seqrun drives a batch-scheduled simulation through an ordered list of steps.

For every step it rewrites lines of the parameter file, submits the job
script, waits for the job to leave the queue, rebuilds the restart file from
the per-rank chunk files and backs up the results. The first failure halts
the run; a halted run can be resumed in the same work directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Configuration file (default: seqrun.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Create a fresh work directory and run every step",
		Args:  cobra.NoArgs,
		RunE:  c.runRun,
	}
	runCmd.Flags().BoolVarP(&c.autoYes, "auto-yes", "y", false, "Skip the confirmation prompt")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a halted run inside its existing work directory",
		Args:  cobra.NoArgs,
		RunE:  c.runResume,
	}
	resumeCmd.Flags().StringVarP(&c.workDir, "workdir", "w", "", "Work directory of the run to resume")
	resumeCmd.Flags().IntVar(&c.fromStep, "from-step", 0, "1-based step to start at (default: first step not completed)")
	resumeCmd.Flags().BoolVarP(&c.autoYes, "auto-yes", "y", false, "Skip the confirmation prompt")
	_ = resumeCmd.MarkFlagRequired("workdir")

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the configured steps and check step continuity",
		Args:  cobra.NoArgs,
		RunE:  c.runPreview,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted state of a run",
		Args:  cobra.NoArgs,
		RunE:  c.runStatus,
	}
	statusCmd.Flags().StringVarP(&c.workDir, "workdir", "w", "", "Work directory of the run")
	statusCmd.Flags().IntVarP(&c.tail, "tail", "n", 0, "Also print the last N lines of the run log (needs --config)")
	_ = statusCmd.MarkFlagRequired("workdir")

	root.AddCommand(runCmd, resumeCmd, previewCmd, statusCmd)
	return root
}

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, runner: batch.ExecRunner{}}
	if err := newRootCmd(c).Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
