package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/seqrun/internal/config"
	"github.com/kingrea/seqrun/internal/logging"
	"github.com/kingrea/seqrun/internal/orchestrator"
	"github.com/kingrea/seqrun/internal/runstate"
	"github.com/kingrea/seqrun/internal/tui"
	"github.com/kingrea/seqrun/internal/workspace"
)

func (c *cli) runPreview(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	issues := cfg.Preflight()
	fmt.Fprint(c.stdout, tui.RenderPreview(cfg.Plan, issues))
	if len(issues) > 0 {
		return exitError{code: 1}
	}
	return nil
}

func (c *cli) runStatus(cmd *cobra.Command, _ []string) error {
	ws, err := workspace.Open(c.workDir, workspace.Layout{})
	if err != nil {
		return err
	}
	state, err := runstate.NewRepository(ws.StatePath()).Load()
	if errors.Is(err, runstate.ErrStateNotFound) {
		return fmt.Errorf("no run state in %s", ws.Dir)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(c.stdout, tui.RenderState(state))
	if c.tail <= 0 {
		return nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	lines, err := logging.Tail(cfg.LogPath(), c.tail)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	fmt.Fprintf(c.stdout, "\nLast %d lines of %s:\n", len(lines), cfg.LogPath())
	for _, line := range lines {
		fmt.Fprintln(c.stdout, line)
	}
	return nil
}

func (c *cli) runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	sys := cfg.System
	fmt.Fprintf(c.stdout, "Source directory: %s\nTotal steps: %d\n", sys.SourceDir, cfg.Plan.Len())

	ws, err := workspace.Create(workspace.CreateOptions{
		SourceDir: sys.SourceDir,
		Prefix:    sys.WorkDirPrefix,
		Ignore:    sys.IgnorePatterns,
		Keep:      []string{sys.RestartFile},
	}, layoutFor(sys))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Working directory: %s\n", ws.Dir)
	if err := ws.Check(); err != nil {
		return err
	}
	return c.execute(cmd.Context(), cfg, ws, 1)
}

func (c *cli) runResume(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	ws, err := workspace.Open(c.workDir, layoutFor(cfg.System))
	if err != nil {
		return err
	}
	if err := ws.Check(); err != nil {
		return err
	}
	start := c.fromStep
	state, err := runstate.NewRepository(ws.StatePath()).Load()
	switch {
	case err == nil:
		if state.RunID != "" {
			ws.RunID = state.RunID
		}
		if start == 0 {
			start = state.NextStep(cfg.Plan.Len())
		}
	case errors.Is(err, runstate.ErrStateNotFound):
		if start == 0 {
			start = 1
		}
	default:
		return err
	}
	if start > cfg.Plan.Len() {
		fmt.Fprintf(c.stdout, "All %d steps already completed in %s.\n", cfg.Plan.Len(), ws.Dir)
		return nil
	}
	if start < 1 {
		return fmt.Errorf("--from-step must be >= 1, got %d", start)
	}
	fmt.Fprintf(c.stdout, "Resuming %s at step %d of %d\n", ws.Dir, start, cfg.Plan.Len())
	return c.execute(cmd.Context(), cfg, ws, start)
}

// execute confirms and runs the plan from start inside ws.
func (c *cli) execute(parent context.Context, cfg *config.Config, ws *workspace.Workspace, start int) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := openLogger(cfg, c, ws)
	if err != nil {
		return err
	}
	defer logger.Close()

	if issues := cfg.Preflight(); len(issues) > 0 {
		for _, issue := range issues {
			logger.Warn("continuity issue", zap.String("issue", issue.String()))
		}
	}

	if !c.autoYes {
		ok, err := tui.Ask(ctx, c.stdin, c.stdout, "Proceed with execution?", tui.RenderPreview(cfg.Plan, cfg.Preflight()))
		if err != nil {
			return fmt.Errorf("confirmation prompt: %w", err)
		}
		if !ok {
			fmt.Fprintln(c.stdout, "Execution cancelled by user.")
			return nil
		}
	}

	orch, err := buildOrchestrator(cfg, ws, logger, c.runner)
	if err != nil {
		return err
	}
	logger.Info("work directory ready", zap.String("work_dir", ws.Dir), zap.String("log_file", cfg.LogPath()))
	out := orch.Run(ctx, cfg.Plan, orchestrator.RunOptions{StartAt: start})
	fmt.Fprint(c.stdout, tui.RenderOutcome(out, cfg.Plan.Len()))
	if !out.Completed() {
		fmt.Fprintf(c.stdout, "Check log file for details: %s\n", cfg.LogPath())
		return exitError{code: 1}
	}
	fmt.Fprintf(c.stdout, "Final %s is ready in %s\n", cfg.System.RestartFile, ws.Dir)
	return nil
}
