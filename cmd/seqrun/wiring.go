package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/seqrun/internal/batch"
	"github.com/kingrea/seqrun/internal/checkpoint"
	"github.com/kingrea/seqrun/internal/config"
	"github.com/kingrea/seqrun/internal/extract"
	"github.com/kingrea/seqrun/internal/logging"
	"github.com/kingrea/seqrun/internal/metrics"
	"github.com/kingrea/seqrun/internal/orchestrator"
	"github.com/kingrea/seqrun/internal/runstate"
	"github.com/kingrea/seqrun/internal/workspace"
)

func layoutFor(sys config.SystemConfig) workspace.Layout {
	return workspace.Layout{
		JobScript:    sys.JobScript,
		InputFile:    sys.InputFile,
		RestartFile:  sys.RestartFile,
		ChunkPattern: sys.ChunkPattern,
	}
}

func monitorOptions(sys config.SystemConfig) batch.MonitorOptions {
	policy := batch.RetryQuery
	if sys.QueryFailurePolicy == config.QueryAssumeComplete {
		policy = batch.AssumeComplete
	}
	return batch.MonitorOptions{
		PollInterval:      sys.CheckInterval,
		HeartbeatInterval: sys.HeartbeatInterval,
		MaxWait:           sys.MaxWait,
		Policy:            policy,
		MaxQueryFailures:  sys.MaxQueryFailures,
	}
}

// buildOrchestrator wires every stage of a run in ws from the configuration.
func buildOrchestrator(cfg *config.Config, ws *workspace.Workspace, logger *logging.Logger, runner batch.Runner) (*orchestrator.Orchestrator, error) {
	sys := cfg.System
	sched := batch.NewSlurm(runner, batch.SlurmOptions{
		SubmitCommand: sys.Scheduler.SubmitCommand,
		QueryCommand:  sys.Scheduler.QueryCommand,
		QueryArgs:     sys.Scheduler.QueryArgs,
		SubmitMarker:  sys.Scheduler.SubmitMarker,
	}, logger.Logger)
	monitor := batch.NewMonitor(sched, monitorOptions(sys), batch.WithLoggers(logger.Logger, logger.Quiet()))
	extractor := extract.New(ws, extract.Options{
		NumChunks: sys.NumChunks,
		Lenient:   sys.Coverage == config.CoverageLenient,
	}, logger.Logger)

	orch, err := orchestrator.New(ws, orchestrator.Deps{
		Submitter:    sched,
		Waiter:       monitor,
		Extractor:    extractor,
		Checkpointer: checkpoint.New(ws, logger.Logger),
	},
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithStore(runstate.NewRepository(ws.StatePath())),
		orchestrator.WithMetrics(metrics.New(ws.RunID, sys.MetricsFile)),
	)
	if err != nil {
		return nil, fmt.Errorf("wire run: %w", err)
	}
	return orch, nil
}

func openLogger(cfg *config.Config, c *cli, ws *workspace.Workspace) (*logging.Logger, error) {
	logger, err := logging.New(logging.Options{
		Path:    cfg.LogPath(),
		Screen:  c.stderr,
		Verbose: c.verbose,
	})
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("run_id", ws.RunID)), nil
}
