// Package orchestrator runs a plan step by step: edit the parameter file,
// submit the job, wait for it, extract the restart file and back up the
// results. The first failing stage halts the run; nothing is retried.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/seqrun/internal/batch"
	"github.com/kingrea/seqrun/internal/extract"
	"github.com/kingrea/seqrun/internal/metrics"
	"github.com/kingrea/seqrun/internal/paramfile"
	"github.com/kingrea/seqrun/internal/runstate"
	"github.com/kingrea/seqrun/internal/workflow"
	"github.com/kingrea/seqrun/internal/workspace"
)

// ErrStartOutOfRange reports a StartAt beyond the end of the plan.
var ErrStartOutOfRange = errors.New("orchestrator: start step out of range")

// EditFunc rewrites lines of a parameter file.
type EditFunc func(path string, edits []workflow.ParamEdit) error

// Submitter hands a job script to the scheduler.
type Submitter interface {
	Submit(ctx context.Context, script, dir string) (batch.JobID, error)
}

// Waiter blocks until a job leaves the queue.
type Waiter interface {
	Wait(ctx context.Context, id batch.JobID) (batch.WaitResult, error)
}

// Extractor rebuilds the restart file for a target step.
type Extractor interface {
	Extract(ctx context.Context, targetStep int) (extract.Result, error)
}

// Checkpointer backs up a finished step.
type Checkpointer interface {
	Backup(stepNum int, name string) (string, error)
}

// Deps are the stage collaborators. All are required.
type Deps struct {
	Submitter    Submitter
	Waiter       Waiter
	Extractor    Extractor
	Checkpointer Checkpointer
}

// RunOptions controls a single Run.
type RunOptions struct {
	// StartAt is the 1-based step to begin with; earlier steps are not run.
	// Zero means 1.
	StartAt int
}

// Orchestrator sequences the stages of every step inside one workspace.
type Orchestrator struct {
	ws      *workspace.Workspace
	deps    Deps
	edit    EditFunc
	store   runstate.Store
	metrics *metrics.Recorder
	logger  *zap.Logger
	clock   func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEditor replaces the parameter file editor.
func WithEditor(edit EditFunc) Option {
	return func(o *Orchestrator) {
		if edit != nil {
			o.edit = edit
		}
	}
}

// WithStore persists run state after every stage transition.
func WithStore(store runstate.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithMetrics records per-step metrics.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = rec }
}

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New constructs an orchestrator for ws.
func New(ws *workspace.Workspace, deps Deps, opts ...Option) (*Orchestrator, error) {
	if ws == nil {
		return nil, fmt.Errorf("%w: no workspace", workspace.ErrMissingWorkspace)
	}
	var missing []string
	if deps.Submitter == nil {
		missing = append(missing, "submitter")
	}
	if deps.Waiter == nil {
		missing = append(missing, "waiter")
	}
	if deps.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if deps.Checkpointer == nil {
		missing = append(missing, "checkpointer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}
	o := &Orchestrator{
		ws:     ws,
		deps:   deps,
		edit:   paramfile.Apply,
		store:  runstate.Discard{},
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes plan from opts.StartAt to the end and reports how it ended.
func (o *Orchestrator) Run(ctx context.Context, plan workflow.Plan, opts RunOptions) Outcome {
	total := plan.Len()
	start := opts.StartAt
	if start <= 0 {
		start = 1
	}
	if start > total {
		return Outcome{
			Status: StatusHalted,
			Step:   start,
			Err:    fmt.Errorf("%w: step %d of %d", ErrStartOutOfRange, start, total),
		}
	}
	if err := o.ws.Check(); err != nil {
		o.logger.Error("workspace not usable", zap.Error(err))
		return Outcome{Status: StatusHalted, Step: start, Err: err}
	}

	state := o.loadState(total)
	state.Status = runstate.RunStatusRunning
	state.StatusReason = ""
	o.saveState(state)

	o.logger.Info("starting sequential run",
		zap.String("work_dir", o.ws.Dir), zap.Int("steps", total), zap.Int("start_at", start))

	out := Outcome{Status: StatusCompleted}
	for index := start; index <= total; index++ {
		spec, _ := plan.Step(index)
		report := o.runStep(ctx, index, total, spec, &state)
		out.Reports = append(out.Reports, report)
		out.Step = index
		out.Stage = report.Stage
		if report.Err == nil {
			continue
		}
		out.Err = report.Err
		out.Status = StatusHalted
		state.Status = runstate.RunStatusHalted
		if ctx.Err() != nil {
			out.Status = StatusCancelled
			state.Status = runstate.RunStatusCancelled
		}
		state.StatusReason = fmt.Sprintf("step %d %s: %v", index, report.Stage, report.Err)
		o.metrics.Halted(string(report.Stage))
		o.saveState(state)
		o.flushMetrics()
		o.logger.Error("run halted",
			zap.Int("step", index), zap.String("stage", string(report.Stage)),
			zap.String("kind", string(out.Kind())), zap.Error(report.Err))
		return out
	}
	out.Stage = ""
	state.Status = runstate.RunStatusCompleted
	o.saveState(state)
	o.flushMetrics()
	o.logger.Info("all steps completed", zap.Int("steps", total))
	return out
}

func (o *Orchestrator) runStep(ctx context.Context, index, total int, spec workflow.StepSpec, state *runstate.State) StepReport {
	log := o.logger.With(zap.Int("step", index), zap.String("name", spec.Name))
	log.Info(fmt.Sprintf("STEP %d/%d: %s", index, total, spec.Name),
		zap.String("description", spec.Description), zap.Int("final_step", spec.FinalStep))

	began := o.clock()
	report := StepReport{Index: index, Name: spec.Name}
	rec := state.Step(index)
	rec.Name = spec.Name
	rec.FinalStep = spec.FinalStep
	rec.JobID = ""
	rec.Error = ""
	rec.Status = runstate.StepStatusRunning
	rec.StartedAt = ptr(began.UTC())
	rec.FinishedAt = nil
	o.metrics.StepStarted(index)

	enter := func(stage Stage) {
		report.Stage = stage
		state.Step(index).Stage = string(stage)
		o.saveState(*state)
	}
	fail := func(err error) StepReport {
		report.Err = err
		report.Duration = o.clock().Sub(began)
		r := state.Step(index)
		r.Status = runstate.StepStatusFailed
		r.Error = err.Error()
		r.FinishedAt = ptr(o.clock().UTC())
		log.Error(fmt.Sprintf("%s stage failed", report.Stage), zap.Error(err))
		return report
	}

	enter(StageEdit)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	log.Info("modifying parameters", zap.String("file", o.ws.InputPath()), zap.Int("edits", len(spec.Edits)))
	for _, edit := range spec.SortedEdits() {
		log.Debug("edit", zap.Int("line", edit.Line), zap.String("content", edit.Content))
	}
	if err := o.edit(o.ws.InputPath(), spec.Edits); err != nil {
		return fail(fmt.Errorf("edit %s: %w", o.ws.Layout.InputFile, err))
	}

	enter(StageSubmit)
	id, err := o.deps.Submitter.Submit(ctx, o.ws.Layout.JobScript, o.ws.Dir)
	if err == nil && id == "" {
		err = batch.ErrNoJobID
	}
	if err != nil {
		return fail(fmt.Errorf("submit %s: %w", o.ws.Layout.JobScript, err))
	}
	report.JobID = id
	state.Step(index).JobID = string(id)
	log.Info("job submitted", zap.String("job_id", string(id)))

	enter(StageWait)
	wait, err := o.deps.Waiter.Wait(ctx, id)
	report.Wait = wait
	o.metrics.JobWaited(wait.Elapsed)
	if err != nil {
		return fail(fmt.Errorf("wait for job %s: %w", id, err))
	}

	enter(StageExtract)
	res, err := o.deps.Extractor.Extract(ctx, spec.FinalStep)
	if err != nil {
		return fail(fmt.Errorf("extract state at step %d: %w", spec.FinalStep, err))
	}
	report.Extract = res
	o.metrics.GridPoints(res.Points)

	enter(StageBackup)
	dir, err := o.deps.Checkpointer.Backup(index, spec.Name)
	report.BackupDir = dir
	if err != nil {
		report.BackupErr = err
		log.Warn("backup failed, continuing", zap.Error(err))
	}

	report.Duration = o.clock().Sub(began)
	r := state.Step(index)
	r.Status = runstate.StepStatusCompleted
	r.FinishedAt = ptr(o.clock().UTC())
	if report.BackupErr != nil {
		r.Error = report.BackupErr.Error()
	}
	o.saveState(*state)
	o.metrics.StepCompleted(index, report.Duration)
	o.flushMetrics()
	log.Info(fmt.Sprintf("step %d completed", index), zap.Duration("duration", report.Duration))
	return report
}

func (o *Orchestrator) loadState(total int) runstate.State {
	state, err := o.store.Load()
	if err != nil && !errors.Is(err, runstate.ErrStateNotFound) {
		o.logger.Warn("ignoring unreadable run state", zap.Error(err))
	}
	if err != nil {
		state = runstate.State{}
	}
	if state.RunID == "" {
		state.RunID = o.ws.RunID
	}
	state.WorkDir = o.ws.Dir
	state.TotalSteps = total
	return state
}

func (o *Orchestrator) saveState(state runstate.State) {
	if err := o.store.Save(state); err != nil {
		o.logger.Warn("failed to save run state", zap.Error(err))
	}
}

func (o *Orchestrator) flushMetrics() {
	if err := o.metrics.Flush(); err != nil {
		o.logger.Warn("failed to write metrics", zap.Error(err))
	}
}

func ptr[T any](v T) *T {
	return &v
}
