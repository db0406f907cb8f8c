package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/kingrea/seqrun/internal/batch"
	"github.com/kingrea/seqrun/internal/extract"
	"github.com/kingrea/seqrun/internal/paramfile"
	"github.com/kingrea/seqrun/internal/workspace"
)

// Stage names one phase of a step.
type Stage string

// Stages of a step, in execution order.
const (
	// StageEdit rewrites the parameter file.
	StageEdit Stage = "edit"

	// StageSubmit hands the job script to the scheduler.
	StageSubmit Stage = "submit"

	// StageWait polls until the job leaves the queue.
	StageWait Stage = "wait"

	// StageExtract rebuilds the restart file from the chunk files.
	StageExtract Stage = "extract"

	// StageBackup copies the step's files aside. Its failure never halts a run.
	StageBackup Stage = "backup"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageEdit, StageSubmit, StageWait, StageExtract, StageBackup}

// Status is the terminal state of a run.
type Status string

// Terminal run states.
const (
	// StatusCompleted means every step from the start index finished.
	StatusCompleted Status = "completed"

	// StatusHalted means a stage failed; Outcome.Step and Outcome.Stage say where.
	StatusHalted Status = "halted"

	// StatusCancelled means the context was cancelled mid-run.
	StatusCancelled Status = "cancelled"
)

// Kind classifies why a run stopped.
type Kind string

// Kinds reported by Outcome.Kind. KindNone belongs to completed runs.
const (
	KindNone             Kind = ""
	KindMissingWorkspace Kind = "MissingWorkspace"
	KindParameterEdit    Kind = "ParameterEditFailure"
	KindSubmission       Kind = "SubmissionFailure"
	KindStatusQuery      Kind = "StatusQueryFailure"
	KindMissingChunk     Kind = "MissingChunkFile"
	KindMalformedHeader  Kind = "MalformedHeader"
	KindExtraction       Kind = "ExtractionFailure"
	KindCancelled        Kind = "Cancelled"
)

// StepReport describes what happened to one step.
type StepReport struct {
	Index     int
	Name      string
	JobID     batch.JobID
	Stage     Stage
	Wait      batch.WaitResult
	Extract   extract.Result
	BackupDir string
	// BackupErr is reported but never halts the run.
	BackupErr error
	Duration  time.Duration
	Err       error
}

// Outcome is the terminal result of Run. Step and Stage locate the failure
// for halted and cancelled runs; for completed runs Step is the last step.
type Outcome struct {
	Status  Status
	Step    int
	Stage   Stage
	Err     error
	Reports []StepReport
}

// Completed reports whether every requested step finished.
func (o Outcome) Completed() bool { return o.Status == StatusCompleted }

// Kind maps the failure to its error kind.
func (o Outcome) Kind() Kind {
	if o.Err == nil {
		return KindNone
	}
	switch {
	case o.Status == StatusCancelled,
		errors.Is(o.Err, context.Canceled):
		return KindCancelled
	case errors.Is(o.Err, workspace.ErrMissingWorkspace),
		errors.Is(o.Err, workspace.ErrMissingJobScript):
		return KindMissingWorkspace
	case errors.Is(o.Err, paramfile.ErrLineOutOfRange):
		return KindParameterEdit
	case errors.Is(o.Err, batch.ErrSubmitFailed),
		errors.Is(o.Err, batch.ErrNoJobID):
		return KindSubmission
	case errors.Is(o.Err, batch.ErrStatusQuery),
		errors.Is(o.Err, batch.ErrWaitTimeout):
		return KindStatusQuery
	case errors.Is(o.Err, extract.ErrMissingChunk):
		return KindMissingChunk
	case errors.Is(o.Err, extract.ErrMalformedHeader),
		errors.Is(o.Err, extract.ErrHeaderMismatch):
		return KindMalformedHeader
	}
	switch o.Stage {
	case StageEdit:
		return KindParameterEdit
	case StageSubmit:
		return KindSubmission
	case StageWait:
		return KindStatusQuery
	default:
		return KindExtraction
	}
}
