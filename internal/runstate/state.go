// Package runstate persists the progress of a sequential run inside its work
// directory so `seqrun status` can report it and `seqrun resume` can pick up
// where a halted run stopped.
package runstate

import (
	"sort"
	"time"
)

// RunStatus enumerates coarse run phases.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusHalted    RunStatus = "halted"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus enumerates per-step phases.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// State captures the persisted snapshot of a run.
type State struct {
	RunID   string    `json:"run_id"`
	WorkDir string    `json:"work_dir"`
	Status  RunStatus `json:"status"`
	// StatusReason explains halted and cancelled runs.
	StatusReason string       `json:"status_reason,omitempty"`
	TotalSteps   int          `json:"total_steps"`
	Steps        []StepRecord `json:"steps"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// StepRecord tracks one step of the plan.
type StepRecord struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	FinalStep  int        `json:"final_step"`
	JobID      string     `json:"job_id,omitempty"`
	Stage      string     `json:"stage,omitempty"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Step returns the record for a 1-based index, creating it when absent.
// Records stay sorted by index.
func (s *State) Step(index int) *StepRecord {
	for i := range s.Steps {
		if s.Steps[i].Index == index {
			return &s.Steps[i]
		}
	}
	s.Steps = append(s.Steps, StepRecord{Index: index, Status: StepStatusPending})
	sort.Slice(s.Steps, func(a, b int) bool { return s.Steps[a].Index < s.Steps[b].Index })
	for i := range s.Steps {
		if s.Steps[i].Index == index {
			return &s.Steps[i]
		}
	}
	return nil
}

// Lookup returns the record for index without creating one.
func (s State) Lookup(index int) (StepRecord, bool) {
	for _, rec := range s.Steps {
		if rec.Index == index {
			return rec, true
		}
	}
	return StepRecord{}, false
}

// NextStep returns the first 1-based index in [1, total] that has not
// completed, or total+1 when every step finished.
func (s State) NextStep(total int) int {
	for index := 1; index <= total; index++ {
		rec, ok := s.Lookup(index)
		if !ok || rec.Status != StepStatusCompleted {
			return index
		}
	}
	return total + 1
}

// Completed counts steps that finished.
func (s State) Completed() int {
	n := 0
	for _, rec := range s.Steps {
		if rec.Status == StepStatusCompleted {
			n++
		}
	}
	return n
}
