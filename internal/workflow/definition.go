package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// ParamEdit replaces one physical line (1-indexed) of the parameter file.
type ParamEdit struct {
	Line    int    `json:"line" yaml:"line"`
	Content string `json:"content" yaml:"content"`
}

// Validate ensures the edit targets a real line and replaces it with exactly
// one line.
func (e ParamEdit) Validate() error {
	if e.Line < 1 {
		return fmt.Errorf("workflow: edit line must be >= 1, got %d", e.Line)
	}
	if strings.ContainsAny(e.Content, "\r\n") {
		return fmt.Errorf("workflow: edit content for line %d must not contain line breaks", e.Line)
	}
	return nil
}

// StepSpec declares one phase of a sequential run: the parameter lines to
// rewrite before submitting and the cumulative simulation step count at which
// the phase ends.
type StepSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Edits       []ParamEdit `json:"edits,omitempty" yaml:"edits,omitempty"`
	FinalStep   int         `json:"final_step" yaml:"final_step"`
}

// Clone returns a deep copy of the step.
func (s StepSpec) Clone() StepSpec {
	clone := s
	if len(s.Edits) > 0 {
		clone.Edits = make([]ParamEdit, len(s.Edits))
		copy(clone.Edits, s.Edits)
	}
	return clone
}

// Validate ensures the step is usable.
func (s StepSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("workflow: step name is required")
	}
	if s.FinalStep <= 0 {
		return fmt.Errorf("workflow: step %q final_step must be > 0", s.Name)
	}
	lines := make([]int, 0, len(s.Edits))
	for idx, edit := range s.Edits {
		if err := edit.Validate(); err != nil {
			return fmt.Errorf("workflow: step %q edit[%d]: %w", s.Name, idx, err)
		}
		lines = append(lines, edit.Line)
	}
	sort.Ints(lines)
	for i := 1; i < len(lines); i++ {
		if lines[i] == lines[i-1] {
			return fmt.Errorf("workflow: step %q edits line %d more than once", s.Name, lines[i])
		}
	}
	return nil
}

// Edit returns the replacement for line, if the step rewrites it.
func (s StepSpec) Edit(line int) (ParamEdit, bool) {
	for _, edit := range s.Edits {
		if edit.Line == line {
			return edit, true
		}
	}
	return ParamEdit{}, false
}

// SortedEdits returns the edits ordered by line number.
func (s StepSpec) SortedEdits() []ParamEdit {
	edits := s.Clone().Edits
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Line < edits[j].Line })
	return edits
}

// Plan is the ordered list of steps executed by one run.
type Plan struct {
	Steps []StepSpec `json:"steps" yaml:"steps"`
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	if len(p.Steps) == 0 {
		return Plan{}
	}
	clone := Plan{Steps: make([]StepSpec, len(p.Steps))}
	for i, step := range p.Steps {
		clone.Steps[i] = step.Clone()
	}
	return clone
}

// Len reports the number of steps.
func (p Plan) Len() int {
	return len(p.Steps)
}

// Step returns the 1-indexed step.
func (p Plan) Step(index int) (StepSpec, bool) {
	if index < 1 || index > len(p.Steps) {
		return StepSpec{}, false
	}
	return p.Steps[index-1].Clone(), true
}

// Validate ensures the plan is self-consistent.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("workflow: at least one step is required")
	}
	for idx, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow: steps[%d]: %w", idx, err)
		}
	}
	return nil
}

// Normalized clones the plan, trims names and descriptions, and validates the
// result.
func (p Plan) Normalized() (Plan, error) {
	clone := p.Clone()
	for i := range clone.Steps {
		clone.Steps[i].Name = strings.TrimSpace(clone.Steps[i].Name)
		clone.Steps[i].Description = strings.TrimSpace(clone.Steps[i].Description)
	}
	if err := clone.Validate(); err != nil {
		return Plan{}, err
	}
	return clone, nil
}

// Duration returns how many simulation steps the 1-indexed step covers,
// measured from the previous step's final_step (or zero for the first).
func (p Plan) Duration(index int) int {
	step, ok := p.Step(index)
	if !ok {
		return 0
	}
	if index == 1 {
		return step.FinalStep
	}
	return step.FinalStep - p.Steps[index-2].FinalStep
}
