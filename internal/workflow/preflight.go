package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// ContinuityRule locates the run-length line of the parameter file. The line
// is whitespace separated; KStepField and KStartField are zero-based field
// indexes. A zero Line disables the field checks.
type ContinuityRule struct {
	Line        int `yaml:"line"`
	KStepField  int `yaml:"kstep_field"`
	KStartField int `yaml:"kstart_field"`
}

// DefaultContinuityRule matches the `kstep kprint kbackup kstart` layout of
// line 8.
func DefaultContinuityRule() ContinuityRule {
	return ContinuityRule{Line: 8, KStepField: 0, KStartField: 3}
}

// Issue is one advisory preflight finding.
type Issue struct {
	Step    int
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("Step %d: %s", i.Step, i.Message)
}

// Preflight checks that consecutive steps chain together. Findings are
// advisory: nothing here is enforced while a run executes.
func Preflight(plan Plan, rule ContinuityRule) []Issue {
	var issues []Issue
	for idx, step := range plan.Steps {
		number := idx + 1
		if idx > 0 && step.FinalStep <= plan.Steps[idx-1].FinalStep {
			issues = append(issues, Issue{Step: number, Message: fmt.Sprintf(
				"final_step=%d does not advance past previous final_step=%d",
				step.FinalStep, plan.Steps[idx-1].FinalStep)})
		}
		if rule.Line <= 0 {
			continue
		}
		edit, ok := step.Edit(rule.Line)
		if !ok {
			continue
		}
		kstep, kstart, err := rule.parse(edit.Content)
		if err != nil {
			issues = append(issues, Issue{Step: number, Message: fmt.Sprintf("line %d: %v", rule.Line, err)})
			continue
		}
		if idx > 0 {
			prevFinal := plan.Steps[idx-1].FinalStep
			if kstart != prevFinal {
				issues = append(issues, Issue{Step: number, Message: fmt.Sprintf(
					"kstart=%d doesn't match previous final_step=%d", kstart, prevFinal)})
			}
		}
		if expected := kstep + kstart; expected != step.FinalStep {
			issues = append(issues, Issue{Step: number, Message: fmt.Sprintf(
				"kstep(%d)+kstart(%d)=%d doesn't match final_step=%d", kstep, kstart, expected, step.FinalStep)})
		}
	}
	return issues
}

func (rule ContinuityRule) parse(content string) (kstep, kstart int, err error) {
	fields := strings.Fields(content)
	need := rule.KStepField
	if rule.KStartField > need {
		need = rule.KStartField
	}
	if len(fields) <= need {
		return 0, 0, fmt.Errorf("expected at least %d fields, got %d", need+1, len(fields))
	}
	kstep, err = strconv.Atoi(fields[rule.KStepField])
	if err != nil {
		return 0, 0, fmt.Errorf("kstep %q is not an integer", fields[rule.KStepField])
	}
	kstart, err = strconv.Atoi(fields[rule.KStartField])
	if err != nil {
		return 0, 0, fmt.Errorf("kstart %q is not an integer", fields[rule.KStartField])
	}
	return kstep, kstart, nil
}
