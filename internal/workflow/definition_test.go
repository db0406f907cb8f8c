package workflow

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const twoStepPlan = `
steps:
  - name: "Step 1: Apply positive field"
    description: mx0=100, phi0=40, 5000 steps
    final_step: 5000
    edits:
      - line: 8
        content: "5000 1000 1000 0"
      - line: 24
        content: "40.0 0.0 0.01 0.6 0.4 0.0"
  - name: "Step 2: Relax"
    final_step: 7000
    edits:
      - line: 8
        content: "2000 1000 1000 5000"
`

func TestParsePlanYAMLDecodesTypedEdits(t *testing.T) {
	plan, err := ParsePlanYAML([]byte(twoStepPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Plan{Steps: []StepSpec{
		{
			Name:        "Step 1: Apply positive field",
			Description: "mx0=100, phi0=40, 5000 steps",
			FinalStep:   5000,
			Edits: []ParamEdit{
				{Line: 8, Content: "5000 1000 1000 0"},
				{Line: 24, Content: "40.0 0.0 0.01 0.6 0.4 0.0"},
			},
		},
		{
			Name:      "Step 2: Relax",
			FinalStep: 7000,
			Edits:     []ParamEdit{{Line: 8, Content: "2000 1000 1000 5000"}},
		},
	}}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.Duration(2) != 2000 {
		t.Fatalf("duration(2) = %d, want 2000", plan.Duration(2))
	}
}

func TestParsePlanYAMLRejectsMissingSteps(t *testing.T) {
	_, err := ParsePlanYAML([]byte("steps: []\n"))
	if err == nil {
		t.Fatalf("expected error when steps are missing")
	}
	if !strings.Contains(err.Error(), "at least one step is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParsePlanYAMLRejectsBadLines(t *testing.T) {
	cases := map[string]string{
		"zero line": `
steps:
  - name: a
    final_step: 10
    edits:
      - line: 0
        content: x
`,
		"duplicate line": `
steps:
  - name: a
    final_step: 10
    edits:
      - line: 3
        content: x
      - line: 3
        content: y
`,
		"missing final step": `
steps:
  - name: a
`,
		"multi-line content": `
steps:
  - name: a
    final_step: 10
    edits:
      - line: 8
        content: |
          5000 1000 1000 0
`,
	}
	for name, payload := range cases {
		if _, err := ParsePlanYAML([]byte(payload)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestPlanStepReturnsCopy(t *testing.T) {
	plan, err := ParsePlanYAML([]byte(twoStepPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	step, ok := plan.Step(1)
	if !ok {
		t.Fatalf("step 1 missing")
	}
	step.Edits[0].Content = "mutated"
	if plan.Steps[0].Edits[0].Content == "mutated" {
		t.Fatalf("Step must not expose internal slices")
	}
	if _, ok := plan.Step(3); ok {
		t.Fatalf("step 3 should not exist")
	}
}

func TestPreflightAcceptsChainedSteps(t *testing.T) {
	plan, err := ParsePlanYAML([]byte(twoStepPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if issues := Preflight(plan, DefaultContinuityRule()); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestPreflightReportsBrokenContinuity(t *testing.T) {
	plan := Plan{Steps: []StepSpec{
		{Name: "one", FinalStep: 5000, Edits: []ParamEdit{{Line: 8, Content: "5000 1000 1000 0"}}},
		{Name: "two", FinalStep: 7500, Edits: []ParamEdit{{Line: 8, Content: "2000 1000 1000 4000"}}},
	}}
	issues := Preflight(plan, DefaultContinuityRule())
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2: %v", len(issues), issues)
	}
	if !strings.Contains(issues[0].String(), "kstart=4000 doesn't match previous final_step=5000") {
		t.Fatalf("unexpected first issue: %s", issues[0])
	}
	if !strings.Contains(issues[1].String(), "kstep(2000)+kstart(4000)=6000") {
		t.Fatalf("unexpected second issue: %s", issues[1])
	}
}

func TestPreflightFlagsUnparsableRunLine(t *testing.T) {
	plan := Plan{Steps: []StepSpec{
		{Name: "one", FinalStep: 10, Edits: []ParamEdit{{Line: 8, Content: "ten 1 1"}}},
	}}
	issues := Preflight(plan, DefaultContinuityRule())
	if len(issues) != 1 || issues[0].Step != 1 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestPreflightDisabledRuleOnlyChecksOrdering(t *testing.T) {
	plan := Plan{Steps: []StepSpec{
		{Name: "one", FinalStep: 100, Edits: []ParamEdit{{Line: 8, Content: "garbage"}}},
		{Name: "two", FinalStep: 50},
	}}
	issues := Preflight(plan, ContinuityRule{})
	if len(issues) != 1 || issues[0].Step != 2 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}
