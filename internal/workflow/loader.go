package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParsePlanYAML decodes a plan from YAML/JSON bytes. Only the steps key is
// read, so the same file may also carry the system configuration.
func ParsePlanYAML(data []byte) (Plan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Plan{}, fmt.Errorf("workflow: plan payload is empty")
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("workflow: decode plan: %w", err)
	}
	return plan.Normalized()
}

// LoadPlanReader reads plan data from an io.Reader.
func LoadPlanReader(r io.Reader) (Plan, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Plan{}, fmt.Errorf("workflow: read plan: %w", err)
	}
	return ParsePlanYAML(content)
}

// LoadPlanFile loads a plan from an explicit file path.
func LoadPlanFile(path string) (Plan, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	plan, parseErr := ParsePlanYAML(content)
	if parseErr != nil {
		return Plan{}, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return plan, nil
}
