package subagent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline is a pipeline file.
//
//	max_turns: 8
//	steps:
//	  - agent: planner
//	    task: Plan the migration to the new config format.
//	  - agent: coder
//	    task: Implement the plan.
//	    max_turns: 10
type Pipeline struct {
	MaxTurns int            `yaml:"max_turns,omitempty"`
	Steps    []PipelineStep `yaml:"steps"`
}

// ParsePipeline decodes and validates a pipeline document.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("pipeline has no steps")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.AgentID) == "" {
			return nil, fmt.Errorf("step %d: missing agent", i+1)
		}
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("step %d: missing task", i+1)
		}
		if s.MaxTurns < 0 {
			return nil, fmt.Errorf("step %d: max_turns must not be negative", i+1)
		}
	}
	return &p, nil
}

// LoadPipeline reads a pipeline file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return ParsePipeline(data)
}
