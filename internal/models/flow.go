package models

import "sort"

type Flow struct {
	FlowID string     `json:"flow_id"`
	Name   string     `json:"name"`
	Steps  []FlowStep `json:"steps"`
}

type FlowStep struct {
	FlowStepID   string `json:"flow_step_id"`
	FlowID       string `json:"flow_id"`
	Position     int    `json:"position"`
	DepartmentID string `json:"department_id"`
	ServiceID    string `json:"service_id"`
}

// OrderedSteps returns a copy of the steps sorted by their defined position.
func (f Flow) OrderedSteps() []FlowStep {
	steps := make([]FlowStep, len(f.Steps))
	copy(steps, f.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Position < steps[j].Position
	})
	return steps
}
