package planner

import (
	"encoding/json"
	"fmt"
)

// Plan is the structured plan document stored in the repository. When its
// Order list is present it is the authoritative implementation order.
type Plan struct {
	Order   []int  `json:"order"`
	Summary string `json:"summary,omitempty"`
}

// ParsePlan decodes a plan document. A malformed document is an error the
// caller handles by falling back to heuristic dependency extraction, never
// by aborting the run.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("malformed plan document: %w", err)
	}
	return &plan, nil
}

// Encode serializes the plan for storage in the repository
func (p *Plan) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return append(data, '\n'), nil
}
