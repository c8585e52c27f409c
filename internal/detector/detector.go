package detector

import (
	"fmt"
	"strings"

	"github.com/sallandpioneers/forgeflow/internal/phase"
)

// Result is the typed outcome of interpreting a worker's free-form output
type Result struct {
	Success    bool
	Confidence float64
	Reason     string
}

// phaseRules holds the completion signals expected for one phase: literal
// sentinel tokens the worker emits on success, and canonical markers whose
// presence in correct output raises confidence.
type phaseRules struct {
	Sentinels []string
	Markers   []string
}

// rules is the phase -> completion-signal table. Matching is
// case-insensitive substring search; keep entries lowercase.
var rules = map[phase.Phase]phaseRules{
	phase.Planning: {
		Sentinels: []string{"planning_complete"},
		Markers:   []string{"implementation plan", "order", "summary", "plan.json"},
	},
	phase.Coding: {
		Sentinels: []string{"coding_complete", "implementation_complete"},
		Markers:   []string{"committed", "pushed", "branch", "closes #"},
	},
	phase.Testing: {
		Sentinels: []string{"testing_complete"},
		Markers:   []string{"tests pass", "test summary", "all tests", "pushed"},
	},
	phase.Review: {
		Sentinels: []string{"review_complete"},
		Markers:   []string{"ready to merge", "approved", "no blocking", "review"},
	},
}

// DefaultThreshold is the confidence at which partial marker matches are
// accepted as success. Tunable via config, not a contract.
const DefaultThreshold = 0.3

// Detector classifies worker output as phase success or failure
type Detector struct {
	threshold float64
}

// New creates a detector with the given confidence threshold.
// A non-positive threshold selects the default.
func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// CheckPhaseCompletion decides whether the worker's output signals success
// for the given phase. A CI failure mention always overrides completion
// markers: a worker narrating success while the pipeline failed is a failure.
func (d *Detector) CheckPhaseCompletion(kind phase.Phase, output string) Result {
	if hasFailure, category := CheckPipelineFailureMention(output); hasFailure {
		return Result{
			Success:    false,
			Confidence: 1.0,
			Reason:     fmt.Sprintf("pipeline failure mentioned (%s)", category),
		}
	}

	r, ok := rules[kind]
	if !ok {
		return Result{Reason: fmt.Sprintf("no completion rules for phase %s", kind)}
	}

	lower := strings.ToLower(output)

	for _, sentinel := range r.Sentinels {
		if strings.Contains(lower, sentinel) {
			return Result{
				Success:    true,
				Confidence: 1.0,
				Reason:     fmt.Sprintf("sentinel %q present", sentinel),
			}
		}
	}

	matched := 0
	for _, marker := range r.Markers {
		if strings.Contains(lower, marker) {
			matched++
		}
	}

	confidence := float64(matched) / float64(len(r.Markers))
	if confidence > 1.0 {
		confidence = 1.0
	}

	if confidence >= d.threshold {
		return Result{
			Success:    true,
			Confidence: confidence,
			Reason:     fmt.Sprintf("%d of %d completion markers matched", matched, len(r.Markers)),
		}
	}

	return Result{
		Success:    false,
		Confidence: confidence,
		Reason:     fmt.Sprintf("only %d of %d completion markers matched", matched, len(r.Markers)),
	}
}

// pipelineFailurePhrases are phase-independent signals that CI failed,
// regardless of how the worker describes its own work.
var pipelineFailurePhrases = []string{
	"pipeline failed",
	"pipeline has failed",
	"ci failed",
	"ci is failing",
	"build failed",
	"tests failed",
	"job failed",
}

// CheckPipelineFailureMention scans output for known CI failure phrases
// and, when found, classifies the failure.
func CheckPipelineFailureMention(output string) (bool, FailureCategory) {
	lower := strings.ToLower(output)
	for _, phrase := range pipelineFailurePhrases {
		if strings.Contains(lower, phrase) {
			return true, ClassifyFailure(output)
		}
	}
	return false, ""
}
