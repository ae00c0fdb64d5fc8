// Package gate decides whether a tool output is acceptable for a
// classification. The acceptance threshold here is the single cut line the
// cascade uses as well.
package gate

import (
	"context"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// AcceptThreshold is the minimum confidence for an output to be accepted.
const AcceptThreshold = 0.70

// Subject is one candidate output together with the task it answers.
type Subject struct {
	Task     schema.Task
	Category schema.Category
	Output   string
}

// Gate checks a candidate output.
type Gate interface {
	// Evaluate checks the subject against the gate's criteria. An error means
	// the gate could not decide, not that the output failed.
	Evaluate(ctx context.Context, s Subject) (*GateResult, error)

	// Name returns the gate identifier.
	Name() string
}

// GateResult contains the outcome of a gate evaluation.
type GateResult struct {
	Passed      bool                `json:"passed"`
	Violations  []Violation         `json:"violations,omitempty"`
	Diagnostics *CommandDiagnostics `json:"diagnostics,omitempty"`
}

// Violation describes a specific problem with an output.
type Violation struct {
	Gate     string `json:"gate"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // "error", "warning"
	Message  string `json:"message"`
}

func (v Violation) String() string {
	return v.Gate + "/" + v.Rule + ": " + v.Message
}

// NewPassingResult creates a result indicating the gate passed.
func NewPassingResult() *GateResult {
	return &GateResult{Passed: true}
}

// NewFailingResult creates a result indicating the gate failed.
func NewFailingResult(violations ...Violation) *GateResult {
	return &GateResult{Passed: false, Violations: violations}
}
