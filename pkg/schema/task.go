package schema

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PriorFailure carries the signal of an earlier failed attempt into a repair
// flow.
type PriorFailure struct {
	ToolID     string      `json:"tool_id,omitempty" yaml:"tool_id,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
	Output     string      `json:"output,omitempty" yaml:"output,omitempty"`
	Confidence *float64    `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Kind       FailureKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Task is an immutable unit of work. Build it with NewTask and pass it by
// value.
type Task struct {
	ID             string        `json:"id"`
	Goal           string        `json:"goal"`
	CategoryHint   Category      `json:"category_hint,omitempty"`
	Prior          *PriorFailure `json:"prior,omitempty"`
	ExpectedFormat string        `json:"expected_format,omitempty"`
}

// TaskOption configures a Task at construction.
type TaskOption func(*Task)

// WithCategoryHint pins the category, bypassing classification rules.
func WithCategoryHint(c Category) TaskOption {
	return func(t *Task) {
		t.CategoryHint = c
	}
}

// WithPriorFailure attaches the failure being repaired.
func WithPriorFailure(p PriorFailure) TaskOption {
	return func(t *Task) {
		cp := p
		if p.Confidence != nil {
			v := *p.Confidence
			cp.Confidence = &v
		}
		t.Prior = &cp
	}
}

// WithExpectedFormat declares the output shape the validator enforces.
func WithExpectedFormat(format string) TaskOption {
	return func(t *Task) {
		t.ExpectedFormat = strings.TrimSpace(format)
	}
}

// WithTaskID overrides the generated id.
func WithTaskID(id string) TaskOption {
	return func(t *Task) {
		if id != "" {
			t.ID = id
		}
	}
}

// NewTask creates a task with a fresh id.
func NewTask(goal string, opts ...TaskOption) Task {
	t := Task{
		ID:   uuid.NewString(),
		Goal: strings.TrimSpace(goal),
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// Validate checks the task is resolvable.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Goal == "" {
		return fmt.Errorf("task goal is required")
	}
	if t.CategoryHint != "" && !t.CategoryHint.Valid() {
		return fmt.Errorf("task %s has invalid category hint %q", t.ID, t.CategoryHint)
	}
	return nil
}

// Float returns a pointer to v, for optional confidence fields.
func Float(v float64) *float64 {
	return &v
}
