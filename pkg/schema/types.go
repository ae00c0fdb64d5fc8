// Package schema holds the data model shared by every stage of a cascade:
// tasks, classifications, tool descriptors, attempts, results and feedback.
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	SchemaFeedbackV1 = "toolcascade.feedback.v1"
	SchemaResultV1   = "toolcascade.result.v1"
)

// Category is the closed set of problem classes a tool can claim to handle.
type Category string

const (
	CategoryAPIFailure       Category = "API_FAILURE"
	CategoryAnswerFormat     Category = "ANSWER_FORMAT"
	CategoryKnowledgeGap     Category = "KNOWLEDGE_GAP"
	CategoryReasoningError   Category = "REASONING_ERROR"
	CategoryFileProcessing   Category = "FILE_PROCESSING"
	CategorySearchFailure    Category = "SEARCH_FAILURE"
	CategoryCalculationError Category = "CALCULATION_ERROR"
	CategoryContextMissing   Category = "CONTEXT_MISSING"
	CategoryToolLimitation   Category = "TOOL_LIMITATION"
)

// TagGeneric marks a catch-all tool. It is a capability tag, never a
// classification result.
const TagGeneric Category = "GENERIC"

// Categories lists every classification category.
var Categories = []Category{
	CategoryAPIFailure,
	CategoryAnswerFormat,
	CategoryKnowledgeGap,
	CategoryReasoningError,
	CategoryFileProcessing,
	CategorySearchFailure,
	CategoryCalculationError,
	CategoryContextMissing,
	CategoryToolLimitation,
}

// Valid reports whether c is one of the classification categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts "api_failure", "API-FAILURE" and similar spellings.
func ParseCategory(value string) (Category, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	c := Category(normalized)
	if c.Valid() {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", value)
}

// ParseTag is ParseCategory plus the GENERIC catch-all tag.
func ParseTag(value string) (Category, error) {
	if strings.EqualFold(strings.TrimSpace(value), string(TagGeneric)) {
		return TagGeneric, nil
	}
	return ParseCategory(value)
}

// Severity grades how badly the prior attempt missed.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Classification is derived fresh for every cascade.
type Classification struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Tier is one escalation level of a cascade. Tiers only move forward.
type Tier int

const (
	TierPrimary Tier = iota + 1
	TierSpecializedFallback
	TierGenericFallback
	TierSynthesized
)

var tierNames = map[Tier]string{
	TierPrimary:             "PRIMARY",
	TierSpecializedFallback: "SPECIALIZED_FALLBACK",
	TierGenericFallback:     "GENERIC_FALLBACK",
	TierSynthesized:         "SYNTHESIZED",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if _, ok := tierNames[t]; !ok {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	for tier, name := range tierNames {
		if name == string(text) {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", string(text))
}

// Status is the terminal state of a cascade.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// FailureKind explains why an attempt was not accepted.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureTimeout       FailureKind = "timeout"
	FailureToolError     FailureKind = "tool_error"
	FailureInvalidInput  FailureKind = "invalid_input"
	FailureLowConfidence FailureKind = "low_confidence"
	FailureRejected      FailureKind = "rejected"
	FailureCanceled      FailureKind = "canceled"
)

// ToolDescriptor describes a registered capability. The registry owns
// descriptors; everyone else works on copies.
type ToolDescriptor struct {
	ID             string            `json:"id" yaml:"id"`
	Tags           []Category        `json:"tags" yaml:"tags"`
	Synthesized    bool              `json:"synthesized,omitempty" yaml:"synthesized,omitempty"`
	SourceTemplate string            `json:"source_template,omitempty" yaml:"source_template,omitempty"`
	Targets        []string          `json:"targets,omitempty" yaml:"targets,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Weight         float64           `json:"weight" yaml:"weight"`
}

// HasTag reports whether the descriptor claims the tag.
func (d ToolDescriptor) HasTag(tag Category) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (d ToolDescriptor) Clone() ToolDescriptor {
	out := d
	out.Tags = append([]Category(nil), d.Tags...)
	out.Targets = append([]string(nil), d.Targets...)
	if d.Parameters != nil {
		out.Parameters = make(map[string]string, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Attempt is one tool invocation inside a cascade.
type Attempt struct {
	ToolID     string        `json:"tool_id"`
	Tier       Tier          `json:"tier"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Output     string        `json:"output,omitempty"`
	Confidence float64       `json:"confidence"`
	Accepted   bool          `json:"accepted"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
	Violations []string      `json:"violations,omitempty"`
}

// CascadeResult is the terminal, immutable record of one cascade.
type CascadeResult struct {
	TaskID          string         `json:"task_id"`
	Classification  Classification `json:"classification"`
	Attempts        []Attempt      `json:"attempts"`
	Status          Status         `json:"status"`
	Output          string         `json:"output,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	SynthesizedTool string         `json:"synthesized_tool,omitempty"`
	Duration        time.Duration  `json:"duration"`

	// Err is the terminal error of a failed cascade. Reason carries its text.
	Err error `json:"-"`
}

// FinalTier returns the tier of the last attempt.
func (r *CascadeResult) FinalTier() Tier {
	if r == nil || len(r.Attempts) == 0 {
		return 0
	}
	return r.Attempts[len(r.Attempts)-1].Tier
}

// FeedbackRecord is one line of the feedback log. Records never reference
// each other.
type FeedbackRecord struct {
	Schema     string    `json:"schema"`
	TaskID     string    `json:"task_id,omitempty"`
	ToolID     string    `json:"tool_id"`
	Category   Category  `json:"category"`
	Succeeded  bool      `json:"succeeded"`
	Confidence float64   `json:"confidence"`
	Canceled   bool      `json:"canceled,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewFeedbackRecord derives the feedback line for a finished attempt.
func NewFeedbackRecord(taskID string, category Category, attempt Attempt) FeedbackRecord {
	return FeedbackRecord{
		Schema:     SchemaFeedbackV1,
		TaskID:     taskID,
		ToolID:     attempt.ToolID,
		Category:   category,
		Succeeded:  attempt.Accepted,
		Confidence: ClampUnit(attempt.Confidence),
		Canceled:   attempt.Failure == FailureCanceled,
		RecordedAt: time.Now().UTC(),
	}
}

// ClampUnit clamps v into [0,1]. NaN becomes 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
