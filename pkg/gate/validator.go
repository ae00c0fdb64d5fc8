package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"go.uber.org/zap"
)

// Declared output formats.
const (
	FormatNumber  = "number"
	FormatInteger = "integer"
	FormatJSON    = "json"
	FormatDate    = "date"
	FormatYesNo   = "yesno"

	// FormatRegexpPrefix introduces a pattern the whole output must match.
	FormatRegexpPrefix = "re:"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
}

// Verdict is the validator decision for one output.
type Verdict struct {
	Accepted   bool        `json:"accepted"`
	Confidence float64     `json:"confidence"`
	Violations []Violation `json:"violations,omitempty"`
}

// Messages returns the violation messages as strings.
func (v Verdict) Messages() []string {
	if len(v.Violations) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		out = append(out, viol.String())
	}
	return out
}

// Validator applies structural checks for the task category and declared
// format, runs any configured command gates and compares the confidence
// against the acceptance threshold.
type Validator struct {
	threshold float64
	gates     map[schema.Category][]Gate
	logger    *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithThreshold overrides AcceptThreshold.
func WithThreshold(threshold float64) Option {
	return func(v *Validator) {
		if threshold > 0 && threshold <= 1 {
			v.threshold = threshold
		}
	}
}

// WithGate adds a gate that runs for outputs of the given category.
func WithGate(category schema.Category, g Gate) Option {
	return func(v *Validator) {
		if g != nil {
			v.gates[category] = append(v.gates[category], g)
		}
	}
}

// WithLogger sets the validator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		threshold: AcceptThreshold,
		gates:     make(map[schema.Category][]Gate),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// FromConfig builds a validator with the configured threshold and command
// gates.
func FromConfig(cfg *config.CascadeConfig, logger *zap.Logger) (*Validator, error) {
	opts := []Option{WithLogger(logger)}
	if cfg == nil {
		return NewValidator(opts...), nil
	}
	opts = append(opts, WithThreshold(cfg.AcceptThreshold))
	for name, gates := range cfg.Gates {
		category, err := schema.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("gates: %w", err)
		}
		for _, gc := range gates {
			g, err := NewCommandGate(gc.Name, gc.Command, time.Duration(gc.TimeoutMs)*time.Millisecond)
			if err != nil {
				return nil, fmt.Errorf("gates[%s]: %w", name, err)
			}
			opts = append(opts, WithGate(category, g))
		}
	}
	return NewValidator(opts...), nil
}

// Threshold returns the acceptance threshold in use.
func (v *Validator) Threshold() float64 {
	return v.threshold
}

// Validate decides whether output answers task for the classification. Any
// structural violation rejects the output whatever its confidence.
func (v *Validator) Validate(ctx context.Context, class schema.Classification, task schema.Task, output string, confidence float64) Verdict {
	verdict := Verdict{Confidence: schema.ClampUnit(confidence)}

	verdict.Violations = append(verdict.Violations, CheckFormat(task.ExpectedFormat, output)...)
	switch class.Category {
	case schema.CategoryAnswerFormat:
		if task.ExpectedFormat == "" {
			verdict.Violations = append(verdict.Violations, checkSingleValue(output)...)
		}
	case schema.CategoryCalculationError:
		if !isNumber(output) {
			verdict.Violations = append(verdict.Violations, Violation{
				Gate:     "structure",
				Rule:     "numeric",
				Severity: "error",
				Message:  fmt.Sprintf("calculation result %q is not numeric", truncate(output, 40)),
			})
		}
	default:
		if strings.TrimSpace(output) == "" {
			verdict.Violations = append(verdict.Violations, Violation{
				Gate: "structure", Rule: "non_empty", Severity: "error", Message: "output is empty",
			})
		}
	}

	if len(verdict.Violations) == 0 {
		subject := Subject{Task: task, Category: class.Category, Output: output}
		for _, g := range v.gates[class.Category] {
			result, err := g.Evaluate(ctx, subject)
			if err != nil {
				v.logger.Warn("gate failed to evaluate", zap.String("gate", g.Name()), zap.Error(err))
				verdict.Violations = append(verdict.Violations, Violation{
					Gate: g.Name(), Rule: "gate_error", Severity: "error", Message: err.Error(),
				})
				continue
			}
			if !result.Passed {
				verdict.Violations = append(verdict.Violations, result.Violations...)
			}
		}
	}

	if len(verdict.Violations) > 0 {
		verdict.Confidence = 0
		return verdict
	}
	verdict.Accepted = verdict.Confidence >= v.threshold
	return verdict
}

// CheckFormat checks output against a declared format. An empty format has
// no requirements.
func CheckFormat(format, output string) []Violation {
	format = strings.TrimSpace(format)
	if format == "" {
		return nil
	}
	value := strings.TrimSpace(output)
	fail := func(msg string) []Violation {
		return []Violation{{Gate: "format", Rule: format, Severity: "error", Message: msg}}
	}

	if pattern, ok := strings.CutPrefix(format, FormatRegexpPrefix); ok {
		re, err := regexp.Compile(`^(?:` + pattern + `)$`)
		if err != nil {
			return fail(fmt.Sprintf("invalid format pattern: %v", err))
		}
		if !re.MatchString(value) {
			return fail(fmt.Sprintf("%q does not match %s", truncate(value, 40), pattern))
		}
		return nil
	}

	switch strings.ToLower(format) {
	case FormatNumber:
		if !isNumber(value) {
			return fail(fmt.Sprintf("expected a number, got %q", truncate(value, 40)))
		}
	case FormatInteger:
		if _, err := strconv.ParseInt(stripThousands(value), 10, 64); err != nil {
			return fail(fmt.Sprintf("expected an integer, got %q", truncate(value, 40)))
		}
	case FormatJSON:
		if value == "" || !json.Valid([]byte(value)) {
			return fail("expected valid JSON")
		}
	case FormatDate:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, value); err == nil {
				return nil
			}
		}
		return fail(fmt.Sprintf("expected a date, got %q", truncate(value, 40)))
	case FormatYesNo:
		switch strings.ToLower(strings.TrimRight(value, ".!")) {
		case "yes", "no":
		default:
			return fail(fmt.Sprintf("expected yes or no, got %q", truncate(value, 40)))
		}
	default:
		return fail(fmt.Sprintf("unsupported format %q", format))
	}
	return nil
}

func checkSingleValue(output string) []Violation {
	value := strings.TrimSpace(output)
	switch {
	case value == "":
		return []Violation{{Gate: "structure", Rule: "non_empty", Severity: "error", Message: "output is empty"}}
	case strings.Contains(value, "\n"):
		return []Violation{{Gate: "structure", Rule: "single_value", Severity: "error", Message: "output spans multiple lines"}}
	}
	return nil
}

func isNumber(s string) bool {
	s = stripThousands(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func stripThousands(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cut(s, n) + "..."
}

// cut returns at most n bytes of s without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
