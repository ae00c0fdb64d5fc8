// Package router classifies a task and its failure signal into a category
// and severity that drive tool selection.
package router

import (
	"fmt"
	"strings"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// Classifier is a pure mapping from a task and an optional prior failure to a
// classification. It is safe for concurrent use.
type Classifier struct {
	rules *RuleSet
}

// NewClassifier creates a classifier. A nil rule set uses DefaultRules.
func NewClassifier(rules *RuleSet) *Classifier {
	if rules == nil {
		rules = NewRuleSet(DefaultRules())
	}
	return &Classifier{rules: rules}
}

var defaultClassifier = NewClassifier(nil)

// Classify uses the built-in rules.
func Classify(task schema.Task, prior *schema.Attempt) schema.Classification {
	return defaultClassifier.Classify(task, prior)
}

// signal is the failure evidence a classification is derived from.
type signal struct {
	kind       schema.FailureKind
	text       string
	confidence *float64
}

func signalFor(task schema.Task, prior *schema.Attempt) *signal {
	if prior != nil {
		conf := prior.Confidence
		parts := []string{prior.Error, prior.Output}
		parts = append(parts, prior.Violations...)
		return &signal{kind: prior.Failure, text: strings.Join(parts, "\n"), confidence: &conf}
	}
	if task.Prior != nil {
		return &signal{
			kind:       task.Prior.Kind,
			text:       task.Prior.Error + "\n" + task.Prior.Output,
			confidence: task.Prior.Confidence,
		}
	}
	return nil
}

// Classify derives the classification. A prior attempt takes precedence over
// the failure recorded on the task.
func (c *Classifier) Classify(task schema.Task, prior *schema.Attempt) schema.Classification {
	sig := signalFor(task, prior)
	out := schema.Classification{Severity: SeverityFor(nil)}
	if sig != nil {
		out.Severity = SeverityFor(sig.confidence)
	}

	if task.CategoryHint != "" && task.CategoryHint.Valid() {
		out.Category = task.CategoryHint
		out.Reasons = append(out.Reasons, "category hint")
		return out
	}

	if sig == nil {
		out.Category = schema.CategoryToolLimitation
		out.Reasons = append(out.Reasons, "no failure signal; using default")
		return out
	}

	switch sig.kind {
	case schema.FailureTimeout:
		out.Category = schema.CategoryAPIFailure
		out.Reasons = append(out.Reasons, "prior attempt timed out")
		return out
	case schema.FailureRejected:
		out.Category = schema.CategoryAnswerFormat
		out.Reasons = append(out.Reasons, "prior output failed validation")
		return out
	}

	if category, trigger, ok := c.rules.Match(sig.text); ok {
		out.Category = category
		out.Reasons = append(out.Reasons, fmt.Sprintf("matched trigger %q", trigger))
		return out
	}

	out.Category = schema.CategoryToolLimitation
	out.Reasons = append(out.Reasons, "no rule matched; using default")
	return out
}

// SeverityFor maps a prior confidence to a severity. Without a confidence the
// severity is MEDIUM.
func SeverityFor(confidence *float64) schema.Severity {
	if confidence == nil {
		return schema.SeverityMedium
	}
	switch c := *confidence; {
	case c < 0.3:
		return schema.SeverityCritical
	case c < 0.5:
		return schema.SeverityHigh
	case c < 0.75:
		return schema.SeverityMedium
	default:
		return schema.SeverityLow
	}
}
