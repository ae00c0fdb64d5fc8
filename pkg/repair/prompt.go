// Package repair turns a failed attempt history into guidance for the next
// tool, used by hybrid synthesized tools.
package repair

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

const maxOutputExcerpt = 200

var strategies = map[schema.Category]string{
	schema.CategoryAPIFailure:       "Answer without relying on the provider that failed; keep the reply short.",
	schema.CategoryAnswerFormat:     "Return only the answer value in the required format with no extra words.",
	schema.CategoryKnowledgeGap:     "State the best-supported fact; lower your confidence if you are unsure.",
	schema.CategoryReasoningError:   "Work through the problem step by step and check each step before answering.",
	schema.CategoryFileProcessing:   "Describe what can be determined without the unreadable file and say what is missing.",
	schema.CategorySearchFailure:    "Answer from general knowledge since search returned nothing useful.",
	schema.CategoryCalculationError: "Recompute the result carefully and return only the final number.",
	schema.CategoryContextMissing:   "State the assumption you make about the missing context, then answer.",
	schema.CategoryToolLimitation:   "Use a different approach than the previous tools.",
}

// Strategy returns the generic repair strategy for a category.
func Strategy(category schema.Category) string {
	if s, ok := strategies[category]; ok {
		return s
	}
	return strategies[schema.CategoryToolLimitation]
}

// BuildContext creates repair guidance from the failed attempts of a cascade.
func BuildContext(task schema.Task, class schema.Classification, failed []schema.Attempt) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Earlier attempts failed (category %s, severity %s).\n", class.Category, class.Severity))
	if len(failed) > 0 {
		sb.WriteString("\nIssues found:\n")
	}
	for _, a := range failed {
		reason := string(a.Failure)
		if reason == "" {
			reason = "not accepted"
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s", a.Tier, a.ToolID, reason))
		if a.Error != "" {
			sb.WriteString(": " + a.Error)
		}
		sb.WriteString("\n")
		if out := strings.TrimSpace(a.Output); out != "" {
			sb.WriteString(fmt.Sprintf("  Output: %q (confidence %.2f)\n", excerpt(out), a.Confidence))
		}
		for _, v := range a.Violations {
			sb.WriteString(fmt.Sprintf("  Violation: %s\n", v))
		}
	}

	if task.ExpectedFormat != "" {
		sb.WriteString(fmt.Sprintf("\nRequired format: %s\n", task.ExpectedFormat))
	}

	if Repeated(failed) {
		sb.WriteString("\nThe previous outputs are repeating. Do NOT repeat the previous output.\n")
	}

	sb.WriteString("\nStrategy: ")
	sb.WriteString(Strategy(class.Category))
	return sb.String()
}

// Repeated reports whether the last two attempts that produced output
// produced the same output.
func Repeated(attempts []schema.Attempt) bool {
	var last []string
	for i := len(attempts) - 1; i >= 0 && len(last) < 2; i-- {
		if out := strings.TrimSpace(attempts[i].Output); out != "" {
			last = append(last, out)
		}
	}
	return len(last) == 2 && strings.EqualFold(last[0], last[1])
}

func excerpt(s string) string {
	if len(s) <= maxOutputExcerpt {
		return s
	}
	n := maxOutputExcerpt
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
