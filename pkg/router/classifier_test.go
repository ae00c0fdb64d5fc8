package router

import (
	"testing"

	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/schema"
)

func TestClassifyDefaultPath(t *testing.T) {
	got := Classify(schema.NewTask("Who painted the Mona Lisa?"), nil)
	if got.Category != schema.CategoryToolLimitation {
		t.Fatalf("expected TOOL_LIMITATION, got %s", got.Category)
	}
	if got.Severity != schema.SeverityMedium {
		t.Fatalf("expected MEDIUM, got %s", got.Severity)
	}
}

func TestClassifyHintWins(t *testing.T) {
	task := schema.NewTask("anything",
		schema.WithCategoryHint(schema.CategoryKnowledgeGap),
		schema.WithPriorFailure(schema.PriorFailure{Error: "connection timeout", Kind: schema.FailureTimeout}),
	)
	got := Classify(task, nil)
	if got.Category != schema.CategoryKnowledgeGap {
		t.Fatalf("hint should win, got %s", got.Category)
	}
}

func TestClassifyPriorFailure(t *testing.T) {
	tests := []struct {
		name     string
		prior    schema.PriorFailure
		category schema.Category
		severity schema.Severity
	}{
		{
			name:     "timeout kind",
			prior:    schema.PriorFailure{Kind: schema.FailureTimeout, Confidence: schema.Float(0.1)},
			category: schema.CategoryAPIFailure,
			severity: schema.SeverityCritical,
		},
		{
			name:     "rejected kind",
			prior:    schema.PriorFailure{Kind: schema.FailureRejected, Output: "about five", Confidence: schema.Float(0.95)},
			category: schema.CategoryAnswerFormat,
			severity: schema.SeverityLow,
		},
		{
			name:     "network token",
			prior:    schema.PriorFailure{Error: "dial tcp: connection refused", Confidence: schema.Float(0.4)},
			category: schema.CategoryAPIFailure,
			severity: schema.SeverityHigh,
		},
		{
			name:     "api beats format",
			prior:    schema.PriorFailure{Error: "rate limit hit while parsing format"},
			category: schema.CategoryAPIFailure,
			severity: schema.SeverityMedium,
		},
		{
			name:     "malformed output",
			prior:    schema.PriorFailure{Error: "malformed answer", Confidence: schema.Float(0.6)},
			category: schema.CategoryAnswerFormat,
			severity: schema.SeverityMedium,
		},
		{
			name:     "division by zero",
			prior:    schema.PriorFailure{Error: "evaluate: division by zero"},
			category: schema.CategoryCalculationError,
			severity: schema.SeverityMedium,
		},
		{
			name:     "file missing",
			prior:    schema.PriorFailure{Error: "open report.pdf: no such file"},
			category: schema.CategoryFileProcessing,
			severity: schema.SeverityMedium,
		},
		{
			name:     "search empty",
			prior:    schema.PriorFailure{Error: "search returned no results for \"x\""},
			category: schema.CategorySearchFailure,
			severity: schema.SeverityMedium,
		},
		{
			name:     "knowledge gap",
			prior:    schema.PriorFailure{Output: "I don't know who that is"},
			category: schema.CategoryKnowledgeGap,
			severity: schema.SeverityMedium,
		},
		{
			name:     "context missing",
			prior:    schema.PriorFailure{Output: "The question is ambiguous"},
			category: schema.CategoryContextMissing,
			severity: schema.SeverityMedium,
		},
		{
			name:     "reasoning",
			prior:    schema.PriorFailure{Output: "that answer is inconsistent with step two"},
			category: schema.CategoryReasoningError,
			severity: schema.SeverityMedium,
		},
		{
			name:     "unmatched signal",
			prior:    schema.PriorFailure{Error: "something odd happened", Confidence: schema.Float(0.8)},
			category: schema.CategoryToolLimitation,
			severity: schema.SeverityLow,
		},
		{
			name:     "word boundary",
			prior:    schema.PriorFailure{Error: "networking stack is fine"},
			category: schema.CategoryToolLimitation,
			severity: schema.SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(schema.NewTask("goal text with timeout in it", schema.WithPriorFailure(tt.prior)), nil)
			if got.Category != tt.category {
				t.Fatalf("category: got %s want %s (reasons %v)", got.Category, tt.category, got.Reasons)
			}
			if got.Severity != tt.severity {
				t.Fatalf("severity: got %s want %s", got.Severity, tt.severity)
			}
		})
	}
}

func TestClassifyPrefersPriorAttempt(t *testing.T) {
	task := schema.NewTask("q", schema.WithPriorFailure(schema.PriorFailure{Error: "connection refused"}))
	attempt := &schema.Attempt{ToolID: "calc", Error: "division by zero", Failure: schema.FailureToolError, Confidence: 0.2}

	got := Classify(task, attempt)
	if got.Category != schema.CategoryCalculationError {
		t.Fatalf("expected CALCULATION_ERROR from attempt, got %s", got.Category)
	}
	if got.Severity != schema.SeverityCritical {
		t.Fatalf("expected CRITICAL, got %s", got.Severity)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	task := schema.NewTask("q", schema.WithPriorFailure(schema.PriorFailure{Error: "malformed json and unknown entity"}))
	first := Classify(task, nil)
	for i := 0; i < 50; i++ {
		got := Classify(task, nil)
		if got.Category != first.Category || got.Severity != first.Severity {
			t.Fatalf("classification changed on run %d: %+v vs %+v", i, got, first)
		}
	}
}

func TestSeverityThresholds(t *testing.T) {
	cases := map[float64]schema.Severity{
		0.0:  schema.SeverityCritical,
		0.29: schema.SeverityCritical,
		0.3:  schema.SeverityHigh,
		0.49: schema.SeverityHigh,
		0.5:  schema.SeverityMedium,
		0.74: schema.SeverityMedium,
		0.75: schema.SeverityLow,
		1.0:  schema.SeverityLow,
	}
	for conf, want := range cases {
		c := conf
		if got := SeverityFor(&c); got != want {
			t.Fatalf("confidence %.2f: got %s want %s", conf, got, want)
		}
	}
}

func TestContainsTrigger(t *testing.T) {
	tests := []struct {
		text    string
		trigger string
		want    bool
	}{
		{"request timeout", "timeout", true},
		{"timeouts everywhere", "timeout", false},
		{"nano and nan", "nan", true},
		{"banana", "nan", false},
		{"status 503: unavailable", "status 503", true},
		{"", "x", false},
	}
	for _, tt := range tests {
		if got := containsTrigger(tt.text, tt.trigger); got != tt.want {
			t.Fatalf("containsTrigger(%q, %q) = %v, want %v", tt.text, tt.trigger, got, tt.want)
		}
	}
}

func TestRulesFromConfig(t *testing.T) {
	cfg := &config.CascadeConfig{}
	cfg.Classifier.Rules = []config.ClassifierRule{
		{Category: "knowledge-gap", Triggers: []string{"Frobnicate"}},
	}
	rules, err := RulesFromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := NewClassifier(NewRuleSet(rules))
	got := c.Classify(schema.NewTask("q", schema.WithPriorFailure(schema.PriorFailure{Error: "cannot frobnicate"})), nil)
	if got.Category != schema.CategoryKnowledgeGap {
		t.Fatalf("expected configured rule to match, got %s", got.Category)
	}
	// configured rules replace the defaults
	got = c.Classify(schema.NewTask("q", schema.WithPriorFailure(schema.PriorFailure{Error: "timeout"})), nil)
	if got.Category != schema.CategoryToolLimitation {
		t.Fatalf("expected defaults to be replaced, got %s", got.Category)
	}

	cfg.Classifier.Rules = []config.ClassifierRule{{Category: "bogus", Triggers: []string{"x"}}}
	if _, err := RulesFromConfig(cfg); err == nil {
		t.Fatalf("expected unknown category to fail")
	}
}
