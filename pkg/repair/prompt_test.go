package repair

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

func TestBuildContextListsAttempts(t *testing.T) {
	task := schema.NewTask("how many moons does Mars have", schema.WithExpectedFormat("integer"))
	class := schema.Classification{Category: schema.CategoryAnswerFormat, Severity: schema.SeverityHigh}
	failed := []schema.Attempt{
		{ToolID: "claude", Tier: schema.TierPrimary, Failure: schema.FailureRejected, Output: "about two", Confidence: 0.9,
			Violations: []string{"format/integer: expected an integer"}},
		{ToolID: "gpt", Tier: schema.TierSpecializedFallback, Failure: schema.FailureTimeout, Error: "tool invocation timed out"},
	}

	ctx := BuildContext(task, class, failed)
	for _, want := range []string{
		"category ANSWER_FORMAT, severity HIGH",
		"[PRIMARY] claude: rejected",
		`Output: "about two" (confidence 0.90)`,
		"Violation: format/integer",
		"[SPECIALIZED_FALLBACK] gpt: timeout: tool invocation timed out",
		"Required format: integer",
		"Strategy: " + Strategy(schema.CategoryAnswerFormat),
	} {
		if !strings.Contains(ctx, want) {
			t.Fatalf("context missing %q:\n%s", want, ctx)
		}
	}
	if strings.Contains(ctx, "Do NOT repeat") {
		t.Fatalf("unexpected repeat warning")
	}
}

func TestBuildContextWarnsOnRepeats(t *testing.T) {
	failed := []schema.Attempt{
		{ToolID: "a", Output: "Forty two"},
		{ToolID: "b", Error: "boom"},
		{ToolID: "c", Output: "forty two "},
	}
	ctx := BuildContext(schema.NewTask("q"), schema.Classification{Category: schema.CategoryCalculationError}, failed)
	if !strings.Contains(ctx, "Do NOT repeat the previous output") {
		t.Fatalf("missing repeat warning:\n%s", ctx)
	}
}

func TestStrategyFallsBack(t *testing.T) {
	if Strategy("SOMETHING_ELSE") != Strategy(schema.CategoryToolLimitation) {
		t.Fatalf("unknown category should use the tool limitation strategy")
	}
	for _, c := range schema.Categories {
		if Strategy(c) == "" {
			t.Fatalf("no strategy for %s", c)
		}
	}
}

func TestExcerptTruncates(t *testing.T) {
	long := strings.Repeat("x", maxOutputExcerpt+10)
	if got := excerpt(long); len(got) != maxOutputExcerpt+3 {
		t.Fatalf("excerpt length = %d", len(got))
	}
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	// one leading byte shifts every two-byte rune across the cut
	long := "x" + strings.Repeat("é", maxOutputExcerpt)
	got := excerpt(long)
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt split a rune: %q", got[len(got)-8:])
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxOutputExcerpt+3 {
		t.Fatalf("excerpt length = %d", len(got))
	}
}
