package schema

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"api_failure":       CategoryAPIFailure,
		"Answer-Format":     CategoryAnswerFormat,
		" knowledge gap ":   CategoryKnowledgeGap,
		"CALCULATION_ERROR": CategoryCalculationError,
	}
	for input, want := range cases {
		got, err := ParseCategory(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", input, got, want)
		}
	}

	if _, err := ParseCategory("GENERIC"); err == nil {
		t.Fatalf("expected GENERIC to be rejected as a category")
	}
	if tag, err := ParseTag("generic"); err != nil || tag != TagGeneric {
		t.Fatalf("expected generic tag, got %q (%v)", tag, err)
	}
}

func TestTierJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Attempt{ToolID: "a", Tier: TierSpecializedFallback})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Attempt
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Tier != TierSpecializedFallback {
		t.Fatalf("tier mismatch: %s", decoded.Tier)
	}
	if _, err := json.Marshal(Attempt{Tier: Tier(42)}); err == nil {
		t.Fatalf("expected invalid tier to fail marshalling")
	}
}

func TestClampUnit(t *testing.T) {
	if ClampUnit(-0.2) != 0 || ClampUnit(1.7) != 1 || ClampUnit(0.4) != 0.4 {
		t.Fatalf("clamp out of range")
	}
	if ClampUnit(math.NaN()) != 0 {
		t.Fatalf("NaN should clamp to 0")
	}
}

func TestDescriptorCloneIsDeep(t *testing.T) {
	d := ToolDescriptor{
		ID:         "x",
		Tags:       []Category{CategoryAPIFailure},
		Targets:    []string{"a"},
		Parameters: map[string]string{"k": "v"},
	}
	c := d.Clone()
	c.Tags[0] = CategoryKnowledgeGap
	c.Targets[0] = "b"
	c.Parameters["k"] = "changed"
	if d.Tags[0] != CategoryAPIFailure || d.Targets[0] != "a" || d.Parameters["k"] != "v" {
		t.Fatalf("clone shares state with original: %+v", d)
	}
}

func TestNewTaskCopiesPriorFailure(t *testing.T) {
	conf := 0.4
	prior := PriorFailure{Error: "boom", Confidence: &conf}
	task := NewTask("  what is 2+2  ", WithPriorFailure(prior), WithExpectedFormat(" number "))
	conf = 0.9

	if task.ID == "" {
		t.Fatalf("expected generated id")
	}
	if task.Goal != "what is 2+2" {
		t.Fatalf("goal not trimmed: %q", task.Goal)
	}
	if *task.Prior.Confidence != 0.4 {
		t.Fatalf("prior confidence aliased caller state")
	}
	if task.ExpectedFormat != "number" {
		t.Fatalf("format not trimmed: %q", task.ExpectedFormat)
	}
	if err := task.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := NewTask(" ").Validate(); err == nil {
		t.Fatalf("expected empty goal to fail validation")
	}
}

func TestFeedbackRecordFromAttempt(t *testing.T) {
	rec := NewFeedbackRecord("t1", CategoryAPIFailure, Attempt{ToolID: "a", Confidence: 1.3, Accepted: true})
	if rec.Schema != SchemaFeedbackV1 || !rec.Succeeded || rec.Confidence != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	canceled := NewFeedbackRecord("t1", CategoryAPIFailure, Attempt{ToolID: "a", Failure: FailureCanceled})
	if !canceled.Canceled || canceled.Succeeded {
		t.Fatalf("expected canceled, unsuccessful record: %+v", canceled)
	}
}
