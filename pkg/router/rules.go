package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/schema"
)

// Rule maps trigger phrases found in a failure signal to a category.
type Rule struct {
	Category schema.Category
	Triggers []string
}

// RulePriority is the fixed order in which category rules are evaluated.
var RulePriority = []schema.Category{
	schema.CategoryAPIFailure,
	schema.CategoryAnswerFormat,
	schema.CategoryCalculationError,
	schema.CategoryFileProcessing,
	schema.CategorySearchFailure,
	schema.CategoryKnowledgeGap,
	schema.CategoryContextMissing,
	schema.CategoryReasoningError,
}

// DefaultRules returns the built-in trigger rules.
func DefaultRules() []Rule {
	return []Rule{
		{Category: schema.CategoryAPIFailure, Triggers: []string{
			"timeout", "timed out", "deadline exceeded", "connection refused", "connection reset",
			"network", "rate limit", "rate limited", "status 429", "status 500", "status 502",
			"status 503", "service unavailable", "api error", "unauthorized",
		}},
		{Category: schema.CategoryAnswerFormat, Triggers: []string{
			"format", "malformed", "schema", "invalid json", "parse error", "expected a number",
			"unexpected output", "not a valid",
		}},
		{Category: schema.CategoryCalculationError, Triggers: []string{
			"division by zero", "overflow", "nan", "arithmetic", "calculation", "miscalculated",
			"wrong result", "math error",
		}},
		{Category: schema.CategoryFileProcessing, Triggers: []string{
			"file not found", "no such file", "unsupported file", "encoding", "corrupt", "pdf",
			"csv", "attachment", "permission denied",
		}},
		{Category: schema.CategorySearchFailure, Triggers: []string{
			"no results", "search failed", "search returned", "not indexed", "zero hits", "query failed",
		}},
		{Category: schema.CategoryKnowledgeGap, Triggers: []string{
			"i don't know", "i do not know", "unknown", "no information", "not found", "cannot find",
			"no matching facts", "knowledge cutoff",
		}},
		{Category: schema.CategoryContextMissing, Triggers: []string{
			"missing context", "not enough context", "insufficient context", "ambiguous", "need more information",
			"unclear",
		}},
		{Category: schema.CategoryReasoningError, Triggers: []string{
			"contradiction", "inconsistent", "logic error", "reasoning", "invalid inference", "does not follow",
		}},
	}
}

// RuleSet contains the compiled rules for signal matching.
type RuleSet struct {
	// Compiled rules in category priority order; within a category longer
	// triggers come first.
	rules []compiledRule
}

type compiledRule struct {
	category schema.Category
	trigger  string
}

// NewRuleSet compiles rules. Categories are evaluated in RulePriority order
// regardless of the order they are given in; rules for the same category are
// merged.
func NewRuleSet(rules []Rule) *RuleSet {
	byCategory := make(map[schema.Category][]string)
	for _, r := range rules {
		for _, trig := range r.Triggers {
			trig = strings.ToLower(strings.TrimSpace(trig))
			if trig != "" {
				byCategory[r.Category] = append(byCategory[r.Category], trig)
			}
		}
	}

	rs := &RuleSet{}
	for _, category := range RulePriority {
		triggers := byCategory[category]
		sort.SliceStable(triggers, func(i, j int) bool {
			return len(triggers[i]) > len(triggers[j])
		})
		for _, trig := range triggers {
			rs.rules = append(rs.rules, compiledRule{category: category, trigger: trig})
		}
	}
	return rs
}

// RulesFromConfig builds rules from the classifier section of the cascade
// config, falling back to DefaultRules when none are configured.
func RulesFromConfig(cfg *config.CascadeConfig) ([]Rule, error) {
	if cfg == nil || len(cfg.Classifier.Rules) == 0 {
		return DefaultRules(), nil
	}

	var rules []Rule
	if cfg.Classifier.ExtendDefaults {
		rules = DefaultRules()
	}
	for _, r := range cfg.Classifier.Rules {
		category, err := schema.ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("classifier rule: %w", err)
		}
		if category == schema.CategoryToolLimitation {
			return nil, fmt.Errorf("classifier rule: %s is the default and cannot have triggers", category)
		}
		rules = append(rules, Rule{Category: category, Triggers: r.Triggers})
	}
	return rules, nil
}

// Match finds the first rule matching text.
func (rs *RuleSet) Match(text string) (schema.Category, string, bool) {
	lower := strings.ToLower(text)
	for _, rule := range rs.rules {
		if containsTrigger(lower, rule.trigger) {
			return rule.category, rule.trigger, true
		}
	}
	return "", "", false
}

// containsTrigger checks if text contains the trigger phrase at word
// boundaries.
func containsTrigger(text, trigger string) bool {
	if trigger == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], trigger)
		if idx == -1 {
			return false
		}
		idx += offset
		endIdx := idx + len(trigger)
		before := idx == 0 || !isWordChar(text[idx-1])
		after := endIdx >= len(text) || !isWordChar(text[endIdx])
		if before && after {
			return true
		}
		offset = idx + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
