package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tool kinds understood by the CLI tool builder.
const (
	KindLLM    = "llm"
	KindSearch = "search"
	KindCalc   = "calc"
	KindMock   = "mock"
)

// Feedback store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// CascadeConfig holds tuning, tool definitions and synthesis templates.
type CascadeConfig struct {
	AttemptTimeoutMs  int                     `yaml:"attempt_timeout_ms,omitempty"`
	MaxAttempts       int                     `yaml:"max_attempts,omitempty"`
	SpecializedBudget int                     `yaml:"specialized_budget,omitempty"`
	GenericBudget     int                     `yaml:"generic_budget,omitempty"`
	AcceptThreshold   float64                 `yaml:"accept_threshold,omitempty"`
	Concurrency       int                     `yaml:"concurrency,omitempty"`
	Retry             RetryConfig             `yaml:"retry,omitempty"`
	Feedback          FeedbackConfig          `yaml:"feedback,omitempty"`
	Classifier        ClassifierConfig        `yaml:"classifier,omitempty"`
	Tools             []ToolConfig            `yaml:"tools"`
	Templates         []TemplateConfig        `yaml:"templates,omitempty"`
	Gates             map[string][]GateConfig `yaml:"gates,omitempty"`
	ModelAliases      map[string]string       `yaml:"model_aliases,omitempty"`
	EvidenceDir       string                  `yaml:"evidence_dir,omitempty"`
}

// RetryConfig defines retry and backoff behavior for provider calls.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// FeedbackConfig selects and tunes the feedback store.
type FeedbackConfig struct {
	Backend      string  `yaml:"backend,omitempty"`
	Path         string  `yaml:"path,omitempty"`
	Window       int     `yaml:"window,omitempty"`
	LearningRate float64 `yaml:"learning_rate,omitempty"`
}

// ClassifierConfig overrides the built-in trigger rules.
type ClassifierConfig struct {
	Rules          []ClassifierRule `yaml:"rules,omitempty"`
	ExtendDefaults bool             `yaml:"extend_defaults,omitempty"`
}

// ClassifierRule maps trigger phrases to a category.
type ClassifierRule struct {
	Category string   `yaml:"category"`
	Triggers []string `yaml:"triggers"`
}

// ToolConfig declares one tool to register at startup.
type ToolConfig struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	Tags       []string          `yaml:"tags"`
	Adapter    string            `yaml:"adapter,omitempty"`
	Model      string            `yaml:"model,omitempty"`
	Weight     float64           `yaml:"weight,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// TemplateConfig declares a synthesis template for one category. An empty
// Target means the best GENERIC tool at synthesis time.
type TemplateConfig struct {
	Name       string            `yaml:"name"`
	Category   string            `yaml:"category"`
	Target     string            `yaml:"target,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// GateConfig is an external command that must accept a tool output.
type GateConfig struct {
	Name      string   `yaml:"name"`
	Command   []string `yaml:"command"`
	TimeoutMs int      `yaml:"timeout_ms,omitempty"`
}

// LoadCascadeConfig reads cascade configuration from a YAML file.
func LoadCascadeConfig(path string) (*CascadeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCascadeConfig(data)
}

// ParseCascadeConfig decodes YAML and applies defaults.
func ParseCascadeConfig(data []byte) (*CascadeConfig, error) {
	var cfg CascadeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Tools) == 0 {
		cfg.Tools = DefaultCascadeConfig().Tools
	}
	applyCascadeDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks tool and template declarations.
func (c *CascadeConfig) Validate() error {
	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("tools[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tools[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		switch t.Kind {
		case KindLLM:
			if t.Adapter == "" || t.Model == "" {
				return fmt.Errorf("tool %s: llm tools need adapter and model", t.ID)
			}
		case KindSearch, KindCalc, KindMock:
		default:
			return fmt.Errorf("tool %s: unknown kind %q", t.ID, t.Kind)
		}
		if len(t.Tags) == 0 {
			return fmt.Errorf("tool %s: at least one tag is required", t.ID)
		}
		if t.Weight < 0 || t.Weight > 1 {
			return fmt.Errorf("tool %s: weight %.2f outside [0,1]", t.ID, t.Weight)
		}
	}
	templates := make(map[string]bool, len(c.Templates))
	for i, tpl := range c.Templates {
		if tpl.Name == "" || tpl.Category == "" {
			return fmt.Errorf("templates[%d]: name and category are required", i)
		}
		key := strings.ToUpper(tpl.Category)
		if templates[key] {
			return fmt.Errorf("templates[%d]: second template for %s", i, tpl.Category)
		}
		templates[key] = true
	}
	switch c.Feedback.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Feedback.Path == "" {
			return fmt.Errorf("feedback backend %s needs a path", c.Feedback.Backend)
		}
	default:
		return fmt.Errorf("unknown feedback backend %q", c.Feedback.Backend)
	}
	return nil
}

// ResolveModel returns the canonical model name for an alias.
func (c *CascadeConfig) ResolveModel(modelOrAlias string) string {
	if c == nil || c.ModelAliases == nil {
		return modelOrAlias
	}
	if canonical, ok := c.ModelAliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// Marshal renders the config as YAML.
func (c *CascadeConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// DefaultCascadeConfig returns the built-in configuration. Initial tool
// weights are prior success rates per tool.
func DefaultCascadeConfig() *CascadeConfig {
	cfg := &CascadeConfig{
		Tools: []ToolConfig{
			{ID: "calculator", Kind: KindCalc, Tags: []string{"CALCULATION_ERROR", "ANSWER_FORMAT"}, Weight: 0.96},
			{ID: "web-search", Kind: KindSearch, Tags: []string{"SEARCH_FAILURE", "KNOWLEDGE_GAP"}, Weight: 0.92},
			{
				ID: "claude", Kind: KindLLM, Adapter: "anthropic", Model: "sonnet",
				Tags:   []string{"REASONING_ERROR", "CONTEXT_MISSING", "KNOWLEDGE_GAP", "TOOL_LIMITATION", "GENERIC"},
				Weight: 0.90,
			},
			{
				ID: "gpt", Kind: KindLLM, Adapter: "openai", Model: "gpt-4o",
				Tags:   []string{"CALCULATION_ERROR", "FILE_PROCESSING", "REASONING_ERROR", "GENERIC"},
				Weight: 0.75,
			},
			{
				ID: "gemini", Kind: KindLLM, Adapter: "google", Model: "gemini-2.0-flash",
				Tags:   []string{"KNOWLEDGE_GAP", "ANSWER_FORMAT", "SEARCH_FAILURE", "GENERIC"},
				Weight: 0.70,
			},
			{
				ID: "deepseek", Kind: KindLLM, Adapter: "deepseek", Model: "deepseek-reasoner",
				Tags:   []string{"REASONING_ERROR", "CALCULATION_ERROR", "API_FAILURE"},
				Weight: 0.70,
			},
			{ID: "offline", Kind: KindMock, Tags: []string{"GENERIC"}, Weight: 0.10},
		},
		Templates: []TemplateConfig{
			{
				Name:     "format-repair",
				Category: "ANSWER_FORMAT",
				Parameters: map[string]string{
					"instructions": "Reply with the bare answer only, exactly in the required format.",
				},
			},
			{
				Name:     "calc-verify",
				Category: "CALCULATION_ERROR",
				Target:   "calculator",
				Parameters: map[string]string{
					"strategy": "recompute",
				},
			},
			{
				Name:     "provider-failover",
				Category: "API_FAILURE",
				Parameters: map[string]string{
					"instructions": "The primary provider is unavailable. Answer directly and concisely.",
				},
			},
			{
				Name:     "search-offline",
				Category: "SEARCH_FAILURE",
				Parameters: map[string]string{
					"instructions": "Web search returned nothing useful. Answer from general knowledge and lower your confidence if unsure.",
				},
			},
		},
		ModelAliases: map[string]string{
			"sonnet": "claude-sonnet-4-20250514",
			"opus":   "claude-opus-4-20250514",
		},
	}

	applyCascadeDefaults(cfg)
	return cfg
}

func applyCascadeDefaults(cfg *CascadeConfig) {
	if cfg == nil {
		return
	}
	if cfg.AttemptTimeoutMs == 0 {
		cfg.AttemptTimeoutMs = 5000
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.SpecializedBudget == 0 {
		cfg.SpecializedBudget = 2
	}
	if cfg.GenericBudget == 0 {
		cfg.GenericBudget = 1
	}
	if cfg.AcceptThreshold == 0 {
		cfg.AcceptThreshold = 0.70
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Feedback.Backend == "" {
		cfg.Feedback.Backend = BackendMemory
	}
	if cfg.Feedback.Window == 0 {
		cfg.Feedback.Window = 50
	}
	if cfg.Feedback.LearningRate == 0 {
		cfg.Feedback.LearningRate = 0.2
	}
	for i := range cfg.Tools {
		if cfg.Tools[i].Weight == 0 {
			cfg.Tools[i].Weight = 0.5
		}
	}
}
