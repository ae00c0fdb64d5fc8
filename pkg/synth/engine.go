// Package synth builds new tools when every registered candidate for a
// category has failed. Tools come either from a per-category template or from
// a hybrid of tools that already failed, steered by a repair context.
package synth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/repair"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
	"go.uber.org/zap"
)

// Synthesis kinds.
const (
	KindTemplate = "template"
	KindHybrid   = "hybrid"
)

// StrategyHybrid is the strategy parameter of hybrid tools.
const StrategyHybrid = "hybrid"

// neutralWeight is the initial weight of a synthesized tool.
const neutralWeight = 0.5

// Record is one entry of the synthesis history.
type Record struct {
	Kind      string          `json:"kind"`
	ToolID    string          `json:"tool_id"`
	Template  string          `json:"template,omitempty"`
	Category  schema.Category `json:"category"`
	Targets   []string        `json:"targets"`
	TaskID    string          `json:"task_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// Engine synthesizes tools against a registry. It is safe for concurrent use.
type Engine struct {
	reg       *registry.Registry
	templates map[schema.Category]Template
	logger    *zap.Logger

	mu      sync.Mutex
	history []Record
}

// Option configures an Engine.
type Option func(*Engine)

// WithTemplates installs templates. A later template for the same category
// replaces an earlier one.
func WithTemplates(templates ...Template) Option {
	return func(e *Engine) {
		for _, t := range templates {
			e.templates[t.Category] = t
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:       reg,
		templates: make(map[schema.Category]Template),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Synthesize builds a tool for the classification from the failed attempt
// history. The returned entry is not registered.
func (e *Engine) Synthesize(ctx context.Context, class schema.Classification, task schema.Task, failed []schema.Attempt) (registry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return registry.Entry{}, err
	}
	snap := e.reg.Snapshot()

	var (
		desc schema.ToolDescriptor
		kind string
	)
	if tpl, ok := e.templates[class.Category]; ok {
		desc = e.fromTemplate(snap, tpl, class)
		kind = KindTemplate
	} else {
		desc = hybridDescriptor(snap, class, failed)
		kind = KindHybrid
	}

	if err := validate(snap, desc, kind); err != nil {
		e.logger.Warn("synthesis rejected",
			zap.String("task", task.ID),
			zap.String("kind", kind),
			zap.String("category", string(class.Category)),
			zap.Error(err))
		return registry.Entry{}, err
	}

	var impl tool.Tool
	if kind == KindTemplate {
		impl = &templateTool{reg: e.reg, target: desc.Targets[0]}
	} else {
		impl = &HybridTool{reg: e.reg, targets: append([]string(nil), desc.Targets...)}
	}

	rec := Record{
		Kind:      kind,
		ToolID:    desc.ID,
		Template:  desc.SourceTemplate,
		Category:  class.Category,
		Targets:   append([]string(nil), desc.Targets...),
		TaskID:    task.ID,
		CreatedAt: time.Now().UTC(),
	}
	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()

	e.logger.Info("synthesized tool",
		zap.String("task", task.ID),
		zap.String("tool", desc.ID),
		zap.String("kind", kind),
		zap.Strings("targets", desc.Targets))

	return registry.Entry{Descriptor: desc, Tool: impl}, nil
}

// History returns a copy of the synthesis history, oldest first.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) fromTemplate(snap *registry.Snapshot, tpl Template, class schema.Classification) schema.ToolDescriptor {
	target := tpl.Target
	if target == "" {
		target = bestGeneric(snap)
	}
	desc := schema.ToolDescriptor{
		ID:             newID(tpl.Name),
		Tags:           []schema.Category{class.Category},
		Synthesized:    true,
		SourceTemplate: tpl.Name,
		Parameters:     tool.MergeParams(tpl.Parameters, nil),
		Weight:         neutralWeight,
	}
	if target != "" {
		desc.Targets = []string{target}
	}
	return desc
}

func hybridDescriptor(snap *registry.Snapshot, class schema.Classification, failed []schema.Attempt) schema.ToolDescriptor {
	seen := make(map[string]bool)
	var targets []string
	for _, a := range failed {
		if a.ToolID == "" || seen[a.ToolID] {
			continue
		}
		if _, err := snap.Get(a.ToolID); err != nil {
			continue
		}
		seen[a.ToolID] = true
		targets = append(targets, a.ToolID)
	}
	return schema.ToolDescriptor{
		ID:          newID(KindHybrid),
		Tags:        []schema.Category{class.Category},
		Synthesized: true,
		Targets:     targets,
		Parameters:  map[string]string{tool.ParamStrategy: StrategyHybrid},
		Weight:      neutralWeight,
	}
}

// InvocationParams are the per-task parameters a synthesized tool receives on
// each invocation, built from the current task. They are never stored on the
// descriptor.
func InvocationParams(class schema.Classification, task schema.Task, failed []schema.Attempt) map[string]string {
	params := make(map[string]string, 2)
	if len(failed) > 0 {
		params[tool.ParamRepairContext] = repair.BuildContext(task, class, failed)
	}
	if task.ExpectedFormat != "" {
		params[tool.ParamFormat] = task.ExpectedFormat
	}
	return params
}

// bestGeneric picks the highest-weight GENERIC tool that was not itself
// synthesized.
func bestGeneric(snap *registry.Snapshot) string {
	for d := range snap.Lookup(schema.TagGeneric) {
		if !d.Synthesized {
			return d.ID
		}
	}
	return ""
}

func validate(snap *registry.Snapshot, desc schema.ToolDescriptor, kind string) error {
	if len(desc.Tags) == 0 {
		return fmt.Errorf("%w: %s has no tags", ErrSynthesisInvalid, desc.ID)
	}
	if len(desc.Targets) == 0 {
		return fmt.Errorf("%w: %s has no targets", ErrSynthesisInvalid, desc.ID)
	}
	if kind == KindHybrid && len(desc.Targets) < 2 {
		return fmt.Errorf("%w: hybrid needs at least 2 distinct failed tools, have %d", ErrSynthesisInvalid, len(desc.Targets))
	}
	for _, id := range desc.Targets {
		if _, err := snap.Get(id); err != nil {
			return fmt.Errorf("%w: target %s: %v", ErrSynthesisInvalid, id, err)
		}
	}
	return nil
}

func newID(name string) string {
	return fmt.Sprintf("synth-%s-%s", name, uuid.NewString()[:8])
}
