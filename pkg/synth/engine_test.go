package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
)

func fixedTool(content string, confidence float64, err error) tool.Tool {
	return tool.Func(func(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
		if err != nil {
			return tool.Output{}, err
		}
		return tool.Output{Content: content, Confidence: confidence}, nil
	})
}

func register(t *testing.T, reg *registry.Registry, id string, weight float64, impl tool.Tool, tags ...schema.Category) {
	t.Helper()
	require.NoError(t, reg.Register(registry.Entry{
		Descriptor: schema.ToolDescriptor{ID: id, Tags: tags, Weight: weight},
		Tool:       impl,
	}))
}

func TestSynthesizeFromTemplate(t *testing.T) {
	reg := registry.New()
	var seen map[string]string
	register(t, reg, "big", 0.9, tool.Func(func(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
		seen = params
		return tool.Output{Content: "42", Confidence: 0.9}, nil
	}), schema.TagGeneric)
	register(t, reg, "small", 0.2, fixedTool("x", 0.1, nil), schema.TagGeneric)

	e := New(reg, WithTemplates(Template{
		Name:       "format-repair",
		Category:   schema.CategoryAnswerFormat,
		Parameters: map[string]string{tool.ParamInstructions: "bare answer"},
	}))
	task := schema.NewTask("q", schema.WithExpectedFormat("integer"))
	class := schema.Classification{Category: schema.CategoryAnswerFormat, Severity: schema.SeverityLow}

	failed := []schema.Attempt{{ToolID: "small", Failure: schema.FailureRejected}}
	entry, err := e.Synthesize(context.Background(), class, task, failed)
	require.NoError(t, err)

	d := entry.Descriptor
	assert.True(t, strings.HasPrefix(d.ID, "synth-format-repair-"), d.ID)
	assert.Equal(t, []schema.Category{schema.CategoryAnswerFormat}, d.Tags)
	assert.Equal(t, "format-repair", d.SourceTemplate)
	assert.Equal(t, []string{"big"}, d.Targets)
	assert.True(t, d.Synthesized)
	assert.NotContains(t, d.Parameters, tool.ParamFormat)
	assert.NotContains(t, d.Parameters, tool.ParamRepairContext)

	params := tool.MergeParams(d.Parameters, InvocationParams(class, task, failed))
	out, err := entry.Tool.Invoke(context.Background(), task, params)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Content)
	assert.Equal(t, "big", out.Metadata["target"])
	assert.Equal(t, "bare answer", seen[tool.ParamInstructions])
	assert.Equal(t, "integer", seen[tool.ParamFormat])
	assert.Contains(t, seen[tool.ParamRepairContext], "small")

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, KindTemplate, history[0].Kind)
	assert.Equal(t, d.ID, history[0].ToolID)
	assert.Equal(t, task.ID, history[0].TaskID)
}

func TestInvocationParamsFollowTheTask(t *testing.T) {
	class := schema.Classification{Category: schema.CategoryCalculationError}
	failed := []schema.Attempt{{ToolID: "calc", Failure: schema.FailureRejected, Output: "oops"}}

	first := InvocationParams(class, schema.NewTask("2+2", schema.WithExpectedFormat("number")), failed)
	assert.Equal(t, "number", first[tool.ParamFormat])
	assert.Contains(t, first[tool.ParamRepairContext], "calc")

	fresh := InvocationParams(class, schema.NewTask("3*3"), nil)
	assert.Empty(t, fresh)
}

func TestSynthesizeTemplateWithUnknownTarget(t *testing.T) {
	reg := registry.New()
	register(t, reg, "g", 0.5, fixedTool("x", 1, nil), schema.TagGeneric)
	e := New(reg, WithTemplates(Template{Name: "calc-verify", Category: schema.CategoryCalculationError, Target: "calculator"}))

	_, err := e.Synthesize(context.Background(), schema.Classification{Category: schema.CategoryCalculationError}, schema.NewTask("q"), nil)
	require.ErrorIs(t, err, ErrSynthesisInvalid)
	assert.Empty(t, e.History())
}

func TestSynthesizeTemplateWithoutGenericTool(t *testing.T) {
	e := New(registry.New(), WithTemplates(Template{Name: "t", Category: schema.CategoryAPIFailure}))
	_, err := e.Synthesize(context.Background(), schema.Classification{Category: schema.CategoryAPIFailure}, schema.NewTask("q"), nil)
	require.ErrorIs(t, err, ErrSynthesisInvalid)
}

func TestSynthesizeHybrid(t *testing.T) {
	reg := registry.New()
	register(t, reg, "a", 0.5, fixedTool("low", 0.4, nil), schema.CategoryKnowledgeGap)
	register(t, reg, "b", 0.5, fixedTool("high", 0.8, nil), schema.CategoryKnowledgeGap)
	register(t, reg, "c", 0.5, fixedTool("", 0, tool.Errorf("down")), schema.TagGeneric)
	e := New(reg)

	failed := []schema.Attempt{
		{ToolID: "a", Failure: schema.FailureLowConfidence},
		{ToolID: "a", Failure: schema.FailureLowConfidence},
		{ToolID: "b", Failure: schema.FailureToolError},
		{ToolID: "c", Failure: schema.FailureToolError},
		{ToolID: "gone", Failure: schema.FailureToolError},
	}
	class := schema.Classification{Category: schema.CategoryKnowledgeGap}
	entry, err := e.Synthesize(context.Background(), class, schema.NewTask("q"), failed)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(entry.Descriptor.ID, "synth-hybrid-"))
	assert.Equal(t, []string{"a", "b", "c"}, entry.Descriptor.Targets)
	assert.Equal(t, StrategyHybrid, entry.Descriptor.Parameters[tool.ParamStrategy])
	assert.Empty(t, entry.Descriptor.SourceTemplate)

	out, err := entry.Tool.Invoke(context.Background(), schema.NewTask("q"), entry.Descriptor.Parameters)
	require.NoError(t, err)
	assert.Equal(t, "high", out.Content)
	assert.Equal(t, "b", out.Metadata["target"])
}

func TestSynthesizeHybridNeedsTwoTools(t *testing.T) {
	reg := registry.New()
	register(t, reg, "a", 0.5, fixedTool("x", 0.4, nil), schema.CategoryKnowledgeGap)
	e := New(reg)

	_, err := e.Synthesize(context.Background(), schema.Classification{Category: schema.CategoryKnowledgeGap}, schema.NewTask("q"),
		[]schema.Attempt{{ToolID: "a"}, {ToolID: "a"}})
	require.ErrorIs(t, err, ErrSynthesisInvalid)
}

func TestHybridToolAllFail(t *testing.T) {
	reg := registry.New()
	register(t, reg, "a", 0.5, fixedTool("", 0, errors.New("boom")), schema.CategoryKnowledgeGap)
	register(t, reg, "b", 0.5, fixedTool("  ", 0.9, nil), schema.CategoryKnowledgeGap)
	h := &HybridTool{reg: reg, targets: []string{"a", "b"}}

	_, err := h.Invoke(context.Background(), schema.NewTask("q"), nil)
	var toolErr *tool.Error
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Contains(t, err.Error(), "b: empty output")
	assert.Equal(t, []string{"a", "b"}, h.Targets())
}

func TestSynthesizeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(registry.New()).Synthesize(ctx, schema.Classification{Category: schema.CategoryKnowledgeGap}, schema.NewTask("q"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTemplatesFromConfig(t *testing.T) {
	templates, err := TemplatesFromConfig(config.DefaultCascadeConfig())
	require.NoError(t, err)
	require.Len(t, templates, 4)
	byCategory := map[schema.Category]Template{}
	for _, tpl := range templates {
		byCategory[tpl.Category] = tpl
	}
	assert.Equal(t, "calculator", byCategory[schema.CategoryCalculationError].Target)
	assert.Equal(t, "format-repair", byCategory[schema.CategoryAnswerFormat].Name)

	_, err = TemplatesFromConfig(&config.CascadeConfig{Templates: []config.TemplateConfig{{Name: "x", Category: "nope"}}})
	require.Error(t, err)
}
