// Package tool defines the contract every capability implements and ships the
// non-LLM built-in tools.
package tool

import (
	"context"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// Well-known invocation parameters. Tools ignore keys they do not understand.
const (
	ParamInstructions  = "instructions"
	ParamFormat        = "format"
	ParamRepairContext = "repair_context"
	ParamQuery         = "query"
	ParamExpression    = "expression"
	ParamStrategy      = "strategy"
)

// Output is what a successful invocation returns.
type Output struct {
	Content    string
	Confidence float64
	Metadata   map[string]string
}

// Tool is an executable capability.
type Tool interface {
	// Invoke runs the tool once. Implementations must honor ctx cancellation
	// and report failures as ErrTimeout, *Error or ErrInvalidInput.
	Invoke(ctx context.Context, task schema.Task, params map[string]string) (Output, error)
}

// Func adapts a plain function to Tool.
type Func func(ctx context.Context, task schema.Task, params map[string]string) (Output, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, task schema.Task, params map[string]string) (Output, error) {
	return f(ctx, task, params)
}

// MergeParams returns base overlaid with override. Neither input is modified.
func MergeParams(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
