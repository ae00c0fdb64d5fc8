package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
	"golang.org/x/sync/errgroup"
)

// templateTool forwards to one target with the template parameters layered
// over the target's own.
type templateTool struct {
	reg    *registry.Registry
	target string
}

func (t *templateTool) Invoke(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
	entry, err := t.reg.Get(t.target)
	if err != nil {
		return tool.Output{}, &tool.Error{Message: "template target unavailable", Err: err}
	}
	out, err := entry.Tool.Invoke(ctx, task, tool.MergeParams(entry.Descriptor.Parameters, params))
	if err != nil {
		return tool.Output{}, err
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	out.Metadata["target"] = t.target
	return out, nil
}

// HybridTool invokes every target concurrently with the repair context and
// keeps the most confident successful answer.
type HybridTool struct {
	reg     *registry.Registry
	targets []string
}

// Targets returns the composed tool ids.
func (h *HybridTool) Targets() []string {
	return append([]string(nil), h.targets...)
}

type hybridResult struct {
	target string
	out    tool.Output
	err    error
}

// Invoke runs all targets and returns the highest-confidence output. Ties go
// to the earlier target.
func (h *HybridTool) Invoke(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
	results := make([]hybridResult, len(h.targets))

	var g errgroup.Group
	for i, id := range h.targets {
		g.Go(func() error {
			res := hybridResult{target: id}
			entry, err := h.reg.Get(id)
			if err != nil {
				res.err = err
			} else {
				res.out, res.err = entry.Tool.Invoke(ctx, task, tool.MergeParams(entry.Descriptor.Parameters, params))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return tool.Output{}, fmt.Errorf("%w: %v", tool.ErrTimeout, err)
		}
		return tool.Output{}, err
	}

	best := -1
	var failures []string
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.target, r.err))
			continue
		}
		if strings.TrimSpace(r.out.Content) == "" {
			failures = append(failures, fmt.Sprintf("%s: empty output", r.target))
			continue
		}
		if best < 0 || r.out.Confidence > results[best].out.Confidence {
			best = i
		}
	}
	if best < 0 {
		return tool.Output{}, tool.Errorf("all hybrid targets failed: %s", strings.Join(failures, "; "))
	}

	out := results[best].out
	meta := make(map[string]string, len(out.Metadata)+2)
	for k, v := range out.Metadata {
		meta[k] = v
	}
	meta["target"] = results[best].target
	meta["strategy"] = StrategyHybrid
	out.Metadata = meta
	return out, nil
}
