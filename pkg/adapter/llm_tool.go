package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
	"go.uber.org/zap"
)

// DefaultConfidence is reported when a model reply carries no usable
// confidence value.
const DefaultConfidence = 0.5

// RetryPolicy bounds retries of transient provider errors.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// LLMTool exposes one provider model as a cascade tool.
type LLMTool struct {
	adapter Adapter
	model   string
	retry   RetryPolicy
	logger  *zap.Logger
}

// LLMOption configures an LLMTool.
type LLMOption func(*LLMTool)

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) LLMOption {
	return func(t *LLMTool) {
		t.retry = p
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) LLMOption {
	return func(t *LLMTool) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewLLMTool wraps adapter and model as a tool.
func NewLLMTool(a Adapter, model string, opts ...LLMOption) *LLMTool {
	t := &LLMTool{
		adapter: a,
		model:   model,
		retry:   DefaultRetryPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Invoke asks the model for a JSON answer and parses it.
func (t *LLMTool) Invoke(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
	resp, report, err := t.complete(ctx, BuildRequest(t.model, task, params))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return tool.Output{}, fmt.Errorf("%w: %s/%s: %v", tool.ErrTimeout, report.Adapter, report.Model, err)
		}
		return tool.Output{}, err
	}

	answer, confidence := ParseAnswer(resp.Content)
	if answer == "" {
		return tool.Output{}, tool.Errorf("%s/%s returned an empty answer", report.Adapter, report.Model)
	}
	return tool.Output{
		Content:    answer,
		Confidence: confidence,
		Metadata: map[string]string{
			"adapter":       report.Adapter,
			"model":         report.Model,
			"retries":       strconv.Itoa(report.Retries),
			"total_tokens":  strconv.Itoa(report.Usage.TotalTokens),
			"prompt_tokens": strconv.Itoa(report.Usage.PromptTokens),
		},
	}, nil
}

// complete runs req with retries on transient provider errors.
func (t *LLMTool) complete(ctx context.Context, req Request) (*Response, CallReport, error) {
	report := CallReport{Adapter: t.adapter.Name(), Model: req.Model}
	var lastErr error

	for try := 0; try <= t.retry.MaxRetries; try++ {
		report.Retries = try
		resp, err := t.adapter.Complete(ctx, req)
		if err == nil {
			report.Usage = normalizeUsage(resp.Usage)
			return resp, report, nil
		}

		lastErr = err
		if ctx.Err() != nil || !tool.IsTransient(err) || try == t.retry.MaxRetries {
			break
		}

		wait := computeBackoff(t.retry.BaseBackoff, t.retry.MaxBackoff, try)
		t.logger.Debug("retrying provider call",
			zap.String("adapter", report.Adapter),
			zap.String("model", report.Model),
			zap.Int("try", try+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := sleepWithContext(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	report.Error = lastErr.Error()
	return nil, report, lastErr
}

const answerContract = `Reply with ONLY a JSON object of the form {"answer":"...","confidence":0.0}. ` +
	`confidence is your probability, between 0 and 1, that the answer is correct.`

// BuildRequest renders the task and invocation parameters into a completion
// request. Template instructions and the reply contract go in the system
// prompt; the goal, format and repair context go in the user prompt.
func BuildRequest(model string, task schema.Task, params map[string]string) Request {
	system := answerContract
	if instructions := params[tool.ParamInstructions]; instructions != "" {
		system = instructions + "\n\n" + answerContract
	}

	var sb strings.Builder
	sb.WriteString("Task:\n")
	sb.WriteString(task.Goal)
	sb.WriteString("\n")

	format := params[tool.ParamFormat]
	if format == "" {
		format = task.ExpectedFormat
	}
	if format != "" {
		fmt.Fprintf(&sb, "\nThe answer must have this format: %s\n", format)
	}
	if repair := params[tool.ParamRepairContext]; repair != "" {
		sb.WriteString("\nPrevious attempts failed:\n")
		sb.WriteString(repair)
		sb.WriteString("\n")
	}

	return Request{Model: model, System: system, Prompt: sb.String(), JSON: true}
}

type modelReply struct {
	Answer     json.RawMessage `json:"answer"`
	Confidence *float64        `json:"confidence"`
}

// ParseAnswer extracts the answer and confidence from a model reply. Replies
// that are not JSON are taken verbatim with DefaultConfidence.
func ParseAnswer(content string) (string, float64) {
	content = strings.TrimSpace(content)
	stripped := strings.TrimPrefix(content, "```json")
	stripped = strings.TrimPrefix(stripped, "```")
	stripped = strings.TrimSuffix(stripped, "```")
	stripped = strings.TrimSpace(stripped)

	var reply modelReply
	if err := json.Unmarshal([]byte(stripped), &reply); err != nil || len(reply.Answer) == 0 {
		return content, DefaultConfidence
	}

	confidence := DefaultConfidence
	if reply.Confidence != nil {
		confidence = schema.ClampUnit(*reply.Confidence)
	}

	var answer string
	if err := json.Unmarshal(reply.Answer, &answer); err != nil {
		var compact bytes.Buffer
		if json.Compact(&compact, reply.Answer) == nil {
			answer = compact.String()
		} else {
			answer = string(reply.Answer)
		}
	}
	return strings.TrimSpace(answer), confidence
}

func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
