// Package cascade resolves tasks by escalating through tool tiers: the best
// specialized tool, further specialized tools, a generic tool and finally a
// synthesized tool. Every attempt feeds the feedback store so later cascades
// rank better.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/feedback"
	"github.com/zen-systems/toolcascade/pkg/gate"
	"github.com/zen-systems/toolcascade/pkg/ranker"
	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/router"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/synth"
	"github.com/zen-systems/toolcascade/pkg/tool"
	"go.uber.org/zap"
)

// Defaults for controller limits.
const (
	DefaultAttemptTimeout    = 5 * time.Second
	DefaultMaxAttempts       = 6
	DefaultSpecializedBudget = 2
	DefaultGenericBudget     = 1
	DefaultLearningRate      = 0.2
)

// Controller runs cascades. It holds no per-task state and is safe for
// concurrent use.
type Controller struct {
	registry   *registry.Registry
	store      feedback.Store
	classifier *router.Classifier
	validator  *gate.Validator
	synth      *synth.Engine
	logger     *zap.Logger

	attemptTimeout    time.Duration
	maxAttempts       int
	specializedBudget int
	genericBudget     int
	learningRate      float64
	window            int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClassifier replaces the default classifier.
func WithClassifier(c *router.Classifier) Option {
	return func(ctrl *Controller) {
		if c != nil {
			ctrl.classifier = c
		}
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *gate.Validator) Option {
	return func(ctrl *Controller) {
		if v != nil {
			ctrl.validator = v
		}
	}
}

// WithSynthesizer sets the synthesis engine. Without one the synthesis tier
// always fails.
func WithSynthesizer(e *synth.Engine) Option {
	return func(ctrl *Controller) {
		ctrl.synth = e
	}
}

// WithAttemptTimeout bounds each tool invocation.
func WithAttemptTimeout(d time.Duration) Option {
	return func(ctrl *Controller) {
		if d > 0 {
			ctrl.attemptTimeout = d
		}
	}
}

// WithMaxAttempts caps the attempts of one cascade.
func WithMaxAttempts(n int) Option {
	return func(ctrl *Controller) {
		if n > 0 {
			ctrl.maxAttempts = n
		}
	}
}

// WithBudgets sets the specialized and generic fallback budgets.
func WithBudgets(specialized, generic int) Option {
	return func(ctrl *Controller) {
		if specialized >= 0 {
			ctrl.specializedBudget = specialized
		}
		if generic >= 0 {
			ctrl.genericBudget = generic
		}
	}
}

// WithLearningRate sets the registry weight update rate.
func WithLearningRate(lr float64) Option {
	return func(ctrl *Controller) {
		if lr > 0 && lr <= 1 {
			ctrl.learningRate = lr
		}
	}
}

// WithWindow sets the feedback window used for ranking.
func WithWindow(n int) Option {
	return func(ctrl *Controller) {
		if n > 0 {
			ctrl.window = n
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ctrl *Controller) {
		if logger != nil {
			ctrl.logger = logger
		}
	}
}

// WithConfig applies the limits from a cascade config.
func WithConfig(cfg *config.CascadeConfig) Option {
	return func(ctrl *Controller) {
		if cfg == nil {
			return
		}
		WithAttemptTimeout(time.Duration(cfg.AttemptTimeoutMs) * time.Millisecond)(ctrl)
		WithMaxAttempts(cfg.MaxAttempts)(ctrl)
		WithBudgets(cfg.SpecializedBudget, cfg.GenericBudget)(ctrl)
		WithLearningRate(cfg.Feedback.LearningRate)(ctrl)
		WithWindow(cfg.Feedback.Window)(ctrl)
	}
}

// New creates a controller over a registry and feedback store. A nil store
// keeps feedback in memory.
func New(reg *registry.Registry, store feedback.Store, opts ...Option) *Controller {
	if store == nil {
		store = feedback.NewMemoryStore()
	}
	c := &Controller{
		registry:          reg,
		store:             store,
		classifier:        router.NewClassifier(nil),
		validator:         gate.NewValidator(),
		logger:            zap.NewNop(),
		attemptTimeout:    DefaultAttemptTimeout,
		maxAttempts:       DefaultMaxAttempts,
		specializedBudget: DefaultSpecializedBudget,
		genericBudget:     DefaultGenericBudget,
		learningRate:      DefaultLearningRate,
		window:            ranker.DefaultWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify exposes the classification a cascade for task would use.
func (c *Controller) Classify(task schema.Task) schema.Classification {
	return c.classifier.Classify(task, nil)
}

// Resolve runs one cascade. The error is non-nil only for an invalid task or
// a context that is done before the first attempt; every other outcome is
// reported in the result.
func (c *Controller) Resolve(ctx context.Context, task schema.Task) (*schema.CascadeResult, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("cascade: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &run{
		c:       c,
		task:    task,
		class:   c.classifier.Classify(task, nil),
		m:       newMachine(),
		tried:   make(map[string]bool),
		started: time.Now(),
		logger:  c.logger.With(zap.String("task", task.ID)),
	}
	r.rank(ctx)
	r.fire(EventStart)

	for !r.m.state.Terminal() {
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			break
		}
		switch r.m.state {
		case StatePrimary:
			r.runTier(ctx, ranker.Exact(r.cands), 1)
		case StateSpecializedFallback:
			r.runTier(ctx, ranker.Exact(r.cands), c.specializedBudget)
		case StateGenericFallback:
			r.runTier(ctx, ranker.Generic(r.cands), c.genericBudget)
		case StateSynthesizing:
			r.runSynthesis(ctx)
		default:
			r.fail(fmt.Errorf("cascade: unexpected state %s", r.m.state))
		}
	}

	result := r.result()
	c.refreshWeights(result)

	r.logger.Info("cascade finished",
		zap.String("status", string(result.Status)),
		zap.String("category", string(result.Classification.Category)),
		zap.Int("attempts", len(result.Attempts)),
		zap.Stringer("final_tier", result.FinalTier()),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// refreshWeights nudges the registry weight of every tool that completed an
// attempt toward its outcome in this cascade.
func (c *Controller) refreshWeights(result *schema.CascadeResult) {
	outcome := make(map[string]bool)
	var order []string
	for _, a := range result.Attempts {
		if a.Failure == schema.FailureCanceled {
			continue
		}
		if _, seen := outcome[a.ToolID]; !seen {
			order = append(order, a.ToolID)
		}
		outcome[a.ToolID] = outcome[a.ToolID] || a.Accepted
	}
	for _, id := range order {
		if id == "" {
			continue
		}
		succeeded := outcome[id]
		_, err := c.registry.Update(id, func(w float64) float64 {
			return ranker.NextWeight(w, succeeded, c.learningRate)
		})
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			c.logger.Warn("reweight failed", zap.String("tool", id), zap.Error(err))
		}
	}
}

// run is the state of one cascade.
type run struct {
	c       *Controller
	task    schema.Task
	class   schema.Classification
	cands   []ranker.Candidate
	m       *machine
	tried   map[string]bool
	started time.Time
	logger  *zap.Logger

	attempts    []schema.Attempt
	output      string
	synthesized string
	err         error
}

func (r *run) rank(ctx context.Context) {
	rk := ranker.New(r.c.registry, r.c.store, ranker.WithWindow(r.c.window), ranker.WithLogger(r.c.logger))
	cands, err := rk.Rank(ctx, r.class)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("ranking without feedback history", zap.Error(err))
		cands, _ = ranker.New(r.c.registry, feedback.NewMemoryStore()).Rank(ctx, r.class)
	}
	r.cands = cands
}

func (r *run) fire(ev Event) {
	from := r.m.state
	to, err := r.m.fire(ev)
	if err != nil {
		r.logger.Error("invalid cascade transition", zap.Error(err))
		r.m.state = StateFailed
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.logger.Debug("cascade transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (r *run) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.m.state = StateFailed
}

func (r *run) cancel(err error) {
	if r.err == nil {
		r.err = err
	}
	r.fire(EventCanceled)
}

// capReached fails the cascade when no attempt is left.
func (r *run) capReached() bool {
	if len(r.attempts) < r.c.maxAttempts {
		return false
	}
	if r.err == nil {
		r.err = fmt.Errorf("%w: attempt cap %d reached", ErrCascadeExhausted, r.c.maxAttempts)
	}
	r.fire(EventExhausted)
	return true
}

// runTier tries untried candidates in rank order while the tier is current
// and budget remains.
func (r *run) runTier(ctx context.Context, cands []ranker.Candidate, budget int) {
	tier := r.m.state
	used := 0
	for _, cand := range cands {
		if used >= budget || r.m.state != tier {
			break
		}
		if r.tried[cand.Descriptor.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			return
		}
		if r.capReached() {
			return
		}
		entry, err := r.c.registry.Get(cand.Descriptor.ID)
		if err != nil {
			r.logger.Warn("candidate disappeared", zap.String("tool", cand.Descriptor.ID), zap.Error(err))
			continue
		}
		r.tried[entry.Descriptor.ID] = true
		used++
		r.attempt(ctx, entry)
	}
	if r.m.state == tier {
		r.fire(EventTierFailed)
	}
}

func (r *run) runSynthesis(ctx context.Context) {
	if r.c.synth == nil {
		r.fire(EventTierFailed)
		return
	}
	if r.capReached() {
		return
	}

	started := time.Now().UTC()
	entry, err := r.c.synth.Synthesize(ctx, r.class, r.task, r.attempts)
	if err == nil {
		err = r.c.registry.Register(entry)
		if err != nil {
			err = fmt.Errorf("%w: %v", synth.ErrSynthesisInvalid, err)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			return
		}
		// No tool exists to invoke, so the attempt carries no tool id and
		// is kept out of the feedback store.
		r.attempts = append(r.attempts, schema.Attempt{
			Tier:      schema.TierSynthesized,
			StartedAt: started,
			Duration:  time.Since(started),
			Failure:   schema.FailureToolError,
			Error:     err.Error(),
		})
		r.fail(err)
		return
	}

	r.synthesized = entry.Descriptor.ID
	r.tried[entry.Descriptor.ID] = true
	r.attempt(ctx, entry)
	if r.m.state == StateSynthesizing {
		r.fire(EventTierFailed)
	}
}

type invocation struct {
	out tool.Output
	err error
}

// attempt invokes one tool, judges the outcome, records feedback and fires
// the resulting events.
func (r *run) attempt(ctx context.Context, entry registry.Entry) {
	tier := r.m.state.Tier()
	a := schema.Attempt{
		ToolID:    entry.Descriptor.ID,
		Tier:      tier,
		StartedAt: time.Now().UTC(),
	}

	params := entry.Descriptor.Parameters
	if entry.Descriptor.Synthesized {
		params = tool.MergeParams(params, synth.InvocationParams(r.class, r.task, r.attempts))
	}
	out, err := r.c.invoke(ctx, entry, r.task, params)
	a.Duration = time.Since(a.StartedAt)

	switch {
	case ctx.Err() != nil:
		a.Failure = schema.FailureCanceled
		a.Error = ctx.Err().Error()
	case err != nil:
		a.Failure = tool.FailureKind(err)
		a.Error = err.Error()
	default:
		a.Output = strings.TrimSpace(out.Content)
		a.Confidence = schema.ClampUnit(out.Confidence)
		if a.Confidence < r.c.validator.Threshold() {
			a.Failure = schema.FailureLowConfidence
		}
	}

	if a.Failure == schema.FailureNone {
		r.fire(EventCandidate)
		verdict := r.c.validator.Validate(ctx, r.class, r.task, a.Output, a.Confidence)
		a.Violations = verdict.Messages()
		if verdict.Accepted {
			a.Accepted = true
			r.output = a.Output
		} else {
			a.Failure = schema.FailureRejected
			a.Confidence = verdict.Confidence
		}
	}

	r.attempts = append(r.attempts, a)
	r.record(ctx, a)

	r.logger.Debug("attempt finished",
		zap.String("tool", a.ToolID),
		zap.Stringer("tier", a.Tier),
		zap.Float64("confidence", a.Confidence),
		zap.Bool("accepted", a.Accepted),
		zap.String("failure", string(a.Failure)),
		zap.Duration("duration", a.Duration))

	switch {
	case a.Failure == schema.FailureCanceled:
		r.cancel(ctx.Err())
	case a.Accepted:
		r.fire(EventAccepted)
	case a.Failure == schema.FailureRejected:
		r.fire(EventRejected)
	}
}

// record appends the attempt outcome to the feedback store, even when ctx is
// canceled. Store failures are logged and never fail the cascade.
func (r *run) record(ctx context.Context, a schema.Attempt) {
	rec := schema.NewFeedbackRecord(r.task.ID, r.class.Category, a)
	if err := r.c.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("feedback append failed", zap.String("tool", a.ToolID), zap.Error(err))
	}
}

func (r *run) result() *schema.CascadeResult {
	res := &schema.CascadeResult{
		TaskID:          r.task.ID,
		Classification:  r.class,
		Attempts:        r.attempts,
		SynthesizedTool: r.synthesized,
		Duration:        time.Since(r.started),
	}
	if r.attempts == nil {
		res.Attempts = []schema.Attempt{}
	}
	if r.m.state == StateSucceeded {
		res.Status = schema.StatusSucceeded
		res.Output = r.output
		return res
	}
	res.Status = schema.StatusFailed
	if r.err == nil {
		r.err = fmt.Errorf("%w: no tier produced an accepted answer", ErrCascadeExhausted)
	}
	res.Err = r.err
	res.Reason = r.err.Error()
	return res
}

// invoke runs the tool in its own goroutine bounded by the attempt timeout.
// The controller never waits past the bound; a late result is dropped.
func (c *Controller) invoke(ctx context.Context, entry registry.Entry, task schema.Task, params map[string]string) (tool.Output, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: tool.Errorf("tool %s panicked: %v", entry.Descriptor.ID, p)}
			}
		}()
		out, err := entry.Tool.Invoke(attemptCtx, task, params)
		done <- invocation{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return tool.Output{}, fmt.Errorf("%w: %v", tool.ErrTimeout, res.err)
		}
		return res.out, res.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return tool.Output{}, err
		}
		return tool.Output{}, fmt.Errorf("%w after %s", tool.ErrTimeout, c.attemptTimeout)
	}
}
