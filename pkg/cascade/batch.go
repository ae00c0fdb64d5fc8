package cascade

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zen-systems/toolcascade/pkg/schema"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ResolveAll resolves tasks concurrently, at most workers at a time. Results
// are in task order. A task that could not start has a nil result and its
// error is returned once every other task has finished.
func (c *Controller) ResolveAll(ctx context.Context, tasks []schema.Task, workers int) ([]*schema.CascadeResult, error) {
	results := make([]*schema.CascadeResult, len(tasks))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, task := range tasks {
		g.Go(func() error {
			res, err := c.Resolve(ctx, task)
			if err != nil {
				return fmt.Errorf("task %s: %w", task.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// Summary aggregates a batch of cascade results.
type Summary struct {
	Total        int                     `json:"total"`
	Succeeded    int                     `json:"succeeded"`
	Failed       int                     `json:"failed"`
	SuccessRate  float64                 `json:"success_rate"`
	FallbackUsed int                     `json:"fallback_used"`
	Synthesized  int                     `json:"synthesized"`
	Attempts     int                     `json:"attempts"`
	ByTier       map[string]int          `json:"by_tier"`
	ByCategory   map[schema.Category]int `json:"by_category"`
	Duration     time.Duration           `json:"duration"`
}

// MeanAttempts returns attempts per cascade.
func (s Summary) MeanAttempts() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Attempts) / float64(s.Total)
}

// Summarize counts outcomes. ByTier counts successful cascades by the tier
// that answered. Nil results are skipped.
func Summarize(results []*schema.CascadeResult) Summary {
	s := Summary{
		ByTier:     make(map[string]int),
		ByCategory: make(map[schema.Category]int),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		s.Attempts += len(r.Attempts)
		s.Duration += r.Duration
		s.ByCategory[r.Classification.Category]++
		if r.SynthesizedTool != "" {
			s.Synthesized++
		}
		if r.Status != schema.StatusSucceeded {
			s.Failed++
			continue
		}
		s.Succeeded++
		tier := r.FinalTier()
		s.ByTier[tier.String()]++
		if tier > schema.TierPrimary {
			s.FallbackUsed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total)
	}
	return s
}

// TaskFile is the YAML batch format.
type TaskFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec declares one task in a batch file.
type TaskSpec struct {
	ID             string               `yaml:"id,omitempty"`
	Goal           string               `yaml:"goal"`
	CategoryHint   string               `yaml:"category_hint,omitempty"`
	ExpectedFormat string               `yaml:"expected_format,omitempty"`
	Prior          *schema.PriorFailure `yaml:"prior,omitempty"`
}

// Task converts the spec into a validated task.
func (s TaskSpec) Task() (schema.Task, error) {
	opts := []schema.TaskOption{schema.WithTaskID(s.ID)}
	if s.CategoryHint != "" {
		c, err := schema.ParseCategory(s.CategoryHint)
		if err != nil {
			return schema.Task{}, err
		}
		opts = append(opts, schema.WithCategoryHint(c))
	}
	if s.ExpectedFormat != "" {
		opts = append(opts, schema.WithExpectedFormat(s.ExpectedFormat))
	}
	if s.Prior != nil {
		opts = append(opts, schema.WithPriorFailure(*s.Prior))
	}
	task := schema.NewTask(s.Goal, opts...)
	return task, task.Validate()
}

// LoadTasks reads a batch file.
func LoadTasks(path string) ([]schema.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTasks(data)
}

// ParseTasks decodes a batch file and validates every task.
func ParseTasks(data []byte) ([]schema.Task, error) {
	var file TaskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("task file must define at least one task")
	}

	seen := make(map[string]struct{}, len(file.Tasks))
	tasks := make([]schema.Task, 0, len(file.Tasks))
	for i, spec := range file.Tasks {
		task, err := spec.Task()
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if _, dup := seen[task.ID]; dup {
			return nil, fmt.Errorf("tasks[%d]: duplicate id %s", i, task.ID)
		}
		seen[task.ID] = struct{}{}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
