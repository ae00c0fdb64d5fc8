// Package registry holds the set of invocable tools. Readers always see an
// immutable snapshot; writers build a new snapshot and publish it atomically.
package registry

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
	"go.uber.org/zap"
)

// Entry pairs a descriptor with its implementation.
type Entry struct {
	Descriptor schema.ToolDescriptor
	Tool       tool.Tool
}

// Validate checks the entry can be registered.
func (e Entry) Validate() error {
	if e.Descriptor.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}
	if e.Tool == nil {
		return fmt.Errorf("%w: %s has no implementation", ErrInvalidEntry, e.Descriptor.ID)
	}
	if len(e.Descriptor.Tags) == 0 {
		return fmt.Errorf("%w: %s has no tags", ErrInvalidEntry, e.Descriptor.ID)
	}
	for _, tag := range e.Descriptor.Tags {
		if tag != schema.TagGeneric && !tag.Valid() {
			return fmt.Errorf("%w: %s has unknown tag %q", ErrInvalidEntry, e.Descriptor.ID, tag)
		}
	}
	return nil
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	entries map[string]Entry
	ordered []Entry // weight desc, then id
}

func emptySnapshot() *Snapshot {
	return &Snapshot{entries: map[string]Entry{}}
}

func buildSnapshot(entries map[string]Entry) *Snapshot {
	ordered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].Descriptor, ordered[j].Descriptor
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return a.ID < b.ID
	})
	return &Snapshot{entries: entries, ordered: ordered}
}

// Len returns the number of registered tools.
func (s *Snapshot) Len() int {
	return len(s.ordered)
}

// Get returns the entry for id.
func (s *Snapshot) Get(id string) (Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Descriptor = e.Descriptor.Clone()
	return e, nil
}

// Lookup yields descriptors tagged with tag, by descending weight then id.
// The sequence can be ranged over any number of times.
func (s *Snapshot) Lookup(tag schema.Category) iter.Seq[schema.ToolDescriptor] {
	return func(yield func(schema.ToolDescriptor) bool) {
		for _, e := range s.ordered {
			if !e.Descriptor.HasTag(tag) {
				continue
			}
			if !yield(e.Descriptor.Clone()) {
				return
			}
		}
	}
}

// All yields every descriptor in lookup order.
func (s *Snapshot) All() iter.Seq[schema.ToolDescriptor] {
	return func(yield func(schema.ToolDescriptor) bool) {
		for _, e := range s.ordered {
			if !yield(e.Descriptor.Clone()) {
				return
			}
		}
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	seen    map[string]struct{}
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		seen:   make(map[string]struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(emptySnapshot())
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Register adds an entry. Ids are never reused, so an id that was ever
// registered fails with ErrDuplicateID.
func (r *Registry) Register(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seen[e.Descriptor.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.Descriptor.ID)
	}

	e.Descriptor = e.Descriptor.Clone()
	e.Descriptor.Weight = schema.ClampUnit(e.Descriptor.Weight)
	r.publish(func(entries map[string]Entry) {
		entries[e.Descriptor.ID] = e
	})
	r.seen[e.Descriptor.ID] = struct{}{}

	r.logger.Debug("registered tool",
		zap.String("tool", e.Descriptor.ID),
		zap.Any("tags", e.Descriptor.Tags),
		zap.Bool("synthesized", e.Descriptor.Synthesized),
		zap.Float64("weight", e.Descriptor.Weight))
	return nil
}

// MustRegister registers an entry and panics on error.
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", e.Descriptor.ID, err))
	}
}

// Reweight sets the weight of id, clamped to [0,1].
func (r *Registry) Reweight(id string, weight float64) error {
	_, err := r.Update(id, func(float64) float64 { return weight })
	return err
}

// Update replaces the weight of id with fn applied to the current weight and
// returns the clamped result. The read and the write happen under one lock,
// so concurrent updates are never lost.
func (r *Registry) Update(id string, fn func(current float64) float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.current.Load().entries[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Descriptor = e.Descriptor.Clone()
	e.Descriptor.Weight = schema.ClampUnit(fn(e.Descriptor.Weight))
	r.publish(func(entries map[string]Entry) {
		entries[id] = e
	})
	return e.Descriptor.Weight, nil
}

// publish copies the current entries, applies mutate and swaps in the
// result. Callers hold r.mu.
func (r *Registry) publish(mutate func(map[string]Entry)) {
	prev := r.current.Load()
	next := make(map[string]Entry, len(prev.entries)+1)
	for id, e := range prev.entries {
		next[id] = e
	}
	mutate(next)
	r.current.Store(buildSnapshot(next))
}

// Get returns the entry for id or ErrNotFound.
func (r *Registry) Get(id string) (Entry, error) {
	return r.Snapshot().Get(id)
}

// Lookup yields descriptors tagged with category from the current snapshot.
func (r *Registry) Lookup(category schema.Category) iter.Seq[schema.ToolDescriptor] {
	return r.Snapshot().Lookup(category)
}

// LookupGeneric yields descriptors carrying the GENERIC tag.
func (r *Registry) LookupGeneric() iter.Seq[schema.ToolDescriptor] {
	return r.Snapshot().Lookup(schema.TagGeneric)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return r.Snapshot().Len()
}
