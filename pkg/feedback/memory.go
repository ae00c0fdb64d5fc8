package feedback

import (
	"context"
	"sync"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []schema.FeedbackRecord
	byKey   map[key][]int // indexes of non-canceled records
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[key][]int)}
}

// Append records one outcome.
func (m *MemoryStore) Append(ctx context.Context, rec schema.FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.appendLocked(rec)
	return nil
}

func (m *MemoryStore) appendLocked(rec schema.FeedbackRecord) {
	if rec.Schema == "" {
		rec.Schema = schema.SchemaFeedbackV1
	}
	m.records = append(m.records, rec)
	if !rec.Canceled {
		k := key{tool: rec.ToolID, category: rec.Category}
		m.byKey[k] = append(m.byKey[k], len(m.records)-1)
	}
}

// Recent returns the newest non-canceled records for the pair, oldest first.
func (m *MemoryStore) Recent(ctx context.Context, toolID string, category schema.Category, limit int) ([]schema.FeedbackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	idx := m.byKey[key{tool: toolID, category: category}]
	if limit > 0 && len(idx) > limit {
		idx = idx[len(idx)-limit:]
	}
	out := make([]schema.FeedbackRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.records[i])
	}
	return out, nil
}

// List returns every record in append order.
func (m *MemoryStore) List(ctx context.Context) ([]schema.FeedbackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]schema.FeedbackRecord(nil), m.records...), nil
}

// Len returns the number of records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
