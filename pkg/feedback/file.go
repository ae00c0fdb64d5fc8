package feedback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zen-systems/toolcascade/pkg/schema"
	"go.uber.org/zap"
)

// FileStore appends records as JSON lines and serves reads from an
// in-memory index rebuilt on open.
type FileStore struct {
	mu     sync.Mutex // serializes writes to f
	f      *os.File
	index  *MemoryStore
	logger *zap.Logger
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the logger used for skipped lines.
func WithFileLogger(logger *zap.Logger) FileOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenFileStore opens or creates the JSONL log at path. Lines that fail to
// parse are skipped.
func OpenFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("feedback: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("feedback: open %s: %w", path, err)
	}

	s := &FileStore{f: f, index: NewMemoryStore(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	scanner := bufio.NewScanner(s.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec schema.FeedbackRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ToolID == "" {
			s.logger.Warn("skipping unreadable feedback line", zap.Int("line", line), zap.Error(err))
			continue
		}
		s.index.appendLocked(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("feedback: read log: %w", err)
	}
	return nil
}

// Append writes rec as one line, then indexes it.
func (s *FileStore) Append(ctx context.Context, rec schema.FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Schema == "" {
		rec.Schema = schema.SchemaFeedbackV1
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("feedback: write record: %w", err)
	}
	return s.index.Append(ctx, rec)
}

// Recent returns the newest non-canceled records for the pair.
func (s *FileStore) Recent(ctx context.Context, toolID string, category schema.Category, limit int) ([]schema.FeedbackRecord, error) {
	return s.index.Recent(ctx, toolID, category, limit)
}

// List returns every record in append order.
func (s *FileStore) List(ctx context.Context) ([]schema.FeedbackRecord, error) {
	return s.index.List(ctx)
}

// Close flushes and closes the log.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	syncErr := s.f.Sync()
	closeErr := s.f.Close()
	s.f = nil
	s.index.Close()
	return errors.Join(syncErr, closeErr)
}
