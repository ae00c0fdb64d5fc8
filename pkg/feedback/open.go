package feedback

import (
	"fmt"

	"github.com/zen-systems/toolcascade/pkg/config"
	"go.uber.org/zap"
)

// Open builds the store selected by cfg.
func Open(cfg config.FeedbackConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile:
		return OpenFileStore(cfg.Path, WithFileLogger(logger))
	case config.BackendSQLite:
		return OpenSQLiteStore(cfg.Path)
	}
	return nil, fmt.Errorf("feedback: unknown backend %q", cfg.Backend)
}
