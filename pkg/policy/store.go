package policy

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Store serves immutable policy snapshots. Reload swaps atomically so
// in-flight scans keep the snapshot they started with.
type Store struct {
	path    string
	current atomic.Pointer[TagPolicy]
	logger  *slog.Logger
}

// NewStore loads the policy from path. A malformed policy is fatal: the
// caller must not start the service.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	p, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	logger.Info("tag policy loaded",
		"path", path,
		"version", p.Version,
		"required_tags", len(p.RequiredTags))
	return s, nil
}

// NewStaticStore wraps an already-validated policy, mainly for tests.
func NewStaticStore(p *TagPolicy) *Store {
	s := &Store{logger: slog.Default()}
	s.current.Store(p)
	return s
}

// Current returns the live snapshot. Callers hold it for the duration of a
// scan; it is never mutated.
func (s *Store) Current() *TagPolicy {
	return s.current.Load()
}

// Version is a convenience accessor used by cache-key derivation.
func (s *Store) Version() string {
	return s.current.Load().Version
}

// Reload re-reads the policy file and swaps the snapshot. On failure the
// previous snapshot stays live and the error is returned.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("policy store has no backing file")
	}
	p, err := loadFile(s.path)
	if err != nil {
		s.logger.Error("policy reload rejected, keeping prior snapshot", "error", err)
		return err
	}
	s.current.Store(p)
	s.logger.Info("tag policy reloaded", "version", p.Version)
	return nil
}

func loadFile(path string) (*TagPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Field: "path", Reason: err.Error()}
	}
	return Parse(data)
}
