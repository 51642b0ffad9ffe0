package memory

import (
	"context"
	"sync"
)

// FingerprintIndex is the in-memory seen-hash index.
type FingerprintIndex struct {
	failer

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewFingerprintIndex creates an empty seen-hash index.
func NewFingerprintIndex() *FingerprintIndex {
	return &FingerprintIndex{
		failer: newFailer(),
		seen:   make(map[string]struct{}),
	}
}

func (s *FingerprintIndex) MarkSeen(ctx context.Context, digest string) (bool, error) {
	if err := s.checkError("MarkSeen"); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[digest]; ok {
		return true, nil
	}
	s.seen[digest] = struct{}{}
	return false, nil
}

func (s *FingerprintIndex) Ping(ctx context.Context) error {
	return s.checkError("Ping")
}
