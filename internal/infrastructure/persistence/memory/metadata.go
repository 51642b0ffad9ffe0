package memory

import (
	"context"
	"sort"
	"sync"

	"cortex-backend/internal/domain"
	"cortex-backend/pkg/errors"
)

// MetadataStore is the in-memory document catalog.
type MetadataStore struct {
	failer

	mu   sync.RWMutex
	rows map[string]domain.DocumentRecord
}

// NewMetadataStore creates an empty in-memory catalog.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		failer: newFailer(),
		rows:   make(map[string]domain.DocumentRecord),
	}
}

func catalogKey(projectName, sourcePath string) string {
	return projectName + "\x00" + sourcePath
}

func (s *MetadataStore) UpsertDocument(ctx context.Context, record domain.DocumentRecord) error {
	if err := s.checkError("UpsertDocument"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[catalogKey(record.ProjectName, record.SourcePath)] = record
	return nil
}

func (s *MetadataStore) GetDocument(ctx context.Context, projectName, sourcePath string) (*domain.DocumentRecord, error) {
	if err := s.checkError("GetDocument"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.rows[catalogKey(projectName, sourcePath)]
	if !ok {
		return nil, errors.NewNotFound("document " + sourcePath)
	}
	return &record, nil
}

func (s *MetadataStore) ListDocuments(ctx context.Context, projectName string, limit, offset int) ([]domain.DocumentRecord, error) {
	if err := s.checkError("ListDocuments"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DocumentRecord
	for _, record := range s.rows {
		if record.ProjectName == projectName {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourcePath < out[j].SourcePath })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MetadataStore) DeleteProject(ctx context.Context, projectName string) error {
	if err := s.checkError("DeleteProject"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.rows {
		if record.ProjectName == projectName {
			delete(s.rows, key)
		}
	}
	return nil
}

func (s *MetadataStore) Ping(ctx context.Context) error {
	return s.checkError("Ping")
}
