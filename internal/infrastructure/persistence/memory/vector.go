package memory

import (
	"context"
	"sort"
	"sync"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
)

// VectorStore is the in-memory dense-vector index. Similarity is the dot
// product, which matches cosine ranking for normalized vectors and is enough
// for tests.
type VectorStore struct {
	failer

	mu          sync.RWMutex
	collections map[string]int
	points      map[string]map[string]domain.VectorPoint
}

// NewVectorStore creates an empty in-memory vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{
		failer:      newFailer(),
		collections: make(map[string]int),
		points:      make(map[string]map[string]domain.VectorPoint),
	}
}

func (s *VectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if err := s.checkError("EnsureCollection"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = dimension
		s.points[collection] = make(map[string]domain.VectorPoint)
	}
	return nil
}

func (s *VectorStore) Upsert(ctx context.Context, collection string, points []domain.VectorPoint) error {
	if err := s.checkError("Upsert"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.points[collection]
	if bucket == nil {
		bucket = make(map[string]domain.VectorPoint)
		s.points[collection] = bucket
	}
	for _, point := range points {
		bucket[point.ID] = point
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, filter ports.VectorFilter, limit int) ([]ports.VectorHit, error) {
	if err := s.checkError("Search"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.points[collection]
	if !ok {
		return nil, errors.NewNotFound("collection " + collection)
	}

	var hits []ports.VectorHit
	for _, point := range bucket {
		if !matchesFilter(point.Payload, filter) {
			continue
		}
		hits = append(hits, ports.VectorHit{
			ID:      point.ID,
			Score:   dot(vector, point.Vector),
			Payload: point.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *VectorStore) Ping(ctx context.Context) error {
	return s.checkError("Ping")
}

// PointCount reports how many points a collection holds.
func (s *VectorStore) PointCount(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points[collection])
}

// Point returns a stored point by id.
func (s *VectorStore) Point(collection, id string) (domain.VectorPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	point, ok := s.points[collection][id]
	return point, ok
}

func matchesFilter(payload map[string]any, filter ports.VectorFilter) bool {
	if filter.ProjectName != "" && payload["project_name"] != filter.ProjectName {
		return false
	}
	if filter.ProjectID != "" && payload["project_id"] != filter.ProjectID {
		return false
	}
	if filter.Language != "" && payload["language"] != filter.Language {
		return false
	}
	if len(filter.EntityKinds) > 0 {
		kind, _ := payload["entity_type"].(string)
		found := false
		for _, want := range filter.EntityKinds {
			if kind == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MinQuality != nil {
		quality, ok := payload["quality_score"].(float64)
		if !ok || quality < *filter.MinQuality {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
