// Package qdrant implements the dense-vector store on Qdrant over gRPC.
// Point payloads are flat maps; filters compile to native Qdrant match and
// range conditions so narrowing happens server-side.
package qdrant

import (
	"context"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "vector_store"

// VectorStore is the Qdrant adapter for ports.VectorStore.
type VectorStore struct {
	client  *qdrant.Client
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.VectorStore = (*VectorStore)(nil)

// NewClient dials the Qdrant gRPC endpoint.
func NewClient(cfg config.Vector) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.NewVectorStoreUnavailable("failed to create qdrant client", err).WithComponent(component)
	}
	return client, nil
}

// NewVectorStore wires the adapter onto an existing client. A zero timeout
// leaves per-call deadlines to the caller.
func NewVectorStore(client *qdrant.Client, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector) *VectorStore {
	return &VectorStore{
		client:  client,
		timeout: timeout,
		logger:  logger.Named(component),
		metrics: metrics,
	}
}

func (s *VectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	began := time.Now()
	exists, err := s.client.CollectionExists(ctx, collection)
	s.metrics.ObserveStore("qdrant", "collection_exists", time.Since(began), err)
	if err != nil {
		return errors.NewVectorStoreUnavailable("collection check failed", err).WithComponent(component)
	}
	if exists {
		return nil
	}

	began = time.Now()
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	s.metrics.ObserveStore("qdrant", "create_collection", time.Since(began), err)
	if err != nil {
		return errors.NewVectorStoreUnavailable("collection create failed", err).WithComponent(component)
	}
	s.logger.Info("collection created",
		zap.String("collection", collection),
		zap.Int("dimension", dimension))
	return nil
}

func (s *VectorStore) Upsert(ctx context.Context, collection string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(point.Payload),
		})
	}

	began := time.Now()
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	s.metrics.ObserveStore("qdrant", "upsert", time.Since(began), err)
	if err != nil {
		return errors.NewVectorStoreUnavailable("point upsert failed", err).
			WithComponent(component).
			WithDetail("points", len(points))
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, filter ports.VectorFilter, limit int) ([]ports.VectorHit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	began := time.Now()
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	s.metrics.ObserveStore("qdrant", "query", time.Since(began), err)
	if err != nil {
		return nil, errors.NewVectorStoreUnavailable("vector query failed", err).WithComponent(component)
	}

	hits := make([]ports.VectorHit, 0, len(scored))
	for _, point := range scored {
		hits = append(hits, ports.VectorHit{
			ID:      pointID(point.Id),
			Score:   float64(point.Score),
			Payload: payloadMap(point.Payload),
		})
	}
	return hits, nil
}

func (s *VectorStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return errors.NewVectorStoreUnavailable("health check failed", err).WithComponent(component)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *VectorStore) Close() error {
	return s.client.Close()
}

func (s *VectorStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// buildFilter compiles the portable filter to Qdrant must-conditions. A
// filter with no constraints compiles to nil so the query stays unfiltered.
func buildFilter(filter ports.VectorFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.ProjectName != "" {
		must = append(must, qdrant.NewMatch("project_name", filter.ProjectName))
	}
	if filter.ProjectID != "" {
		must = append(must, qdrant.NewMatch("project_id", filter.ProjectID))
	}
	if filter.Language != "" {
		must = append(must, qdrant.NewMatch("language", filter.Language))
	}
	if len(filter.EntityKinds) > 0 {
		must = append(must, qdrant.NewMatchKeywords("entity_type", filter.EntityKinds...))
	}
	if filter.MinQuality != nil {
		must = append(must, qdrant.NewRange("quality_score", &qdrant.Range{
			Gte: filter.MinQuality,
		}))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = anyFromValue(value)
	}
	return out
}

func anyFromValue(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, anyFromValue(item))
		}
		return list
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		nested := make(map[string]any, len(fields))
		for name, field := range fields {
			nested[name] = anyFromValue(field)
		}
		return nested
	default:
		return nil
	}
}
