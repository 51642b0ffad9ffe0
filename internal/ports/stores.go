// Package ports defines the contracts between the services and their
// backends. Services depend on these interfaces only; the adapters under
// internal/infrastructure implement them.
package ports

import (
	"context"

	"cortex-backend/internal/domain"
)

// GraphStore is the property-graph backend. All upserts are merges by key:
// existing properties not named by the write survive it.
type GraphStore interface {
	// UpsertEntities merges entity nodes by their stable identifiers.
	UpsertEntities(ctx context.Context, projectName string, entities []domain.Entity) error

	// UpsertNode merges one containment node by its key.
	UpsertNode(ctx context.Context, node domain.GraphNode) error

	// UpsertTree merges a batch of containment nodes and their edges in one
	// transaction. Nodes are written before edges.
	UpsertTree(ctx context.Context, projectName string, nodes []domain.GraphNode, edges []domain.ContainmentEdge) error

	// UpsertRelationships merges entity relationships. A missing endpoint is
	// created as a minimal placeholder node that carries projectName.
	UpsertRelationships(ctx context.Context, projectName string, relationships []domain.Relationship) error

	// LinkEntitiesToFile writes contains_entity edges from the file node for
	// sourcePath to each entity.
	LinkEntitiesToFile(ctx context.Context, projectName, sourcePath string, entityIDs []string) error

	// SearchEntities finds entities whose name or description contains the
	// query substring, scoped to a project when projectName is non-empty.
	SearchEntities(ctx context.Context, projectName, query string, limit int) ([]domain.Entity, error)

	// ContainmentPath returns the node chain from the project node to the
	// file node for sourcePath, following only containment edges.
	ContainmentPath(ctx context.Context, projectName, sourcePath string) ([]domain.GraphNode, error)

	// DropProject removes every node and edge belonging to the project. The
	// only legal node-removal path.
	DropProject(ctx context.Context, projectName string) error

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error
}

// VectorFilter narrows a vector search using native store filters. Zero
// values mean "no constraint".
type VectorFilter struct {
	ProjectName string
	ProjectID   string
	Language    string
	EntityKinds []string
	MinQuality  *float64
}

// VectorHit is one scored point returned by a vector search.
type VectorHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// VectorStore is the dense-vector backend.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes points by id; re-writing an id overwrites its payload.
	Upsert(ctx context.Context, collection string, points []domain.VectorPoint) error

	// Search returns the closest points to vector, post-filtered natively.
	Search(ctx context.Context, collection string, vector []float32, filter VectorFilter, limit int) ([]VectorHit, error)

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error
}

// MetadataStore is the relational document catalog.
type MetadataStore interface {
	// UpsertDocument writes the receipt row for (project, source_path).
	UpsertDocument(ctx context.Context, record domain.DocumentRecord) error

	// GetDocument fetches one catalog row, errors.KindNotFound on miss.
	GetDocument(ctx context.Context, projectName, sourcePath string) (*domain.DocumentRecord, error)

	// ListDocuments pages through a project's catalog rows.
	ListDocuments(ctx context.Context, projectName string, limit, offset int) ([]domain.DocumentRecord, error)

	// DeleteProject removes every catalog row for the project. Paired with
	// GraphStore.DropProject by the project-drop operation.
	DeleteProject(ctx context.Context, projectName string) error

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error
}

// FingerprintIndex is the seen-hash index behind the stamper.
type FingerprintIndex interface {
	// MarkSeen records the digest and reports whether it was already
	// present. The check and the write are one atomic operation.
	MarkSeen(ctx context.Context, digest string) (alreadySeen bool, err error)

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error
}
