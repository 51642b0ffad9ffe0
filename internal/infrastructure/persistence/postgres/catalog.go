// Package postgres implements the relational document catalog. One row per
// (project, source_path); re-indexing the same document upserts its row.
package postgres

import (
	"context"
	"embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "metadata_store"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPool opens and verifies the connection pool.
func NewPool(ctx context.Context, cfg config.Catalog) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.NewInternal("invalid catalog DSN", err).WithComponent(component)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.NewInternal("catalog pool creation failed", err).WithComponent(component)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewInternal("catalog unreachable", err).WithComponent(component)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.NewInternal("goose dialect", err).WithComponent(component)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return errors.NewInternal("catalog migration failed", err).WithComponent(component)
	}
	return nil
}

// MetadataStore is the Postgres adapter for ports.MetadataStore.
type MetadataStore struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.MetadataStore = (*MetadataStore)(nil)

// NewMetadataStore wires the adapter onto an existing pool.
func NewMetadataStore(pool *pgxpool.Pool, logger *zap.Logger, metrics *observability.Collector) *MetadataStore {
	return &MetadataStore{
		pool:    pool,
		logger:  logger.Named(component),
		metrics: metrics,
	}
}

func (s *MetadataStore) UpsertDocument(ctx context.Context, record domain.DocumentRecord) error {
	const query = `
		INSERT INTO documents (
			project_name, source_path, content_hash, language,
			entity_count, relationship_count, chunk_count,
			quality_score, processing_time_ms, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_name, source_path) DO UPDATE SET
			content_hash       = EXCLUDED.content_hash,
			language           = EXCLUDED.language,
			entity_count       = EXCLUDED.entity_count,
			relationship_count = EXCLUDED.relationship_count,
			chunk_count        = EXCLUDED.chunk_count,
			quality_score      = EXCLUDED.quality_score,
			processing_time_ms = EXCLUDED.processing_time_ms,
			indexed_at         = EXCLUDED.indexed_at`

	began := time.Now()
	_, err := s.pool.Exec(ctx, query,
		record.ProjectName, record.SourcePath, record.ContentHash, record.Language,
		record.EntityCount, record.RelationshipCount, record.ChunkCount,
		record.QualityScore, record.ProcessingTimeMS, record.IndexedAt)
	s.metrics.ObserveStore("postgres", "upsert_document", time.Since(began), err)
	if err != nil {
		return errors.NewInternal("document upsert failed", err).WithComponent(component)
	}
	return nil
}

func (s *MetadataStore) GetDocument(ctx context.Context, projectName, sourcePath string) (*domain.DocumentRecord, error) {
	const query = `
		SELECT project_name, source_path, content_hash, language,
		       entity_count, relationship_count, chunk_count,
		       quality_score, processing_time_ms, indexed_at
		FROM documents
		WHERE project_name = $1 AND source_path = $2`

	began := time.Now()
	record, err := scanDocument(s.pool.QueryRow(ctx, query, projectName, sourcePath))
	s.metrics.ObserveStore("postgres", "get_document", time.Since(began), err)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFound("document " + projectName + "/" + sourcePath).WithComponent(component)
		}
		return nil, errors.NewInternal("document fetch failed", err).WithComponent(component)
	}
	return record, nil
}

func (s *MetadataStore) ListDocuments(ctx context.Context, projectName string, limit, offset int) ([]domain.DocumentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	const query = `
		SELECT project_name, source_path, content_hash, language,
		       entity_count, relationship_count, chunk_count,
		       quality_score, processing_time_ms, indexed_at
		FROM documents
		WHERE project_name = $1
		ORDER BY source_path
		LIMIT $2 OFFSET $3`

	began := time.Now()
	rows, err := s.pool.Query(ctx, query, projectName, limit, offset)
	s.metrics.ObserveStore("postgres", "list_documents", time.Since(began), err)
	if err != nil {
		return nil, errors.NewInternal("document list failed", err).WithComponent(component)
	}
	defer rows.Close()

	var records []domain.DocumentRecord
	for rows.Next() {
		record, err := scanDocument(rows)
		if err != nil {
			return nil, errors.NewInternal("document scan failed", err).WithComponent(component)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal("document list failed", err).WithComponent(component)
	}
	return records, nil
}

func (s *MetadataStore) DeleteProject(ctx context.Context, projectName string) error {
	began := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE project_name = $1`, projectName)
	s.metrics.ObserveStore("postgres", "delete_project", time.Since(began), err)
	if err != nil {
		return errors.NewInternal("project delete failed", err).WithComponent(component)
	}
	s.logger.Info("catalog project deleted",
		zap.String("project", projectName),
		zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func (s *MetadataStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.NewInternal("catalog ping failed", err).WithComponent(component)
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.DocumentRecord, error) {
	var record domain.DocumentRecord
	err := row.Scan(
		&record.ProjectName, &record.SourcePath, &record.ContentHash, &record.Language,
		&record.EntityCount, &record.RelationshipCount, &record.ChunkCount,
		&record.QualityScore, &record.ProcessingTimeMS, &record.IndexedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
