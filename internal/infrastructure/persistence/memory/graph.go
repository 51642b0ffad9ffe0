package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"cortex-backend/internal/domain"
	"cortex-backend/pkg/errors"
)

// GraphStore is the in-memory property graph. Merge semantics match the real
// adapter: upserts merge by key and never delete omitted properties.
type GraphStore struct {
	failer

	mu sync.RWMutex
	// containment nodes by GraphNode.Key()
	nodes map[string]*domain.GraphNode
	// parent containment edge per child key
	parents map[string]string
	// entities by project, then id
	entities map[string]map[string]*domain.Entity
	// relationships by project, then id
	relationships map[string]map[string]*domain.Relationship
	// contains_entity links: file key -> entity id set, per project
	fileEntities map[string]map[string]map[string]struct{}
}

// NewGraphStore creates an empty in-memory graph.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		failer:        newFailer(),
		nodes:         make(map[string]*domain.GraphNode),
		parents:       make(map[string]string),
		entities:      make(map[string]map[string]*domain.Entity),
		relationships: make(map[string]map[string]*domain.Relationship),
		fileEntities:  make(map[string]map[string]map[string]struct{}),
	}
}

func (s *GraphStore) UpsertEntities(ctx context.Context, projectName string, entities []domain.Entity) error {
	if err := s.checkError("UpsertEntities"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.entities[projectName]
	if bucket == nil {
		bucket = make(map[string]*domain.Entity)
		s.entities[projectName] = bucket
	}
	for i := range entities {
		s.mergeEntityLocked(bucket, projectName, &entities[i])
	}
	return nil
}

// mergeEntityLocked merges by id: populated fields overwrite, properties
// merge per key, omitted properties survive.
func (s *GraphStore) mergeEntityLocked(bucket map[string]*domain.Entity, projectName string, entity *domain.Entity) {
	existing, ok := bucket[entity.ID]
	if !ok {
		clone := *entity
		clone.ProjectName = projectName
		if entity.Properties != nil {
			clone.Properties = make(map[string]any, len(entity.Properties))
			for k, v := range entity.Properties {
				clone.Properties[k] = v
			}
		}
		bucket[entity.ID] = &clone
		return
	}

	if entity.Name != "" {
		existing.Name = entity.Name
	}
	if entity.Kind != "" {
		existing.Kind = entity.Kind
	}
	if entity.Description != "" {
		existing.Description = entity.Description
	}
	if entity.SourcePath != "" {
		existing.SourcePath = entity.SourcePath
	}
	if entity.Confidence != 0 {
		existing.Confidence = entity.Confidence
	}
	if entity.LineNumber != 0 {
		existing.LineNumber = entity.LineNumber
	}
	existing.ProjectName = projectName
	if len(entity.Properties) > 0 {
		if existing.Properties == nil {
			existing.Properties = make(map[string]any, len(entity.Properties))
		}
		for k, v := range entity.Properties {
			existing.Properties[k] = v
		}
	}
}

func (s *GraphStore) UpsertNode(ctx context.Context, node domain.GraphNode) error {
	if err := s.checkError("UpsertNode"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeNodeLocked(node)
	return nil
}

func (s *GraphStore) mergeNodeLocked(node domain.GraphNode) {
	key := node.Key()
	existing, ok := s.nodes[key]
	if !ok {
		clone := node
		if node.Properties != nil {
			clone.Properties = make(map[string]any, len(node.Properties))
			for k, v := range node.Properties {
				clone.Properties[k] = v
			}
		}
		s.nodes[key] = &clone
		return
	}
	if node.Name != "" {
		existing.Name = node.Name
	}
	if len(node.Properties) > 0 {
		if existing.Properties == nil {
			existing.Properties = make(map[string]any, len(node.Properties))
		}
		for k, v := range node.Properties {
			existing.Properties[k] = v
		}
	}
}

func (s *GraphStore) UpsertTree(ctx context.Context, projectName string, nodes []domain.GraphNode, edges []domain.ContainmentEdge) error {
	if err := s.checkError("UpsertTree"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		s.mergeNodeLocked(node)
	}
	for _, edge := range edges {
		s.parents[edge.ChildKey] = edge.ParentKey
	}
	return nil
}

func (s *GraphStore) UpsertRelationships(ctx context.Context, projectName string, relationships []domain.Relationship) error {
	if err := s.checkError("UpsertRelationships"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.relationships[projectName]
	if bucket == nil {
		bucket = make(map[string]*domain.Relationship)
		s.relationships[projectName] = bucket
	}
	entityBucket := s.entities[projectName]
	if entityBucket == nil {
		entityBucket = make(map[string]*domain.Entity)
		s.entities[projectName] = entityBucket
	}

	for i := range relationships {
		rel := relationships[i]
		// A missing endpoint becomes a placeholder node that still carries
		// the project name.
		for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
			if _, ok := entityBucket[endpoint]; !ok {
				entityBucket[endpoint] = &domain.Entity{
					ID:          endpoint,
					ProjectName: projectName,
					Properties:  map[string]any{"placeholder": true},
				}
			}
		}
		bucket[rel.ID] = &rel
	}
	return nil
}

func (s *GraphStore) LinkEntitiesToFile(ctx context.Context, projectName, sourcePath string, entityIDs []string) error {
	if err := s.checkError("LinkEntitiesToFile"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fileNode := domain.GraphNode{
		Kind:        domain.GraphNodeFile,
		ProjectName: projectName,
		Path:        sourcePath,
		Name:        baseName(sourcePath),
	}
	// The file node may not have been written yet; the link still creates it
	// with project_name set.
	s.mergeNodeLocked(fileNode)

	projectLinks := s.fileEntities[projectName]
	if projectLinks == nil {
		projectLinks = make(map[string]map[string]struct{})
		s.fileEntities[projectName] = projectLinks
	}
	links := projectLinks[fileNode.Key()]
	if links == nil {
		links = make(map[string]struct{})
		projectLinks[fileNode.Key()] = links
	}
	for _, id := range entityIDs {
		links[id] = struct{}{}
	}
	return nil
}

func (s *GraphStore) SearchEntities(ctx context.Context, projectName, query string, limit int) ([]domain.Entity, error) {
	if err := s.checkError("SearchEntities"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []domain.Entity
	for project, bucket := range s.entities {
		if projectName != "" && project != projectName {
			continue
		}
		for _, entity := range bucket {
			if strings.Contains(strings.ToLower(entity.Name), needle) ||
				strings.Contains(strings.ToLower(entity.Description), needle) {
				out = append(out, *entity)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *GraphStore) ContainmentPath(ctx context.Context, projectName, sourcePath string) ([]domain.GraphNode, error) {
	if err := s.checkError("ContainmentPath"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fileKey := (domain.GraphNode{Kind: domain.GraphNodeFile, ProjectName: projectName, Path: sourcePath}).Key()
	projectKey := (domain.GraphNode{Kind: domain.GraphNodeProject, ProjectName: projectName}).Key()

	if _, ok := s.nodes[fileKey]; !ok {
		return nil, errors.NewNotFound("file node " + sourcePath)
	}

	// Walk child -> parent, then reverse so the project comes first.
	var reversed []domain.GraphNode
	key := fileKey
	for {
		node, ok := s.nodes[key]
		if !ok {
			return nil, errors.NewNotFound("containment node " + key)
		}
		reversed = append(reversed, *node)
		if key == projectKey {
			break
		}
		parent, ok := s.parents[key]
		if !ok {
			return nil, errors.NewNotFound("containment parent of " + key)
		}
		key = parent
	}

	path := make([]domain.GraphNode, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path, nil
}

func (s *GraphStore) DropProject(ctx context.Context, projectName string) error {
	if err := s.checkError("DropProject"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, node := range s.nodes {
		if node.ProjectName == projectName {
			delete(s.nodes, key)
			delete(s.parents, key)
		}
	}
	for child, parent := range s.parents {
		if strings.Contains(child, "#"+projectName+"#") || strings.Contains(parent, "#"+projectName) {
			delete(s.parents, child)
		}
	}
	delete(s.entities, projectName)
	delete(s.relationships, projectName)
	delete(s.fileEntities, projectName)
	return nil
}

func (s *GraphStore) Ping(ctx context.Context) error {
	return s.checkError("Ping")
}

// Test inspection helpers

// Node returns a copy of the stored containment node, if present.
func (s *GraphStore) Node(key string) (domain.GraphNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[key]
	if !ok {
		return domain.GraphNode{}, false
	}
	return *node, true
}

// Entity returns a copy of the stored entity, if present.
func (s *GraphStore) Entity(projectName, id string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.entities[projectName]
	if !ok {
		return domain.Entity{}, false
	}
	entity, ok := bucket[id]
	if !ok {
		return domain.Entity{}, false
	}
	return *entity, true
}

// Relationships returns copies of a project's relationships.
func (s *GraphStore) Relationships(projectName string) []domain.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Relationship
	for _, rel := range s.relationships[projectName] {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FileEntityLinks returns the entity ids linked to a file node.
func (s *GraphStore) FileEntityLinks(projectName, sourcePath string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fileKey := (domain.GraphNode{Kind: domain.GraphNodeFile, ProjectName: projectName, Path: sourcePath}).Key()
	var out []string
	for id := range s.fileEntities[projectName][fileKey] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EntityCount reports how many entities a project holds, placeholders
// included.
func (s *GraphStore) EntityCount(projectName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[projectName])
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
