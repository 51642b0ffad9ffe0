package graphindex

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/pkg/errors"
)

// TreeReport summarizes one containment-tree ingestion.
type TreeReport struct {
	Directories  int
	Files        int
	Edges        int
	SkippedPaths []string
}

// IngestTree writes a project's containment tree: the project node, the
// ancestor directory chain of every file, the file nodes, and the containment
// edges linking each node to its deepest parent. Re-running the same request
// merges into the existing tree; nothing is deleted.
//
// The project name is validated before anything is written: a blank name
// must not leave partial nodes behind.
func (w *Writer) IngestTree(ctx context.Context, req domain.TreeIndexRequest) (*TreeReport, error) {
	projectName := strings.TrimSpace(req.ProjectName)
	if projectName == "" {
		return nil, errors.NewInvalidProject("tree index requires a non-empty project name").WithComponent(component)
	}

	projectNode := domain.GraphNode{
		Kind:        domain.GraphNodeProject,
		ProjectName: projectName,
		Name:        projectName,
	}
	if req.RootPath != "" {
		projectNode.Properties = map[string]any{"root_path": req.RootPath}
	}

	report := &TreeReport{}
	nodes := []domain.GraphNode{}
	edges := []domain.ContainmentEdge{}
	seen := map[string]bool{projectNode.Key(): true}

	for _, file := range req.Files {
		cleaned := cleanTreePath(file.Path)
		if cleaned == "" {
			report.SkippedPaths = append(report.SkippedPaths, file.Path)
			continue
		}

		fileNode := domain.GraphNode{
			Kind:        domain.GraphNodeFile,
			ProjectName: projectName,
			Path:        cleaned,
			Name:        baseName(cleaned),
		}
		if file.Language != "" {
			fileNode.Properties = map[string]any{"language": file.Language}
		}
		if seen[fileNode.Key()] {
			report.SkippedPaths = append(report.SkippedPaths, file.Path)
			continue
		}
		seen[fileNode.Key()] = true
		nodes = append(nodes, fileNode)
		report.Files++

		// Ancestor chain, leaf to root. Each hop links the child to its
		// deepest parent; the outermost directory links to the project.
		childKey := fileNode.Key()
		dir := parentDir(cleaned)
		for dir != "" {
			dirNode := domain.GraphNode{
				Kind:        domain.GraphNodeDirectory,
				ProjectName: projectName,
				Path:        dir,
				Name:        baseName(dir),
			}
			edges = append(edges, domain.ContainmentEdge{ParentKey: dirNode.Key(), ChildKey: childKey})
			if seen[dirNode.Key()] {
				// The rest of the chain is already linked.
				childKey = ""
				break
			}
			seen[dirNode.Key()] = true
			nodes = append(nodes, dirNode)
			report.Directories++
			childKey = dirNode.Key()
			dir = parentDir(dir)
		}
		if childKey != "" {
			edges = append(edges, domain.ContainmentEdge{ParentKey: projectNode.Key(), ChildKey: childKey})
		}
	}
	report.Edges = len(edges)

	if err := w.runStep(ctx, "upsert_project_node", func(stepCtx context.Context) error {
		return w.store.UpsertNode(stepCtx, projectNode)
	}); err != nil {
		return report, w.storeError(err, "project node upsert failed")
	}

	if len(nodes) > 0 {
		if err := w.runStep(ctx, "upsert_tree", func(stepCtx context.Context) error {
			return w.store.UpsertTree(stepCtx, projectName, nodes, edges)
		}); err != nil {
			return report, w.storeError(err, "containment tree upsert failed")
		}
	}

	for _, skipped := range report.SkippedPaths {
		w.logger.Warn("tree index skipped path",
			zap.String("project", projectName), zap.String("path", skipped))
	}
	w.logger.Info("containment tree merged",
		zap.String("project", projectName),
		zap.Int("files", report.Files),
		zap.Int("directories", report.Directories),
		zap.Int("edges", report.Edges))

	return report, nil
}

// cleanTreePath normalizes a wire path: forward slashes, no leading slash or
// dot segments. Returns "" for paths with no usable content.
func cleanTreePath(raw string) string {
	cleaned := path.Clean(strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}

func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func baseName(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}
