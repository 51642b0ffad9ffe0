package graphindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/persistence/memory"
	"cortex-backend/pkg/errors"
)

func treeRequest(projectName string, paths ...string) domain.TreeIndexRequest {
	files := make([]domain.FileRecord, len(paths))
	for i, p := range paths {
		files[i] = domain.FileRecord{Path: p, Language: "python"}
	}
	return domain.TreeIndexRequest{
		ProjectName:   projectName,
		RootPath:      "/repo",
		Files:         files,
		CorrelationID: "tree-1",
	}
}

func TestIngestTree_BlankProjectWritesNothing(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := writer.IngestTree(context.Background(), treeRequest(name, "a/b.py"))
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidProject, errors.KindOf(err))
	}

	assert.Zero(t, store.Calls("UpsertNode"), "validation must run before any write")
	assert.Zero(t, store.Calls("UpsertTree"))
}

func TestIngestTree_BuildsContainmentChain(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	report, err := writer.IngestTree(context.Background(), treeRequest("acme", "svc/api/auth.py"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 2, report.Directories)
	assert.Equal(t, 3, report.Edges, "file->svc/api, svc/api->svc, svc->project")

	chain, err := store.ContainmentPath(context.Background(), "acme", "svc/api/auth.py")
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, domain.GraphNodeProject, chain[0].Kind)
	assert.Equal(t, "acme", chain[0].Name)
	assert.Equal(t, "svc", chain[1].Path)
	assert.Equal(t, "svc/api", chain[2].Path)
	assert.Equal(t, "svc/api/auth.py", chain[3].Path)

	for _, node := range chain {
		assert.Equal(t, "acme", node.ProjectName, "every containment node carries the project name")
	}
}

func TestIngestTree_SharedDirectoriesMergeOnce(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	report, err := writer.IngestTree(context.Background(),
		treeRequest("acme", "svc/a.py", "svc/b.py", "svc/inner/c.py", "README.md"))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Files)
	assert.Equal(t, 2, report.Directories, "svc and svc/inner, deduplicated")

	for _, p := range []string{"svc/a.py", "svc/b.py", "svc/inner/c.py", "README.md"} {
		chain, err := store.ContainmentPath(context.Background(), "acme", p)
		require.NoError(t, err, "path %s", p)
		assert.Equal(t, domain.GraphNodeProject, chain[0].Kind)
	}
}

func TestIngestTree_RootLevelFileLinksToProject(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	_, err := writer.IngestTree(context.Background(), treeRequest("acme", "main.py"))
	require.NoError(t, err)

	chain, err := store.ContainmentPath(context.Background(), "acme", "main.py")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, domain.GraphNodeProject, chain[0].Kind)
	assert.Equal(t, domain.GraphNodeFile, chain[1].Kind)
}

func TestIngestTree_Idempotent(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)
	req := treeRequest("acme", "svc/a.py", "svc/b.py")

	first, err := writer.IngestTree(context.Background(), req)
	require.NoError(t, err)
	second, err := writer.IngestTree(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, first.Directories, second.Directories)

	chain, err := store.ContainmentPath(context.Background(), "acme", "svc/a.py")
	require.NoError(t, err)
	assert.Len(t, chain, 3, "re-running must not grow or break the chain")
}

func TestIngestTree_SkipsUnusablePaths(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	report, err := writer.IngestTree(context.Background(),
		treeRequest("acme", "", ".", "../escape.py", "ok.py"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Len(t, report.SkippedPaths, 3)
}

func TestIngestTree_NormalizesLeadingSlash(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	_, err := writer.IngestTree(context.Background(), treeRequest("acme", "/svc/a.py"))
	require.NoError(t, err)

	chain, err := store.ContainmentPath(context.Background(), "acme", "svc/a.py")
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestIngestTree_ProjectPropertyCarriesRootPath(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	_, err := writer.IngestTree(context.Background(), treeRequest("acme", "a.py"))
	require.NoError(t, err)

	projectKey := (domain.GraphNode{Kind: domain.GraphNodeProject, ProjectName: "acme"}).Key()
	node, ok := store.Node(projectKey)
	require.True(t, ok)
	assert.Equal(t, "/repo", node.Properties["root_path"])
}

func TestIngestTree_DropProjectIsolation(t *testing.T) {
	store := memory.NewGraphStore()
	writer := newTestWriter(store)

	_, err := writer.IngestTree(context.Background(), treeRequest("acme", "svc/a.py"))
	require.NoError(t, err)
	_, err = writer.IngestTree(context.Background(), treeRequest("globex", "svc/a.py"))
	require.NoError(t, err)

	require.NoError(t, store.DropProject(context.Background(), "acme"))

	_, err = store.ContainmentPath(context.Background(), "acme", "svc/a.py")
	assert.True(t, errors.IsNotFound(err), "dropped project's tree must be gone")

	chain, err := store.ContainmentPath(context.Background(), "globex", "svc/a.py")
	require.NoError(t, err)
	assert.Len(t, chain, 3, "the other project's tree must survive")
}
