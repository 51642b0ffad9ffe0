package domain

// GraphNodeKind distinguishes the three containment node shapes.
type GraphNodeKind string

const (
	GraphNodeProject   GraphNodeKind = "project"
	GraphNodeDirectory GraphNodeKind = "directory"
	GraphNodeFile      GraphNodeKind = "file"
)

// GraphNode is one containment node in the property graph. Project nodes are
// keyed by project name alone; directory and file nodes by (project, path).
// Every node carries ProjectName, including placeholders created as a side
// effect of an edge upsert.
type GraphNode struct {
	Kind        GraphNodeKind  `json:"kind"`
	ProjectName string         `json:"project_name"`
	Path        string         `json:"path,omitempty"`
	Name        string         `json:"name"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Key is the merge key for a node upsert.
func (n GraphNode) Key() string {
	if n.Kind == GraphNodeProject {
		return "project#" + n.ProjectName
	}
	return string(n.Kind) + "#" + n.ProjectName + "#" + n.Path
}

// ContainmentEdge links a child node to its parent in the containment tree.
// Keys come from GraphNode.Key.
type ContainmentEdge struct {
	ParentKey string `json:"parent_key"`
	ChildKey  string `json:"child_key"`
}

// FileRecord is one file inside a tree-index payload.
type FileRecord struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// TreeIndexRequest is the payload of an intelligence.tree-index event: a
// project, its root path, and the files to ingest beneath it.
type TreeIndexRequest struct {
	ProjectName   string       `json:"project_name"`
	RootPath      string       `json:"root_path"`
	Files         []FileRecord `json:"files"`
	UserID        string       `json:"user_id,omitempty"`
	CorrelationID string       `json:"correlation_id"`
}
