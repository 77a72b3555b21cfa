package scene

// Graph is the immutable, id-indexed form of a loaded [Document]. It caches
// the validation report computed at construction time.
type Graph struct {
	doc    *Document
	index  map[string]*Node
	start  string
	issues Issues
}

// NewGraph indexes doc and validates it. start overrides the document's own
// start node when non-empty. A graph is returned even when validation fails;
// callers check [Graph.Issues] or [Graph.Err] before starting a session.
//
// When ids are duplicated the first occurrence wins the index slot.
func NewGraph(doc *Document, start string) *Graph {
	if doc == nil {
		doc = &Document{}
	}
	g := &Graph{
		doc:    doc,
		index:  make(map[string]*Node, len(doc.Nodes)),
		start:  resolveStart(doc, start),
		issues: Validate(doc, start),
	}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.ID == "" {
			continue
		}
		if _, dup := g.index[n.ID]; !dup {
			g.index[n.ID] = n
		}
	}
	return g
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Start returns the designated start node id.
func (g *Graph) Start() string { return g.start }

// Meta returns the scene metadata.
func (g *Graph) Meta() Meta { return g.doc.Scene }

// Nodes returns the nodes in declaration order. The slice must not be
// modified.
func (g *Graph) Nodes() []Node { return g.doc.Nodes }

// Document returns the underlying document. It must not be modified.
func (g *Graph) Document() *Document { return g.doc }

// Issues returns the validation report computed by [NewGraph].
func (g *Graph) Issues() Issues { return g.issues }

// Err returns nil when the graph is valid and a [*ValidationError] otherwise.
func (g *Graph) Err() error { return g.issues.Err() }

// SpeakerName resolves a character reference to its display name, falling
// back to the raw id and finally to "NPC".
func (g *Graph) SpeakerName(id string) string {
	if c, ok := g.doc.Scene.Characters[id]; ok && c.DisplayName != "" {
		return c.DisplayName
	}
	if id != "" {
		return id
	}
	return "NPC"
}
