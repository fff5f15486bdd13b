package executor

type Path []PathElement

type PathElement any

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

type nodeKind uint8

const (
	nodePending nodeKind = iota
	nodeNull
	nodeLeaf
	nodeObject
	nodeList
)

// resultNode is one position in the response tree. Objects keep their fields
// in collection order and lists keep one slot per source element, so the
// response never depends on the order in which batches settle.
type resultNode struct {
	parent  *resultNode
	key     PathElement
	nonNull bool
	kind    nodeKind
	leaf    any
	names   []string
	items   []*resultNode
	// pruned is set on the nullable ancestor that absorbed a Non-Null
	// violation; everything below it is discarded.
	pruned bool
}

func newRootNode() *resultNode {
	return &resultNode{kind: nodeObject}
}

func (n *resultNode) field(name string, nonNull bool) *resultNode {
	child := &resultNode{parent: n, key: name, nonNull: nonNull}
	n.kind = nodeObject
	n.names = append(n.names, name)
	n.items = append(n.items, child)
	return child
}

func (n *resultNode) list(size int, nonNullItems bool) []*resultNode {
	n.kind = nodeList
	n.items = make([]*resultNode, size)
	for i := range n.items {
		n.items[i] = &resultNode{parent: n, key: i, nonNull: nonNullItems}
	}
	return n.items
}

func (n *resultNode) setLeaf(v any) {
	n.kind = nodeLeaf
	n.leaf = v
}

func (n *resultNode) setNull() {
	n.kind = nodeNull
	n.leaf = nil
	n.names = nil
	n.items = nil
}

// dead reports whether n sits under a subtree already replaced by null.
func (n *resultNode) dead() bool {
	for p := n; p != nil; p = p.parent {
		if p.pruned {
			return true
		}
	}
	return false
}

// nullableAncestor returns the closest ancestor that may hold null. The root
// always qualifies.
func (n *resultNode) nullableAncestor() *resultNode {
	p := n.parent
	for p != nil && p.nonNull {
		p = p.parent
	}
	return p
}

func (n *resultNode) path() Path {
	depth := 0
	for p := n; p.parent != nil; p = p.parent {
		depth++
	}
	path := make(Path, depth)
	for p := n; p.parent != nil; p = p.parent {
		depth--
		path[depth] = p.key
	}
	return path
}

// value materializes the subtree into plain maps and slices.
func (n *resultNode) value() any {
	switch n.kind {
	case nodeLeaf:
		return n.leaf
	case nodeObject:
		m := make(map[string]any, len(n.items))
		for i, child := range n.items {
			m[n.names[i]] = child.value()
		}
		return m
	case nodeList:
		out := make([]any, len(n.items))
		for i, child := range n.items {
			out[i] = child.value()
		}
		return out
	default:
		return nil
	}
}
