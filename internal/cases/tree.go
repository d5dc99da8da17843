package cases

import (
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Node is a named test group or, when Case is set, a single test. Child
// order is insertion order.
type Node struct {
	Name     string
	Case     Case
	children *linkedhashmap.Map
}

// NewGroup creates an empty group node.
func NewGroup(name string) *Node {
	return &Node{Name: name, children: linkedhashmap.New()}
}

// NewLeaf creates a test node.
func NewLeaf(name string, c Case) *Node {
	return &Node{Name: name, Case: c}
}

func (n *Node) IsLeaf() bool { return n.Case != nil }

// AddChild attaches child, replacing any child of the same name. Empty
// groups are dropped.
func (n *Node) AddChild(child *Node) {
	if child == nil || (!child.IsLeaf() && child.Len() == 0) {
		return
	}
	n.children.Put(child.Name, child)
}

// Child returns the direct child called name.
func (n *Node) Child(name string) *Node {
	if n.children == nil {
		return nil
	}
	v, ok := n.children.Get(name)
	if !ok {
		return nil
	}
	return v.(*Node)
}

// Children returns the direct children in insertion order.
func (n *Node) Children() []*Node {
	if n.children == nil {
		return nil
	}
	vals := n.children.Values()
	out := make([]*Node, len(vals))
	for i, v := range vals {
		out[i] = v.(*Node)
	}
	return out
}

// Len is the number of direct children.
func (n *Node) Len() int {
	if n.children == nil {
		return 0
	}
	return n.children.Size()
}

// Insert adds c as a leaf at path below n, creating groups on the way.
// The last path element names the leaf.
func (n *Node) Insert(path []string, c Case) {
	cur := n
	for _, name := range path[:len(path)-1] {
		next := cur.Child(name)
		if next == nil {
			next = NewGroup(name)
			cur.children.Put(name, next)
		}
		cur = next
	}
	cur.children.Put(path[len(path)-1], NewLeaf(path[len(path)-1], c))
}

// Find resolves a dotted path relative to n.
func (n *Node) Find(path string) *Node {
	cur := n
	for _, name := range strings.Split(path, ".") {
		if cur = cur.Child(name); cur == nil {
			return nil
		}
	}
	return cur
}

// Walk visits every leaf in depth-first insertion order with its full
// dotted name, starting with n's own name.
func (n *Node) Walk(visit func(name string, c Case) error) error {
	return n.walk(n.Name, visit)
}

func (n *Node) walk(prefix string, visit func(string, Case) error) error {
	if n.IsLeaf() {
		return visit(prefix, n.Case)
	}
	for _, child := range n.Children() {
		name := child.Name
		if prefix != "" {
			name = prefix + "." + child.Name
		}
		if err := child.walk(name, visit); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of leaves below n.
func (n *Node) Count() int {
	if n.IsLeaf() {
		return 1
	}
	total := 0
	for _, child := range n.Children() {
		total += child.Count()
	}
	return total
}

// Named is a leaf flattened with its full name.
type Named struct {
	Name string
	Case Case
}

// Flatten lists the leaves below n whose full name has the given prefix.
func (n *Node) Flatten(prefix string) []Named {
	var out []Named
	_ = n.Walk(func(name string, c Case) error {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Named{Name: name, Case: c})
		}
		return nil
	})
	return out
}
