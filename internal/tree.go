package internal

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
)

// NodeID is a stable identifier for a node in the content hierarchy.
// IDs survive renames and moves; only deletion retires one.
type NodeID string

// Node is one entry in the arena: a folder or a leaf. Exactly one node
// may be flagged as the disguise surface.
type Node struct {
	ID       NodeID
	Name     string
	Parent   NodeID
	Children []NodeID
	Leaf     bool
	Disguise bool
	Size     int64
}

// Tree is an arena of nodes keyed by stable identifiers. Mutations
// copy-on-write along the root-to-target path only: untouched nodes
// are shared between the old and new tree values.
type Tree struct {
	nodes map[NodeID]*Node
	root  NodeID
}

var ErrNodeNotFound = errors.New("node not found")

// NewTree creates a tree holding only a root folder.
func NewTree(rootName string) *Tree {
	root := &Node{ID: "root", Name: rootName}
	return &Tree{
		nodes: map[NodeID]*Node{root.ID: root},
		root:  root.ID,
	}
}

func (t *Tree) Root() NodeID { return t.root }

// Node returns the node for id, or nil.
func (t *Tree) Node(id NodeID) *Node {
	return t.nodes[id]
}

// Insert adds node under parent and returns the new tree value. The
// parent chain up to the root is copied; the rest of the arena is
// shared.
func (t *Tree) Insert(parent NodeID, node Node) (*Tree, error) {
	if _, ok := t.nodes[parent]; !ok {
		return nil, ErrNodeNotFound
	}
	if node.ID == "" {
		return nil, errors.New("node needs an id")
	}
	next := t.clonePath(parent)
	node.Parent = parent
	stored := node
	next.nodes[node.ID] = &stored
	parentNode := next.nodes[parent]
	parentNode.Children = append(parentNode.Children, node.ID)
	return next, nil
}

// Rename changes a node's display name in place on a new tree value.
func (t *Tree) Rename(id NodeID, name string) (*Tree, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, ErrNodeNotFound
	}
	next := t.clonePath(id)
	next.nodes[id].Name = name
	return next, nil
}

// Remove deletes a node and its whole subtree.
func (t *Tree) Remove(id NodeID) (*Tree, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	if id == t.root {
		return nil, errors.New("cannot remove the root")
	}
	next := t.clonePath(node.Parent)
	parent := next.nodes[node.Parent]
	kept := parent.Children[:0:0]
	for _, child := range parent.Children {
		if child != id {
			kept = append(kept, child)
		}
	}
	parent.Children = kept
	next.dropSubtree(id)
	return next, nil
}

// FirstLeaf walks the tree in deterministic pre-order and returns the
// first leaf for which skip returns false.
func (t *Tree) FirstLeaf(skip func(*Node) bool) (NodeID, bool) {
	return t.firstLeafFrom(t.root, skip)
}

func (t *Tree) firstLeafFrom(id NodeID, skip func(*Node) bool) (NodeID, bool) {
	node, ok := t.nodes[id]
	if !ok {
		return "", false
	}
	if skip != nil && skip(node) {
		return "", false
	}
	if node.Leaf {
		return node.ID, true
	}
	for _, child := range node.Children {
		if found, ok := t.firstLeafFrom(child, skip); ok {
			return found, true
		}
	}
	return "", false
}

// Contains reports whether descendant sits at or below ancestor.
func (t *Tree) Contains(ancestor, descendant NodeID) bool {
	for id := descendant; id != ""; {
		if id == ancestor {
			return true
		}
		node, ok := t.nodes[id]
		if !ok || node.Parent == id {
			return false
		}
		id = node.Parent
	}
	return false
}

// DisguiseNode returns the node flagged as the disguise surface, if
// one exists.
func (t *Tree) DisguiseNode() (NodeID, bool) {
	for id, node := range t.nodes {
		if node.Disguise {
			return id, true
		}
	}
	return "", false
}

// clonePath builds a new tree value sharing every node except the
// chain from id up to the root, which is copied for mutation.
func (t *Tree) clonePath(id NodeID) *Tree {
	nodes := make(map[NodeID]*Node, len(t.nodes))
	for key, value := range t.nodes {
		nodes[key] = value
	}
	for current := id; current != ""; {
		original, ok := nodes[current]
		if !ok {
			break
		}
		copied := *original
		copied.Children = append([]NodeID(nil), original.Children...)
		nodes[current] = &copied
		if original.Parent == current {
			break
		}
		current = original.Parent
	}
	return &Tree{nodes: nodes, root: t.root}
}

func (t *Tree) dropSubtree(id NodeID) {
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, child := range node.Children {
		t.dropSubtree(child)
	}
	delete(t.nodes, id)
}

// BuildFileTree seeds the content hierarchy from a real directory so
// the browser shows genuine, innocuous files. Hidden entries are
// skipped; directories sort before files, both alphabetically. depth
// limits recursion.
func BuildFileTree(root string, depth int) *Tree {
	tree := NewTree(filepath.Base(root))
	tree = fillFileTree(tree, tree.Root(), root, depth)
	return tree
}

func fillFileTree(tree *Tree, parent NodeID, path string, depth int) *Tree {
	if depth <= 0 {
		return tree
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return tree
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if len(entry.Name()) > 0 && entry.Name()[0] == '.' {
			continue
		}
		fullPath := filepath.Join(path, entry.Name())
		node := Node{
			ID:   NodeID(fullPath),
			Name: entry.Name(),
			Leaf: !entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				node.Size = info.Size()
			}
		}
		next, err := tree.Insert(parent, node)
		if err != nil {
			continue
		}
		tree = next
		if entry.IsDir() {
			tree = fillFileTree(tree, node.ID, fullPath, depth-1)
		}
	}
	return tree
}

// DefaultBrowsePath returns a sensible starting directory for the
// browser surface.
func DefaultBrowsePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		docsPath := filepath.Join(home, "Documents")
		if _, err := os.Stat(docsPath); err == nil {
			return docsPath
		}
		downloadsPath := filepath.Join(home, "Downloads")
		if _, err := os.Stat(downloadsPath); err == nil {
			return downloadsPath
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}
