package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// ErrNotDir is returned when listing a file node.
var ErrNotDir = errors.New("not a directory")

// NodeKind classifies tree nodes.
type NodeKind int

const (
	KindRoot NodeKind = iota
	KindServer
	KindTool
	KindFile
)

func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindServer:
		return "server"
	case KindTool:
		return "tool"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// IsDir reports whether nodes of this kind have children.
func (k NodeKind) IsDir() bool {
	return k == KindRoot || k == KindServer
}

// Node is one entry of the hierarchy. Directory nodes carry child paths;
// leaves carry content.
type Node struct {
	Kind     NodeKind
	Path     string
	Name     string
	Server   string
	Tool     string
	Children []string
	Content  []byte
}

func (n Node) clone() Node {
	n.Children = append([]string(nil), n.Children...)
	n.Content = append([]byte(nil), n.Content...)
	return n
}

// Tree is an arena of nodes indexed by path.
type Tree struct {
	nodes  []Node
	byPath map[string]int
	digest string
}

func newTree() *Tree {
	return &Tree{byPath: make(map[string]int)}
}

func (t *Tree) add(n Node) {
	t.byPath[n.Path] = len(t.nodes)
	t.nodes = append(t.nodes, n)
	if n.Path == "/" {
		return
	}
	parent := path.Dir(n.Path)
	if i, ok := t.byPath[parent]; ok {
		t.nodes[i].Children = append(t.nodes[i].Children, n.Path)
	}
}

func (t *Tree) seal() {
	h := sha256.New()
	_ = t.Walk(func(n Node) error {
		fmt.Fprintf(h, "%s\x00%d\x00", n.Path, len(n.Content))
		h.Write(n.Content)
		return nil
	})
	t.digest = hex.EncodeToString(h.Sum(nil))
}

// CleanPath normalizes p to an absolute slash-separated tree path.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Digest returns a hash over every path and content in walk order. Two
// trees with equal digests are byte-identical.
func (t *Tree) Digest() string { return t.digest }

// Len returns the number of nodes, the root included.
func (t *Tree) Len() int { return len(t.nodes) }

// Lookup returns a copy of the node at p.
func (t *Tree) Lookup(p string) (Node, bool) {
	i, ok := t.byPath[CleanPath(p)]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i].clone(), true
}

// List returns the children of the directory at p in tree order.
func (t *Tree) List(p string) ([]Node, error) {
	p = CleanPath(p)
	i, ok := t.byPath[p]
	if !ok {
		return nil, &fs.PathError{Op: "list", Path: p, Err: fs.ErrNotExist}
	}
	n := t.nodes[i]
	if !n.Kind.IsDir() {
		return nil, &fs.PathError{Op: "list", Path: p, Err: ErrNotDir}
	}
	out := make([]Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, t.nodes[t.byPath[c]].clone())
	}
	return out, nil
}

// Read returns the content of the leaf at p.
func (t *Tree) Read(p string) ([]byte, error) {
	p = CleanPath(p)
	i, ok := t.byPath[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	n := t.nodes[i]
	if n.Kind.IsDir() {
		return nil, &fs.PathError{Op: "read", Path: p, Err: errors.New("is a directory")}
	}
	return append([]byte(nil), n.Content...), nil
}

// Walk visits every node depth-first in tree order, parents before
// children. Returning fs.SkipDir from fn skips a directory's children.
func (t *Tree) Walk(fn func(Node) error) error {
	if len(t.nodes) == 0 {
		return nil
	}
	err := t.walk(0, fn)
	if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func (t *Tree) walk(i int, fn func(Node) error) error {
	n := t.nodes[i]
	if err := fn(n.clone()); err != nil {
		if errors.Is(err, fs.SkipDir) && n.Kind.IsDir() && n.Path != "/" {
			return nil
		}
		return err
	}
	for _, c := range n.Children {
		if err := t.walk(t.byPath[c], fn); err != nil {
			return err
		}
	}
	return nil
}
