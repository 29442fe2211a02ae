package discovery

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FS returns a read-only io/fs.FS view of the tree. Paths are unrooted,
// as io/fs requires ("time/INDEX.md", "." for the root).
func (t *Tree) FS() fs.FS {
	return treeFS{t: t}
}

type treeFS struct {
	t *Tree
}

func (f treeFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	n, ok := f.t.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if n.Kind.IsDir() {
		children, _ := f.t.List(n.Path)
		return &treeDir{info: nodeInfo{n}, children: children}, nil
	}
	return &treeFile{info: nodeInfo{n}, r: bytes.NewReader(n.Content)}, nil
}

type nodeInfo struct {
	n Node
}

func (i nodeInfo) Name() string {
	if i.n.Path == "/" {
		return "."
	}
	return i.n.Name
}
func (i nodeInfo) Size() int64 { return int64(len(i.n.Content)) }
func (i nodeInfo) Mode() fs.FileMode {
	if i.n.Kind.IsDir() {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
func (i nodeInfo) ModTime() time.Time         { return time.Time{} }
func (i nodeInfo) IsDir() bool                { return i.n.Kind.IsDir() }
func (i nodeInfo) Sys() any                   { return nil }
func (i nodeInfo) Type() fs.FileMode          { return i.Mode().Type() }
func (i nodeInfo) Info() (fs.FileInfo, error) { return i, nil }

type treeFile struct {
	info nodeInfo
	r    *bytes.Reader
}

func (f *treeFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *treeFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *treeFile) Close() error               { return nil }

type treeDir struct {
	info     nodeInfo
	children []Node
	pos      int
}

func (d *treeDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *treeDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.n.Path, Err: errors.New("is a directory")}
}
func (d *treeDir) Close() error { return nil }

func (d *treeDir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.children[d.pos:]
	if n > 0 && len(rest) == 0 {
		return nil, io.EOF
	}
	if n > 0 && n < len(rest) {
		rest = rest[:n]
	}
	out := make([]fs.DirEntry, len(rest))
	for i, c := range rest {
		out[i] = nodeInfo{c}
	}
	d.pos += len(rest)
	return out, nil
}

// Materialize writes the tree under dir, replacing whatever dir held
// before so stale servers and tools do not linger.
func Materialize(t *Tree, dir string) error {
	clean := filepath.Clean(dir)
	if dir == "" || clean == "/" || clean == "." {
		return errors.New("discovery: refusing to materialize into " + dir)
	}
	if err := os.RemoveAll(clean); err != nil {
		return err
	}
	return t.Walk(func(n Node) error {
		target := filepath.Join(clean, filepath.FromSlash(strings.TrimPrefix(n.Path, "/")))
		if n.Kind.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return os.WriteFile(target, n.Content, 0o644)
	})
}
