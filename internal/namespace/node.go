// Package namespace implements the in-memory mirror of the mounted
// filesystem tree: the data structure that answers VFS callbacks
// synchronously while writes and remote changes converge through the DHT
// in the background.
package namespace

import "time"

// Node is the common interface satisfied by Directory, File, and Symlink.
// The three variants share a header (name, parent, timestamps) but are not
// related by inheritance — callers type-switch on the concrete type, the
// same dispatch style the teacher uses for FruitNode's metadata variants.
type Node interface {
	Name() string
	Parent() *Directory
	AccessTime() time.Time
	ModTime() time.Time
	touchAccess()
	touchMod()
	setParent(*Directory)
	setName(string)
}

// header is embedded by every concrete node type. The parent link is a
// plain pointer, not an owning reference: ownership flows Directory ->
// children, and the back-edge here exists purely for path resolution
// (§9 "cyclic back-references" in the design notes).
type header struct {
	name   string
	parent *Directory
	atime  time.Time
	mtime  time.Time
}

func newHeader(name string) header {
	now := time.Now()
	return header{name: name, atime: now, mtime: now}
}

func (h *header) Name() string            { return h.name }
func (h *header) Parent() *Directory       { return h.parent }
func (h *header) AccessTime() time.Time    { return h.atime }
func (h *header) ModTime() time.Time       { return h.mtime }
func (h *header) touchAccess()             { h.atime = time.Now() }
func (h *header) touchMod()                { t := time.Now(); h.mtime = t; h.atime = t }
func (h *header) setParent(d *Directory)   { h.parent = d }
func (h *header) setName(name string)      { h.name = name }

// Directory holds an ordered set of children, unique by name.
type Directory struct {
	header
	children []Node
}

// NewRoot creates the "/" directory with no parent.
func NewRoot() *Directory {
	d := &Directory{header: newHeader("/")}
	return d
}

// Children returns the directory's entries in creation order.
func (d *Directory) Children() []Node {
	return d.children
}

// Lookup returns the child named name, or nil.
func (d *Directory) Lookup(name string) Node {
	for _, c := range d.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (d *Directory) add(n Node) {
	n.setParent(d)
	d.children = append(d.children, n)
	d.touchMod()
}

// removeChild detaches the named child. Returns the detached node, or nil
// if no such child exists.
func (d *Directory) removeChild(name string) Node {
	for i, c := range d.children {
		if c.Name() == name {
			d.children = append(d.children[:i], d.children[i+1:]...)
			c.setParent(nil)
			d.touchMod()
			return c
		}
	}
	return nil
}

// File owns a variable-length byte buffer. A nil buffer means the content
// has never been loaded from the DHT; a non-nil buffer (even zero-length)
// is authoritative locally. Zero-length *loaded* files are represented with
// a non-nil, zero-length slice obtained via make([]byte, 0, 1) so that
// "unloaded" and "loaded empty" remain distinguishable without a separate
// boolean field — content == nil is the one and only "not yet loaded" state.
type File struct {
	header
	content []byte
}

// Capacity reports cap(content); 0 means "not yet loaded from the DHT".
func (f *File) Capacity() int { return cap(f.content) }

// Loaded reports whether content has ever been installed locally.
func (f *File) Loaded() bool { return f.content != nil }

// Bytes returns the current content buffer (may be nil if unloaded).
func (f *File) Bytes() []byte { return f.content }

// Size returns the length of the content buffer.
func (f *File) Size() int64 { return int64(len(f.content)) }

// install replaces the file's content wholesale (used by
// Mirror.InstallContent: the syncer materializing remote content and the
// lazy loader).
func (f *File) install(data []byte) {
	if len(data) == 0 {
		f.content = make([]byte, 0, 1)
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.content = buf
}

// Symlink stores only the last path component of its target, mirroring the
// source idiosyncrasy documented in spec.md §9: cross-directory symlinks are
// not fully supported.
type Symlink struct {
	header
	target  string
	aliased Node
}

// Target returns the last component of the link target.
func (s *Symlink) Target() string { return s.target }

// Aliased returns the node this symlink pointed at when created. The
// reference is not kept in sync with subsequent renames/deletes of that
// node — readlink only ever needs the string.
func (s *Symlink) Aliased() Node { return s.aliased }
