package namespace

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ctresc/peerfs/internal/logging"
)

// Sentinel errors mirroring the POSIX conditions in spec.md §4.6. The VFS
// adapter translates these to syscall.Errno at the kernel boundary; nothing
// below that boundary should ever see an errno directly.
var (
	ErrNotExist = errors.New("namespace: no such path")
	ErrExist    = errors.New("namespace: path exists")
	ErrNotDir   = errors.New("namespace: not a directory")
	ErrIsDir    = errors.New("namespace: is a directory")
	ErrNotEmpty = errors.New("namespace: directory not empty")
	ErrInvalid  = errors.New("namespace: invalid argument")
)

// ContentRemover is the subset of the DHT client (C1) the mirror needs to
// issue removals inline with delete/rename. Declared locally so this
// package never imports internal/dht (callers wire the concrete client in).
type ContentRemover interface {
	Remove(path string) error
	RemovePathIndex(path string) error
}

// VersionRemover is the subset of the version archiver (C2) the mirror
// needs to purge a path's history before removing the path itself, per
// spec.md §4.3's "version folder and chain are removed first" policy.
type VersionRemover interface {
	RemoveVersions(path string) error
}

// MonitorHandle is the subset of the file monitor (C4) the mirror needs to
// arm a fresh record after a rename, per spec.md §4.1.
type MonitorHandle interface {
	Add(path string, content []byte)
	Remove(path string)
}

// Mirror is the in-memory namespace tree rooted at "/". All mutating
// operations acquire the write lock for the whole "locate parent + mutate
// child" span; reads take the read lock (spec.md §5).
type Mirror struct {
	mu   sync.RWMutex
	root *Directory

	remover         ContentRemover
	versions        VersionRemover
	monitor         MonitorHandle
	isVersionFolder func(path string) bool
}

// New creates an empty mirror with just the root directory.
func New() *Mirror {
	return &Mirror{root: NewRoot()}
}

// SetContentRemover wires the DHT client used for inline removals.
func (m *Mirror) SetContentRemover(r ContentRemover) { m.remover = r }

// SetVersionRemover wires the version archiver used to purge a path's
// history on unlink.
func (m *Mirror) SetVersionRemover(v VersionRemover) { m.versions = v }

// SetMonitor wires the file monitor used to re-arm records after rename.
func (m *Mirror) SetMonitor(mon MonitorHandle) { m.monitor = mon }

// SetVersionFolderPredicate installs the test used to recognize paths
// belonging to the version archiver's on-mount directories, so operations
// on them never re-enter the monitor (spec.md §4.1).
func (m *Mirror) SetVersionFolderPredicate(pred func(path string) bool) {
	m.isVersionFolder = pred
}

func (m *Mirror) versionFolderPath(path string) bool {
	return m.isVersionFolder != nil && m.isVersionFolder(path)
}

// Root returns the root directory.
func (m *Mirror) Root() *Directory { return m.root }

// Find resolves an absolute path, descending from root. Returns
// ErrNotExist if any component is missing.
func (m *Mirror) Find(path string) (Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(path)
}

func (m *Mirror) find(path string) (Node, error) {
	parts := split(path)
	if len(parts) == 0 {
		return m.root, nil
	}

	var cur Node = m.root
	for _, part := range parts {
		dir, ok := cur.(*Directory)
		if !ok {
			return nil, ErrNotDir
		}
		child := dir.Lookup(part)
		if child == nil {
			return nil, ErrNotExist
		}
		cur = child
	}
	return cur, nil
}

// findParentDir resolves the parent directory of path, enforcing the
// parent-path resolution policy from spec.md §4.1.
func (m *Mirror) findParentDir(path string) (*Directory, string, error) {
	parentPath, name := parentAndName(path)
	if name == "" {
		return nil, "", ErrInvalid
	}
	parentNode, err := m.find(parentPath)
	if err != nil {
		return nil, "", err
	}
	parentDir, ok := parentNode.(*Directory)
	if !ok {
		return nil, "", ErrNotDir
	}
	return parentDir, name, nil
}

// Create makes a new node at path. The file-vs-directory decision uses the
// last-component heuristic documented in spec.md §4.1/§9.
func (m *Mirror) Create(path string) (Node, error) {
	return m.create(path, true)
}

// CreateQuiet is Create without arming the file monitor. The syncer (C7)
// uses this to materialize a remotely-discovered path: InstallContent, not
// Monitor.Add, is what should carry the node's real content, and arming
// the monitor here with the empty buffer a brand-new node starts with
// would make it look like a dirty local write and get republished to the
// DHT as empty content (spec.md §4.5).
func (m *Mirror) CreateQuiet(path string) (Node, error) {
	return m.create(path, false)
}

func (m *Mirror) create(path string, arm bool) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.findParentDir(path)
	if err != nil {
		return nil, err
	}
	if parent.Lookup(name) != nil {
		return nil, ErrExist
	}

	var n Node
	if looksLikeFile(name) {
		f := &File{header: newHeader(name)}
		n = f
	} else {
		n = &Directory{header: newHeader(name)}
	}
	parent.add(n)

	if arm && m.monitor != nil && !m.versionFolderPath(path) {
		if f, ok := n.(*File); ok {
			m.monitor.Add(path, f.content)
		}
	}
	return n, nil
}

// Mkfile explicitly creates a file child (used by the VFS "create" callback,
// which always wants a regular file regardless of the name heuristic).
func (m *Mirror) Mkfile(path string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.findParentDir(path)
	if err != nil {
		return nil, err
	}
	if parent.Lookup(name) != nil {
		return nil, ErrExist
	}

	f := &File{header: newHeader(name)}
	parent.add(f)

	if m.monitor != nil && !m.versionFolderPath(path) {
		m.monitor.Add(path, f.content)
	}
	return f, nil
}

// Mkdir creates a directory child.
func (m *Mirror) Mkdir(path string) (*Directory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.findParentDir(path)
	if err != nil {
		return nil, err
	}
	if parent.Lookup(name) != nil {
		return nil, ErrExist
	}

	d := &Directory{header: newHeader(name)}
	parent.add(d)

	if m.monitor != nil && !m.versionFolderPath(path) {
		m.monitor.Add(path, nil)
	}
	return d, nil
}

// Symlink creates a symlink child aliasing existingPath. Only the last
// component of existingPath is retained as the stored target, per the
// source idiosyncrasy in spec.md §9.
func (m *Mirror) Symlink(existingPath, path string) (*Symlink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.findParentDir(path)
	if err != nil {
		return nil, err
	}
	if parent.Lookup(name) != nil {
		return nil, ErrExist
	}

	existing, _ := m.find(existingPath)

	_, target := parentAndName(existingPath)
	if target == "" {
		target = existingPath
	}

	s := &Symlink{header: newHeader(name), target: target, aliased: existing}
	parent.add(s)
	return s, nil
}

// Readlink fills the last component of the symlink's target.
func (m *Mirror) Readlink(path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.find(path)
	if err != nil {
		return "", err
	}
	s, ok := n.(*Symlink)
	if !ok {
		return "", ErrInvalid
	}
	return s.target, nil
}

// Delete removes the node at path, detaching it from its parent and
// issuing DHT removal for its content and path-index keys (spec.md §4.1,
// invariant 6). For files/symlinks the local buffer is also cleared. A
// file's version chain and on-mount version folder are purged first, per
// spec.md §4.3's "removed first so that later deletion of p cannot orphan
// history" policy.
func (m *Mirror) Delete(path string) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, name, err := m.findParentDir(path)
	if err != nil {
		return nil, err
	}

	target := parent.Lookup(name)
	if target == nil {
		return nil, ErrNotExist
	}

	if dir, ok := target.(*Directory); ok {
		if len(dir.children) > 0 {
			return nil, ErrNotEmpty
		}
	}

	parent.removeChild(name)

	isDir := false
	switch n := target.(type) {
	case *File:
		n.content = nil
	case *Symlink:
		n.aliased = nil
	case *Directory:
		isDir = true
	}

	if m.monitor != nil {
		m.monitor.Remove(path)
	}
	if !isDir && m.versions != nil {
		if err := m.versions.RemoveVersions(path); err != nil {
			logging.L().Warn("version removal failed", zap.Error(err), zap.String("path", path))
		}
	}
	if m.remover != nil {
		if err := m.remover.Remove(path); err != nil {
			logging.L().Warn("dht removal failed", zap.Error(err), zap.String("path", path))
		}
		if err := m.remover.RemovePathIndex(path); err != nil {
			logging.L().Warn("dht path-index removal failed", zap.Error(err), zap.String("path", path))
		}
	}

	return target, nil
}

// Rename detaches the node at oldPath and reattaches it at newPath,
// removing the old DHT entries and arming a fresh monitor record for the
// new path (spec.md §4.1).
func (m *Mirror) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldParent, oldName, err := m.findParentDir(oldPath)
	if err != nil {
		return err
	}
	source := oldParent.Lookup(oldName)
	if source == nil {
		return ErrNotExist
	}

	newParent, newName, err := m.findParentDir(newPath)
	if err != nil {
		return err
	}
	if existing := newParent.Lookup(newName); existing != nil {
		return ErrExist
	}

	oldParent.removeChild(oldName)
	source.setName(newName)
	newParent.add(source)

	if m.monitor != nil {
		m.monitor.Remove(oldPath)
	}
	if m.remover != nil {
		if err := m.remover.Remove(oldPath); err != nil {
			logging.L().Warn("dht removal failed", zap.Error(err), zap.String("path", oldPath))
		}
		if err := m.remover.RemovePathIndex(oldPath); err != nil {
			logging.L().Warn("dht path-index removal failed", zap.Error(err), zap.String("path", oldPath))
		}
	}

	if f, ok := source.(*File); ok && m.monitor != nil {
		m.monitor.Add(newPath, f.content)
	}

	return nil
}

// Truncate resizes a file's buffer, zero-filling on extension.
func (m *Mirror) Truncate(path string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.find(path)
	if err != nil {
		return err
	}
	f, ok := n.(*File)
	if !ok {
		return ErrIsDir
	}
	if size < 0 {
		return ErrInvalid
	}

	cur := f.content
	switch {
	case int64(len(cur)) == size:
		if cur == nil {
			f.content = make([]byte, 0, 1)
		}
	case int64(len(cur)) > size:
		f.content = cur[:size]
	default:
		grown := make([]byte, size)
		copy(grown, cur)
		f.content = grown
	}
	f.touchMod()

	if m.monitor != nil && !m.versionFolderPath(path) {
		m.monitor.Add(path, f.content)
	}
	return nil
}

// Read copies up to len(buf) bytes from the file starting at offset.
func (m *Mirror) Read(path string, buf []byte, offset int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.find(path)
	if err != nil {
		return 0, err
	}
	f, ok := n.(*File)
	if !ok {
		return 0, ErrIsDir
	}
	f.touchAccess()

	if offset < 0 || offset >= int64(len(f.content)) {
		return 0, nil
	}
	copied := copy(buf, f.content[offset:])
	return copied, nil
}

// Write copies data into the file's buffer at offset, growing the buffer if
// needed, and re-arms the file monitor with the resulting snapshot.
func (m *Mirror) Write(path string, data []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.find(path)
	if err != nil {
		return 0, err
	}
	f, ok := n.(*File)
	if !ok {
		return 0, ErrIsDir
	}
	if offset < 0 {
		return 0, ErrInvalid
	}

	end := offset + int64(len(data))
	if end > int64(len(f.content)) {
		grown := make([]byte, end)
		copy(grown, f.content)
		f.content = grown
	}
	copy(f.content[offset:end], data)
	f.touchMod()

	if m.monitor != nil && !m.versionFolderPath(path) {
		m.monitor.Add(path, f.content)
	}
	return len(data), nil
}

// InstallContent overwrites a file's buffer wholesale without touching the
// monitor — used by the syncer when materializing remote content so that a
// syncer-originated write is never mistaken for a local one (spec.md §4.5).
func (m *Mirror) InstallContent(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.find(path)
	if err != nil {
		return err
	}
	f, ok := n.(*File)
	if !ok {
		return ErrIsDir
	}
	f.install(data)
	f.touchMod()
	return nil
}

// Attr is the POSIX-ish stat record returned by Getattr.
type Attr struct {
	IsDir    bool
	IsSymlnk bool
	Size     int64
	ATime    int64
	MTime    int64
}

// Getattr fills a stat-like record for path.
func (m *Mirror) Getattr(path string) (Attr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.find(path)
	if err != nil {
		return Attr{}, err
	}

	a := Attr{
		ATime: n.AccessTime().Unix(),
		MTime: n.ModTime().Unix(),
	}
	switch v := n.(type) {
	case *Directory:
		a.IsDir = true
	case *File:
		a.Size = v.Size()
	case *Symlink:
		a.IsSymlnk = true
	}
	return a, nil
}

// EnsureLoaded triggers a caller-supplied lazy loader when a file's buffer
// has never been installed (Capacity() == 0), per the "Lazy read" rule in
// spec.md §4.1. The loader is invoked outside any mirror lock.
func (m *Mirror) EnsureLoaded(path string, loader func(path string) ([]byte, error)) error {
	m.mu.RLock()
	n, err := m.find(path)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	f, ok := n.(*File)
	if !ok {
		m.mu.RUnlock()
		return ErrIsDir
	}
	loaded := f.Loaded()
	m.mu.RUnlock()

	if loaded {
		return nil
	}

	data, err := loader(path)
	if err != nil {
		return err
	}
	return m.InstallContent(path, data)
}
