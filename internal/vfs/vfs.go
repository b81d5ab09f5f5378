// Package vfs implements the VFS adapter (C9): the go-fuse binding that
// translates kernel callbacks into namespace/monitor operations and
// translates namespace's sentinel errors into syscall.Errno at this
// boundary only, the way the teacher's shared/pkg/fuse package wraps a
// metadata tree with fs.InodeEmbedder nodes — adapted here to read and
// write straight through to an in-memory namespace.Mirror instead of a
// disk cache fronting an HTTP API.
package vfs

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ctresc/peerfs/internal/fsstat"
	"github.com/ctresc/peerfs/internal/logging"
	"github.com/ctresc/peerfs/internal/monitor"
	"github.com/ctresc/peerfs/internal/namespace"
	"go.uber.org/zap"
)

// ContentLoader lazily fetches a path's current content from the DHT when
// the namespace mirror has never installed a buffer for it (spec.md
// §4.1's lazy-read rule).
type ContentLoader func(path string) ([]byte, error)

// FS owns the collaborators every Node needs: the namespace mirror, the
// write monitor, and the filesystem-size tracker.
type FS struct {
	Mirror  *namespace.Mirror
	Monitor *monitor.Monitor
	Stat    *fsstat.Stat
	Loader  ContentLoader

	uid, gid uint32
}

// NewFS wires a filesystem adapter over the given collaborators.
func NewFS(mirror *namespace.Mirror, mon *monitor.Monitor, stat *fsstat.Stat, loader ContentLoader) *FS {
	return &FS{
		Mirror:  mirror,
		Monitor: mon,
		Stat:    stat,
		Loader:  loader,
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
	}
}

// Mount mounts the filesystem at mountPoint and returns the running server.
func (f *FS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return nil, err
	}

	root := &Node{fsys: f, path: "/"}
	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName: "peerfs",
			Name:   "peerfs",
		},
		UID: f.uid,
		GID: f.gid,
	}
	return fs.Mount(mountPoint, root, opts)
}

// Node is one inode: a path into the namespace mirror. The mirror is the
// single source of truth; Node carries no cached attributes of its own.
type Node struct {
	fs.Inode

	fsys *FS
	path string
}

var (
	_ fs.InodeEmbedder = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeSymlinker = (*Node)(nil)
	_ fs.NodeReadlinker = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
	_ fs.NodeAccesser  = (*Node)(nil)
)

// handle is the FileHandle returned by Open/Create; it carries no state of
// its own because content lives in the namespace mirror, addressed by
// path, not by any per-open buffer.
type handle struct{}

var _ fs.FileHandle = (*handle)(nil)

func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, namespace.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, namespace.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, namespace.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, namespace.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, namespace.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, namespace.ErrInvalid):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func fillAttr(out *gofuse.Attr, a namespace.Attr, uid, gid uint32) {
	switch {
	case a.IsDir:
		out.Mode = 0o755 | syscall.S_IFDIR
	case a.IsSymlnk:
		out.Mode = 0o777 | syscall.S_IFLNK
	default:
		out.Mode = 0o644 | syscall.S_IFREG
	}
	out.Size = uint64(a.Size)
	out.Mtime = uint64(a.MTime)
	out.Atime = uint64(a.ATime)
	out.Ctime = out.Mtime
	out.Uid = uid
	out.Gid = gid
}

// Getattr implements fs.NodeGetattrer. It never triggers a content fetch.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	a, err := n.fsys.Mirror.Getattr(n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, a, n.fsys.uid, n.fsys.gid)
	return 0
}

// Access always permits; this system has no per-user permission model.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return 0
}

// Lookup implements fs.NodeLookuper.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := namespace.BuildChildPath(n.path, name)
	a, err := n.fsys.Mirror.Getattr(childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, a, n.fsys.uid, n.fsys.gid)

	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode}), 0
}

// Readdir implements fs.NodeReaddirer.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	node, err := n.fsys.Mirror.Find(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	dir, ok := node.(*namespace.Directory)
	if !ok {
		return nil, syscall.ENOTDIR
	}

	entries := make([]gofuse.DirEntry, 0, len(dir.Children()))
	for _, child := range dir.Children() {
		mode := uint32(syscall.S_IFREG)
		switch child.(type) {
		case *namespace.Directory:
			mode = syscall.S_IFDIR
		case *namespace.Symlink:
			mode = syscall.S_IFLNK
		}
		entries = append(entries, gofuse.DirEntry{Name: child.Name(), Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Open implements fs.NodeOpener. O_TRUNC truncates immediately; a file
// whose buffer has never been loaded is then filled through the lazy
// loader, and a loader failure is logged without failing the open.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&uint32(syscall.O_TRUNC) != 0 {
		if err := n.fsys.Mirror.Truncate(n.path, 0); err != nil {
			return nil, 0, toErrno(err)
		}
	}
	if n.fsys.Loader != nil {
		if err := n.fsys.Mirror.EnsureLoaded(n.path, n.fsys.Loader); err != nil {
			logging.L().Warn("vfs: lazy load failed", zap.Error(err), zap.String("path", n.path))
		}
	}
	return &handle{}, 0, 0
}

// Read implements fs.NodeReader.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	read, err := n.fsys.Mirror.Read(n.path, dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return gofuse.ReadResultData(dest[:read]), 0
}

// Write implements fs.NodeWriter. Every write is immediately visible to
// Read and arms the monitor's debounce countdown for this path.
func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.fsys.Mirror.Write(n.path, data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(written), 0
}

// Create implements fs.NodeCreater.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := namespace.BuildChildPath(n.path, name)
	if _, err := n.fsys.Mirror.Mkfile(childPath); err != nil {
		return nil, nil, 0, toErrno(err)
	}

	a, err := n.fsys.Mirror.Getattr(childPath)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	fillAttr(&out.Attr, a, n.fsys.uid, n.fsys.gid)

	child := &Node{fsys: n.fsys, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode})
	return inode, &handle{}, 0, 0
}

// Mkdir implements fs.NodeMkdirer.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := namespace.BuildChildPath(n.path, name)
	if _, err := n.fsys.Mirror.Mkdir(childPath); err != nil {
		return nil, toErrno(err)
	}
	a, _ := n.fsys.Mirror.Getattr(childPath)
	fillAttr(&out.Attr, a, n.fsys.uid, n.fsys.gid)

	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode}), 0
}

// Symlink implements fs.NodeSymlinker.
func (n *Node) Symlink(ctx context.Context, target, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := namespace.BuildChildPath(n.path, name)
	if _, err := n.fsys.Mirror.Symlink(target, childPath); err != nil {
		return nil, toErrno(err)
	}
	a, _ := n.fsys.Mirror.Getattr(childPath)
	fillAttr(&out.Attr, a, n.fsys.uid, n.fsys.gid)

	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode}), 0
}

// Readlink implements fs.NodeReadlinker.
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fsys.Mirror.Readlink(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	return []byte(target), 0
}

// Unlink implements fs.NodeUnlinker.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	childPath := namespace.BuildChildPath(n.path, name)
	_, err := n.fsys.Mirror.Delete(childPath)
	return toErrno(err)
}

// Rmdir implements fs.NodeRmdirer.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	childPath := namespace.BuildChildPath(n.path, name)
	_, err := n.fsys.Mirror.Delete(childPath)
	return toErrno(err)
}

// Rename implements fs.NodeRenamer.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	newParentNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EIO
	}
	oldPath := namespace.BuildChildPath(n.path, name)
	newPath := namespace.BuildChildPath(newParentNode.path, newName)
	return toErrno(n.fsys.Mirror.Rename(oldPath, newPath))
}

// Setattr implements fs.NodeSetattrer. Only a size change (truncate) is
// applied; mode, owner and timestamp changes are accepted and ignored.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.fsys.Mirror.Truncate(n.path, int64(size)); err != nil {
			return toErrno(err)
		}
	}
	return n.Getattr(ctx, fh, out)
}

// Statfs implements fs.NodeStatfser, reporting the figures C8 maintains.
func (n *Node) Statfs(ctx context.Context, out *gofuse.StatfsOut) syscall.Errno {
	if n.fsys.Stat == nil {
		return 0
	}
	snap := n.fsys.Stat.Snapshot()
	out.Bsize = snap.BlockSize
	out.Blocks = snap.Blocks
	out.Bfree = snap.BlocksFree
	out.Bavail = snap.BlocksFree
	out.Files = snap.Files
	out.Ffree = snap.FilesFree
	return 0
}
