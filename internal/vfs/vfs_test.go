package vfs

import (
	"context"
	"syscall"
	"testing"

	"github.com/ctresc/peerfs/internal/namespace"
	gofs "github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	return NewFS(namespace.New(), nil, nil, nil)
}

func newTestRoot(t *testing.T, fsys *FS) *Node {
	t.Helper()
	root := &Node{fsys: fsys, path: "/"}
	gofs.NewNodeFS(root, &gofs.Options{})
	return root
}

func TestCreateWriteReadThroughNodes(t *testing.T) {
	fsys := newTestFS(t)
	root := newTestRoot(t, fsys)
	ctx := context.Background()

	var entryOut gofuse.EntryOut
	_, fh, _, errno := root.Create(ctx, "a.txt", 0, 0o644, &entryOut)
	if errno != 0 {
		t.Fatalf("Create errno = %v", errno)
	}

	childPath := namespace.BuildChildPath("/", "a.txt")
	child := &Node{fsys: fsys, path: childPath}

	if _, errno := child.Write(ctx, fh, []byte("hello"), 0); errno != 0 {
		t.Fatalf("Write errno = %v", errno)
	}

	buf := make([]byte, 5)
	result, errno := child.Read(ctx, fh, buf, 0)
	if errno != 0 {
		t.Fatalf("Read errno = %v", errno)
	}
	got, status := result.Bytes(buf)
	if status != gofuse.OK || string(got) != "hello" {
		t.Fatalf("read %q, status %v", got, status)
	}
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	fsys := newTestFS(t)
	root := newTestRoot(t, fsys)

	var entryOut gofuse.EntryOut
	_, errno := root.Lookup(context.Background(), "missing.txt", &entryOut)
	if errno != syscall.ENOENT {
		t.Fatalf("errno = %v, want ENOENT", errno)
	}
}

func TestMkdirThenRmdirNonEmptyFails(t *testing.T) {
	fsys := newTestFS(t)
	root := newTestRoot(t, fsys)
	ctx := context.Background()

	var entryOut gofuse.EntryOut
	dirInode, errno := root.Mkdir(ctx, "d", 0o755, &entryOut)
	if errno != 0 {
		t.Fatalf("Mkdir errno = %v", errno)
	}

	dirNode := dirInode.Operations().(*Node)
	if _, _, _, errno := dirNode.Create(ctx, "f.txt", 0, 0o644, &entryOut); errno != 0 {
		t.Fatalf("Create errno = %v", errno)
	}

	if errno := root.Rmdir(ctx, "d"); errno != syscall.ENOTEMPTY {
		t.Fatalf("Rmdir errno = %v, want ENOTEMPTY", errno)
	}
}

func TestRenameMovesNode(t *testing.T) {
	fsys := newTestFS(t)
	root := newTestRoot(t, fsys)
	ctx := context.Background()

	var entryOut gofuse.EntryOut
	if _, _, _, errno := root.Create(ctx, "a.txt", 0, 0o644, &entryOut); errno != 0 {
		t.Fatalf("Create errno = %v", errno)
	}

	if errno := root.Rename(ctx, "a.txt", root, "b.txt", 0); errno != 0 {
		t.Fatalf("Rename errno = %v", errno)
	}

	if _, errno := root.Lookup(ctx, "a.txt", &entryOut); errno != syscall.ENOENT {
		t.Fatalf("old name errno = %v, want ENOENT", errno)
	}
	if _, errno := root.Lookup(ctx, "b.txt", &entryOut); errno != 0 {
		t.Fatalf("new name errno = %v", errno)
	}
}
