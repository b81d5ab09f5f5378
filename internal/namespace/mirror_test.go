package namespace

import (
	"bytes"
	"errors"
	"testing"
)

func TestCreateReadWriteRoundTrip(t *testing.T) {
	m := New()

	if _, err := m.Mkfile("/hello.txt"); err != nil {
		t.Fatalf("Mkfile: %v", err)
	}

	n, err := m.Write("/hello.txt", []byte("hi"), 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d bytes, want 2", n)
	}

	buf := make([]byte, 2)
	n, err = m.Read("/hello.txt", buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 || !bytes.Equal(buf, []byte("hi")) {
		t.Fatalf("read %q, want %q", buf[:n], "hi")
	}
}

func TestUnlinkThenGetattrIsNotExist(t *testing.T) {
	m := New()
	if _, err := m.Mkfile("/a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Delete("/a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Getattr("/a.txt"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("got %v, want ErrNotExist", err)
	}
}

func TestRenameMovesAttrs(t *testing.T) {
	m := New()
	if _, err := m.Mkfile("/a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write("/a.txt", []byte("abc"), 0); err != nil {
		t.Fatal(err)
	}

	before, err := m.Getattr("/a.txt")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Rename("/a.txt", "/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if _, err := m.Getattr("/a.txt"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("old path: got %v, want ErrNotExist", err)
	}

	after, err := m.Getattr("/b.txt")
	if err != nil {
		t.Fatalf("new path: %v", err)
	}
	if after.Size != before.Size {
		t.Fatalf("size changed across rename: before=%d after=%d", before.Size, after.Size)
	}
}

func TestMkdirRmdirRoundTrip(t *testing.T) {
	m := New()
	if _, err := m.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := m.Delete("/d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Find("/d"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("got %v, want ErrNotExist", err)
	}
}

func TestRmdirNonEmptyFails(t *testing.T) {
	m := New()
	if _, err := m.Mkdir("/d"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Mkfile("/d/f.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Delete("/d"); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("got %v, want ErrNotEmpty", err)
	}
}

func TestCreateHeuristicFileVsDirectory(t *testing.T) {
	m := New()

	n, err := m.Create("/archive.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(*File); !ok {
		t.Fatalf("expected a file for a dotted name, got %T", n)
	}

	n, err = m.Create("/bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(*Directory); !ok {
		t.Fatalf("expected a directory for a dotless name, got %T", n)
	}
}

type fakeMonitor struct {
	added   map[string][]byte
	removed map[string]bool
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{added: make(map[string][]byte), removed: make(map[string]bool)}
}

func (f *fakeMonitor) Add(path string, content []byte) { f.added[path] = content }
func (f *fakeMonitor) Remove(path string)              { f.removed[path] = true }

type fakeRemover struct {
	removedContent   map[string]bool
	removedPathIndex map[string]bool
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{removedContent: make(map[string]bool), removedPathIndex: make(map[string]bool)}
}

func (f *fakeRemover) Remove(path string) error {
	f.removedContent[path] = true
	return nil
}

func (f *fakeRemover) RemovePathIndex(path string) error {
	f.removedPathIndex[path] = true
	return nil
}

type fakeVersionRemover struct {
	removed map[string]bool
}

func newFakeVersionRemover() *fakeVersionRemover {
	return &fakeVersionRemover{removed: make(map[string]bool)}
}

func (f *fakeVersionRemover) RemoveVersions(path string) error {
	f.removed[path] = true
	return nil
}

func TestDeleteRemovesPathIndexAndVersions(t *testing.T) {
	m := New()
	rem := newFakeRemover()
	vers := newFakeVersionRemover()
	m.SetContentRemover(rem)
	m.SetVersionRemover(vers)

	if _, err := m.Mkfile("/a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Delete("/a.txt"); err != nil {
		t.Fatal(err)
	}

	if !rem.removedContent["/a.txt"] {
		t.Fatal("Delete did not remove the content key")
	}
	if !rem.removedPathIndex["/a.txt"] {
		t.Fatal("Delete did not remove the path-index key")
	}
	if !vers.removed["/a.txt"] {
		t.Fatal("Delete did not purge the version chain")
	}
}

func TestDeleteDirectoryDoesNotPurgeVersions(t *testing.T) {
	m := New()
	rem := newFakeRemover()
	vers := newFakeVersionRemover()
	m.SetContentRemover(rem)
	m.SetVersionRemover(vers)

	if _, err := m.Mkdir("/d"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Delete("/d"); err != nil {
		t.Fatal(err)
	}

	if vers.removed["/d"] {
		t.Fatal("Delete should not archive-remove a directory, per spec.md §4.3")
	}
	if !rem.removedPathIndex["/d"] {
		t.Fatal("Delete did not remove the directory's path-index key")
	}
}

func TestRenameRemovesOldPathIndex(t *testing.T) {
	m := New()
	rem := newFakeRemover()
	m.SetContentRemover(rem)

	if _, err := m.Mkfile("/a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := m.Rename("/a.txt", "/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if !rem.removedPathIndex["/a.txt"] {
		t.Fatal("Rename did not remove the old path's path-index key")
	}
}

func TestCreateQuietDoesNotArmMonitor(t *testing.T) {
	m := New()
	mon := newFakeMonitor()
	m.SetMonitor(mon)

	if _, err := m.CreateQuiet("/remote.txt"); err != nil {
		t.Fatal(err)
	}
	if _, ok := mon.added["/remote.txt"]; ok {
		t.Fatalf("CreateQuiet must not arm the monitor, got Add(%q, ...)", "/remote.txt")
	}

	if _, err := m.Create("/local.txt"); err != nil {
		t.Fatal(err)
	}
	if _, ok := mon.added["/local.txt"]; !ok {
		t.Fatal("Create should still arm the monitor for a directly-created file")
	}
}

func TestDuplicateNameFails(t *testing.T) {
	m := New()
	if _, err := m.Mkfile("/a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Mkfile("/a.txt"); !errors.Is(err, ErrExist) {
		t.Fatalf("got %v, want ErrExist", err)
	}
}

func TestTruncateZeroFillsExtension(t *testing.T) {
	m := New()
	if _, err := m.Mkfile("/f.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write("/f.txt", []byte("ab"), 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Truncate("/f.txt", 4); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	n, err := m.Read("/f.txt", buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'a', 'b', 0, 0}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("got %v, want %v", buf[:n], want)
	}
}

func TestEveryNodeReachableFromRoot(t *testing.T) {
	m := New()
	if _, err := m.Mkdir("/d"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Mkfile("/d/f.txt"); err != nil {
		t.Fatal(err)
	}

	n, err := m.Find("/d/f.txt")
	if err != nil {
		t.Fatal(err)
	}
	// Walk parent links back to root.
	cur := n
	depth := 0
	for cur.Parent() != nil {
		cur = cur.Parent()
		depth++
		if depth > 10 {
			t.Fatal("parent chain did not terminate at root")
		}
	}
	if cur != Node(m.Root()) {
		t.Fatalf("walking parent links did not reach root")
	}
}
