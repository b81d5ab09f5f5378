package version

import (
	"context"
	"os"
	"testing"
)

type fakeStore struct {
	put    map[string][]byte
	removed map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{put: make(map[string][]byte), removed: make(map[string]bool)}
}

func (f *fakeStore) PutVersioned(ctx context.Context, key string, version int, data []byte) error {
	f.put[versionedKey(key, version)] = data
	return nil
}

func (f *fakeStore) RemoveVersioned(ctx context.Context, key string, version int) error {
	delete(f.put, versionedKey(key, version))
	f.removed[versionedKey(key, version)] = true
	return nil
}

func versionedKey(key string, version int) string {
	return key + "#" + string(rune('0'+version))
}

func TestArchiveSkipsEmptyPriorContent(t *testing.T) {
	store := newFakeStore()
	a := New(store, t.TempDir())

	if err := a.Archive(context.Background(), "/f.txt", nil); err != nil {
		t.Fatal(err)
	}
	if a.ChainLength("/f.txt") != 0 {
		t.Fatalf("chain length = %d, want 0", a.ChainLength("/f.txt"))
	}
}

func TestArchiveGrowsChainAndWritesLocalFile(t *testing.T) {
	store := newFakeStore()
	dir := t.TempDir()
	a := New(store, dir)
	ctx := context.Background()

	if err := a.Archive(ctx, "/f.txt", []byte("v0")); err != nil {
		t.Fatal(err)
	}
	if err := a.Archive(ctx, "/f.txt", []byte("v1")); err != nil {
		t.Fatal(err)
	}

	if got := a.ChainLength("/f.txt"); got != 2 {
		t.Fatalf("chain length = %d, want 2", got)
	}

	entries, err := os.ReadDir(a.VersionFolder("/f.txt"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d materialized version files, want 2", len(entries))
	}
}

func TestRemoveVersionsClearsChainAndFolder(t *testing.T) {
	store := newFakeStore()
	a := New(store, t.TempDir())
	ctx := context.Background()

	if err := a.Archive(ctx, "/f.txt", []byte("v0")); err != nil {
		t.Fatal(err)
	}
	if err := a.RemoveVersions(ctx, "/f.txt"); err != nil {
		t.Fatal(err)
	}

	if a.ChainLength("/f.txt") != 0 {
		t.Fatalf("chain length after removal = %d, want 0", a.ChainLength("/f.txt"))
	}
	if _, err := os.Stat(a.VersionFolder("/f.txt")); !os.IsNotExist(err) {
		t.Fatalf("version folder still exists after RemoveVersions")
	}
}
