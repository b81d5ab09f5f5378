package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/ctresc/peerfs/internal/eventbus"
	"github.com/ctresc/peerfs/internal/monitor"
	"github.com/ctresc/peerfs/internal/namespace"
)

type fakeSource struct {
	index   map[string][]byte
	content map[string][]byte
}

func (f *fakeSource) GetAllUnder(ctx context.Context, location string) (map[string][]byte, error) {
	return f.index, nil
}

func (f *fakeSource) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := f.content[key]
	return v, ok, nil
}

func TestSyncMaterializesUnknownPath(t *testing.T) {
	mirror := namespace.New()
	source := &fakeSource{
		index:   map[string][]byte{"/remote.txt": []byte("/remote.txt")},
		content: map[string][]byte{"/remote.txt": []byte("remote-data")},
	}

	s := New(source, mirror)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	n, err := mirror.Find("/remote.txt")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	f, ok := n.(*namespace.File)
	if !ok {
		t.Fatalf("expected a file, got %T", n)
	}
	if string(f.Bytes()) != "remote-data" {
		t.Fatalf("content = %q, want %q", f.Bytes(), "remote-data")
	}
}

func TestSyncSkipsUnchangedPathOnSecondPass(t *testing.T) {
	mirror := namespace.New()
	source := &fakeSource{
		index:   map[string][]byte{"/a.txt": []byte("/a.txt")},
		content: map[string][]byte{"/a.txt": []byte("v1")},
	}
	s := New(source, mirror)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	n, _ := mirror.Find("/a.txt")
	f := n.(*namespace.File)
	if string(f.Bytes()) != "v1" {
		t.Fatalf("content = %q, want %q", f.Bytes(), "v1")
	}
}

func TestSyncDoesNotRearmMonitorForMaterializedPath(t *testing.T) {
	bus := eventbus.New()
	events := make(chan monitor.CompleteWrite, 16)
	bus.Subscribe("CompleteWrite", eventbus.ListenerFunc(func(e eventbus.Event) {
		events <- e.(monitor.CompleteWrite)
	}))
	mon := monitor.New(monitor.Config{InitialCountdown: 1, TickInterval: 5 * time.Millisecond}, bus)
	mon.Start()
	t.Cleanup(mon.Terminate)

	mirror := namespace.New()
	mirror.SetMonitor(mon)

	source := &fakeSource{
		index:   map[string][]byte{"/remote.txt": []byte("/remote.txt")},
		content: map[string][]byte{"/remote.txt": []byte("remote-data")},
	}
	s := New(source, mirror)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	select {
	case e := <-events:
		t.Fatalf("syncer-originated materialization must not arm the monitor, got CompleteWrite %+v", e)
	case <-time.After(100 * time.Millisecond):
		// expected: nothing emitted
	}
}

func TestSyncInstallsUpdatedContentOnSubsequentPass(t *testing.T) {
	mirror := namespace.New()
	source := &fakeSource{
		index:   map[string][]byte{"/a.txt": []byte("/a.txt")},
		content: map[string][]byte{"/a.txt": []byte("v1")},
	}
	s := New(source, mirror)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	source.content["/a.txt"] = []byte("v2")
	if err := s.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	n, _ := mirror.Find("/a.txt")
	f := n.(*namespace.File)
	if string(f.Bytes()) != "v2" {
		t.Fatalf("content = %q, want %q", f.Bytes(), "v2")
	}
}
