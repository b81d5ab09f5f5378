package dht

import (
	"context"
	"testing"
	"time"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { n.Shutdown() })
	return n
}

func joinPair(t *testing.T) (a, b *Node) {
	t.Helper()
	a = newTestNode(t)
	b = newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Join(ctx, a.tr.localAddr()); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return a, b
}

func TestPutGetRoundTripLocal(t *testing.T) {
	a := newTestNode(t)
	ctx := context.Background()

	if err := a.Put(ctx, "/hello.txt", []byte("hi")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := a.Get(ctx, "/hello.txt")
	if err != nil || !ok || string(v) != "hi" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestGetAcrossJoinedPeers(t *testing.T) {
	a, b := joinPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.Put(ctx, "/shared.txt", []byte("peer-data")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// b never called Put for this key; it either holds a replica from a's
	// asynchronous STORE or finds the value via FIND_VALUE against its one
	// known peer.
	v, ok, err := b.Get(ctx, "/shared.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "peer-data" {
		t.Fatalf("Get across peers = %q, %v", v, ok)
	}
}

func TestRemoveDeletesLocally(t *testing.T) {
	a := newTestNode(t)
	ctx := context.Background()

	if err := a.Put(ctx, "/x", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := a.Remove(ctx, "/x"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Get(ctx, "/x"); ok {
		t.Fatal("expected key to be gone after Remove")
	}
}

func TestVersionedPutGetAreIndependentFromFlatKey(t *testing.T) {
	a := newTestNode(t)
	ctx := context.Background()

	if err := a.Put(ctx, "/v.txt", []byte("current")); err != nil {
		t.Fatal(err)
	}
	if err := a.PutVersioned(ctx, "/v.txt", 1, []byte("old")); err != nil {
		t.Fatal(err)
	}

	cur, _, _ := a.Get(ctx, "/v.txt")
	old, _, _ := a.GetVersioned(ctx, "/v.txt", 1)
	if string(cur) != "current" || string(old) != "old" {
		t.Fatalf("got current=%q old=%q", cur, old)
	}
}

func TestGetAllUnderMergesLocalAndRemote(t *testing.T) {
	a, b := joinPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.PutUnder(ctx, KeysLocation, "k1", []byte("/a.txt")); err != nil {
		t.Fatal(err)
	}
	if err := b.PutUnder(ctx, KeysLocation, "k2", []byte("/b.txt")); err != nil {
		t.Fatal(err)
	}

	all, err := b.GetAllUnder(ctx, KeysLocation)
	if err != nil {
		t.Fatalf("GetAllUnder: %v", err)
	}
	if string(all["k1"]) != "/a.txt" || string(all["k2"]) != "/b.txt" {
		t.Fatalf("GetAllUnder = %+v", all)
	}
}

func TestOnPeerMapChangeFiresOnJoin(t *testing.T) {
	a := newTestNode(t)
	fired := make(chan int, 4)
	a.OnPeerMapChange(func(count int) { fired <- count })

	b := newTestNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Join(ctx, a.tr.localAddr()); err != nil {
		t.Fatal(err)
	}

	select {
	case count := <-fired:
		if count < 1 {
			t.Fatalf("got count %d, want >= 1", count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer change callback never fired")
	}
}
