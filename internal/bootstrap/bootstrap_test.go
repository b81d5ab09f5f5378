package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ctresc/peerfs/internal/retry"
)

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialWait = time.Millisecond
	cfg.MaxWait = 5 * time.Millisecond
	return cfg
}

func TestKeepaliveThenPeersRoundTrip(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ips":
			srv.handleIPs(w, r)
		case "/keepalive":
			srv.handleKeepalive(w, r)
		case "/deregister":
			srv.handleDeregister(w, r)
		}
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: fastRetry()})
	ctx := context.Background()

	if err := c.Keepalive(ctx, "10.0.0.5", "9000"); err != nil {
		t.Fatalf("Keepalive: %v", err)
	}

	peers, err := c.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 1 || peers[0].Address != "10.0.0.5" || peers[0].Port != "9000" {
		t.Fatalf("Peers = %+v", peers)
	}
	if !c.IsOnline() {
		t.Fatal("expected client to report online after a successful call")
	}

	if err := c.Deregister(ctx, "10.0.0.5", "9000"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	peers, err = c.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers after deregister: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("Peers after deregister = %+v, want empty", peers)
	}
}

func TestPeersReportsOfflineOnUnreachableServer(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", RetryConfig: fastRetry()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := c.Peers(ctx); err == nil {
		t.Fatal("expected an error contacting an unreachable server")
	}
	if c.IsOnline() {
		t.Fatal("expected client to report offline after a failed call")
	}
}
