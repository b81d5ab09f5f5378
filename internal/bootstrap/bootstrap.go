// Package bootstrap implements the rendezvous client (§4 External
// Interfaces): a small HTTP client that registers this peer's address with
// a well-known rendezvous service and periodically renews that
// registration, so a freshly started peer has somewhere to ask "who else
// is out there" before its own routing table has any entries. Shaped
// after the teacher's shared/pkg/client HTTP client (http.Client with a
// tuned Transport, retry-wrapped calls, an online/offline flag) applied
// to a much smaller API surface: GET /ips, POST /keepalive, POST
// /deregister.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ctresc/peerfs/internal/logging"
	"github.com/ctresc/peerfs/internal/retry"
	"go.uber.org/zap"
)

// Peer is one rendezvous registration entry, matching spec.md §6's wire
// shape for GET /ips: {"address": "...", "port": "..."}.
type Peer struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

// Addr joins Address and Port into a dial-able "host:port" string.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Address, p.Port)
}

// Client talks to a rendezvous service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Config

	mu     sync.RWMutex
	online bool
}

// Config configures the rendezvous client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// New creates a rendezvous client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    20,
				IdleConnTimeout: 60 * time.Second,
			},
		},
		retry:  cfg.RetryConfig,
		online: true,
	}
}

// IsOnline reports whether the last call to the rendezvous service
// succeeded.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

// Peers fetches the set of known peers from the rendezvous service (GET
// /ips), which returns a JSON list of {"address", "port"} objects per
// spec.md §6.
func (c *Client) Peers(ctx context.Context) ([]Peer, error) {
	var peers []Peer
	_, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ips", nil)
		if err != nil {
			return struct{}{}, retry.RetryableError{Err: err}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.setOnline(false)
			return struct{}{}, retry.RetryableError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.setOnline(false)
			return struct{}{}, fmt.Errorf("bootstrap: GET /ips: status %d", resp.StatusCode)
		}
		var body []Peer
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return struct{}{}, fmt.Errorf("bootstrap: decode /ips: %w", err)
		}
		c.setOnline(true)
		peers = body
		return struct{}{}, nil
	})
	return peers, err
}

// Keepalive registers {address, port} with the rendezvous service (POST
// /keepalive), renewing the registration if already present.
func (c *Client) Keepalive(ctx context.Context, address, port string) error {
	return c.post(ctx, "/keepalive", Peer{Address: address, Port: port})
}

// Deregister removes {address, port} from the rendezvous service's
// registry. Called from the process-exit hook on unmount per spec.md §5.
func (c *Client) Deregister(ctx context.Context, address, port string) error {
	return c.post(ctx, "/deregister", Peer{Address: address, Port: port})
}

func (c *Client) post(ctx context.Context, path string, payload Peer) error {
	_, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return struct{}{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
		if err != nil {
			return struct{}{}, retry.RetryableError{Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.setOnline(false)
			return struct{}{}, retry.RetryableError{Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			c.setOnline(false)
			return struct{}{}, fmt.Errorf("bootstrap: POST %s: status %d", path, resp.StatusCode)
		}
		c.setOnline(true)
		return struct{}{}, nil
	})
	return err
}

// RunKeepalive renews {address, port}'s registration every interval until
// ctx is cancelled, logging (rather than failing the process on) transient
// rendezvous outages.
func (c *Client) RunKeepalive(ctx context.Context, address, port string, interval time.Duration) {
	log := logging.L().Named("bootstrap")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Keepalive(ctx, address, port); err != nil {
				log.Warn("keepalive failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
