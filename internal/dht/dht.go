package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/ctresc/peerfs/internal/logging"
	"github.com/ctresc/peerfs/internal/retry"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a key has no known value anywhere reachable.
var ErrNotFound = errors.New("dht: key not found")

// KeysLocation is the distinct location under which path-index entries
// live, so that every peer can enumerate all currently known paths without
// having to already know their names — spec.md §3's K_keys bucket.
const KeysLocation = "keys"

const (
	replicationFactor = 3 // alpha: how many closest peers each Put/Remove reaches
	lookupWidth       = 8 // how many closest peers a Get queries before giving up
)

// PeerChangeFunc is notified whenever the node's view of reachable peers
// changes size, driving C8's FS stat resizing.
type PeerChangeFunc func(peerCount int)

// Node is the DHT client (C1): a single participant in the overlay,
// exposing the flat put/get/remove operations, their versioned and
// location-scoped variants, and peer-map change notification.
type Node struct {
	self ID
	tr   *transport
	rt   *routingTable
	log  *zap.Logger

	mu    sync.RWMutex
	store map[string][]byte // composite "location|contentKey" -> value

	listenersMu sync.Mutex
	listeners   []PeerChangeFunc
	lastCount   int

	wg sync.WaitGroup
}

// New binds a UDP socket at addr and returns an otherwise unconnected node;
// call Join to introduce it to an existing overlay.
func New(addr string) (*Node, error) {
	log := logging.L().Named("dht")
	tr, err := newTransport(addr, log)
	if err != nil {
		return nil, fmt.Errorf("dht: listen: %w", err)
	}
	self := RandomID()

	n := &Node{
		self:  self,
		tr:    tr,
		rt:    newRoutingTable(self),
		log:   log,
		store: make(map[string][]byte),
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		tr.serve(n.handle)
	}()
	return n, nil
}

// LocalIP returns the address this node listens on.
func (n *Node) LocalIP() string {
	host, _, err := net.SplitHostPort(n.tr.localAddr())
	if err != nil {
		return n.tr.localAddr()
	}
	return host
}

// LocalPort returns the UDP port this node listens on, for registering
// with the bootstrap rendezvous alongside LocalIP (spec.md §6's
// {"address": "...", "port": "..."} registration shape).
func (n *Node) LocalPort() string {
	_, port, err := net.SplitHostPort(n.tr.localAddr())
	if err != nil {
		return ""
	}
	return port
}

// Join contacts bootstrapAddr and populates the routing table with a
// FIND_NODE lookup for the node's own ID, following the shape of the
// standard Kademlia join procedure.
func (n *Node) Join(ctx context.Context, bootstrapAddr string) error {
	reply, err := n.tr.call(ctx, bootstrapAddr, envelope{Type: msgPing, SenderID: n.self, SenderAddr: n.tr.localAddr()})
	if err != nil {
		return fmt.Errorf("dht: join ping: %w", err)
	}
	n.observe(Contact{ID: reply.SenderID, Addr: bootstrapAddr})
	n.lookupNode(ctx, n.self)
	return nil
}

// Shutdown closes the transport and waits for its goroutine to exit.
func (n *Node) Shutdown() error {
	n.tr.close()
	n.wg.Wait()
	return nil
}

// OnPeerMapChange registers cb to be called whenever the known peer count
// changes, driving the filesystem's block-count resizing (C8).
func (n *Node) OnPeerMapChange(cb PeerChangeFunc) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	n.listeners = append(n.listeners, cb)
}

func (n *Node) notifyPeerChange() {
	n.listenersMu.Lock()
	count := n.rt.Count()
	changed := count != n.lastCount
	n.lastCount = count
	cbs := append([]PeerChangeFunc(nil), n.listeners...)
	n.listenersMu.Unlock()

	if !changed {
		return
	}
	for _, cb := range cbs {
		cb(count)
	}
}

func (n *Node) observe(c Contact) {
	n.rt.Update(c)
	n.notifyPeerChange()
}

// --- flat key/value operations -------------------------------------------

// Put stores data under key, locally and on the closest known peers.
func (n *Node) Put(ctx context.Context, key string, data []byte) error {
	return n.putUnder(ctx, "", key, data)
}

// Get retrieves the value for key, consulting local storage first and then
// the closest known peers.
func (n *Node) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.getUnder(ctx, "", key)
}

// Remove deletes key locally and on the closest known peers.
func (n *Node) Remove(ctx context.Context, key string) error {
	return n.removeUnder(ctx, "", key)
}

// --- versioned operations --------------------------------------------------

func versionedKey(key string, version int) string {
	return key + "#" + strconv.Itoa(version)
}

// PutVersioned stores data as a distinct entry for (key, version), so the
// version chain for a path can hold more than one blob at once.
func (n *Node) PutVersioned(ctx context.Context, key string, version int, data []byte) error {
	return n.putUnder(ctx, "", versionedKey(key, version), data)
}

// GetVersioned retrieves the blob stored for (key, version).
func (n *Node) GetVersioned(ctx context.Context, key string, version int) ([]byte, bool, error) {
	return n.getUnder(ctx, "", versionedKey(key, version))
}

// RemoveVersioned deletes the blob stored for (key, version).
func (n *Node) RemoveVersioned(ctx context.Context, key string, version int) error {
	return n.removeUnder(ctx, "", versionedKey(key, version))
}

// --- location-scoped operations, used for the path index -------------------

// PutUnder stores data under (location, key), used to publish a path into
// the enumerable path-index bucket.
func (n *Node) PutUnder(ctx context.Context, location, key string, data []byte) error {
	return n.putUnder(ctx, location, key, data)
}

// RemoveUnder deletes the entry at (location, key).
func (n *Node) RemoveUnder(ctx context.Context, location, key string) error {
	return n.removeUnder(ctx, location, key)
}

// GetAllUnder returns every entry currently known to exist under location,
// merging this node's local store with a best-effort broadcast to every
// peer currently in the routing table. Canonical Kademlia has no
// enumeration primitive; the spec requires one for path discovery, so this
// node treats KeysLocation (and any other location) as a small,
// actively-gossiped namespace rather than a sharded one.
func (n *Node) GetAllUnder(ctx context.Context, location string) (map[string][]byte, error) {
	out := make(map[string][]byte)

	n.mu.RLock()
	prefix := location + "|"
	for k, v := range n.store {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	n.mu.RUnlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range n.rt.All() {
		wg.Add(1)
		go func(c Contact) {
			defer wg.Done()
			reply, err := n.tr.call(ctx, c.Addr, envelope{
				Type: msgListLocation, SenderID: n.self, SenderAddr: n.tr.localAddr(),
				Location: location,
			})
			if err != nil {
				return
			}
			mu.Lock()
			for k, v := range reply.Entries {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out, nil
}

// --- shared implementation --------------------------------------------------

func (n *Node) putUnder(ctx context.Context, location, key string, data []byte) error {
	composite := compositeKey(location, key)
	n.mu.Lock()
	n.store[composite] = data
	n.mu.Unlock()

	target := HashID(composite)
	for _, c := range n.rt.Closest(target, replicationFactor) {
		c := c
		go func() {
			_, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func(ctx context.Context) (envelope, error) {
				callCtx, cancel := context.WithTimeout(ctx, callTimeout())
				defer cancel()
				reply, err := n.tr.call(callCtx, c.Addr, envelope{
					Type: msgStore, SenderID: n.self, SenderAddr: n.tr.localAddr(),
					Key: composite, Value: data,
				})
				return reply, retry.Retryable(err)
			})
			if err != nil {
				n.log.Debug("dht: replication failed", zap.String("peer", c.Addr), zap.Error(err))
			}
		}()
	}
	return nil
}

func (n *Node) getUnder(ctx context.Context, location, key string) ([]byte, bool, error) {
	composite := compositeKey(location, key)

	n.mu.RLock()
	if v, ok := n.store[composite]; ok {
		n.mu.RUnlock()
		return v, true, nil
	}
	n.mu.RUnlock()

	target := HashID(composite)
	for _, c := range n.rt.Closest(target, lookupWidth) {
		reply, err := n.tr.call(ctx, c.Addr, envelope{
			Type: msgFindValue, SenderID: n.self, SenderAddr: n.tr.localAddr(),
			Key: composite,
		})
		if err != nil {
			continue
		}
		if reply.Found {
			return reply.Value, true, nil
		}
	}
	return nil, false, nil
}

func (n *Node) removeUnder(ctx context.Context, location, key string) error {
	composite := compositeKey(location, key)
	n.mu.Lock()
	delete(n.store, composite)
	n.mu.Unlock()

	for _, c := range n.rt.Closest(HashID(composite), replicationFactor) {
		c := c
		go func() {
			_, _ = n.tr.call(ctx, c.Addr, envelope{
				Type: msgRemove, SenderID: n.self, SenderAddr: n.tr.localAddr(),
				Key: composite,
			})
		}()
	}
	return nil
}

func compositeKey(location, key string) string {
	return location + "|" + key
}

// lookupNode sends one round of FIND_NODE queries for target to the
// contacts currently closest to it, populating the routing table with
// whatever contacts the replies name. Newly discovered contacts are not
// queried in turn.
func (n *Node) lookupNode(ctx context.Context, target ID) []Contact {
	shortlist := n.rt.Closest(target, lookupWidth)
	seen := map[ID]bool{n.self: true}
	for _, c := range shortlist {
		seen[c.ID] = true
	}

	for _, c := range shortlist {
		reply, err := n.tr.call(ctx, c.Addr, envelope{
			Type: msgFindNode, SenderID: n.self, SenderAddr: n.tr.localAddr(),
			Target: target,
		})
		if err != nil {
			continue
		}
		n.observe(Contact{ID: reply.SenderID, Addr: c.Addr})
		for _, found := range reply.Contacts {
			if !seen[found.ID] {
				seen[found.ID] = true
				n.observe(found)
			}
		}
	}
	return n.rt.Closest(target, lookupWidth)
}

// handle serves inbound requests from peers (as opposed to replies to our
// own outstanding calls, which transport.dispatch routes directly back to
// the caller).
func (n *Node) handle(env envelope, from *net.UDPAddr) {
	n.observe(Contact{ID: env.SenderID, Addr: env.SenderAddr})

	switch env.Type {
	case msgPing:
		n.tr.reply(env.SenderAddr, envelope{Type: msgPong, ReqID: env.ReqID, SenderID: n.self, SenderAddr: n.tr.localAddr()})

	case msgStore:
		n.mu.Lock()
		n.store[env.Key] = env.Value
		n.mu.Unlock()
		n.tr.reply(env.SenderAddr, envelope{Type: msgStoreOK, ReqID: env.ReqID, SenderID: n.self, SenderAddr: n.tr.localAddr()})

	case msgRemove:
		n.mu.Lock()
		delete(n.store, env.Key)
		n.mu.Unlock()
		n.tr.reply(env.SenderAddr, envelope{Type: msgRemoveOK, ReqID: env.ReqID, SenderID: n.self, SenderAddr: n.tr.localAddr()})

	case msgFindNode:
		closest := n.rt.Closest(env.Target, lookupWidth)
		n.tr.reply(env.SenderAddr, envelope{
			Type: msgFindNodeReply, ReqID: env.ReqID, SenderID: n.self, SenderAddr: n.tr.localAddr(),
			Contacts: closest,
		})

	case msgFindValue:
		n.mu.RLock()
		v, ok := n.store[env.Key]
		n.mu.RUnlock()
		n.tr.reply(env.SenderAddr, envelope{
			Type: msgFindValueReply, ReqID: env.ReqID, SenderID: n.self, SenderAddr: n.tr.localAddr(),
			Found: ok, Value: v,
		})

	case msgListLocation:
		n.mu.RLock()
		entries := make(map[string][]byte)
		prefix := env.Location + "|"
		for k, v := range n.store {
			if strings.HasPrefix(k, prefix) {
				entries[strings.TrimPrefix(k, prefix)] = v
			}
		}
		n.mu.RUnlock()
		n.tr.reply(env.SenderAddr, envelope{
			Type: msgListLocationReply, ReqID: env.ReqID, SenderID: n.self, SenderAddr: n.tr.localAddr(),
			Entries: entries,
		})
	}
}
