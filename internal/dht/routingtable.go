package dht

import "sort"

// routingTable holds one bucket per bit of the ID space, indexed by the
// position of the most significant differing bit between the local node
// and a contact — the standard Kademlia layout.
type routingTable struct {
	self    ID
	buckets [idLength * 8]*bucket
}

func newRoutingTable(self ID) *routingTable {
	rt := &routingTable{self: self}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket()
	}
	return rt
}

// Update records a sighting of contact c, unless it is the local node.
func (rt *routingTable) Update(c Contact) {
	if c.ID.Equal(rt.self) {
		return
	}
	idx := bucketIndex(rt.self.Xor(c.ID))
	rt.buckets[idx].seen(c)
}

// Evict drops a contact that failed to respond to a liveness check.
func (rt *routingTable) Evict(c Contact) {
	idx := bucketIndex(rt.self.Xor(c.ID))
	rt.buckets[idx].evict(c.ID)
}

// LeastRecentlySeen returns the stalest contact in the bucket that would
// hold id, used to liveness-check before evicting in its favor.
func (rt *routingTable) LeastRecentlySeen(id ID) (Contact, bool) {
	idx := bucketIndex(rt.self.Xor(id))
	return rt.buckets[idx].least()
}

// BucketFull reports whether the bucket that would hold id is at capacity.
func (rt *routingTable) BucketFull(id ID) bool {
	idx := bucketIndex(rt.self.Xor(id))
	return rt.buckets[idx].len() >= bucketSize
}

// Closest returns up to n contacts closest to target, sorted ascending by
// XOR distance — the primitive that drives lookups and replication.
func (rt *routingTable) Closest(target ID, n int) []Contact {
	var all []Contact
	for _, b := range rt.buckets {
		all = append(all, b.all()...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.Xor(target).Less(all[j].ID.Xor(target))
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// All flattens every bucket, used for broadcast-style location queries.
func (rt *routingTable) All() []Contact {
	var all []Contact
	for _, b := range rt.buckets {
		all = append(all, b.all()...)
	}
	return all
}

func (rt *routingTable) Count() int {
	return len(rt.All())
}
