package dht

import "container/list"

// bucketSize is Kademlia's k: the maximum number of contacts held per bucket.
const bucketSize = 20

// Contact is a known peer: its routing ID and dial address.
type Contact struct {
	ID   ID
	Addr string
}

// bucket holds up to bucketSize contacts, most-recently-seen at the back,
// matching the standard Kademlia LRU eviction policy: a newly seen contact
// moves to the back; a bucket at capacity prefers to keep its oldest live
// contact over admitting a new one.
type bucket struct {
	entries *list.List // of Contact
}

func newBucket() *bucket {
	return &bucket{entries: list.New()}
}

// seen records contact c as freshly observed.
func (b *bucket) seen(c Contact) {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Contact).ID.Equal(c.ID) {
			b.entries.MoveToBack(e)
			e.Value = c
			return
		}
	}
	if b.entries.Len() >= bucketSize {
		// Evict nothing automatically; the caller may ping the
		// least-recently-seen contact and evict it on failure.
		return
	}
	b.entries.PushBack(c)
}

// least returns the least-recently-seen contact, used to decide who to
// ping before evicting in favor of a new contact.
func (b *bucket) least() (Contact, bool) {
	e := b.entries.Front()
	if e == nil {
		return Contact{}, false
	}
	return e.Value.(Contact), true
}

// evict removes a contact by ID, making room for a replacement.
func (b *bucket) evict(id ID) {
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Contact).ID.Equal(id) {
			b.entries.Remove(e)
			return
		}
	}
}

// all returns every contact currently held in the bucket.
func (b *bucket) all() []Contact {
	out := make([]Contact, 0, b.entries.Len())
	for e := b.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Contact))
	}
	return out
}

func (b *bucket) len() int {
	return b.entries.Len()
}
