// Package dht implements the Kademlia-style DHT client (C1): key/value and
// versioned key/value operations, location enumeration for path discovery,
// and peer-map change notifications. The spec treats the raw transport as
// an external, interface-only collaborator; no Kademlia library exists
// anywhere in the retrieved reference corpus, so this is a compact
// from-scratch node — routing table, FIND_NODE lookup, UDP wire protocol —
// shaped the way github.com/adityasissodiya/d7024e's kademlia package
// documents its own layout (kademlia.go/network.go/wire.go/bucket.go/
// routingtable.go/kademliaid.go), with content-key hashing and wire
// encoding borrowed from the rest of the retrieved pack (blake3, cbor)
// instead of SHA-1 and a hand-rolled binary format.
package dht

import (
	"bytes"
	"math/rand"

	"github.com/zeebo/blake3"
)

// idLength is the width of a node/key ID in bytes (blake3-256).
const idLength = 32

// ID is a node or key identifier; XOR distance defines closeness.
type ID [idLength]byte

// HashID derives an ID from an arbitrary string. It places stored keys in
// the ID space (the hash of the composite "location|key" string) so their
// closest peers can be found; node IDs come from RandomID instead.
func HashID(s string) ID {
	sum := blake3.Sum256([]byte(s))
	var id ID
	copy(id[:], sum[:])
	return id
}

// RandomID returns a random ID, used to seed a node's own identity.
func RandomID() ID {
	var id ID
	rand.Read(id[:])
	return id
}

// String returns the hex form of the ID.
func (id ID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, idLength*2)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// Equal reports whether two IDs are identical.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id[:], other[:])
}

// Xor computes the XOR distance between two IDs.
func (id ID) Xor(other ID) ID {
	var out ID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Less reports whether id is numerically less than other, treating both as
// big-endian integers — used to compare distances.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// bucketIndex returns which of the 8*idLength k-buckets a contact with
// distance `dist` from the local node falls into: the index of its most
// significant set bit.
func bucketIndex(dist ID) int {
	for byteIdx, b := range dist {
		if b == 0 {
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return byteIdx*8 + (7 - bit)
			}
		}
	}
	return idLength*8 - 1
}
