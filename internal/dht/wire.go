package dht

// msgType enumerates the wire protocol's RPC kinds. PING/STORE/FIND_NODE/
// FIND_VALUE mirror the classic Kademlia RPCs; LIST_LOCATION is this
// system's extension for the spec's enumerable path-index bucket, which
// has no equivalent in a canonical DHT (ordinary Kademlia has no
// enumeration primitive — ordinarily every key must be known in advance to
// be fetched).
type msgType string

const (
	msgPing              msgType = "PING"
	msgPong              msgType = "PONG"
	msgStore             msgType = "STORE"
	msgStoreOK           msgType = "STORE_OK"
	msgRemove            msgType = "REMOVE"
	msgRemoveOK          msgType = "REMOVE_OK"
	msgFindNode          msgType = "FIND_NODE"
	msgFindNodeReply     msgType = "FIND_NODE_REPLY"
	msgFindValue         msgType = "FIND_VALUE"
	msgFindValueReply    msgType = "FIND_VALUE_REPLY"
	msgListLocation      msgType = "LIST_LOCATION"
	msgListLocationReply msgType = "LIST_LOCATION_REPLY"
)

// envelope is the single wire message shape, CBOR-encoded per datagram.
type envelope struct {
	Type       msgType
	ReqID      string
	SenderID   ID
	SenderAddr string

	// STORE / REMOVE / FIND_VALUE / FIND_VALUE_REPLY
	Key   string
	Value []byte
	Found bool

	// FIND_NODE / FIND_NODE_REPLY
	Target   ID
	Contacts []Contact

	// LIST_LOCATION / LIST_LOCATION_REPLY
	Location string
	Entries  map[string][]byte
}
