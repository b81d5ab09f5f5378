package dht

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxDatagram = 65507

// transport owns the UDP socket and matches outgoing requests to their
// replies by request ID, the way the teacher's bootstrap client matches
// HTTP round trips by blocking on the call site instead.
type transport struct {
	conn *net.UDPConn
	log  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan envelope

	handler func(envelope, *net.UDPAddr)

	closeOnce sync.Once
	done      chan struct{}
}

func newTransport(addr string, log *zap.Logger) (*transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &transport{
		conn:    conn,
		log:     log,
		pending: make(map[string]chan envelope),
		done:    make(chan struct{}),
	}, nil
}

func (t *transport) localAddr() string {
	return t.conn.LocalAddr().String()
}

func (t *transport) serve(handler func(envelope, *net.UDPAddr)) {
	t.handler = handler
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.Warn("dht: read failed", zap.Error(err))
				continue
			}
		}
		var env envelope
		if err := cbor.Unmarshal(buf[:n], &env); err != nil {
			t.log.Warn("dht: malformed datagram", zap.Error(err))
			continue
		}
		t.dispatch(env, from)
	}
}

func (t *transport) dispatch(env envelope, from *net.UDPAddr) {
	t.mu.Lock()
	ch, waiting := t.pending[env.ReqID]
	t.mu.Unlock()

	if waiting && isReply(env.Type) {
		select {
		case ch <- env:
		default:
		}
		return
	}
	if t.handler != nil {
		t.handler(env, from)
	}
}

func isReply(t msgType) bool {
	switch t {
	case msgPong, msgStoreOK, msgRemoveOK, msgFindNodeReply, msgFindValueReply, msgListLocationReply:
		return true
	}
	return false
}

func (t *transport) send(addr string, env envelope) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	data, err := cbor.Marshal(env)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(data, udpAddr)
	return err
}

// call sends env to addr and blocks for a matching reply, honoring ctx.
func (t *transport) call(ctx context.Context, addr string, env envelope) (envelope, error) {
	if env.ReqID == "" {
		env.ReqID = uuid.NewString()
	}
	ch := make(chan envelope, 1)
	t.mu.Lock()
	t.pending[env.ReqID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, env.ReqID)
		t.mu.Unlock()
	}()

	if err := t.send(addr, env); err != nil {
		return envelope{}, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

func (t *transport) reply(addr string, env envelope) {
	if err := t.send(addr, env); err != nil {
		t.log.Warn("dht: reply send failed", zap.Error(err), zap.String("addr", addr))
	}
}

func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}

func callTimeout() time.Duration { return 2 * time.Second }
