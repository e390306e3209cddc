// Package router implements the process-wide session state a TURN server
// needs: client sessions, relay-port allocations, channel bindings and
// anti-replay nonces, each independently mutex-protected, plus a background
// reaper that expires stale state through the same path an operator-driven
// removal would take.
package router

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/kuuji/turngate/stun"
	"github.com/kuuji/turngate/stun/stunutil"
)

// DefaultLifetime is the initial/renewed allocation lifetime used when a
// request doesn't specify one, per RFC 8656 Section 7.2.
const DefaultLifetime = 600 * time.Second

// DefaultNonceTTL is how long a nonce remains valid before it is rotated.
const DefaultNonceTTL = time.Hour

// Router is the single source of truth for live sessions. Each sub-table
// method takes only that table's lock and releases it before returning, so
// no operation below ever holds two sub-table locks at once and they cannot
// deadlock one another.
type Router struct {
	Realm           string
	DefaultLifetime time.Duration
	NonceTTL        time.Duration

	observer Observer
	log      *slog.Logger

	nodes    *nodeTable
	ports    *portTable
	channels *channelTable
	nonces   *nonceTable
}

// New creates a Router bound to realm, backed by observer for password
// lookup and lifecycle notification.
func New(realm string, observer Observer, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		Realm:           realm,
		DefaultLifetime: DefaultLifetime,
		NonceTTL:        DefaultNonceTTL,
		observer:        observer,
		log:             log.With("component", "router"),
		nodes:           newNodeTable(),
		ports:           newPortTable(),
		channels:        newChannelTable(),
		nonces:          newNonceTable(),
	}
}

// Observer returns the Observer this Router was constructed with, so callers
// outside the package (the processor) can invoke the lifecycle hooks that
// aren't already wrapped by a Router method (Allocated, Binding, ChannelBind,
// CreatePermission, Refresh).
func (r *Router) Observer() Observer {
	return r.observer
}

func addrKey(addr net.Addr) string {
	return addr.Network() + ":" + addr.String()
}

// GetOrCreateKey returns the 16-byte long-term credential key for addr. If a
// node already exists for addr, its cached key is returned. Otherwise the
// Observer is asked for the plaintext password; if it declines, ok is
// false and no node is created.
func (r *Router) GetOrCreateKey(ctx context.Context, ifaceIndex int, addr net.Addr, username string) (key [16]byte, ok bool) {
	k := addrKey(addr)
	if n, found := r.nodes.get(k); found {
		return n.Key, true
	}

	password, found := r.observer.Auth(ctx, addr, username)
	if !found {
		return [16]byte{}, false
	}

	key = stunutil.LongTermKey(username, r.Realm, password)
	r.nodes.insert(k, &Node{
		Addr:       addr,
		Username:   username,
		Password:   password,
		Key:        key,
		IfaceIndex: ifaceIndex,
		Deadline:   time.Now().Add(r.DefaultLifetime),
	})
	return key, true
}

// GetNonce returns a stable nonce for addr, rotating it if stale.
func (r *Router) GetNonce(addr net.Addr) string {
	return r.nonces.get(addrKey(addr), time.Now(), r.NonceTTL)
}

// AllocPort allocates a free relay port for addr from the configured pool.
func (r *Router) AllocPort(addr net.Addr) (uint16, bool) {
	k := addrKey(addr)
	port, ok := r.ports.alloc(k, addr)
	if !ok {
		return 0, false
	}
	r.nodes.appendPort(k, port)
	return port, true
}

// BindPort grants peerPort's owning address permission to exchange traffic
// with owner's allocation. Returns false if owner has no allocation or
// peerPort is not currently bound to anyone.
func (r *Router) BindPort(owner net.Addr, peerPort uint16) bool {
	return r.ports.bind(addrKey(owner), peerPort)
}

// BindChannel binds channel (which must be in [0x4000, 0x7FFF]) under
// owner's allocation to the client currently holding peerPort.
func (r *Router) BindChannel(owner net.Addr, peerPort uint16, channel uint16) bool {
	if channel < stun.ChannelNumberMin || channel > stun.ChannelNumberMax {
		return false
	}
	peerAddr, ok := r.ports.ownerOf(peerPort)
	if !ok {
		return false
	}
	ownerKey := addrKey(owner)
	if !r.channels.bind(ownerKey, channel, addrKey(peerAddr), peerAddr, time.Now()) {
		return false
	}
	r.nodes.appendChannel(ownerKey, channel)
	return true
}

// ChannelPeer returns the peer address bound to channel under owner, used
// by the ChannelData forwarding fast path.
func (r *Router) ChannelPeer(owner net.Addr, channel uint16) (net.Addr, bool) {
	return r.channels.peerOf(addrKey(owner), channel)
}

// PortOwner returns the client address that owns relay port, used by the
// SendIndication forwarding path.
func (r *Router) PortOwner(port uint16) (net.Addr, bool) {
	return r.ports.ownerOf(port)
}

// RelayPort returns the relay port currently allocated to addr, if any. Used
// by SendIndication to tell a peer which relay port a forwarded DataIndication
// is coming from.
func (r *Router) RelayPort(addr net.Addr) (uint16, bool) {
	return r.ports.portOf(addrKey(addr))
}

// PeerPermitted reports whether peer is allowed to send to owner's
// allocation (a CreatePermission has been granted for it).
func (r *Router) PeerPermitted(owner, peer net.Addr) bool {
	return r.ports.permitted(addrKey(owner), addrKey(peer))
}

// Refresh updates addr's allocation lifetime. A lifetime of zero removes
// the node immediately (the client is explicitly deallocating).
func (r *Router) Refresh(addr net.Addr, lifetime time.Duration) {
	if lifetime > 0 {
		r.nodes.setDeadline(addrKey(addr), time.Now().Add(lifetime))
		return
	}
	r.Remove(addr)
}

// Remove tears down addr's node: its ports are freed, its channels
// removed, its nonce dropped, and the Observer is notified via Abort.
// Ports and the nonce held by addr are released even when no node exists
// for it; Abort fires only when a node was removed.
func (r *Router) Remove(addr net.Addr) {
	k := addrKey(addr)
	node, ok := r.nodes.remove(k)
	r.ports.free(k)
	if ok {
		r.channels.freeOwner(k, node.Channels)
	}
	r.nonces.remove(k)
	if ok {
		r.observer.Abort(addr, node.Username)
	}
}

// UserView is a read-only projection of a Node for control-plane listings;
// it never exposes the plaintext password or derived key.
type UserView struct {
	Addr     net.Addr
	Username string
	Deadline time.Time
	Ports    []uint16
	Channels []uint16
}

func viewOf(n *Node) UserView {
	return UserView{
		Addr:     n.Addr,
		Username: n.Username,
		Deadline: n.Deadline,
		Ports:    append([]uint16(nil), n.Ports...),
		Channels: append([]uint16(nil), n.Channels...),
	}
}

// GetUsers returns a page of live sessions, stable with respect to
// insertion order.
func (r *Router) GetUsers(skip, limit int) []UserView {
	nodes := r.nodes.users(skip, limit)
	out := make([]UserView, len(nodes))
	for i, n := range nodes {
		out[i] = viewOf(n)
	}
	return out
}

// GetNode returns the session for addr, if any.
func (r *Router) GetNode(addr net.Addr) (UserView, bool) {
	n, ok := r.nodes.get(addrKey(addr))
	if !ok {
		return UserView{}, false
	}
	return viewOf(n), true
}

// GetNodeAddrs returns every address currently authenticated as username.
func (r *Router) GetNodeAddrs(username string) []net.Addr {
	return r.nodes.addrsForUsername(username)
}
