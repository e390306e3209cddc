package router

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuuji/turngate/stun/stunutil"
)

type fakeObserver struct {
	passwords map[string]string
	aborted   []string
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{passwords: make(map[string]string)}
}

func (f *fakeObserver) Auth(_ context.Context, _ net.Addr, username string) (string, bool) {
	p, ok := f.passwords[username]
	return p, ok
}
func (f *fakeObserver) Allocated(net.Addr, string, uint16)          {}
func (f *fakeObserver) Binding(net.Addr)                            {}
func (f *fakeObserver) ChannelBind(net.Addr, string, uint16)        {}
func (f *fakeObserver) CreatePermission(net.Addr, string, net.Addr) {}
func (f *fakeObserver) Refresh(net.Addr, string, time.Duration)     {}
func (f *fakeObserver) Abort(addr net.Addr, username string) {
	f.aborted = append(f.aborted, username)
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestGetOrCreateKeyCachesAfterFirstAuth(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	obs.passwords["user1"] = "test"
	r := New("local-test", obs, nil)

	addr := udpAddr(40001)
	key1, ok := r.GetOrCreateKey(context.Background(), 0, addr, "user1")
	require.True(t, ok)
	require.Equal(t, stunutil.LongTermKey("user1", "local-test", "test"), key1)

	// Second call must not re-invoke Auth (password map cleared to prove it).
	delete(obs.passwords, "user1")
	key2, ok := r.GetOrCreateKey(context.Background(), 0, addr, "user1")
	require.True(t, ok)
	require.Equal(t, key1, key2)
}

func TestGetOrCreateKeyRejectsUnknownUser(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)

	_, ok := r.GetOrCreateKey(context.Background(), 0, udpAddr(40002), "ghost")
	require.False(t, ok)
}

func TestAllocPortExclusivity(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)

	a := udpAddr(1)
	b := udpAddr(2)

	portA, ok := r.AllocPort(a)
	require.True(t, ok)
	portB, ok := r.AllocPort(b)
	require.True(t, ok)
	require.NotEqual(t, portA, portB)

	ownerA, ok := r.PortOwner(portA)
	require.True(t, ok)
	require.Equal(t, a.String(), ownerA.String())
}

func TestBindPortAndPermission(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)

	client := udpAddr(10)
	peer := udpAddr(11)

	_, ok := r.AllocPort(client)
	require.True(t, ok)
	peerPort, ok := r.AllocPort(peer)
	require.True(t, ok)

	require.True(t, r.BindPort(client, peerPort))
	require.True(t, r.PeerPermitted(client, peer))

	other := udpAddr(12)
	require.False(t, r.PeerPermitted(client, other))
}

func TestBindChannelRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)
	client := udpAddr(20)
	peer := udpAddr(21)
	peerPort, _ := r.AllocPort(peer)

	require.False(t, r.BindChannel(client, peerPort, 0x1234))
}

func TestBindChannelRejectsRebindToDifferentPeer(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)

	client := udpAddr(30)
	peer1 := udpAddr(31)
	peer2 := udpAddr(32)
	peer1Port, _ := r.AllocPort(peer1)
	peer2Port, _ := r.AllocPort(peer2)

	require.True(t, r.BindChannel(client, peer1Port, 0x4000))
	require.False(t, r.BindChannel(client, peer2Port, 0x4000))

	// Rebinding to the same peer (refresh) is always allowed.
	require.True(t, r.BindChannel(client, peer1Port, 0x4000))

	gotPeer, ok := r.ChannelPeer(client, 0x4000)
	require.True(t, ok)
	require.Equal(t, peer1.String(), gotPeer.String())
}

func TestRefreshZeroRemovesNodeAndAborts(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	obs.passwords["user1"] = "test"
	r := New("local-test", obs, nil)

	addr := udpAddr(40)
	_, ok := r.GetOrCreateKey(context.Background(), 0, addr, "user1")
	require.True(t, ok)
	_, ok = r.AllocPort(addr)
	require.True(t, ok)

	r.Refresh(addr, 0)

	_, ok = r.GetNode(addr)
	require.False(t, ok)
	require.Contains(t, obs.aborted, "user1")

	// Re-authenticating must run Auth again (node was fully removed).
	delete(obs.passwords, "user1")
	_, ok = r.GetOrCreateKey(context.Background(), 0, addr, "user1")
	require.False(t, ok)
}

func TestRemoveFreesPorts(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)

	addr := udpAddr(50)
	port, ok := r.AllocPort(addr)
	require.True(t, ok)

	r.Remove(addr)

	_, ok = r.PortOwner(port)
	require.False(t, ok)

	// The freed port can be allocated to a different owner.
	other := udpAddr(51)
	_, ok = r.AllocPort(other)
	require.True(t, ok)
}

func TestGetNonceStableUntilTTL(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	r := New("local-test", obs, nil)
	r.NonceTTL = 50 * time.Millisecond

	addr := udpAddr(60)
	n1 := r.GetNonce(addr)
	n2 := r.GetNonce(addr)
	require.Equal(t, n1, n2)
	require.Len(t, n1, 16)

	time.Sleep(100 * time.Millisecond)
	n3 := r.GetNonce(addr)
	require.NotEqual(t, n1, n3)
}

func TestGetUsersStableOrder(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	obs.passwords["a"] = "pw"
	obs.passwords["b"] = "pw"
	r := New("local-test", obs, nil)

	ctx := context.Background()
	_, _ = r.GetOrCreateKey(ctx, 0, udpAddr(70), "a")
	_, _ = r.GetOrCreateKey(ctx, 0, udpAddr(71), "b")

	users := r.GetUsers(0, 10)
	require.Len(t, users, 2)
	require.Equal(t, "a", users[0].Username)
	require.Equal(t, "b", users[1].Username)
}

func TestReaperExpiresDeadNode(t *testing.T) {
	t.Parallel()
	obs := newFakeObserver()
	obs.passwords["user1"] = "test"
	r := New("local-test", obs, nil)

	addr := udpAddr(80)
	ctx := context.Background()
	_, ok := r.GetOrCreateKey(ctx, 0, addr, "user1")
	require.True(t, ok)
	r.Refresh(addr, time.Nanosecond)

	time.Sleep(5 * time.Millisecond)
	r.reap()

	_, ok = r.GetNode(addr)
	require.False(t, ok)
	require.Contains(t, obs.aborted, "user1")
}
