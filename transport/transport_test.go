package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuuji/turngate/internal/observer"
	"github.com/kuuji/turngate/processor"
	"github.com/kuuji/turngate/router"
	"github.com/kuuji/turngate/stun"
	"github.com/kuuji/turngate/stun/stunutil"
)

const (
	realm    = "local-test"
	username = "user1"
	password = "test"
)

func newStack(t *testing.T) (*router.Router, *processor.Processor) {
	t.Helper()
	obs := observer.NewMemory(map[string]string{username: password}, nil)
	r := router.New(realm, obs, nil)
	return r, processor.New(r, "turngate-test", nil)
}

func bindingRequest(t *testing.T, txID stun.TransactionID) []byte {
	t.Helper()
	var buf []byte
	w, err := stun.NewMessage(stun.MethodBinding, stun.ClassRequest, txID, &buf)
	require.NoError(t, err)
	return w.Flush(nil)
}

func allocateRequest(t *testing.T) []byte {
	t.Helper()
	key := stunutil.LongTermKey(username, realm, password)
	var buf []byte
	w, err := stun.NewMessage(stun.MethodAllocate, stun.ClassRequest, stun.TransactionID{9}, &buf)
	require.NoError(t, err)
	w.Append(stun.AttrRequestedTransport, []byte{stun.TransportUDP, 0, 0, 0})
	w.AppendUsername(username)
	w.AppendRealm(realm)
	w.AppendNonce("noncevalue")
	return w.Flush(key[:])
}

func decodeMessage(t *testing.T, frame []byte) *stun.MessageReader {
	t.Helper()
	payload, err := stun.NewDecoder().Decode(frame)
	require.NoError(t, err)
	require.Equal(t, stun.PayloadMessage, payload.Kind)
	return payload.Message
}

func TestUDPListenerBinding(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, proc := newStack(t)
	conn, err := ListenUDP(ctx, "127.0.0.1:0", false)
	require.NoError(t, err)

	l := NewUDPListener(conn, proc, 0, conn.LocalAddr(), nil)
	go func() { _ = l.Run(ctx) }()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	txID := stun.TransactionID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	_, err = client.Write(bindingRequest(t, txID))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	require.NoError(t, err)

	reply := decodeMessage(t, buf[:n])
	require.Equal(t, stun.MethodBinding, reply.Method)
	require.Equal(t, stun.ClassSuccess, reply.Class)
	require.Equal(t, txID, reply.TransactionID)

	ip, port, ok := reply.XORAddress(stun.AttrXORMappedAddress)
	require.True(t, ok)
	local := client.LocalAddr().(*net.UDPAddr)
	require.True(t, ip.Equal(local.IP))
	require.Equal(t, local.Port, port)

	origIP, origPort, ok := reply.MappedAddress(stun.AttrResponseOrigin)
	require.True(t, ok)
	server := conn.LocalAddr().(*net.UDPAddr)
	require.True(t, origIP.Equal(server.IP))
	require.Equal(t, server.Port, origPort)
}

// readFrame reads one complete STUN/ChannelData frame off a stream, using
// the same size probe the server-side reassembly uses.
func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var buf []byte
	// One byte per read, so nothing past this frame is consumed and a
	// following frame is left on the stream for the next call.
	chunk := make([]byte, 1)
	for {
		if size, err := stun.MessageSize(buf, true); err == nil && size <= len(buf) {
			return buf[:size]
		}
		n, err := conn.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
}

func TestTCPListenerReassemblesSplitFrames(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, proc := newStack(t)
	ln, err := ListenTCP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	l := NewTCPListener(ln, proc, r, 0, ln.Addr(), nil)
	go func() { _ = l.Run(ctx) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// One request delivered a byte at a time must still produce exactly
	// one reply.
	txID := stun.TransactionID{0xAA, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	req := bindingRequest(t, txID)
	for _, b := range req {
		_, err := conn.Write([]byte{b})
		require.NoError(t, err)
	}

	reply := decodeMessage(t, readFrame(t, conn))
	require.Equal(t, stun.ClassSuccess, reply.Class)
	require.Equal(t, txID, reply.TransactionID)
}

func TestTCPListenerHandlesCoalescedFrames(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, proc := newStack(t)
	ln, err := ListenTCP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	l := NewTCPListener(ln, proc, r, 0, ln.Addr(), nil)
	go func() { _ = l.Run(ctx) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Two requests in a single write must produce two replies, in order.
	tx1 := stun.TransactionID{1}
	tx2 := stun.TransactionID{2}
	combined := append(append([]byte{}, bindingRequest(t, tx1)...), bindingRequest(t, tx2)...)
	_, err = conn.Write(combined)
	require.NoError(t, err)

	first := decodeMessage(t, readFrame(t, conn))
	require.Equal(t, tx1, first.TransactionID)
	second := decodeMessage(t, readFrame(t, conn))
	require.Equal(t, tx2, second.TransactionID)
}

func TestTCPCloseCascadesToRouterRemove(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, proc := newStack(t)
	ln, err := ListenTCP(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	l := NewTCPListener(ln, proc, r, 0, ln.Addr(), nil)
	go func() { _ = l.Run(ctx) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	_, err = conn.Write(allocateRequest(t))
	require.NoError(t, err)

	reply := decodeMessage(t, readFrame(t, conn))
	require.Equal(t, stun.ClassSuccess, reply.Class)

	clientAddr := conn.LocalAddr()
	_, ok := r.GetNode(&net.TCPAddr{
		IP:   clientAddr.(*net.TCPAddr).IP,
		Port: clientAddr.(*net.TCPAddr).Port,
	})
	require.True(t, ok)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, ok := r.GetNode(clientAddr)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListenUDPReusePortDoubleBind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first, err := ListenUDP(ctx, "127.0.0.1:0", true)
	if err != nil {
		t.Skipf("SO_REUSEPORT not supported here: %v", err)
	}
	defer first.Close()

	second, err := ListenUDP(ctx, first.LocalAddr().String(), true)
	if err != nil {
		t.Skipf("SO_REUSEPORT double bind not supported here: %v", err)
	}
	defer second.Close()

	require.Equal(t, first.LocalAddr().String(), second.LocalAddr().String())
}
