package processor

import (
	"context"
	"crypto/rand"
	"net"
	"strconv"
	"time"

	"github.com/kuuji/turngate/stun"
)

// splitAddr extracts an IP and port from a net.Addr without assuming the
// concrete type, since client addresses come from UDP sockets and peer
// addresses reconstructed from TCP connections alike.
func splitAddr(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		host, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil, 0
		}
		port, _ := strconv.Atoi(portStr)
		return net.ParseIP(host), port
	}
}

// handleBinding answers a plain STUN Binding request with the client's
// reflexive address. It is the only method that never requires credentials.
func (p *Processor) handleBinding(req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	*buf = (*buf)[:0]
	w, err := stun.Extend(stun.MethodBinding, stun.ClassSuccess, m, buf)
	if err != nil {
		return Result{}, false
	}

	clientIP, clientPort := splitAddr(req.Client)
	w.AppendXORAddress(stun.AttrXORMappedAddress, clientIP, clientPort)
	w.AppendMappedAddress(stun.AttrMappedAddress, clientIP, clientPort)

	originIP, originPort := splitAddr(req.ServerExternal)
	w.AppendMappedAddress(stun.AttrResponseOrigin, originIP, originPort)
	w.AppendSoftware(p.Software)

	reply := w.Flush(nil)
	p.Router.Observer().Binding(req.Client)
	return Result{Reply: reply}, true
}

// handleAllocate creates a relay port allocation for an authenticated client.
func (p *Processor) handleAllocate(ctx context.Context, req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	key, username, errResult, failed := p.authPrelude(ctx, req, m, buf)
	if failed {
		return errResult, true
	}

	if _, ok := m.RequestedTransport(); !ok {
		return p.errorResponse(req, m, stun.CodeServerError, buf), true
	}

	port, ok := p.Router.AllocPort(req.Client)
	if !ok {
		// Pool exhaustion surfaces as 401, not 508 — preserved legacy
		// behavior, see the open question in the design notes.
		return p.errorResponse(req, m, stun.CodeUnauthorized, buf), true
	}

	*buf = (*buf)[:0]
	w, err := stun.Extend(stun.MethodAllocate, stun.ClassSuccess, m, buf)
	if err != nil {
		return Result{}, false
	}

	serverIP, _ := splitAddr(req.ServerExternal)
	w.AppendXORAddress(stun.AttrXORRelayedAddress, serverIP, int(port))
	clientIP, clientPort := splitAddr(req.Client)
	w.AppendXORAddress(stun.AttrXORMappedAddress, clientIP, clientPort)
	w.AppendLifetime(uint32(p.Router.DefaultLifetime.Seconds()))
	w.AppendSoftware(p.Software)

	reply := w.Flush(key[:])
	p.Router.Observer().Allocated(req.Client, username, port)
	return Result{Reply: reply}, true
}

// handleRefresh renews or tears down (LIFETIME=0) an existing allocation.
func (p *Processor) handleRefresh(ctx context.Context, req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	key, username, errResult, failed := p.authPrelude(ctx, req, m, buf)
	if failed {
		return errResult, true
	}

	lifetime, ok := m.Lifetime()
	if !ok {
		lifetime = uint32(p.Router.DefaultLifetime.Seconds())
	}

	p.Router.Observer().Refresh(req.Client, username, time.Duration(lifetime)*time.Second)
	p.Router.Refresh(req.Client, time.Duration(lifetime)*time.Second)

	*buf = (*buf)[:0]
	w, err := stun.Extend(stun.MethodRefresh, stun.ClassSuccess, m, buf)
	if err != nil {
		return Result{}, false
	}
	w.AppendLifetime(lifetime)
	w.AppendSoftware(p.Software)

	reply := w.Flush(key[:])
	return Result{Reply: reply}, true
}

// handleCreatePermission grants a peer IP permission to exchange traffic with
// the caller's allocation.
func (p *Processor) handleCreatePermission(ctx context.Context, req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	key, username, errResult, failed := p.authPrelude(ctx, req, m, buf)
	if failed {
		return errResult, true
	}

	peerIP, peerPort, ok := m.XORAddress(stun.AttrXORPeerAddress)
	if !ok {
		return p.errorResponse(req, m, stun.CodeBadRequest, buf), true
	}

	serverIP, _ := splitAddr(req.ServerExternal)
	if !peerIP.Equal(serverIP) {
		return p.errorResponse(req, m, stun.CodeForbidden, buf), true
	}

	if !p.Router.BindPort(req.Client, uint16(peerPort)) {
		return p.errorResponse(req, m, stun.CodeForbidden, buf), true
	}
	peerAddr, _ := p.Router.PortOwner(uint16(peerPort))

	*buf = (*buf)[:0]
	w, err := stun.Extend(stun.MethodCreatePermission, stun.ClassSuccess, m, buf)
	if err != nil {
		return Result{}, false
	}
	w.AppendSoftware(p.Software)

	reply := w.Flush(key[:])
	p.Router.Observer().CreatePermission(req.Client, username, peerAddr)
	return Result{Reply: reply}, true
}

// handleChannelBind binds a 16-bit channel number to a peer under the
// caller's allocation.
func (p *Processor) handleChannelBind(ctx context.Context, req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	key, username, errResult, failed := p.authPrelude(ctx, req, m, buf)
	if failed {
		return errResult, true
	}

	peerIP, peerPort, ok := m.XORAddress(stun.AttrXORPeerAddress)
	if !ok {
		return p.errorResponse(req, m, stun.CodeBadRequest, buf), true
	}
	channel, ok := m.ChannelNumber()
	if !ok {
		return p.errorResponse(req, m, stun.CodeBadRequest, buf), true
	}

	serverIP, _ := splitAddr(req.ServerExternal)
	if !peerIP.Equal(serverIP) {
		return p.errorResponse(req, m, stun.CodeForbidden, buf), true
	}
	if channel < stun.ChannelNumberMin || channel > stun.ChannelNumberMax {
		return p.errorResponse(req, m, stun.CodeBadRequest, buf), true
	}

	if !p.Router.BindChannel(req.Client, uint16(peerPort), channel) {
		return p.errorResponse(req, m, stun.CodeInsufficientCapacity, buf), true
	}

	*buf = (*buf)[:0]
	w, err := stun.Extend(stun.MethodChannelBind, stun.ClassSuccess, m, buf)
	if err != nil {
		return Result{}, false
	}
	w.AppendSoftware(p.Software)

	reply := w.Flush(key[:])
	p.Router.Observer().ChannelBind(req.Client, username, channel)
	return Result{Reply: reply}, true
}

// handleSend forwards a SendIndication's payload to its peer as a
// DataIndication, rewriting XOR-PEER-ADDRESS to the sender's own relay port
// (so the peer sees traffic as coming from the relay, not the real client).
// Unauthenticated, per RFC 8656: indications are not credentialled.
func (p *Processor) handleSend(req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	_, peerPort, ok := m.XORAddress(stun.AttrXORPeerAddress)
	if !ok {
		return Result{}, false
	}
	data, ok := m.Data()
	if !ok {
		return Result{}, false
	}

	peerAddr, ok := p.Router.PortOwner(uint16(peerPort))
	if !ok {
		return Result{}, false
	}
	senderPort, ok := p.Router.RelayPort(req.Client)
	if !ok {
		return Result{}, false
	}

	var txID stun.TransactionID
	if _, err := rand.Read(txID[:]); err != nil {
		return Result{}, false
	}

	*buf = (*buf)[:0]
	w, err := stun.NewMessage(stun.MethodData, stun.ClassIndication, txID, buf)
	if err != nil {
		return Result{}, false
	}

	serverIP, _ := splitAddr(req.ServerExternal)
	w.AppendXORAddress(stun.AttrXORPeerAddress, serverIP, int(senderPort))
	w.AppendData(data)

	reply := w.FlushNoFingerprint(nil)
	return Result{Reply: reply, ForwardTo: peerAddr}, true
}
