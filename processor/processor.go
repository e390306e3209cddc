// Package processor implements the per-method TURN/STUN request handlers:
// the state machine that sits between the wire codec and the session
// state held by the router package.
package processor

import (
	"context"
	"log/slog"
	"net"

	"github.com/kuuji/turngate/router"
	"github.com/kuuji/turngate/stun"
)

// Processor handles one message at a time for one (local interface,
// external address, remote address) context. It is safe for concurrent use
// by multiple goroutines; all mutable state lives in the Router.
type Processor struct {
	Router   *router.Router
	Software string
	log      *slog.Logger
}

// New creates a Processor backed by r. software is advertised in the
// SOFTWARE attribute of every reply that carries one.
func New(r *router.Router, software string, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{Router: r, Software: software, log: log.With("component", "processor")}
}

// Request carries the addressing context a single inbound frame was
// received under. ServerExternal is the server's externally-reachable
// address on the interface the frame arrived on (used for RESPONSE-ORIGIN
// and to validate CreatePermission/ChannelBind peer addresses).
type Request struct {
	IfaceIndex     int
	ServerExternal net.Addr
	Client         net.Addr
	IsTCP          bool
}

// Result is the outcome of processing one frame.
type Result struct {
	// Reply is the bytes to send, or nil to send nothing.
	Reply []byte
	// ForwardTo is the address Reply should be sent to. If nil, Reply goes
	// back to Request.Client on the same connection/socket it arrived on.
	ForwardTo net.Addr
}

// ProcessMessage dispatches a decoded STUN message to its handler. buf is
// the scratch buffer the reply is built into; callers should reset it to
// length zero before each call and must not reuse it until they're done
// with the returned Result. ok is false when the frame should be silently
// dropped (unknown method, forwarding target gone, etc).
func (p *Processor) ProcessMessage(ctx context.Context, req Request, m *stun.MessageReader, buf *[]byte) (Result, bool) {
	switch m.Method {
	case stun.MethodBinding:
		if m.Class != stun.ClassRequest {
			return Result{}, false
		}
		return p.handleBinding(req, m, buf)
	case stun.MethodAllocate:
		if m.Class != stun.ClassRequest {
			return Result{}, false
		}
		return p.handleAllocate(ctx, req, m, buf)
	case stun.MethodRefresh:
		if m.Class != stun.ClassRequest {
			return Result{}, false
		}
		return p.handleRefresh(ctx, req, m, buf)
	case stun.MethodCreatePermission:
		if m.Class != stun.ClassRequest {
			return Result{}, false
		}
		return p.handleCreatePermission(ctx, req, m, buf)
	case stun.MethodChannelBind:
		if m.Class != stun.ClassRequest {
			return Result{}, false
		}
		return p.handleChannelBind(ctx, req, m, buf)
	case stun.MethodSend:
		if m.Class != stun.ClassIndication {
			return Result{}, false
		}
		return p.handleSend(req, m, buf)
	default:
		return Result{}, false
	}
}

// ProcessChannelData forwards a ChannelData frame's payload to the peer
// bound to its channel, re-wrapping it in ChannelData framing for the
// target transport. ok is false (drop) when the channel is unbound.
func (p *Processor) ProcessChannelData(req Request, cd *stun.ChannelData) (Result, bool) {
	peer, ok := p.Router.ChannelPeer(req.Client, cd.Number)
	if !ok {
		return Result{}, false
	}
	frame := stun.BuildChannelData(cd.Number, cd.Payload, req.IsTCP)
	return Result{Reply: frame, ForwardTo: peer}, true
}

// authPrelude is the shared credential check for Allocate, Refresh,
// CreatePermission and ChannelBind: require USERNAME, derive/look up the
// long-term key, then verify MESSAGE-INTEGRITY. On any failure it returns
// a ready-to-send 401 error Result.
func (p *Processor) authPrelude(ctx context.Context, req Request, m *stun.MessageReader, buf *[]byte) (key [16]byte, username string, errResult Result, failed bool) {
	username, ok := m.Username()
	if !ok {
		return key, "", p.errorResponse(req, m, stun.CodeUnauthorized, buf), true
	}

	key, ok = p.Router.GetOrCreateKey(ctx, req.IfaceIndex, req.Client, username)
	if !ok {
		return key, username, p.errorResponse(req, m, stun.CodeUnauthorized, buf), true
	}

	if err := m.Integrity(key[:]); err != nil {
		return key, username, p.errorResponse(req, m, stun.CodeUnauthorized, buf), true
	}

	return key, username, Result{}, false
}

// errorResponse builds a STUN error reply carrying ERROR-CODE, REALM and
// (except for Binding, which never errors through this path) NONCE.
func (p *Processor) errorResponse(req Request, m *stun.MessageReader, code int, buf *[]byte) Result {
	*buf = (*buf)[:0]
	w, err := stun.NewMessage(m.Method, stun.ClassError, m.TransactionID, buf)
	if err != nil {
		return Result{}
	}
	w.AppendErrorCode(code)
	w.AppendRealm(p.Router.Realm)
	w.AppendNonce(p.Router.GetNonce(req.Client))
	return Result{Reply: w.Flush(nil)}
}
