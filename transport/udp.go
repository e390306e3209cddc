// Package transport wires the stun/processor/router stack to real sockets:
// a UDP datagram loop and a TCP framed-stream loop, each turning inbound
// bytes into Processor calls and writing replies back out (or forwarding
// them to a peer looked up in the Router).
package transport

import (
	"context"
	"log/slog"
	"net"

	"github.com/pkg/errors"

	"github.com/kuuji/turngate/processor"
	"github.com/kuuji/turngate/stun"
)

// udpReadBufferSize is the fixed read buffer for UDP datagrams; TURN/STUN
// messages comfortably fit well under this, and a fragmented datagram is
// not a frame this server needs to reassemble.
const udpReadBufferSize = 2048

// UDPListener reads STUN messages and ChannelData frames off one bound UDP
// socket and feeds them through a shared Processor. One UDPListener is
// created per bound UDP socket; an interface configured with several
// workers gets one socket and listener per worker.
type UDPListener struct {
	conn       *net.UDPConn
	proc       *processor.Processor
	ifaceIndex int
	external   net.Addr
	log        *slog.Logger
}

// NewUDPListener wraps an already-bound UDP socket. external is the
// server's externally-reachable address on this interface, used for
// RESPONSE-ORIGIN and peer-address validation.
func NewUDPListener(conn *net.UDPConn, proc *processor.Processor, ifaceIndex int, external net.Addr, log *slog.Logger) *UDPListener {
	if log == nil {
		log = slog.Default()
	}
	return &UDPListener{
		conn:       conn,
		proc:       proc,
		ifaceIndex: ifaceIndex,
		external:   external,
		log:        log.With("component", "transport.udp", "bind", conn.LocalAddr().String()),
	}
}

// Run reads datagrams until ctx is canceled or the socket fails. The
// processor's scratch decoder and reply buffer are local to this goroutine,
// so concurrent UDPListeners never contend on them.
func (l *UDPListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	decoder := stun.NewDecoder()
	readBuf := make([]byte, udpReadBufferSize)
	var replyBuf []byte

	l.log.Info("udp listener started")
	for {
		n, addr, err := l.conn.ReadFromUDP(readBuf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "udp read")
		}

		result, ok := l.dispatch(ctx, decoder, addr, readBuf[:n], &replyBuf)
		if !ok {
			continue
		}

		target := net.Addr(addr)
		if result.ForwardTo != nil {
			target = result.ForwardTo
		}
		if _, err := l.conn.WriteTo(result.Reply, target); err != nil {
			l.log.Debug("udp write failed", "target", target, "error", err)
		}
	}
}

func (l *UDPListener) dispatch(ctx context.Context, decoder *stun.Decoder, addr *net.UDPAddr, frame []byte, replyBuf *[]byte) (processor.Result, bool) {
	payload, err := decoder.Decode(frame)
	if err != nil {
		l.log.Debug("dropping frame", "addr", addr, "error", err)
		return processor.Result{}, false
	}

	req := processor.Request{IfaceIndex: l.ifaceIndex, ServerExternal: l.external, Client: addr, IsTCP: false}
	switch payload.Kind {
	case stun.PayloadMessage:
		*replyBuf = (*replyBuf)[:0]
		return l.proc.ProcessMessage(ctx, req, payload.Message, replyBuf)
	case stun.PayloadChannelData:
		return l.proc.ProcessChannelData(req, payload.ChannelData)
	default:
		return processor.Result{}, false
	}
}
