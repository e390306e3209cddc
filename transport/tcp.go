package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/kuuji/turngate/processor"
	"github.com/kuuji/turngate/router"
	"github.com/kuuji/turngate/stun"
)

// tcpReadChunk is how much we read off the wire at a time; STUN frames are
// reassembled from as many chunks as it takes.
const tcpReadChunk = 4096

// TCPListener accepts TURN-over-TCP connections and reassembles the
// length-prefixed frame stream per connection. Forwarded indications whose
// peer is itself a TCP client are delivered by writing directly into that
// peer's connection, looked up by client address rather than opened fresh.
type TCPListener struct {
	ln         net.Listener
	proc       *processor.Processor
	router     *router.Router
	ifaceIndex int
	external   net.Addr
	log        *slog.Logger

	mu     sync.Mutex
	owners map[string]net.Conn
}

// NewTCPListener wraps an already-listening TCP socket.
func NewTCPListener(ln net.Listener, proc *processor.Processor, r *router.Router, ifaceIndex int, external net.Addr, log *slog.Logger) *TCPListener {
	if log == nil {
		log = slog.Default()
	}
	return &TCPListener{
		ln:         ln,
		proc:       proc,
		router:     r,
		ifaceIndex: ifaceIndex,
		external:   external,
		log:        log.With("component", "transport.tcp", "bind", ln.Addr().String()),
		owners:     make(map[string]net.Conn),
	}
}

// Run accepts connections until ctx is canceled or the listener fails.
// Each accepted connection is served from its own goroutine.
func (l *TCPListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	l.log.Info("tcp listener started")
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "tcp accept")
		}
		go l.handleConn(ctx, conn)
	}
}

func ownerKey(addr net.Addr) string {
	return addr.Network() + ":" + addr.String()
}

func (l *TCPListener) register(addr net.Addr, conn net.Conn) {
	l.mu.Lock()
	l.owners[ownerKey(addr)] = conn
	l.mu.Unlock()
}

func (l *TCPListener) unregister(addr net.Addr) {
	l.mu.Lock()
	delete(l.owners, ownerKey(addr))
	l.mu.Unlock()
}

func (l *TCPListener) lookup(addr net.Addr) (net.Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.owners[ownerKey(addr)]
	return c, ok
}

// handleConn reassembles framed messages off one connection. A closed
// connection tears down every session it held in the router; a TCP client
// only ever holds one.
func (l *TCPListener) handleConn(ctx context.Context, conn net.Conn) {
	clientAddr := conn.RemoteAddr()
	l.register(clientAddr, conn)
	defer func() {
		l.unregister(clientAddr)
		l.router.Remove(clientAddr)
		_ = conn.Close()
	}()

	decoder := stun.NewDecoder()
	var buf []byte
	var replyBuf []byte
	chunk := make([]byte, tcpReadChunk)

	for {
		for {
			size, err := stun.MessageSize(buf, true)
			if err != nil || size > len(buf) {
				break
			}
			l.processFrame(ctx, decoder, conn, clientAddr, buf[:size], &replyBuf)
			remaining := copy(buf, buf[size:])
			buf = buf[:remaining]
		}

		n, err := conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

func (l *TCPListener) processFrame(ctx context.Context, decoder *stun.Decoder, conn net.Conn, clientAddr net.Addr, frame []byte, replyBuf *[]byte) {
	payload, err := decoder.Decode(frame)
	if err != nil {
		l.log.Debug("dropping frame", "addr", clientAddr, "error", err)
		return
	}

	req := processor.Request{IfaceIndex: l.ifaceIndex, ServerExternal: l.external, Client: clientAddr, IsTCP: true}

	var result processor.Result
	var ok bool
	switch payload.Kind {
	case stun.PayloadMessage:
		*replyBuf = (*replyBuf)[:0]
		result, ok = l.proc.ProcessMessage(ctx, req, payload.Message, replyBuf)
	case stun.PayloadChannelData:
		result, ok = l.proc.ProcessChannelData(req, payload.ChannelData)
	}
	if !ok {
		return
	}
	l.deliver(conn, result)
}

func (l *TCPListener) deliver(conn net.Conn, result processor.Result) {
	if result.ForwardTo == nil {
		if _, err := conn.Write(result.Reply); err != nil {
			l.log.Debug("tcp write failed", "error", err)
		}
		return
	}

	target, ok := l.lookup(result.ForwardTo)
	if !ok {
		// The peer isn't a TCP client on this listener. TURN clients
		// pick one transport and keep it, so this only happens for
		// mixed-transport peers, which this server doesn't bridge.
		l.log.Debug("forward target not a tcp owner", "addr", result.ForwardTo)
		return
	}
	if _, err := target.Write(result.Reply); err != nil {
		l.log.Debug("tcp forward failed", "addr", result.ForwardTo, "error", err)
	}
}
