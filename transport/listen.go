package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// ListenUDP binds a UDP socket at bind. When reusePort is true the socket is
// opened with SO_REUSEPORT (where the platform supports it) so several worker
// goroutines can each bind the same port and let the kernel spread datagrams
// across them.
func ListenUDP(ctx context.Context, bind string, reusePort bool) (*net.UDPConn, error) {
	var lc net.ListenConfig
	if reusePort {
		lc.Control = reusePortControl
	}
	pc, err := lc.ListenPacket(ctx, "udp", bind)
	if err != nil {
		return nil, errors.Wrapf(err, "binding udp %s", bind)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, errors.Errorf("binding udp %s: unexpected conn type %T", bind, pc)
	}
	return conn, nil
}

// ListenTCP binds a TCP listener at bind.
func ListenTCP(ctx context.Context, bind string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		return nil, errors.Wrapf(err, "binding tcp %s", bind)
	}
	return ln, nil
}
