package router

import (
	"context"
	"net"
	"time"
)

// Observer is the upward callback surface the embedding process provides:
// password lookup plus lifecycle notifications for every state-changing
// operation the router performs. Auth is the only hook permitted to block;
// the rest are invoked synchronously from the processor goroutine and must
// return promptly.
type Observer interface {
	// Auth looks up the plaintext password for a (address, username) pair
	// on the first credentialled request seen from that address.
	Auth(ctx context.Context, addr net.Addr, username string) (password string, ok bool)
	Allocated(addr net.Addr, username string, port uint16)
	Binding(addr net.Addr)
	ChannelBind(addr net.Addr, username string, channel uint16)
	CreatePermission(addr net.Addr, username string, peer net.Addr)
	Refresh(addr net.Addr, username string, lifetime time.Duration)
	Abort(addr net.Addr, username string)
}

// NopObserver implements Observer with no-op lifecycle hooks and an Auth
// that always rejects; embed it to implement only the hooks a host cares
// about.
type NopObserver struct{}

func (NopObserver) Auth(context.Context, net.Addr, string) (string, bool) { return "", false }
func (NopObserver) Allocated(net.Addr, string, uint16)                    {}
func (NopObserver) Binding(net.Addr)                                      {}
func (NopObserver) ChannelBind(net.Addr, string, uint16)                  {}
func (NopObserver) CreatePermission(net.Addr, string, net.Addr)           {}
func (NopObserver) Refresh(net.Addr, string, time.Duration)               {}
func (NopObserver) Abort(net.Addr, string)                                {}
