package router

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// channelLifetime is how long a channel binding stays active without a
// refreshing ChannelBind, per RFC 5766 Section 11.
const channelLifetime = 10 * time.Minute

// channelRebindGrace is how long after expiry a channel number may not be
// rebound to a different peer address, per RFC 5766 Section 11.
const channelRebindGrace = 5 * time.Minute

type channelEntry struct {
	ownerKey string
	channel  uint16
	peerKey  string
	peerAddr net.Addr
	deadline time.Time
}

type channelTable struct {
	mu  sync.Mutex
	byKey map[string]*channelEntry
}

func newChannelTable() *channelTable {
	return &channelTable{byKey: make(map[string]*channelEntry)}
}

func channelKey(ownerKey string, channel uint16) string {
	return fmt.Sprintf("%s|%d", ownerKey, channel)
}

// bind creates or refreshes a channel binding. Rejects rebinding to a
// different peer while the existing binding is still active or within its
// post-expiry grace window.
func (t *channelTable) bind(ownerKey string, channel uint16, peerKey string, peerAddr net.Addr, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := channelKey(ownerKey, channel)
	if existing, ok := t.byKey[k]; ok && existing.peerKey != peerKey {
		if now.Before(existing.deadline.Add(channelRebindGrace)) {
			return false
		}
	}

	t.byKey[k] = &channelEntry{
		ownerKey: ownerKey,
		channel:  channel,
		peerKey:  peerKey,
		peerAddr: peerAddr,
		deadline: now.Add(channelLifetime),
	}
	return true
}

func (t *channelTable) peerOf(ownerKey string, channel uint16) (net.Addr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byKey[channelKey(ownerKey, channel)]
	if !ok {
		return nil, false
	}
	return e.peerAddr, true
}

// deaths returns the (ownerKey, channel) pairs whose binding has been
// inactive past its lifetime.
func (t *channelTable) deaths(now time.Time) []struct {
	OwnerKey string
	Channel  uint16
} {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []struct {
		OwnerKey string
		Channel  uint16
	}
	for _, e := range t.byKey {
		if now.After(e.deadline) {
			out = append(out, struct {
				OwnerKey string
				Channel  uint16
			}{e.ownerKey, e.channel})
		}
	}
	return out
}

func (t *channelTable) remove(ownerKey string, channel uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, channelKey(ownerKey, channel))
}

// freeOwner removes every channel binding owned by ownerKey.
func (t *channelTable) freeOwner(ownerKey string, channels []uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range channels {
		delete(t.byKey, channelKey(ownerKey, ch))
	}
}
