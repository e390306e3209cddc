// Package observer provides the two router.Observer implementations turnd
// chooses between at config time: an in-memory password map for static
// long-term credentials, and a REST-API-backed one for time-limited
// credentials minted by a front-end service.
package observer

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kuuji/turngate/internal/restauth"
)

// Memory is a router.Observer backed by a fixed username→password map,
// useful for tests and small static deployments. Lifecycle hooks are logged
// at debug level; Auth is the only hook that can reject.
type Memory struct {
	mu        sync.RWMutex
	passwords map[string]string
	log       *slog.Logger
}

// NewMemory creates a Memory observer seeded with the given username→
// password pairs.
func NewMemory(passwords map[string]string, log *slog.Logger) *Memory {
	if log == nil {
		log = slog.Default()
	}
	cp := make(map[string]string, len(passwords))
	for k, v := range passwords {
		cp[k] = v
	}
	return &Memory{passwords: cp, log: log.With("component", "observer.memory")}
}

// SetPassword adds or replaces a user's password, for tests and dynamic
// provisioning.
func (m *Memory) SetPassword(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[username] = password
}

func (m *Memory) Auth(_ context.Context, _ net.Addr, username string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	password, ok := m.passwords[username]
	return password, ok
}

func (m *Memory) Allocated(addr net.Addr, username string, port uint16) {
	m.log.Debug("allocated", "addr", addr, "user", username, "port", port)
}

func (m *Memory) Binding(addr net.Addr) {
	m.log.Debug("binding", "addr", addr)
}

func (m *Memory) ChannelBind(addr net.Addr, username string, channel uint16) {
	m.log.Debug("channel bind", "addr", addr, "user", username, "channel", channel)
}

func (m *Memory) CreatePermission(addr net.Addr, username string, peer net.Addr) {
	m.log.Debug("create permission", "addr", addr, "user", username, "peer", peer)
}

func (m *Memory) Refresh(addr net.Addr, username string, lifetime time.Duration) {
	m.log.Debug("refresh", "addr", addr, "user", username, "lifetime", lifetime)
}

func (m *Memory) Abort(addr net.Addr, username string) {
	m.log.Debug("abort", "addr", addr, "user", username)
}

// REST is a router.Observer backed by the TURN REST API credential
// convention (internal/restauth): any syntactically valid, unexpired
// username is authenticated by reconstructing its password from the shared
// secret, without ever persisting a password.
type REST struct {
	secret string
	log    *slog.Logger
}

// NewREST creates a REST observer that accepts credentials minted from
// secret.
func NewREST(secret string, log *slog.Logger) *REST {
	if log == nil {
		log = slog.Default()
	}
	return &REST{secret: secret, log: log.With("component", "observer.rest")}
}

func (r *REST) Auth(_ context.Context, addr net.Addr, username string) (string, bool) {
	password, err := restauth.PasswordForUsername(r.secret, username)
	if err != nil {
		r.log.Debug("rest credential rejected", "addr", addr, "user", username, "error", err)
		return "", false
	}
	return password, true
}

func (r *REST) Allocated(addr net.Addr, username string, port uint16) {
	r.log.Debug("allocated", "addr", addr, "user", username, "port", port)
}

func (r *REST) Binding(addr net.Addr) {
	r.log.Debug("binding", "addr", addr)
}

func (r *REST) ChannelBind(addr net.Addr, username string, channel uint16) {
	r.log.Debug("channel bind", "addr", addr, "user", username, "channel", channel)
}

func (r *REST) CreatePermission(addr net.Addr, username string, peer net.Addr) {
	r.log.Debug("create permission", "addr", addr, "user", username, "peer", peer)
}

func (r *REST) Refresh(addr net.Addr, username string, lifetime time.Duration) {
	r.log.Debug("refresh", "addr", addr, "user", username, "lifetime", lifetime)
}

func (r *REST) Abort(addr net.Addr, username string) {
	r.log.Debug("abort", "addr", addr, "user", username)
}
