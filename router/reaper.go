package router

import (
	"context"
	"time"
)

// reapInterval is how often the reaper sweeps for expired state.
const reapInterval = 60 * time.Second

// Run starts the reaper loop, which wakes every reapInterval and removes
// expired nodes (through Remove, so Observer.Abort fires and cascades run)
// and expired channel bindings (directly, since a channel timing out does
// not tear down the owning node). It blocks until ctx is canceled. Because
// expiry is only checked once per sweep, a node or channel can outlive its
// deadline by up to one reapInterval.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopping")
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *Router) reap() {
	now := time.Now()

	for _, n := range r.nodes.deaths(now) {
		r.log.Debug("reaping expired node", "addr", n.Addr.String(), "username", n.Username)
		r.Remove(n.Addr)
	}

	for _, dead := range r.channels.deaths(now) {
		r.log.Debug("reaping expired channel", "owner", dead.OwnerKey, "channel", dead.Channel)
		r.channels.remove(dead.OwnerKey, dead.Channel)
	}
}
