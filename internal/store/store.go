// Package store is the explicit application-state container the UI
// reads from. It replaces an ambient process-wide singleton with a value
// that is passed into the session manager and mutation actions, and has
// a defined lifecycle: Init, ResetSession, Teardown.
package store

import (
	"sync"

	"github.com/magefree/mage-table-go/internal/join"
	"github.com/magefree/mage-table-go/internal/presence"
	"github.com/magefree/mage-table-go/internal/table"
	"github.com/magefree/mage-table-go/internal/transport"
)

// Container holds the reconciled table state plus session-level flags.
type Container struct {
	mu          sync.RWMutex
	initialized bool
	sessionID   string
	playerID    string
	snapshot    table.Snapshot
	joinBlocked join.BlockReason
	status      transport.Status
	peers       presence.PeerCounts
	subscribers map[int]func()
	nextSubID   int
}

// NewContainer creates an empty, uninitialized container.
func NewContainer() *Container {
	return &Container{subscribers: make(map[int]func())}
}

// Init prepares the container for use.
func (c *Container) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.snapshot = table.NewSnapshot()
	c.status = transport.StatusDisconnected
}

// ResetSession clears all per-room state and records the new current
// session and resolved local player id. Called when the room or player
// id changed since the last mount.
func (c *Container) ResetSession(sessionID, playerID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.playerID = playerID
	c.snapshot = table.NewSnapshot()
	c.joinBlocked = ""
	c.peers = presence.PeerCounts{}
	c.mu.Unlock()
	c.notify()
}

// Teardown drops everything, including subscribers.
func (c *Container) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.sessionID = ""
	c.playerID = ""
	c.snapshot = table.Snapshot{}
	c.joinBlocked = ""
	c.subscribers = make(map[int]func())
}

// CurrentSessionID returns the session the container currently serves.
func (c *Container) CurrentSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// LocalPlayerID returns the resolved local player id.
func (c *Container) LocalPlayerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// SetSnapshot publishes a reconciled snapshot.
func (c *Container) SetSnapshot(snap table.Snapshot) {
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	c.notify()
}

// Snapshot returns the last published snapshot.
func (c *Container) Snapshot() table.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// SetJoinBlocked surfaces a join-blocked reason to the UI; "" clears it.
func (c *Container) SetJoinBlocked(reason join.BlockReason) {
	c.mu.Lock()
	c.joinBlocked = reason
	c.mu.Unlock()
	c.notify()
}

// JoinBlocked returns the current join-blocked reason, if any.
func (c *Container) JoinBlocked() join.BlockReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joinBlocked
}

// SetConnectionStatus publishes the transport status.
func (c *Container) SetConnectionStatus(status transport.Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.notify()
}

// ConnectionStatus returns the last published transport status.
func (c *Container) ConnectionStatus() transport.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetPeerCounts publishes the presence-derived peer counts.
func (c *Container) SetPeerCounts(counts presence.PeerCounts) {
	c.mu.Lock()
	c.peers = counts
	c.mu.Unlock()
	c.notify()
}

// PeerCounts returns the last published peer counts.
func (c *Container) PeerCounts() presence.PeerCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peers
}

// Subscribe registers a change listener and returns its cancel func.
func (c *Container) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Container) notify() {
	c.mu.RLock()
	fns := make([]func(), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
