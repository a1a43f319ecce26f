package store

import (
	"testing"

	"github.com/magefree/mage-table-go/internal/join"
	"github.com/magefree/mage-table-go/internal/table"
	"github.com/magefree/mage-table-go/internal/transport"
)

func TestContainer_Lifecycle(t *testing.T) {
	c := NewContainer()
	c.Init()

	c.ResetSession("room-1", "p1")
	if c.CurrentSessionID() != "room-1" || c.LocalPlayerID() != "p1" {
		t.Error("session identity not recorded")
	}

	snap := table.NewSnapshot()
	snap.Players["p1"] = table.Player{ID: "p1"}
	c.SetSnapshot(snap)
	if _, ok := c.Snapshot().Players["p1"]; !ok {
		t.Error("snapshot not published")
	}

	// A new session clears per-room state.
	c.ResetSession("room-2", "p2")
	if len(c.Snapshot().Players) != 0 {
		t.Error("snapshot must reset with the session")
	}
	if c.JoinBlocked() != "" {
		t.Error("join-blocked must reset with the session")
	}
}

func TestContainer_SubscribersNotified(t *testing.T) {
	c := NewContainer()
	c.Init()

	calls := 0
	cancel := c.Subscribe(func() { calls++ })

	c.SetSnapshot(table.NewSnapshot())
	c.SetJoinBlocked(join.BlockedFull)
	c.SetConnectionStatus(transport.StatusConnected)
	if calls != 3 {
		t.Errorf("expected 3 notifications, got %d", calls)
	}

	cancel()
	c.SetSnapshot(table.NewSnapshot())
	if calls != 3 {
		t.Error("cancelled subscriber still notified")
	}
}
