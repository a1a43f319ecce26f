// Package join implements the local-player join protocol: the pure init
// planner that computes what a newly-joining player needs created or
// patched, the gate that blocks joins into locked or full rooms, and the
// self-healing host assignment.
package join

import (
	"sort"

	"github.com/magefree/mage-table-go/internal/table"
)

const (
	// RoomCapacity is the fixed maximum number of players in a room.
	// Exceeding it blocks new joins but never evicts existing players.
	RoomCapacity = 4

	// DefaultLife is the starting life total for a freshly-created player.
	DefaultLife = 40
)

// seatPalette holds the canonical per-seat colors, assigned by position
// in the player order.
var seatPalette = []string{
	"#e53935", // red
	"#1e88e5", // blue
	"#43a047", // green
	"#fdd835", // yellow
	"#8e24aa", // purple
	"#fb8c00", // orange
	"#00acc1", // teal
	"#ec407a", // pink
}

// ColorPatch corrects one player's stored color to the canonical seat
// color.
type ColorPatch struct {
	PlayerID string
	Color    string
}

// InitPlan lists the writes needed to bring a joining local player up to
// date. A nil plan means the room already reflects the player fully and
// zero writes must happen.
type InitPlan struct {
	UpsertPlayer   *table.Player
	PatchLocalName *string
	ColorPatches   []ColorPatch
	ZonesToCreate  []table.Zone
}

// ComputeInitPlan is pure: it inspects a snapshot of players, player
// order and zones and decides what the joining player still needs. It
// never plans a write that would clobber state another session already
// personalized.
func ComputeInitPlan(
	players map[string]table.Player,
	playerOrder []string,
	zones map[string]table.Zone,
	playerID, desiredName, defaultName string,
) *InitPlan {
	plan := &InitPlan{}

	existing, exists := players[playerID]

	seats := seatOrder(players, playerOrder, playerID)
	canonical := make(map[string]string, len(seats))
	for i, id := range seats {
		canonical[id] = seatPalette[i%len(seatPalette)]
	}

	if !exists {
		name := desiredName
		if name == "" {
			name = defaultName
		}
		plan.UpsertPlayer = &table.Player{
			ID:              playerID,
			Name:            name,
			Life:            DefaultLife,
			Color:           canonical[playerID],
			CommanderDamage: map[string]int{},
		}
	} else if existing.Name == defaultName && desiredName != "" && desiredName != existing.Name {
		// Only replace the synthesized default; a personalized name is
		// never overwritten.
		name := desiredName
		plan.PatchLocalName = &name
	}

	for id, p := range players {
		want := canonical[id]
		if want == "" {
			continue
		}
		switch {
		case p.Color == "":
			plan.ColorPatches = append(plan.ColorPatches, ColorPatch{PlayerID: id, Color: want})
		case id == playerID && p.Color != want:
			// The local player self-corrects color drift; other players'
			// intentionally-set colors are left alone.
			plan.ColorPatches = append(plan.ColorPatches, ColorPatch{PlayerID: id, Color: want})
		}
	}

	have := make(map[table.ZoneType]bool)
	for _, z := range zones {
		if z.OwnerID == playerID {
			have[table.NormalizeZoneType(z.Type)] = true
		}
	}
	for _, t := range table.CanonicalZoneTypes {
		if !have[t] {
			plan.ZonesToCreate = append(plan.ZonesToCreate, table.Zone{
				ID:      table.ZoneIDFor(playerID, t),
				Type:    t,
				OwnerID: playerID,
			})
		}
	}

	if plan.UpsertPlayer == nil && plan.PatchLocalName == nil &&
		len(plan.ColorPatches) == 0 && len(plan.ZonesToCreate) == 0 {
		return nil
	}
	return plan
}

// seatOrder is the deterministic seat list used for palette assignment:
// the stored order filtered to existing players, with the local player
// appended if absent.
func seatOrder(players map[string]table.Player, playerOrder []string, playerID string) []string {
	seen := make(map[string]bool, len(playerOrder))
	var seats []string
	for _, id := range playerOrder {
		if seen[id] {
			continue
		}
		if _, ok := players[id]; ok || id == playerID {
			seats = append(seats, id)
			seen[id] = true
		}
	}
	if !seen[playerID] {
		seats = append(seats, playerID)
	}
	return seats
}

// BlockReason explains why a join was refused.
type BlockReason string

const (
	BlockedFull         BlockReason = "full"
	BlockedLocked       BlockReason = "locked"
	BlockedOverCapacity BlockReason = "overCapacity"

	// BlockedRoomUnavailable and BlockedInvite come from the transport
	// layer, not the gate, but share the surfaced-reason type.
	BlockedRoomUnavailable BlockReason = "room-unavailable"
	BlockedInvite          BlockReason = "invite"
)

// CheckJoin decides whether a player may enter the room. Existing
// players always pass: capacity and locks block new joins, never evict.
func CheckJoin(players map[string]table.Player, meta table.RoomMeta, playerID string) (BlockReason, bool) {
	if _, ok := players[playerID]; ok {
		return "", false
	}
	if meta.Locked {
		return BlockedLocked, true
	}
	if len(players) > RoomCapacity {
		return BlockedOverCapacity, true
	}
	if len(players) == RoomCapacity {
		return BlockedFull, true
	}
	return "", false
}

// ResolveHost self-heals the host assignment: the prior host is kept
// while they still exist, otherwise the first player in canonical order
// becomes host. Returns "" for an empty room.
func ResolveHost(players map[string]table.Player, order []string, priorHostID string) string {
	if _, ok := players[priorHostID]; ok && priorHostID != "" {
		return priorHostID
	}
	for _, id := range order {
		if _, ok := players[id]; ok {
			return id
		}
	}
	// Order list may lag behind the players map; fall back to the
	// lexicographically first player so every peer heals to the same host.
	var ids []string
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		return ids[0]
	}
	return ""
}
