package table

import (
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"github.com/magefree/mage-table-go/internal/crdt"
)

// Placement constants for battlefield collision handling. Positions are
// normalized, so the grid step is a fraction of the zone, not pixels.
const (
	// GridStep is the distance a displaced card is bumped per attempt.
	GridStep = 0.04
	// PositionTolerance is the distance under which two cards count as
	// occupying the same slot.
	PositionTolerance = 0.01

	// Legacy documents stored raw pixel positions; anything outside the
	// normalized range is assumed to come from a 1920x1080 board.
	legacyBoardWidth  = 1920.0
	legacyBoardHeight = 1080.0

	// maxSlotSearch bounds the bump-and-search loop so a pathological
	// board cannot spin forever.
	maxSlotSearch = 2048
)

// PlayerPatch is a partial update to a player record. Nil fields are left
// untouched.
type PlayerPatch struct {
	Name            *string
	Life            *int
	Color           *string
	Counters        *[]Counter
	CommanderDamage map[string]int
	CommanderTax    *int
	DeckLoaded      *bool
}

// CardPatch is a partial update to a card record.
type CardPatch struct {
	Name             *string
	Tapped           *bool
	FaceDown         *bool
	FaceDownMode     *string
	CurrentFaceIndex *int
	Position         *Position
	Rotation         *float64
	Power            *string
	Toughness        *string
	ControllerID     *string
	IsCommander      *bool
	CommanderTax     *int
	RevealedToAll    *bool
	RevealedTo       *[]string
}

// RoomMetaPatch is a partial update to the room metadata record.
type RoomMetaPatch struct {
	HostID *string
	Locked *bool
}

// MoveRequest describes a card move. Position applies when the
// destination is a battlefield. Index applies to ordered zones: nil
// appends on top, 0 inserts at the bottom.
type MoveRequest struct {
	CardID   string
	ToZoneID string
	Position *Position
	Index    *int
}

// UpsertPlayer writes a full player record and appends the player to the
// order list if absent.
func (d *SharedDocument) UpsertPlayer(p Player) {
	d.doc.Transact(func(tx *crdt.Tx) {
		tx.Map(mapPlayers).Set(p.ID, p)
		order := getPlayerOrder(tx)
		for _, id := range order {
			if id == p.ID {
				return
			}
		}
		tx.Map(mapPlayerOrder).Set(keyOrder, append(order, p.ID))
	})
}

// PatchPlayer applies a partial update to a player record. No-ops when
// the player no longer exists.
func (d *SharedDocument) PatchPlayer(id string, patch PlayerPatch) {
	d.doc.Transact(func(tx *crdt.Tx) {
		patchPlayerTx(tx, id, patch)
	})
}

func patchPlayerTx(tx *crdt.Tx, id string, patch PlayerPatch) {
	p, ok := getPlayer(tx, id)
	if !ok {
		return
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Life != nil {
		p.Life = *patch.Life
	}
	if patch.Color != nil {
		p.Color = *patch.Color
	}
	if patch.Counters != nil {
		p.Counters = *patch.Counters
	}
	if patch.CommanderDamage != nil {
		if p.CommanderDamage == nil {
			p.CommanderDamage = make(map[string]int)
		}
		for from, dmg := range patch.CommanderDamage {
			p.CommanderDamage[from] = dmg
		}
	}
	if patch.CommanderTax != nil {
		p.CommanderTax = *patch.CommanderTax
	}
	if patch.DeckLoaded != nil {
		p.DeckLoaded = *patch.DeckLoaded
	}
	tx.Map(mapPlayers).Set(id, p)
}

// RemovePlayer deletes a player together with their zones, every card in
// those zones, their order entry, and heals the host assignment. One
// transaction, so peers never observe a half-removed player.
func (d *SharedDocument) RemovePlayer(id string) {
	d.doc.Transact(func(tx *crdt.Tx) {
		p, ok := getPlayer(tx, id)
		if !ok {
			return
		}
		tx.Map(mapZones).ForEach(func(zoneID string, _ json.RawMessage) bool {
			z, ok := getZone(tx, zoneID)
			if !ok || z.OwnerID != p.ID {
				return true
			}
			for _, cardID := range getZoneOrder(tx, zoneID) {
				tx.Map(mapCards).Delete(cardID)
			}
			tx.Map(mapZoneOrders).Delete(zoneID)
			tx.Map(mapZones).Delete(zoneID)
			return true
		})
		// Cards owned by the leaving player sitting in other zones go too.
		tx.Map(mapCards).ForEach(func(cardID string, _ json.RawMessage) bool {
			c, ok := getCard(tx, cardID)
			if ok && c.OwnerID == id {
				removeCardTx(tx, cardID)
			}
			return true
		})
		tx.Map(mapPlayers).Delete(id)
		tx.Map(mapViewScales).Delete(id)

		order := getPlayerOrder(tx)
		out := order[:0]
		for _, pid := range order {
			if pid != id {
				out = append(out, pid)
			}
		}
		tx.Map(mapPlayerOrder).Set(keyOrder, out)

		meta := getRoomMeta(tx)
		if meta.HostID == id {
			meta.HostID = ""
			if ids := sortedPlayerIDs(tx); len(ids) > 0 {
				meta.HostID = ids[0]
			}
			tx.Map(mapMeta).Set(keyRoom, meta)
		}
	})
}

// UpsertZone writes a zone record and ensures its order entry exists.
func (d *SharedDocument) UpsertZone(z Zone) {
	d.doc.Transact(func(tx *crdt.Tx) {
		upsertZoneTx(tx, z)
	})
}

func upsertZoneTx(tx *crdt.Tx, z Zone) {
	z.Type = NormalizeZoneType(z.Type)
	cardIDs := z.CardIDs
	z.CardIDs = nil
	tx.Map(mapZones).Set(z.ID, z)
	if len(cardIDs) > 0 || len(getZoneOrder(tx, z.ID)) == 0 {
		setZoneOrder(tx, z.ID, dedupe(cardIDs))
	}
}

// RemoveZone deletes a zone, its order entry, and every card it holds.
func (d *SharedDocument) RemoveZone(id string) {
	d.doc.Transact(func(tx *crdt.Tx) {
		if _, ok := getZone(tx, id); !ok {
			return
		}
		for _, cardID := range getZoneOrder(tx, id) {
			tx.Map(mapCards).Delete(cardID)
		}
		tx.Map(mapZoneOrders).Delete(id)
		tx.Map(mapZones).Delete(id)
	})
}

// UpsertCard writes a card record and appends it to its zone's order if
// absent. Counters not allowed by the zone type are stripped on write.
func (d *SharedDocument) UpsertCard(c Card) {
	d.doc.Transact(func(tx *crdt.Tx) {
		upsertCardTx(tx, c)
	})
}

func upsertCardTx(tx *crdt.Tx, c Card) {
	zone, ok := getZone(tx, c.ZoneID)
	if !ok {
		return
	}
	if zone.Type != ZoneBattlefield {
		c.Counters = nil
	}
	c.Position = normalizePosition(c.Position)
	tx.Map(mapCards).Set(c.ID, c)
	order := getZoneOrder(tx, c.ZoneID)
	for _, id := range order {
		if id == c.ID {
			return
		}
	}
	setZoneOrder(tx, c.ZoneID, append(order, c.ID))
}

// PatchCard applies a partial update to a card record. No-ops when the
// card no longer exists.
func (d *SharedDocument) PatchCard(id string, patch CardPatch) {
	d.doc.Transact(func(tx *crdt.Tx) {
		patchCardTx(tx, id, patch)
	})
}

func patchCardTx(tx *crdt.Tx, id string, patch CardPatch) {
	c, ok := getCard(tx, id)
	if !ok {
		return
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Tapped != nil {
		c.Tapped = *patch.Tapped
	}
	if patch.FaceDown != nil {
		c.FaceDown = *patch.FaceDown
		if !c.FaceDown {
			c.FaceDownMode = ""
		}
	}
	if patch.FaceDownMode != nil {
		c.FaceDownMode = *patch.FaceDownMode
	}
	if patch.CurrentFaceIndex != nil {
		c.CurrentFaceIndex = *patch.CurrentFaceIndex
	}
	if patch.Position != nil {
		c.Position = normalizePosition(*patch.Position)
	}
	if patch.Rotation != nil {
		c.Rotation = *patch.Rotation
	}
	if patch.Power != nil {
		c.Power = *patch.Power
	}
	if patch.Toughness != nil {
		c.Toughness = *patch.Toughness
	}
	if patch.ControllerID != nil {
		c.ControllerID = *patch.ControllerID
	}
	if patch.IsCommander != nil {
		c.IsCommander = *patch.IsCommander
	}
	if patch.CommanderTax != nil {
		c.CommanderTax = *patch.CommanderTax
	}
	if patch.RevealedToAll != nil {
		c.RevealedToAll = *patch.RevealedToAll
	}
	if patch.RevealedTo != nil {
		c.RevealedTo = *patch.RevealedTo
	}
	tx.Map(mapCards).Set(id, c)
}

// RemoveCard deletes a card and its zone-order entry.
func (d *SharedDocument) RemoveCard(id string) {
	d.doc.Transact(func(tx *crdt.Tx) {
		removeCardTx(tx, id)
	})
}

func removeCardTx(tx *crdt.Tx, id string) {
	c, ok := getCard(tx, id)
	if !ok {
		return
	}
	order := getZoneOrder(tx, c.ZoneID)
	out := order[:0]
	for _, cardID := range order {
		if cardID != id {
			out = append(out, cardID)
		}
	}
	setZoneOrder(tx, c.ZoneID, out)
	tx.Map(mapCards).Delete(id)
}

// MoveCard relocates a card between zones, applying the battlefield
// collision cascade and the zone-transition rules:
//
//   - leaving a battlefield resets the card to its front face and strips
//     counters the destination zone does not allow
//   - arriving at any non-battlefield zone untaps the card
//   - a token moved to a non-battlefield zone is deleted, not relocated
//
// The whole move, including any displaced occupant, is one transaction.
// No-ops when the card or destination zone no longer exists.
func (d *SharedDocument) MoveCard(req MoveRequest) {
	d.doc.Transact(func(tx *crdt.Tx) {
		moveCardTx(tx, req)
	})
}

func moveCardTx(tx *crdt.Tx, req MoveRequest) {
	c, ok := getCard(tx, req.CardID)
	if !ok {
		return
	}
	toZone, ok := getZone(tx, req.ToZoneID)
	if !ok {
		return
	}
	fromZone, hadFrom := getZone(tx, c.ZoneID)

	if toZone.Type != ZoneBattlefield && c.IsToken {
		// Tokens only exist while on a battlefield.
		removeCardTx(tx, c.ID)
		return
	}

	// Detach from the source order. The source zone may already be gone
	// if another peer removed it; the stale order entry is harmless.
	if hadFrom {
		order := getZoneOrder(tx, fromZone.ID)
		out := order[:0]
		for _, id := range order {
			if id != c.ID {
				out = append(out, id)
			}
		}
		setZoneOrder(tx, fromZone.ID, out)
	}

	leavingBattlefield := hadFrom && fromZone.Type == ZoneBattlefield && toZone.Type != ZoneBattlefield
	if leavingBattlefield {
		c.CurrentFaceIndex = 0
		c.FaceDown = false
		c.FaceDownMode = ""
	}
	if toZone.Type != ZoneBattlefield {
		c.Tapped = false
		c.Rotation = 0
		c.Counters = nil
		c.Position = Position{}
	} else {
		target := c.Position
		if req.Position != nil {
			target = *req.Position
		}
		target = normalizePosition(target)
		c.Position = target
		displaceOccupant(tx, toZone.ID, target, c.ID)
	}

	c.ZoneID = toZone.ID
	tx.Map(mapCards).Set(c.ID, c)

	order := getZoneOrder(tx, toZone.ID)
	order = removeID(order, c.ID)
	if req.Index != nil && *req.Index >= 0 && *req.Index <= len(order) && toZone.Type != ZoneBattlefield {
		i := *req.Index
		order = append(order[:i], append([]string{c.ID}, order[i:]...)...)
	} else {
		order = append(order, c.ID)
	}
	setZoneOrder(tx, toZone.ID, order)
}

// displaceOccupant finds a card already sitting at target (within
// tolerance) and bumps it to the next free slot, stepping downward one
// grid step at a time until nothing else overlaps. Only the occupant
// moves; the incoming card keeps the requested slot.
func displaceOccupant(tx *crdt.Tx, zoneID string, target Position, movingID string) {
	for _, id := range getZoneOrder(tx, zoneID) {
		if id == movingID {
			continue
		}
		occ, ok := getCard(tx, id)
		if !ok || !roughlyEqual(occ.Position, target) {
			continue
		}
		occ.Position = nextFreeSlot(tx, zoneID, stepDown(occ.Position), occ.ID, movingID, target)
		tx.Map(mapCards).Set(occ.ID, occ)
	}
}

// nextFreeSlot walks the candidate slot downward until it collides with
// neither any other card in the zone nor the slot the incoming card is
// claiming. Gives up after maxSlotSearch steps and returns the last
// candidate.
func nextFreeSlot(tx *crdt.Tx, zoneID string, start Position, selfID, movingID string, claimed Position) Position {
	candidate := start
	for i := 0; i < maxSlotSearch; i++ {
		if !slotOccupied(tx, zoneID, candidate, selfID, movingID, claimed) {
			return candidate
		}
		candidate = stepDown(candidate)
	}
	return candidate
}

func slotOccupied(tx *crdt.Tx, zoneID string, candidate Position, selfID, movingID string, claimed Position) bool {
	if roughlyEqual(candidate, claimed) {
		return true
	}
	occupied := false
	for _, id := range getZoneOrder(tx, zoneID) {
		if id == selfID || id == movingID {
			continue
		}
		if other, ok := getCard(tx, id); ok && roughlyEqual(other.Position, candidate) {
			occupied = true
			break
		}
	}
	return occupied
}

func stepDown(p Position) Position {
	p.Y += GridStep
	if p.Y > 1 {
		p.Y = GridStep
		p.X += GridStep
		if p.X > 1 {
			p.X = GridStep
		}
	}
	return p
}

func roughlyEqual(a, b Position) bool {
	return math.Abs(a.X-b.X) <= PositionTolerance && math.Abs(a.Y-b.Y) <= PositionTolerance
}

// normalizePosition migrates legacy raw-pixel positions into [0,1] space
// and clamps the result.
func normalizePosition(p Position) Position {
	if p.X > 1 {
		p.X /= legacyBoardWidth
	}
	if p.Y > 1 {
		p.Y /= legacyBoardHeight
	}
	return Position{X: clamp01(p.X), Y: clamp01(p.Y)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DuplicateCard clones a card as a fresh token next to the source,
// reusing the bump-and-search placement so the copy never lands exactly
// on another card. Returns the new token's id, or "" when the source is
// gone or not on a battlefield.
func (d *SharedDocument) DuplicateCard(cardID string) string {
	var newID string
	d.doc.Transact(func(tx *crdt.Tx) {
		src, ok := getCard(tx, cardID)
		if !ok {
			return
		}
		zone, ok := getZone(tx, src.ZoneID)
		if !ok || zone.Type != ZoneBattlefield {
			return
		}
		dup := src.Clone()
		dup.ID = uuid.NewString()
		dup.IsToken = true
		dup.IsCommander = false
		dup.CommanderTax = 0
		dup.Position = nextFreeSlot(tx, zone.ID, stepDown(src.Position), dup.ID, "", src.Position)
		tx.Map(mapCards).Set(dup.ID, dup)
		setZoneOrder(tx, zone.ID, append(getZoneOrder(tx, zone.ID), dup.ID))
		newID = dup.ID
	})
	return newID
}

// TransformCard advances a multi-faced card to its next face (wrapping),
// or to the explicit face index when one is given. Single-faced cards
// no-op.
func (d *SharedDocument) TransformCard(cardID string, faceIndex *int) {
	d.doc.Transact(func(tx *crdt.Tx) {
		c, ok := getCard(tx, cardID)
		if !ok || len(c.Info.Faces) < 2 {
			return
		}
		next := (c.CurrentFaceIndex + 1) % len(c.Info.Faces)
		if faceIndex != nil {
			next = *faceIndex
		}
		if next < 0 || next >= len(c.Info.Faces) {
			return
		}
		c.CurrentFaceIndex = next
		face := c.Info.Faces[next]
		if face.Name != "" {
			c.Name = face.Name
		}
		c.Power = face.Power
		c.Toughness = face.Toughness
		tx.Map(mapCards).Set(cardID, c)
	})
}

// AddCounterToCard merges a counter onto a card. Counters are only held
// by battlefield cards; other zones no-op.
func (d *SharedDocument) AddCounterToCard(cardID string, counter Counter) {
	d.doc.Transact(func(tx *crdt.Tx) {
		c, ok := getCard(tx, cardID)
		if !ok {
			return
		}
		zone, ok := getZone(tx, c.ZoneID)
		if !ok || zone.Type != ZoneBattlefield {
			return
		}
		c.Counters = mergeCounter(c.Counters, counter)
		tx.Map(mapCards).Set(cardID, c)
	})
}

// RemoveCounterFromCard subtracts counters of the given type, pruning
// the entry when it reaches zero.
func (d *SharedDocument) RemoveCounterFromCard(cardID, counterType string, count int) {
	d.doc.Transact(func(tx *crdt.Tx) {
		c, ok := getCard(tx, cardID)
		if !ok {
			return
		}
		c.Counters = removeCounter(c.Counters, counterType, count)
		tx.Map(mapCards).Set(cardID, c)
	})
}

// ReorderZoneCards replaces a zone's card order. Ids not present in the
// zone are dropped and cards missing from the new order keep their old
// relative position at the end, so a stale reorder from a lagging peer
// cannot orphan cards.
func (d *SharedDocument) ReorderZoneCards(zoneID string, cardIDs []string) {
	d.doc.Transact(func(tx *crdt.Tx) {
		if _, ok := getZone(tx, zoneID); !ok {
			return
		}
		current := getZoneOrder(tx, zoneID)
		inZone := make(map[string]bool, len(current))
		for _, id := range current {
			inZone[id] = true
		}
		var next []string
		seen := make(map[string]bool, len(cardIDs))
		for _, id := range cardIDs {
			if inZone[id] && !seen[id] {
				next = append(next, id)
				seen[id] = true
			}
		}
		for _, id := range current {
			if !seen[id] {
				next = append(next, id)
				seen[id] = true
			}
		}
		setZoneOrder(tx, zoneID, next)
	})
}

// UntapAll untaps every battlefield card controlled by the given player.
func (d *SharedDocument) UntapAll(controllerID string) {
	d.doc.Transact(func(tx *crdt.Tx) {
		tx.Map(mapCards).ForEach(func(cardID string, _ json.RawMessage) bool {
			c, ok := getCard(tx, cardID)
			if !ok || c.ControllerID != controllerID || !c.Tapped {
				return true
			}
			zone, ok := getZone(tx, c.ZoneID)
			if !ok || zone.Type != ZoneBattlefield {
				return true
			}
			c.Tapped = false
			tx.Map(mapCards).Set(cardID, c)
			return true
		})
	})
}

// PatchRoomMeta applies a partial update to the room metadata record.
func (d *SharedDocument) PatchRoomMeta(patch RoomMetaPatch) {
	d.doc.Transact(func(tx *crdt.Tx) {
		meta := getRoomMeta(tx)
		if patch.HostID != nil {
			meta.HostID = *patch.HostID
		}
		if patch.Locked != nil {
			meta.Locked = *patch.Locked
		}
		tx.Map(mapMeta).Set(keyRoom, meta)
	})
}

// SetGlobalCounter writes a shared named counter (e.g. a storm count).
// Non-positive values delete the entry.
func (d *SharedDocument) SetGlobalCounter(name string, value int) {
	d.doc.Transact(func(tx *crdt.Tx) {
		if value <= 0 {
			tx.Map(mapGlobalCounters).Delete(name)
			return
		}
		tx.Map(mapGlobalCounters).Set(name, value)
	})
}

// SetViewScale records a player's battlefield view scale.
func (d *SharedDocument) SetViewScale(playerID string, scale float64) {
	d.doc.Transact(func(tx *crdt.Tx) {
		tx.Map(mapViewScales).Set(playerID, scale)
	})
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}
