// Package actions holds the permission-checked mutation entry points the
// UI calls. Every action runs the permission check first, then writes
// through the shared document; a denial is logged and silently no-ops.
// In solo play the shared document simply has no transport attached, so
// the same write path serves both modes.
package actions

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/permission"
	"github.com/magefree/mage-table-go/internal/table"
	"github.com/magefree/mage-table-go/internal/tablesync"
	"github.com/magefree/mage-table-go/internal/transport"
)

// Actions is the mutation surface for one local player at one table.
type Actions struct {
	actorID string
	doc     *table.SharedDocument
	pending *tablesync.PendingIntents
	resync  func()
	send    func(transport.IntentEnvelope)
	logger  *zap.Logger
}

// New wires the action surface. send may be nil (solo play, or intent
// channel down); resync triggers an immediate reconciliation pass after
// an optimistic write.
func New(actorID string, doc *table.SharedDocument, pending *tablesync.PendingIntents, resync func(), send func(transport.IntentEnvelope), logger *zap.Logger) *Actions {
	if resync == nil {
		resync = func() {}
	}
	return &Actions{
		actorID: actorID,
		doc:     doc,
		pending: pending,
		resync:  resync,
		send:    send,
		logger:  logger,
	}
}

// ActorID returns the local player this surface acts as.
func (a *Actions) ActorID() string {
	return a.actorID
}

func (a *Actions) denied(action string, d permission.Decision, fields ...zap.Field) bool {
	if d.Allowed {
		return false
	}
	fields = append([]zap.Field{
		zap.String("actor", a.actorID),
		zap.String("action", action),
		zap.String("reason", d.Reason),
	}, fields...)
	a.logger.Info("action denied", fields...)
	return true
}

// broadcast ships the intent over the low-latency channel and records it
// in the pending queue so reconciliation replays it until the document
// reflects it.
func (a *Actions) broadcast(kind IntentKind, payload any, apply func(*table.Snapshot), confirmed func(*table.Snapshot) bool) {
	id := uuid.NewString()
	if a.pending != nil {
		a.pending.Add(tablesync.Intent{
			ID:        id,
			Kind:      string(kind),
			Apply:     apply,
			Confirmed: confirmed,
		})
	}
	if a.send != nil {
		a.send(transport.IntentEnvelope{
			ID:      id,
			Kind:    string(kind),
			ActorID: a.actorID,
			Payload: mustMarshal(payload),
		})
	}
	a.resync()
}

// AddCard creates a card. Token creation is gated on the battlefield
// owner; regular cards may only be added by their owner.
func (a *Actions) AddCard(card table.Card) {
	snap := a.doc.Snapshot()
	zone, ok := snap.Zones[card.ZoneID]
	if !ok {
		return
	}
	if card.IsToken {
		if a.denied("addCard", permission.CanCreateToken(a.actorID, zone), zap.String("zone_id", zone.ID)) {
			return
		}
	} else if card.OwnerID != a.actorID {
		a.logger.Info("action denied",
			zap.String("actor", a.actorID),
			zap.String("action", "addCard"),
			zap.String("reason", "cannot add another player's card"),
		)
		return
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	a.doc.UpsertCard(card)
	added := card
	a.broadcast(KindAddCard, AddCardPayload{Card: added},
		func(s *table.Snapshot) { applyAddCard(s, added) },
		func(s *table.Snapshot) bool { _, ok := s.Cards[added.ID]; return ok },
	)
}

// MoveCard relocates a card, subject to the zone/battlefield move rules.
func (a *Actions) MoveCard(req table.MoveRequest) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[req.CardID]
	if !ok {
		return
	}
	from, ok := snap.Zones[card.ZoneID]
	if !ok {
		return
	}
	to, ok := snap.Zones[req.ToZoneID]
	if !ok {
		return
	}
	if a.denied("moveCard", permission.CanMoveCard(a.actorID, card, from, to),
		zap.String("card_id", card.ID),
		zap.String("from_zone", from.ID),
		zap.String("to_zone", to.ID),
	) {
		return
	}
	a.doc.MoveCard(req)
	moved := req
	a.broadcast(KindMoveCard, MoveCardPayload{CardID: req.CardID, ToZoneID: req.ToZoneID, Position: req.Position, Index: req.Index},
		func(s *table.Snapshot) { applyMoveCard(s, moved) },
		func(s *table.Snapshot) bool { return moveReflected(s, moved) },
	)
}

// TapCard sets a card's tapped state; controller-only, battlefield-only.
func (a *Actions) TapCard(cardID string, tapped bool) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	zone := snap.Zones[card.ZoneID]
	if a.denied("tapCard", permission.CanTapCard(a.actorID, card, zone), zap.String("card_id", cardID)) {
		return
	}
	t := tapped
	a.doc.PatchCard(cardID, table.CardPatch{Tapped: &t})
	a.broadcast(KindTapCard, TapCardPayload{CardID: cardID, Tapped: t},
		func(s *table.Snapshot) {
			if c, ok := s.Cards[cardID]; ok {
				c.Tapped = t
				s.Cards[cardID] = c
			}
		},
		func(s *table.Snapshot) bool { c, ok := s.Cards[cardID]; return ok && c.Tapped == t },
	)
}

// DuplicateCard clones a battlefield card as a fresh token next to the
// source. Returns the new token id, or "" when denied or gone.
func (a *Actions) DuplicateCard(cardID string) string {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return ""
	}
	zone := snap.Zones[card.ZoneID]
	if a.denied("duplicateCard", permission.CanCreateToken(a.actorID, zone), zap.String("card_id", cardID)) {
		return ""
	}
	newID := a.doc.DuplicateCard(cardID)
	if newID == "" {
		return ""
	}
	a.broadcast(KindDuplicateCard, DuplicateCardPayload{CardID: cardID, NewID: newID},
		nil, // the clone's exact position comes from the document
		func(s *table.Snapshot) bool { _, ok := s.Cards[newID]; return ok },
	)
	return newID
}

// RemoveCard deletes a card; the card's owner or the zone's owner may.
func (a *Actions) RemoveCard(cardID string) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	zone := snap.Zones[card.ZoneID]
	if a.actorID != card.OwnerID && a.actorID != zone.OwnerID {
		a.logger.Info("action denied",
			zap.String("actor", a.actorID),
			zap.String("action", "removeCard"),
			zap.String("reason", "only the card owner or zone owner may remove a card"),
			zap.String("card_id", cardID),
		)
		return
	}
	a.doc.RemoveCard(cardID)
	a.broadcast(KindRemoveCard, RemoveCardPayload{CardID: cardID},
		func(s *table.Snapshot) { applyRemoveCard(s, cardID) },
		func(s *table.Snapshot) bool { _, ok := s.Cards[cardID]; return !ok },
	)
}

// TransformCard flips a multi-faced battlefield card.
func (a *Actions) TransformCard(cardID string, faceIndex *int) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	zone := snap.Zones[card.ZoneID]
	if a.denied("transformCard", permission.CanModifyCardState(a.actorID, card, zone), zap.String("card_id", cardID)) {
		return
	}
	a.doc.TransformCard(cardID, faceIndex)
	fi := faceIndex
	a.broadcast(KindTransformCard, TransformCardPayload{CardID: cardID, FaceIndex: fi}, nil,
		func(s *table.Snapshot) bool {
			c, ok := s.Cards[cardID]
			return ok && (fi == nil || c.CurrentFaceIndex == *fi)
		},
	)
}

// UpdateCard applies a partial card update (face-down, power/toughness,
// rotation and similar battlefield-state edits).
func (a *Actions) UpdateCard(cardID string, patch table.CardPatch) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	zone := snap.Zones[card.ZoneID]
	if a.denied("updateCard", permission.CanModifyCardState(a.actorID, card, zone), zap.String("card_id", cardID)) {
		return
	}
	a.doc.PatchCard(cardID, patch)
	p := patch
	a.broadcast(KindUpdateCard, UpdateCardPayload{CardID: cardID, Patch: p},
		func(s *table.Snapshot) { applyCardPatch(s, cardID, p) },
		func(s *table.Snapshot) bool { return cardPatchReflected(s, cardID, p) },
	)
}

// UntapAll untaps every battlefield card the local player controls.
func (a *Actions) UntapAll() {
	a.doc.UntapAll(a.actorID)
	actor := a.actorID
	a.broadcast(KindUntapAll, UntapAllPayload{ControllerID: actor},
		func(s *table.Snapshot) { applyUntapAll(s, actor) },
		func(s *table.Snapshot) bool { return untapAllReflected(s, actor) },
	)
}

// SetCardReveal adjusts who may see a hidden card's identity. Owner or
// controller only; reveal state is meaningful in any zone.
func (a *Actions) SetCardReveal(cardID string, revealedToAll bool, revealedTo []string) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	if a.actorID != card.OwnerID && a.actorID != card.ControllerID {
		a.logger.Info("action denied",
			zap.String("actor", a.actorID),
			zap.String("action", "setCardReveal"),
			zap.String("reason", "only the owner or controller may reveal a card"),
			zap.String("card_id", cardID),
		)
		return
	}
	all := revealedToAll
	to := revealedTo
	a.doc.PatchCard(cardID, table.CardPatch{RevealedToAll: &all, RevealedTo: &to})
	a.broadcast(KindSetCardReveal, SetCardRevealPayload{CardID: cardID, RevealedToAll: all, RevealedTo: to}, nil,
		func(s *table.Snapshot) bool { c, ok := s.Cards[cardID]; return ok && c.RevealedToAll == all },
	)
}

// UpdatePlayer applies a partial update to a player record; players may
// only update their own.
func (a *Actions) UpdatePlayer(playerID string, patch table.PlayerPatch) {
	snap := a.doc.Snapshot()
	player, ok := snap.Players[playerID]
	if !ok {
		return
	}
	if a.denied("updatePlayer", permission.CanUpdatePlayer(a.actorID, player, patch), zap.String("player_id", playerID)) {
		return
	}
	a.doc.PatchPlayer(playerID, patch)
	p := patch
	a.broadcast(KindUpdatePlayer, UpdatePlayerPayload{PlayerID: playerID, Patch: p}, nil,
		func(s *table.Snapshot) bool { _, ok := s.Players[playerID]; return ok },
	)
}

// SetViewScale records the local player's battlefield view scale.
func (a *Actions) SetViewScale(scale float64) {
	a.doc.SetViewScale(a.actorID, scale)
}

// SetGlobalCounter writes a shared named counter.
func (a *Actions) SetGlobalCounter(name string, value int) {
	a.doc.SetGlobalCounter(name, value)
}

// AddCounterToCard merges a counter onto a battlefield card.
func (a *Actions) AddCounterToCard(cardID string, counter table.Counter) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	zone := snap.Zones[card.ZoneID]
	if a.denied("addCounter", permission.CanModifyCardState(a.actorID, card, zone), zap.String("card_id", cardID)) {
		return
	}
	a.doc.AddCounterToCard(cardID, counter)
	a.resync()
}

// RemoveCounterFromCard subtracts counters from a card.
func (a *Actions) RemoveCounterFromCard(cardID, counterType string, count int) {
	snap := a.doc.Snapshot()
	card, ok := snap.Cards[cardID]
	if !ok {
		return
	}
	zone := snap.Zones[card.ZoneID]
	if a.denied("removeCounter", permission.CanModifyCardState(a.actorID, card, zone), zap.String("card_id", cardID)) {
		return
	}
	a.doc.RemoveCounterFromCard(cardID, counterType, count)
	a.resync()
}
