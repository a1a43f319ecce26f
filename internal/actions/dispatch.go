package actions

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/table"
	"github.com/magefree/mage-table-go/internal/tablesync"
	"github.com/magefree/mage-table-go/internal/transport"
)

// remoteHandler turns an inbound envelope into an optimistic pending
// intent. Remote intents are never written to the local document: the
// originator's document update arrives through the replicated channel
// and confirms (retires) the intent.
type remoteHandler func(env transport.IntentEnvelope) (tablesync.Intent, error)

// remoteHandlers is the exhaustive dispatch table over intent kinds.
// Adding a kind without a handler makes HandleRemote log it; the test
// suite asserts the table covers Kinds completely.
var remoteHandlers = map[IntentKind]remoteHandler{
	KindAddCard:       handleRemoteAddCard,
	KindMoveCard:      handleRemoteMoveCard,
	KindTapCard:       handleRemoteTapCard,
	KindDuplicateCard: handleRemoteDuplicateCard,
	KindRemoveCard:    handleRemoteRemoveCard,
	KindTransformCard: handleRemoteTransformCard,
	KindUpdateCard:    handleRemoteUpdateCard,
	KindUntapAll:      handleRemoteUntapAll,
	KindSetCardReveal: handleRemoteSetCardReveal,
	KindUpdatePlayer:  handleRemoteUpdatePlayer,
}

// HandleRemote queues a peer's intent for optimistic display ahead of
// document convergence. Malformed or unknown envelopes are dropped and
// logged, never fatal.
func (a *Actions) HandleRemote(env transport.IntentEnvelope) {
	handler, ok := remoteHandlers[IntentKind(env.Kind)]
	if !ok {
		a.logger.Debug("unknown intent kind", zap.String("kind", env.Kind))
		return
	}
	intent, err := handler(env)
	if err != nil {
		a.logger.Debug("malformed intent envelope",
			zap.String("kind", env.Kind),
			zap.Error(err),
		)
		return
	}
	intent.ID = env.ID
	intent.Kind = env.Kind
	intent.Remote = true
	if a.pending != nil {
		a.pending.Add(intent)
	}
	a.resync()
}

func decode[T any](env transport.IntentEnvelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return payload, nil
}

func handleRemoteAddCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[AddCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply:     func(s *table.Snapshot) { applyAddCard(s, p.Card) },
		Confirmed: func(s *table.Snapshot) bool { _, ok := s.Cards[p.Card.ID]; return ok },
	}, nil
}

func handleRemoteMoveCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[MoveCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	req := table.MoveRequest{CardID: p.CardID, ToZoneID: p.ToZoneID, Position: p.Position, Index: p.Index}
	return tablesync.Intent{
		Apply:     func(s *table.Snapshot) { applyMoveCard(s, req) },
		Confirmed: func(s *table.Snapshot) bool { return moveReflected(s, req) },
	}, nil
}

func handleRemoteTapCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[TapCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply: func(s *table.Snapshot) {
			if c, ok := s.Cards[p.CardID]; ok {
				c.Tapped = p.Tapped
				s.Cards[p.CardID] = c
			}
		},
		Confirmed: func(s *table.Snapshot) bool {
			c, ok := s.Cards[p.CardID]
			return !ok || c.Tapped == p.Tapped
		},
	}, nil
}

func handleRemoteDuplicateCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[DuplicateCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		// No local reducer: the clone's placement is decided by the
		// originator's document write.
		Confirmed: func(s *table.Snapshot) bool { _, ok := s.Cards[p.NewID]; return ok },
	}, nil
}

func handleRemoteRemoveCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[RemoveCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply:     func(s *table.Snapshot) { applyRemoveCard(s, p.CardID) },
		Confirmed: func(s *table.Snapshot) bool { _, ok := s.Cards[p.CardID]; return !ok },
	}, nil
}

func handleRemoteTransformCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[TransformCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Confirmed: func(s *table.Snapshot) bool {
			c, ok := s.Cards[p.CardID]
			return !ok || p.FaceIndex == nil || c.CurrentFaceIndex == *p.FaceIndex
		},
	}, nil
}

func handleRemoteUpdateCard(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[UpdateCardPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply:     func(s *table.Snapshot) { applyCardPatch(s, p.CardID, p.Patch) },
		Confirmed: func(s *table.Snapshot) bool { return cardPatchReflected(s, p.CardID, p.Patch) },
	}, nil
}

func handleRemoteUntapAll(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[UntapAllPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply:     func(s *table.Snapshot) { applyUntapAll(s, p.ControllerID) },
		Confirmed: func(s *table.Snapshot) bool { return untapAllReflected(s, p.ControllerID) },
	}, nil
}

func handleRemoteSetCardReveal(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[SetCardRevealPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply: func(s *table.Snapshot) {
			if c, ok := s.Cards[p.CardID]; ok {
				c.RevealedToAll = p.RevealedToAll
				c.RevealedTo = p.RevealedTo
				s.Cards[p.CardID] = c
			}
		},
		Confirmed: func(s *table.Snapshot) bool {
			c, ok := s.Cards[p.CardID]
			return !ok || c.RevealedToAll == p.RevealedToAll
		},
	}, nil
}

func handleRemoteUpdatePlayer(env transport.IntentEnvelope) (tablesync.Intent, error) {
	p, err := decode[UpdatePlayerPayload](env)
	if err != nil {
		return tablesync.Intent{}, err
	}
	return tablesync.Intent{
		Apply: func(s *table.Snapshot) {
			pl, ok := s.Players[p.PlayerID]
			if !ok {
				return
			}
			if p.Patch.Name != nil {
				pl.Name = *p.Patch.Name
			}
			if p.Patch.Life != nil {
				pl.Life = *p.Patch.Life
			}
			if p.Patch.CommanderTax != nil {
				pl.CommanderTax = *p.Patch.CommanderTax
			}
			s.Players[p.PlayerID] = pl
		},
		Confirmed: func(s *table.Snapshot) bool {
			pl, ok := s.Players[p.PlayerID]
			if !ok {
				return true
			}
			if p.Patch.Life != nil && pl.Life != *p.Patch.Life {
				return false
			}
			if p.Patch.Name != nil && pl.Name != *p.Patch.Name {
				return false
			}
			return true
		},
	}, nil
}

// Snapshot reducers shared by local optimistic application and remote
// intent replay. They are display-level approximations: the document
// mutation helpers remain the source of truth (collision cascades and
// similar details come from there).

func applyAddCard(s *table.Snapshot, card table.Card) {
	if _, ok := s.Cards[card.ID]; ok {
		return
	}
	if _, ok := s.Zones[card.ZoneID]; !ok {
		return
	}
	s.Cards[card.ID] = card.Clone()
	z := s.Zones[card.ZoneID]
	z.CardIDs = append(z.CardIDs, card.ID)
	s.Zones[card.ZoneID] = z
}

func applyMoveCard(s *table.Snapshot, req table.MoveRequest) {
	c, ok := s.Cards[req.CardID]
	if !ok {
		return
	}
	to, ok := s.Zones[req.ToZoneID]
	if !ok {
		return
	}
	if to.Type != table.ZoneBattlefield && c.IsToken {
		applyRemoveCard(s, c.ID)
		return
	}
	if from, ok := s.Zones[c.ZoneID]; ok {
		from.CardIDs = removeString(from.CardIDs, c.ID)
		s.Zones[from.ID] = from
		if from.Type == table.ZoneBattlefield && to.Type != table.ZoneBattlefield {
			c.CurrentFaceIndex = 0
			c.FaceDown = false
			c.FaceDownMode = ""
		}
	}
	if to.Type != table.ZoneBattlefield {
		c.Tapped = false
		c.Counters = nil
		c.Position = table.Position{}
	} else if req.Position != nil {
		c.Position = *req.Position
	}
	c.ZoneID = to.ID
	s.Cards[c.ID] = c
	to.CardIDs = append(removeString(to.CardIDs, c.ID), c.ID)
	s.Zones[to.ID] = to
}

func moveReflected(s *table.Snapshot, req table.MoveRequest) bool {
	c, ok := s.Cards[req.CardID]
	if !ok {
		// A token deleted by the move is also a confirmed outcome.
		return true
	}
	return c.ZoneID == req.ToZoneID
}

func applyRemoveCard(s *table.Snapshot, cardID string) {
	c, ok := s.Cards[cardID]
	if !ok {
		return
	}
	if z, ok := s.Zones[c.ZoneID]; ok {
		z.CardIDs = removeString(z.CardIDs, cardID)
		s.Zones[z.ID] = z
	}
	delete(s.Cards, cardID)
}

func applyCardPatch(s *table.Snapshot, cardID string, patch table.CardPatch) {
	c, ok := s.Cards[cardID]
	if !ok {
		return
	}
	if patch.Tapped != nil {
		c.Tapped = *patch.Tapped
	}
	if patch.FaceDown != nil {
		c.FaceDown = *patch.FaceDown
	}
	if patch.FaceDownMode != nil {
		c.FaceDownMode = *patch.FaceDownMode
	}
	if patch.CurrentFaceIndex != nil {
		c.CurrentFaceIndex = *patch.CurrentFaceIndex
	}
	if patch.Position != nil {
		c.Position = *patch.Position
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
	s.Cards[cardID] = c
}

func cardPatchReflected(s *table.Snapshot, cardID string, patch table.CardPatch) bool {
	c, ok := s.Cards[cardID]
	if !ok {
		return true
	}
	if patch.Tapped != nil && c.Tapped != *patch.Tapped {
		return false
	}
	if patch.FaceDown != nil && c.FaceDown != *patch.FaceDown {
		return false
	}
	if patch.Power != nil && c.Power != *patch.Power {
		return false
	}
	if patch.Toughness != nil && c.Toughness != *patch.Toughness {
		return false
	}
	if patch.Rotation != nil && c.Rotation != *patch.Rotation {
		return false
	}
	return true
}

func applyUntapAll(s *table.Snapshot, controllerID string) {
	for id, c := range s.Cards {
		if c.ControllerID != controllerID || !c.Tapped {
			continue
		}
		if z, ok := s.Zones[c.ZoneID]; !ok || z.Type != table.ZoneBattlefield {
			continue
		}
		c.Tapped = false
		s.Cards[id] = c
	}
}

func untapAllReflected(s *table.Snapshot, controllerID string) bool {
	for _, c := range s.Cards {
		if c.ControllerID != controllerID || !c.Tapped {
			continue
		}
		if z, ok := s.Zones[c.ZoneID]; ok && z.Type == table.ZoneBattlefield {
			return false
		}
	}
	return true
}

func removeString(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
