// Package permission answers "can actor X do Y to entity Z" for the
// shared table. Checks are pure and synchronous so the optimistic local
// path and any future authoritative server evaluate them identically; no
// store or network access happens inside a check.
package permission

import (
	"fmt"

	"github.com/magefree/mage-table-go/internal/table"
)

// Decision is the result of a permission check. A denial carries a
// human-readable reason for the action log.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// ViewOptions tunes CanViewZone. ViewAll corresponds to a "reveal
// everything" toggle; it never overrides hidden-zone privacy.
type ViewOptions struct {
	ViewAll bool
}

// CanViewZone reports whether an actor may look at a zone's contents.
// Hidden zone types (library, hand) are owner-only regardless of
// ViewAll; everything else is universally viewable.
func CanViewZone(actorID string, zone table.Zone, opts ViewOptions) Decision {
	if table.IsHiddenZone(zone.Type) && actorID != zone.OwnerID {
		return deny("%s zones are only visible to their owner", zone.Type)
	}
	return allow()
}

// CanMoveCard reports whether an actor may move a card between two
// zones. Branch order is load-bearing: the destination's hidden check
// runs before the source's, so a move between two different players'
// hidden zones is denied by the destination check even when the actor
// owns the source.
func CanMoveCard(actorID string, card table.Card, from, to table.Zone) Decision {
	if table.IsHiddenZone(to.Type) && actorID != to.OwnerID {
		return deny("only the owner may move cards into their %s", to.Type)
	}
	if table.IsHiddenZone(from.Type) && actorID != from.OwnerID {
		return deny("only the owner may move cards out of their %s", from.Type)
	}
	if from.Type == table.ZoneBattlefield && to.Type == table.ZoneBattlefield {
		if actorID == card.OwnerID || actorID == from.OwnerID || actorID == to.OwnerID {
			return allow()
		}
		return deny("only the card owner or a battlefield owner may move cards between battlefields")
	}
	if actorID == card.OwnerID {
		return allow()
	}
	if actorID == from.OwnerID || actorID == to.OwnerID {
		return allow()
	}
	return deny("actor controls neither the card nor an involved zone")
}

// CanTapCard reports whether an actor may tap or untap a card. Only the
// controller may, and only while the card is on a battlefield.
func CanTapCard(actorID string, card table.Card, zone table.Zone) Decision {
	if zone.Type != table.ZoneBattlefield {
		return deny("cards can only be tapped on the battlefield")
	}
	if actorID != card.ControllerID {
		return deny("only the controller may tap or untap a card")
	}
	return allow()
}

// CanModifyCardState governs face-down, power/toughness, custom-text and
// current-face mutations. Battlefield cards only; the card's owner, its
// controller, or the battlefield's owner may modify.
func CanModifyCardState(actorID string, card table.Card, zone table.Zone) Decision {
	if zone.Type != table.ZoneBattlefield {
		return deny("card state can only be modified on the battlefield")
	}
	if actorID == card.OwnerID || actorID == card.ControllerID || actorID == zone.OwnerID {
		return allow()
	}
	return deny("actor is neither owner nor controller of the card")
}

// CanCreateToken reports whether an actor may create a token in a zone.
// Only the battlefield's owner, and only on battlefield-type zones.
func CanCreateToken(actorID string, zone table.Zone) Decision {
	if zone.Type != table.ZoneBattlefield {
		return deny("tokens can only be created on a battlefield")
	}
	if actorID != zone.OwnerID {
		return deny("only the battlefield owner may create tokens there")
	}
	return allow()
}

// CanUpdatePlayer reports whether an actor may update a player record.
// Players may only update their own record; a denial names the first
// blocked field.
func CanUpdatePlayer(actorID string, player table.Player, updates table.PlayerPatch) Decision {
	if actorID == player.ID {
		return allow()
	}
	return deny("cannot update %s of another player", firstPatchedField(updates))
}

func firstPatchedField(p table.PlayerPatch) string {
	switch {
	case p.Name != nil:
		return "name"
	case p.Life != nil:
		return "life"
	case p.Color != nil:
		return "color"
	case p.Counters != nil:
		return "counters"
	case p.CommanderDamage != nil:
		return "commanderDamage"
	case p.CommanderTax != nil:
		return "commanderTax"
	case p.DeckLoaded != nil:
		return "deckLoaded"
	default:
		return "record"
	}
}
