package permission

import (
	"strings"
	"testing"

	"github.com/magefree/mage-table-go/internal/table"
)

func zone(owner string, t table.ZoneType) table.Zone {
	return table.Zone{ID: table.ZoneIDFor(owner, t), Type: t, OwnerID: owner}
}

func TestCanViewZone_HiddenOwnerOnly(t *testing.T) {
	hand := zone("p1", table.ZoneHand)

	if d := CanViewZone("p1", hand, ViewOptions{}); !d.Allowed {
		t.Errorf("owner must see own hand: %s", d.Reason)
	}
	if d := CanViewZone("p2", hand, ViewOptions{}); d.Allowed {
		t.Error("opponent must not see a hand")
	}
	// The reveal-everything toggle never pierces hidden zones.
	if d := CanViewZone("p2", hand, ViewOptions{ViewAll: true}); d.Allowed {
		t.Error("ViewAll must not override hidden-zone privacy")
	}
}

func TestCanViewZone_PublicZonesOpenToAll(t *testing.T) {
	for _, zt := range []table.ZoneType{table.ZoneBattlefield, table.ZoneGraveyard, table.ZoneExile, table.ZoneCommander} {
		if d := CanViewZone("p2", zone("p1", zt), ViewOptions{}); !d.Allowed {
			t.Errorf("%s should be publicly viewable: %s", zt, d.Reason)
		}
	}
}

func TestCanMoveCard_DestinationHiddenCheckedFirst(t *testing.T) {
	card := table.Card{ID: "c1", OwnerID: "p1", ControllerID: "p1"}
	// p1 owns the source hand but not the destination library.
	d := CanMoveCard("p1", card, zone("p1", table.ZoneHand), zone("p2", table.ZoneLibrary))
	if d.Allowed {
		t.Fatal("moving into another player's library must be denied")
	}
	if !strings.Contains(d.Reason, "into") {
		t.Errorf("denial must name the destination, got %q", d.Reason)
	}
}

func TestCanMoveCard_SourceHiddenDenied(t *testing.T) {
	card := table.Card{ID: "c1", OwnerID: "p2", ControllerID: "p2"}
	d := CanMoveCard("p1", card, zone("p2", table.ZoneHand), zone("p1", table.ZoneBattlefield))
	if d.Allowed {
		t.Error("pulling cards out of another player's hand must be denied")
	}
}

func TestCanMoveCard_BetweenBattlefields(t *testing.T) {
	card := table.Card{ID: "c1", OwnerID: "p1", ControllerID: "p1"}
	from := zone("p2", table.ZoneBattlefield)
	to := zone("p3", table.ZoneBattlefield)

	for _, actor := range []string{"p1", "p2", "p3"} {
		if d := CanMoveCard(actor, card, from, to); !d.Allowed {
			t.Errorf("actor %s should be allowed: %s", actor, d.Reason)
		}
	}
	if d := CanMoveCard("p4", card, from, to); d.Allowed {
		t.Error("an uninvolved player must not move cards between battlefields")
	}
}

func TestCanMoveCard_OwnerAndZoneOwnerAllowed(t *testing.T) {
	card := table.Card{ID: "c1", OwnerID: "p1", ControllerID: "p1"}
	from := zone("p1", table.ZoneBattlefield)
	to := zone("p1", table.ZoneGraveyard)

	if d := CanMoveCard("p1", card, from, to); !d.Allowed {
		t.Errorf("card owner should be allowed: %s", d.Reason)
	}
	// p2 owns neither the card nor either zone.
	if d := CanMoveCard("p2", card, from, to); d.Allowed {
		t.Error("unrelated player must be denied")
	}
}

func TestCanTapCard(t *testing.T) {
	card := table.Card{ID: "c1", OwnerID: "p1", ControllerID: "p2"}
	bf := zone("p1", table.ZoneBattlefield)

	if d := CanTapCard("p2", card, bf); !d.Allowed {
		t.Errorf("controller should tap: %s", d.Reason)
	}
	if d := CanTapCard("p1", card, bf); d.Allowed {
		t.Error("owner who is not controller must not tap")
	}
	if d := CanTapCard("p2", card, zone("p1", table.ZoneGraveyard)); d.Allowed {
		t.Error("tapping outside the battlefield must be denied")
	}
}

func TestCanModifyCardState(t *testing.T) {
	card := table.Card{ID: "c1", OwnerID: "p1", ControllerID: "p2"}
	bf := zone("p3", table.ZoneBattlefield)

	for _, actor := range []string{"p1", "p2", "p3"} {
		if d := CanModifyCardState(actor, card, bf); !d.Allowed {
			t.Errorf("actor %s should be allowed: %s", actor, d.Reason)
		}
	}
	if d := CanModifyCardState("p4", card, bf); d.Allowed {
		t.Error("unrelated player must be denied")
	}
	if d := CanModifyCardState("p1", card, zone("p1", table.ZoneHand)); d.Allowed {
		t.Error("state changes off the battlefield must be denied")
	}
}

func TestCanCreateToken(t *testing.T) {
	if d := CanCreateToken("p1", zone("p1", table.ZoneBattlefield)); !d.Allowed {
		t.Errorf("battlefield owner should create tokens: %s", d.Reason)
	}
	if d := CanCreateToken("p2", zone("p1", table.ZoneBattlefield)); d.Allowed {
		t.Error("only the battlefield owner may create tokens")
	}
	if d := CanCreateToken("p1", zone("p1", table.ZoneGraveyard)); d.Allowed {
		t.Error("tokens outside a battlefield must be denied")
	}
}

func TestCanUpdatePlayer_DenialNamesField(t *testing.T) {
	life := 30
	player := table.Player{ID: "p1"}

	if d := CanUpdatePlayer("p1", player, table.PlayerPatch{Life: &life}); !d.Allowed {
		t.Errorf("self update should pass: %s", d.Reason)
	}
	d := CanUpdatePlayer("p2", player, table.PlayerPatch{Life: &life})
	if d.Allowed {
		t.Fatal("updating another player must be denied")
	}
	if !strings.Contains(d.Reason, "life") {
		t.Errorf("denial should name the blocked field, got %q", d.Reason)
	}
}
