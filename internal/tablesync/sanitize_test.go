package tablesync

import (
	"testing"

	"github.com/magefree/mage-table-go/internal/table"
)

func validSnapshot() table.Snapshot {
	snap := table.NewSnapshot()
	snap.Players["p1"] = table.Player{ID: "p1", Name: "Alice", Life: 40}
	snap.PlayerOrder = []string{"p1"}
	bf := table.ZoneIDFor("p1", table.ZoneBattlefield)
	snap.Zones[bf] = table.Zone{ID: bf, Type: table.ZoneBattlefield, OwnerID: "p1", CardIDs: []string{"c1"}}
	snap.Cards["c1"] = table.Card{ID: "c1", OwnerID: "p1", ControllerID: "p1", ZoneID: bf}
	return snap
}

func TestSanitize_CleanSnapshotUntouched(t *testing.T) {
	out, dropped := Sanitize(validSnapshot())
	if dropped != 0 {
		t.Errorf("clean snapshot dropped %d entries", dropped)
	}
	if len(out.Players) != 1 || len(out.Zones) != 1 || len(out.Cards) != 1 {
		t.Error("clean snapshot lost entries")
	}
}

func TestSanitize_DropsMalformedRecords(t *testing.T) {
	snap := validSnapshot()
	snap.Players["bad"] = table.Player{ID: ""}
	snap.Players["mismatch"] = table.Player{ID: "other"}
	snap.Zones["orphan"] = table.Zone{ID: "orphan", OwnerID: ""}
	snap.Cards["no-zone"] = table.Card{ID: "no-zone", ZoneID: "nonexistent"}

	out, dropped := Sanitize(snap)
	if dropped != 4 {
		t.Errorf("expected 4 drops, got %d", dropped)
	}
	if _, ok := out.Players["bad"]; ok {
		t.Error("empty-id player survived")
	}
	if _, ok := out.Cards["no-zone"]; ok {
		t.Error("card in a missing zone survived")
	}
}

func TestSanitize_RepairsZoneOrder(t *testing.T) {
	snap := validSnapshot()
	bf := table.ZoneIDFor("p1", table.ZoneBattlefield)
	// Order claims a ghost, duplicates c1, and misses c2.
	snap.Cards["c2"] = table.Card{ID: "c2", OwnerID: "p1", ControllerID: "p1", ZoneID: bf}
	z := snap.Zones[bf]
	z.CardIDs = []string{"ghost", "c1", "c1"}
	snap.Zones[bf] = z

	out, dropped := Sanitize(snap)
	if dropped == 0 {
		t.Fatal("expected drops for the broken order")
	}
	got := out.Zones[bf].CardIDs
	want := []string{"c1", "c2"}
	if len(got) != len(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestSanitize_ZoneOrderDropsForeignCard(t *testing.T) {
	snap := validSnapshot()
	bf := table.ZoneIDFor("p1", table.ZoneBattlefield)
	gy := table.ZoneIDFor("p1", table.ZoneGraveyard)
	snap.Zones[gy] = table.Zone{ID: gy, Type: table.ZoneGraveyard, OwnerID: "p1"}
	// The battlefield order wrongly lists a graveyard card.
	snap.Cards["gycard"] = table.Card{ID: "gycard", OwnerID: "p1", ControllerID: "p1", ZoneID: gy}
	z := snap.Zones[bf]
	z.CardIDs = append(z.CardIDs, "gycard")
	snap.Zones[bf] = z

	out, _ := Sanitize(snap)
	for _, id := range out.Zones[bf].CardIDs {
		if id == "gycard" {
			t.Error("card claiming another zone must be dropped from the order")
		}
	}
	found := false
	for _, id := range out.Zones[gy].CardIDs {
		if id == "gycard" {
			found = true
		}
	}
	if !found {
		t.Error("the card must be appended to its claimed zone's order")
	}
}

func TestSanitize_PlayerOrderDeduped(t *testing.T) {
	snap := validSnapshot()
	snap.PlayerOrder = []string{"p1", "ghost", "p1"}

	out, _ := Sanitize(snap)
	if len(out.PlayerOrder) != 1 || out.PlayerOrder[0] != "p1" {
		t.Errorf("expected [p1], got %v", out.PlayerOrder)
	}
}

func TestSanitize_NormalizesLegacyZoneType(t *testing.T) {
	snap := validSnapshot()
	id := "p1-command"
	snap.Zones[id] = table.Zone{ID: id, Type: "command", OwnerID: "p1"}

	out, _ := Sanitize(snap)
	if out.Zones[id].Type != table.ZoneCommander {
		t.Errorf("legacy zone type must normalize, got %s", out.Zones[id].Type)
	}
}
