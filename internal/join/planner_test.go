package join

import (
	"testing"

	"github.com/magefree/mage-table-go/internal/table"
)

func playersOf(ids ...string) map[string]table.Player {
	out := make(map[string]table.Player, len(ids))
	for _, id := range ids {
		out[id] = table.Player{ID: id, Name: "player " + id, Life: DefaultLife}
	}
	return out
}

func zonesFor(playerID string) map[string]table.Zone {
	out := make(map[string]table.Zone)
	for _, zt := range table.CanonicalZoneTypes {
		id := table.ZoneIDFor(playerID, zt)
		out[id] = table.Zone{ID: id, Type: zt, OwnerID: playerID}
	}
	return out
}

func TestComputeInitPlan_FreshPlayer(t *testing.T) {
	plan := ComputeInitPlan(nil, nil, nil, "p1", "Alice", "Guest 1")
	if plan == nil {
		t.Fatal("expected a plan for a fresh player")
	}
	if plan.UpsertPlayer == nil {
		t.Fatal("expected a player upsert")
	}
	if plan.UpsertPlayer.Name != "Alice" {
		t.Errorf("expected desired name, got %q", plan.UpsertPlayer.Name)
	}
	if plan.UpsertPlayer.Life != DefaultLife {
		t.Errorf("expected %d starting life, got %d", DefaultLife, plan.UpsertPlayer.Life)
	}
	if plan.UpsertPlayer.Color == "" {
		t.Error("fresh player must get a seat color")
	}
	if len(plan.ZonesToCreate) != len(table.CanonicalZoneTypes) {
		t.Errorf("expected %d zones, got %d", len(table.CanonicalZoneTypes), len(plan.ZonesToCreate))
	}
}

func TestComputeInitPlan_FallsBackToDefaultName(t *testing.T) {
	plan := ComputeInitPlan(nil, nil, nil, "p1", "", "Guest 1")
	if plan == nil || plan.UpsertPlayer == nil {
		t.Fatal("expected a player upsert")
	}
	if plan.UpsertPlayer.Name != "Guest 1" {
		t.Errorf("expected default name, got %q", plan.UpsertPlayer.Name)
	}
}

func TestComputeInitPlan_RejoinIsNil(t *testing.T) {
	players := playersOf("p1")
	p := players["p1"]
	p.Color = seatPalette[0]
	players["p1"] = p

	plan := ComputeInitPlan(players, []string{"p1"}, zonesFor("p1"), "p1", "player p1", "Guest 1")
	if plan != nil {
		t.Fatalf("re-entering a fully initialized room must plan zero writes, got %+v", plan)
	}
}

func TestComputeInitPlan_DefaultNameUpgraded(t *testing.T) {
	players := map[string]table.Player{
		"p1": {ID: "p1", Name: "Guest 1", Life: DefaultLife, Color: seatPalette[0]},
	}
	plan := ComputeInitPlan(players, []string{"p1"}, zonesFor("p1"), "p1", "Alice", "Guest 1")
	if plan == nil || plan.PatchLocalName == nil {
		t.Fatal("expected a name patch replacing the synthesized default")
	}
	if *plan.PatchLocalName != "Alice" {
		t.Errorf("expected Alice, got %q", *plan.PatchLocalName)
	}
}

func TestComputeInitPlan_PersonalizedNameKept(t *testing.T) {
	players := map[string]table.Player{
		"p1": {ID: "p1", Name: "MyCustomName", Life: DefaultLife, Color: seatPalette[0]},
	}
	plan := ComputeInitPlan(players, []string{"p1"}, zonesFor("p1"), "p1", "Alice", "Guest 1")
	if plan != nil && plan.PatchLocalName != nil {
		t.Error("a personalized name must never be overwritten")
	}
}

func TestComputeInitPlan_NoDuplicateZones(t *testing.T) {
	players := map[string]table.Player{
		"p1": {ID: "p1", Name: "Alice", Life: DefaultLife, Color: seatPalette[0]},
	}
	zones := zonesFor("p1")
	// Drop one zone; only that one should be recreated.
	delete(zones, table.ZoneIDFor("p1", table.ZoneExile))

	plan := ComputeInitPlan(players, []string{"p1"}, zones, "p1", "Alice", "Guest 1")
	if plan == nil {
		t.Fatal("expected a plan for the missing zone")
	}
	if len(plan.ZonesToCreate) != 1 {
		t.Fatalf("expected exactly one zone to create, got %d", len(plan.ZonesToCreate))
	}
	if plan.ZonesToCreate[0].Type != table.ZoneExile {
		t.Errorf("expected the exile zone, got %s", plan.ZonesToCreate[0].Type)
	}
}

func TestComputeInitPlan_LegacyCommandZoneRecognized(t *testing.T) {
	players := map[string]table.Player{
		"p1": {ID: "p1", Name: "Alice", Life: DefaultLife, Color: seatPalette[0]},
	}
	zones := zonesFor("p1")
	delete(zones, table.ZoneIDFor("p1", table.ZoneCommander))
	// An old document spells the commander zone "command".
	legacyID := "p1-command"
	zones[legacyID] = table.Zone{ID: legacyID, Type: "command", OwnerID: "p1"}

	plan := ComputeInitPlan(players, []string{"p1"}, zones, "p1", "Alice", "Guest 1")
	if plan != nil && len(plan.ZonesToCreate) > 0 {
		t.Errorf("legacy command zone must satisfy the commander requirement, planned %+v", plan.ZonesToCreate)
	}
}

func TestComputeInitPlan_ColorPatches(t *testing.T) {
	players := map[string]table.Player{
		"p1": {ID: "p1", Name: "Alice", Life: DefaultLife, Color: "#123456"},
		"p2": {ID: "p2", Name: "Bob", Life: DefaultLife},
	}
	zones := zonesFor("p1")
	for id, z := range zonesFor("p2") {
		zones[id] = z
	}

	plan := ComputeInitPlan(players, []string{"p1", "p2"}, zones, "p1", "Alice", "Guest 1")
	if plan == nil {
		t.Fatal("expected color patches")
	}
	var patchedSelf, patchedBob bool
	for _, cp := range plan.ColorPatches {
		switch cp.PlayerID {
		case "p1":
			patchedSelf = true
			if cp.Color != seatPalette[0] {
				t.Errorf("expected seat 0 color for p1, got %s", cp.Color)
			}
		case "p2":
			patchedBob = true
			if cp.Color != seatPalette[1] {
				t.Errorf("expected seat 1 color for p2, got %s", cp.Color)
			}
		}
	}
	if !patchedSelf {
		t.Error("local player must self-correct color drift")
	}
	if !patchedBob {
		t.Error("a colorless player must be assigned their seat color")
	}
}

func TestComputeInitPlan_OtherPlayersColorLeftAlone(t *testing.T) {
	players := map[string]table.Player{
		"p1": {ID: "p1", Name: "Alice", Life: DefaultLife, Color: seatPalette[0]},
		"p2": {ID: "p2", Name: "Bob", Life: DefaultLife, Color: "#custom"},
	}
	zones := zonesFor("p1")
	for id, z := range zonesFor("p2") {
		zones[id] = z
	}
	plan := ComputeInitPlan(players, []string{"p1", "p2"}, zones, "p1", "Alice", "Guest 1")
	if plan != nil {
		for _, cp := range plan.ColorPatches {
			if cp.PlayerID == "p2" {
				t.Error("another player's intentionally-set color must not be patched")
			}
		}
	}
}

func TestCheckJoin_ExistingPlayerAlwaysPasses(t *testing.T) {
	players := playersOf("p1", "p2", "p3", "p4", "p5")
	meta := table.RoomMeta{Locked: true}
	if reason, blocked := CheckJoin(players, meta, "p3"); blocked {
		t.Errorf("existing player must pass even locked and over capacity, got %s", reason)
	}
}

func TestCheckJoin_Precedence(t *testing.T) {
	// Locked wins over capacity.
	players := playersOf("p1", "p2", "p3", "p4", "p5")
	if reason, _ := CheckJoin(players, table.RoomMeta{Locked: true}, "new"); reason != BlockedLocked {
		t.Errorf("locked must take precedence, got %s", reason)
	}
	if reason, _ := CheckJoin(players, table.RoomMeta{}, "new"); reason != BlockedOverCapacity {
		t.Errorf("expected overCapacity above the cap, got %s", reason)
	}
	atCap := playersOf("p1", "p2", "p3", "p4")
	if reason, _ := CheckJoin(atCap, table.RoomMeta{}, "new"); reason != BlockedFull {
		t.Errorf("expected full at exactly capacity, got %s", reason)
	}
	open := playersOf("p1")
	if _, blocked := CheckJoin(open, table.RoomMeta{}, "new"); blocked {
		t.Error("a room with free seats must admit new players")
	}
}

func TestResolveHost(t *testing.T) {
	players := playersOf("p1", "p2", "p3")

	if got := ResolveHost(players, []string{"p1", "p2", "p3"}, "p2"); got != "p2" {
		t.Errorf("existing host must be kept, got %s", got)
	}
	if got := ResolveHost(players, []string{"p2", "p3"}, "gone"); got != "p2" {
		t.Errorf("expected first ordered player, got %s", got)
	}
	// Order list lagging behind the players map: fall back deterministically.
	if got := ResolveHost(players, nil, ""); got != "p1" {
		t.Errorf("expected lexicographically first player, got %s", got)
	}
	if got := ResolveHost(nil, nil, "anyone"); got != "" {
		t.Errorf("empty room resolves to no host, got %s", got)
	}
}
