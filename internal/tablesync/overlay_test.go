package tablesync

import (
	"testing"

	"github.com/magefree/mage-table-go/internal/table"
)

func TestOverlay_MergeReplacesOwnedFieldsOnly(t *testing.T) {
	o := NewOverlay("room-1")
	name := "Hidden Dragon"
	power := "5"
	o.Put(OverlayCard{ID: "c1", Name: &name, Power: &power})

	snap := table.NewSnapshot()
	snap.Cards["c1"] = table.Card{ID: "c1", ZoneID: "z1", Name: "Face-down card", Toughness: "1"}

	o.MergeInto(&snap)

	c := snap.Cards["c1"]
	if c.Name != "Hidden Dragon" {
		t.Errorf("overlay name not applied, got %q", c.Name)
	}
	if c.Power != "5" {
		t.Errorf("overlay power not applied, got %q", c.Power)
	}
	if c.Toughness != "1" {
		t.Error("nil overlay field must leave the public value untouched")
	}
	if c.ZoneID != "z1" {
		t.Error("overlay must never touch zone placement")
	}
}

func TestOverlay_SkipsMissingCards(t *testing.T) {
	o := NewOverlay("room-1")
	name := "gone"
	o.Put(OverlayCard{ID: "missing", Name: &name})

	snap := table.NewSnapshot()
	o.MergeInto(&snap)
	if len(snap.Cards) != 0 {
		t.Error("overlay must not invent cards")
	}
}

func TestOverlay_PutReplacesAndBumpsVersion(t *testing.T) {
	o := NewOverlay("room-1")
	a, b := "a", "b"
	o.Put(OverlayCard{ID: "c1", Name: &a})
	v1 := o.OverlayVersion
	o.Put(OverlayCard{ID: "c1", Name: &b})

	if len(o.Cards) != 1 {
		t.Fatalf("expected one entry per card, got %d", len(o.Cards))
	}
	if *o.Cards[0].Name != "b" {
		t.Error("second put must replace the entry")
	}
	if o.OverlayVersion <= v1 {
		t.Error("version must advance on every put")
	}
}

func TestOverlay_Remove(t *testing.T) {
	o := NewOverlay("room-1")
	name := "x"
	o.Put(OverlayCard{ID: "c1", Name: &name})
	o.Remove("c1")
	o.Remove("never-there")
	if len(o.Cards) != 0 {
		t.Error("remove must delete the entry")
	}
}
