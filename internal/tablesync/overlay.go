package tablesync

import (
	"sync"

	"github.com/magefree/mage-table-go/internal/table"
)

// OverlaySchemaVersion guards persisted overlays against format drift.
const OverlaySchemaVersion = 1

// OverlayCard carries the owner-visible-only fields of one card, e.g.
// the true identity of a face-down card. Nil fields leave the public
// value untouched; the overlay never owns id or zone placement.
type OverlayCard struct {
	ID               string          `json:"id"`
	Name             *string         `json:"name,omitempty"`
	CurrentFaceIndex *int            `json:"currentFaceIndex,omitempty"`
	Power            *string         `json:"power,omitempty"`
	Toughness        *string         `json:"toughness,omitempty"`
	Info             *table.CardInfo `json:"info,omitempty"`
}

// Overlay is the client-held private state that is never replicated to
// all peers. It layers onto the sanitized public snapshot during
// reconciliation.
type Overlay struct {
	mu             sync.Mutex
	SchemaVersion  int           `json:"schemaVersion"`
	OverlayVersion int           `json:"overlayVersion"`
	RoomID         string        `json:"roomId"`
	Cards          []OverlayCard `json:"cards"`
}

// NewOverlay creates an empty overlay for a room.
func NewOverlay(roomID string) *Overlay {
	return &Overlay{SchemaVersion: OverlaySchemaVersion, RoomID: roomID}
}

// Put stores or replaces the overlay entry for a card and bumps the
// overlay version.
func (o *Overlay) Put(entry OverlayCard) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.Cards {
		if c.ID == entry.ID {
			o.Cards[i] = entry
			o.OverlayVersion++
			return
		}
	}
	o.Cards = append(o.Cards, entry)
	o.OverlayVersion++
}

// Remove deletes the overlay entry for a card, if any.
func (o *Overlay) Remove(cardID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.Cards {
		if c.ID == cardID {
			o.Cards = append(o.Cards[:i], o.Cards[i+1:]...)
			o.OverlayVersion++
			return
		}
	}
}

// MergeInto layers the overlay onto a sanitized snapshot. Only fields
// the overlay owns are replaced; id/zone consistency of the snapshot is
// never altered, and entries for cards that no longer exist are skipped.
func (o *Overlay) MergeInto(snap *table.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.Cards {
		c, ok := snap.Cards[entry.ID]
		if !ok {
			continue
		}
		if entry.Name != nil {
			c.Name = *entry.Name
		}
		if entry.CurrentFaceIndex != nil {
			c.CurrentFaceIndex = *entry.CurrentFaceIndex
		}
		if entry.Power != nil {
			c.Power = *entry.Power
		}
		if entry.Toughness != nil {
			c.Toughness = *entry.Toughness
		}
		if entry.Info != nil {
			c.Info = *entry.Info
		}
		snap.Cards[entry.ID] = c
	}
}
