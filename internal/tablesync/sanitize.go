// Package tablesync turns raw replicated state into the UI-facing state:
// sanitize the shared snapshot, merge the private overlay, then replay
// pending optimistic intents.
package tablesync

import (
	"sort"

	"github.com/magefree/mage-table-go/internal/table"
)

// Sanitize drops or repairs structurally invalid entries from a raw
// snapshot. It never fails: malformed upstream data is removed and
// counted, not propagated. Returns the cleaned snapshot and the number
// of entries dropped or repaired.
func Sanitize(raw table.Snapshot) (table.Snapshot, int) {
	dropped := 0
	out := table.NewSnapshot()
	out.Meta = raw.Meta
	out.GlobalCounters = raw.GlobalCounters
	out.ViewScales = raw.ViewScales

	for key, p := range raw.Players {
		if p.ID == "" || p.ID != key {
			dropped++
			continue
		}
		out.Players[key] = p
	}

	for key, z := range raw.Zones {
		if z.ID == "" || z.ID != key || z.OwnerID == "" {
			dropped++
			continue
		}
		z.Type = table.NormalizeZoneType(z.Type)
		out.Zones[key] = z
	}

	for key, c := range raw.Cards {
		if c.ID == "" || c.ID != key || c.ZoneID == "" {
			dropped++
			continue
		}
		if _, ok := out.Zones[c.ZoneID]; !ok {
			dropped++
			continue
		}
		out.Cards[key] = c
	}

	// Zone orders: drop ids with no card record, duplicates, and cards
	// that claim a different zone; append cards the order list missed.
	for key, z := range out.Zones {
		seen := make(map[string]bool, len(z.CardIDs))
		var ids []string
		for _, id := range z.CardIDs {
			c, ok := out.Cards[id]
			if !ok || seen[id] || c.ZoneID != z.ID {
				dropped++
				continue
			}
			ids = append(ids, id)
			seen[id] = true
		}
		var missed []string
		for id, c := range out.Cards {
			if c.ZoneID == z.ID && !seen[id] {
				missed = append(missed, id)
				seen[id] = true
				dropped++
			}
		}
		sort.Strings(missed)
		ids = append(ids, missed...)
		z.CardIDs = ids
		out.Zones[key] = z
	}

	// Player order: keep only existing players, once each.
	seen := make(map[string]bool, len(raw.PlayerOrder))
	for _, id := range raw.PlayerOrder {
		if _, ok := out.Players[id]; !ok || seen[id] {
			dropped++
			continue
		}
		out.PlayerOrder = append(out.PlayerOrder, id)
		seen[id] = true
	}

	return out, dropped
}
