package table

import (
	"encoding/json"
	"sort"

	"github.com/magefree/mage-table-go/internal/crdt"
)

// Replicated map names inside the shared document.
const (
	mapPlayers        = "players"
	mapPlayerOrder    = "playerOrder"
	mapZones          = "zones"
	mapCards          = "cards"
	mapZoneOrders     = "zoneOrders"
	mapGlobalCounters = "globalCounters"
	mapViewScales     = "viewScales"
	mapMeta           = "meta"
)

// Keys for single-entry maps.
const (
	keyOrder = "order"
	keyRoom  = "room"
)

// SharedDocument wraps the replicated document with typed accessors for
// the tabletop state. All mutation helpers run inside a single
// transaction and read fresh values before writing, so a helper never
// trusts a read made before another peer's concurrent write landed.
type SharedDocument struct {
	doc *crdt.Doc
}

// NewSharedDocument wraps an existing replicated document.
func NewSharedDocument(doc *crdt.Doc) *SharedDocument {
	return &SharedDocument{doc: doc}
}

// Doc exposes the underlying replicated document for transport wiring.
func (d *SharedDocument) Doc() *crdt.Doc {
	return d.doc
}

// OnChange registers a callback fired after any local transaction or
// remote update modified the document. The returned func unregisters
// it.
func (d *SharedDocument) OnChange(fn func()) func() {
	return d.doc.OnChange(fn)
}

// Transact runs fn against the document's maps as one atomic update.
func (d *SharedDocument) Transact(fn func(tx *crdt.Tx)) {
	d.doc.Transact(fn)
}

func getPlayer(tx *crdt.Tx, id string) (Player, bool) {
	var p Player
	ok := tx.Map(mapPlayers).GetInto(id, &p)
	return p, ok
}

func getZone(tx *crdt.Tx, id string) (Zone, bool) {
	var z Zone
	ok := tx.Map(mapZones).GetInto(id, &z)
	if ok {
		z.Type = NormalizeZoneType(z.Type)
	}
	return z, ok
}

func getCard(tx *crdt.Tx, id string) (Card, bool) {
	var c Card
	ok := tx.Map(mapCards).GetInto(id, &c)
	return c, ok
}

func getZoneOrder(tx *crdt.Tx, zoneID string) []string {
	var ids []string
	tx.Map(mapZoneOrders).GetInto(zoneID, &ids)
	return ids
}

func setZoneOrder(tx *crdt.Tx, zoneID string, ids []string) {
	tx.Map(mapZoneOrders).Set(zoneID, ids)
}

func getPlayerOrder(tx *crdt.Tx) []string {
	var order []string
	tx.Map(mapPlayerOrder).GetInto(keyOrder, &order)
	return order
}

func getRoomMeta(tx *crdt.Tx) RoomMeta {
	var meta RoomMeta
	tx.Map(mapMeta).GetInto(keyRoom, &meta)
	return meta
}

// Snapshot builds a typed copy of the whole document. Entries that fail
// to decode are skipped here and counted by the reconciler's sanitize
// pass, which works on this snapshot.
func (d *SharedDocument) Snapshot() Snapshot {
	snap := NewSnapshot()
	d.doc.Transact(func(tx *crdt.Tx) {
		tx.Map(mapPlayers).ForEach(func(key string, _ json.RawMessage) bool {
			if p, ok := getPlayer(tx, key); ok {
				snap.Players[key] = p
			}
			return true
		})
		snap.PlayerOrder = getPlayerOrder(tx)
		tx.Map(mapZones).ForEach(func(key string, _ json.RawMessage) bool {
			if z, ok := getZone(tx, key); ok {
				z.CardIDs = getZoneOrder(tx, z.ID)
				snap.Zones[key] = z
			}
			return true
		})
		tx.Map(mapCards).ForEach(func(key string, _ json.RawMessage) bool {
			if c, ok := getCard(tx, key); ok {
				snap.Cards[key] = c
			}
			return true
		})
		tx.Map(mapGlobalCounters).ForEach(func(key string, _ json.RawMessage) bool {
			var v int
			if tx.Map(mapGlobalCounters).GetInto(key, &v) {
				snap.GlobalCounters[key] = v
			}
			return true
		})
		tx.Map(mapViewScales).ForEach(func(key string, _ json.RawMessage) bool {
			var v float64
			if tx.Map(mapViewScales).GetInto(key, &v) {
				snap.ViewScales[key] = v
			}
			return true
		})
		snap.Meta = getRoomMeta(tx)
	})
	return snap
}

// RoomMeta reads the current room metadata record.
func (d *SharedDocument) RoomMeta() RoomMeta {
	var meta RoomMeta
	d.doc.Transact(func(tx *crdt.Tx) {
		meta = getRoomMeta(tx)
	})
	return meta
}

// PlayerCount returns the number of player records in the document.
func (d *SharedDocument) PlayerCount() int {
	n := 0
	d.doc.Transact(func(tx *crdt.Tx) {
		n = tx.Map(mapPlayers).Len()
	})
	return n
}

// HasPlayer reports whether a player record exists.
func (d *SharedDocument) HasPlayer(id string) bool {
	ok := false
	d.doc.Transact(func(tx *crdt.Tx) {
		_, ok = getPlayer(tx, id)
	})
	return ok
}

// sortedPlayerIDs returns all player ids in player order, with players
// missing from the order list appended sorted. Used wherever a canonical
// deterministic ordering is needed.
func sortedPlayerIDs(tx *crdt.Tx) []string {
	order := getPlayerOrder(tx)
	seen := make(map[string]bool, len(order))
	var out []string
	for _, id := range order {
		if _, ok := getPlayer(tx, id); ok && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	var rest []string
	tx.Map(mapPlayers).ForEach(func(key string, _ json.RawMessage) bool {
		if !seen[key] {
			rest = append(rest, key)
		}
		return true
	})
	sort.Strings(rest)
	return append(out, rest...)
}
