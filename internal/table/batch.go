package table

import "github.com/magefree/mage-table-go/internal/crdt"

// Batch groups several typed writes into one replicated transaction.
// Used by the join path so a fresh player record and their six zones
// land atomically.
type Batch struct {
	tx *crdt.Tx
}

// Update runs fn with a Batch whose writes form a single update.
func (d *SharedDocument) Update(fn func(b *Batch)) {
	d.doc.Transact(func(tx *crdt.Tx) {
		fn(&Batch{tx: tx})
	})
}

// UpsertPlayer writes a full player record and appends it to the player
// order if absent.
func (b *Batch) UpsertPlayer(p Player) {
	b.tx.Map(mapPlayers).Set(p.ID, p)
	order := getPlayerOrder(b.tx)
	for _, id := range order {
		if id == p.ID {
			return
		}
	}
	b.tx.Map(mapPlayerOrder).Set(keyOrder, append(order, p.ID))
}

// PatchPlayer applies a partial player update.
func (b *Batch) PatchPlayer(id string, patch PlayerPatch) {
	patchPlayerTx(b.tx, id, patch)
}

// UpsertZone writes a zone record.
func (b *Batch) UpsertZone(z Zone) {
	upsertZoneTx(b.tx, z)
}

// UpsertCard writes a card record.
func (b *Batch) UpsertCard(c Card) {
	upsertCardTx(b.tx, c)
}

// PatchRoomMeta applies a partial room metadata update.
func (b *Batch) PatchRoomMeta(patch RoomMetaPatch) {
	meta := getRoomMeta(b.tx)
	if patch.HostID != nil {
		meta.HostID = *patch.HostID
	}
	if patch.Locked != nil {
		meta.Locked = *patch.Locked
	}
	b.tx.Map(mapMeta).Set(keyRoom, meta)
}
