package join

import (
	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/table"
)

// Status of an init attempt.
type Status string

const (
	StatusOK      Status = "ok"
	StatusNoop    Status = "noop"
	StatusBlocked Status = "blocked"
)

// Result is the structured outcome of EnsureLocalPlayer. A blocked join
// is an expected state, never an error.
type Result struct {
	Status Status
	Reason BlockReason
}

// EnsureLocalPlayer runs the join gate and, if passing, applies the init
// plan in a single transaction, then self-heals the recorded host. Safe
// to call repeatedly: re-entering an already-initialized room performs
// zero writes.
func EnsureLocalPlayer(doc *table.SharedDocument, playerID, desiredName, defaultName string, logger *zap.Logger) Result {
	snap := doc.Snapshot()

	if reason, blocked := CheckJoin(snap.Players, snap.Meta, playerID); blocked {
		logger.Info("join blocked",
			zap.String("player_id", playerID),
			zap.String("reason", string(reason)),
			zap.Int("player_count", len(snap.Players)),
		)
		return Result{Status: StatusBlocked, Reason: reason}
	}

	plan := ComputeInitPlan(snap.Players, snap.PlayerOrder, snap.Zones, playerID, desiredName, defaultName)
	if plan != nil {
		doc.Update(func(b *table.Batch) {
			if plan.UpsertPlayer != nil {
				b.UpsertPlayer(*plan.UpsertPlayer)
			}
			if plan.PatchLocalName != nil {
				b.PatchPlayer(playerID, table.PlayerPatch{Name: plan.PatchLocalName})
			}
			for _, cp := range plan.ColorPatches {
				color := cp.Color
				b.PatchPlayer(cp.PlayerID, table.PlayerPatch{Color: &color})
			}
			for _, z := range plan.ZonesToCreate {
				b.UpsertZone(z)
			}
		})
		logger.Info("local player initialized",
			zap.String("player_id", playerID),
			zap.Bool("created", plan.UpsertPlayer != nil),
			zap.Int("zones_created", len(plan.ZonesToCreate)),
			zap.Int("color_patches", len(plan.ColorPatches)),
		)
	}

	healHost(doc)

	if plan == nil {
		return Result{Status: StatusNoop}
	}
	return Result{Status: StatusOK}
}

// healHost reassigns the recorded host when it no longer names an
// existing player. Runs after every membership-affecting change.
func healHost(doc *table.SharedDocument) {
	snap := doc.Snapshot()
	host := ResolveHost(snap.Players, snap.PlayerOrder, snap.Meta.HostID)
	if host != snap.Meta.HostID {
		doc.PatchRoomMeta(table.RoomMetaPatch{HostID: &host})
	}
}
