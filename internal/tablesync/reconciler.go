package tablesync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/magefree/mage-table-go/internal/table"
)

// Reconciler produces the UI-facing state from the replicated document
// in three layered steps: sanitize the raw snapshot, merge the private
// overlay, replay pending optimistic intents. It never throws on
// malformed upstream data; invalid entries are dropped and counted.
type Reconciler struct {
	doc     *table.SharedDocument
	overlay *Overlay
	pending *PendingIntents
	publish func(table.Snapshot)
	logger  *zap.Logger

	mu             sync.Mutex
	loggedSanitize bool
	droppedTotal   int
}

// NewReconciler wires a reconciler to its document, overlay, pending
// queue and the publish callback that feeds the UI store.
func NewReconciler(doc *table.SharedDocument, overlay *Overlay, pending *PendingIntents, publish func(table.Snapshot), logger *zap.Logger) *Reconciler {
	return &Reconciler{
		doc:     doc,
		overlay: overlay,
		pending: pending,
		publish: publish,
		logger:  logger,
	}
}

// Resync runs one full reconciliation pass and publishes the result.
// Called debounced on document changes and directly after join or
// forced resync.
func (r *Reconciler) Resync() {
	snap, dropped := Sanitize(r.doc.Snapshot())
	if dropped > 0 {
		r.noteDropped(dropped)
	}
	r.overlay.MergeInto(&snap)
	r.pending.Reconcile(&snap, time.Now())
	r.publish(snap)
}

// noteDropped logs malformed-data drops once per session so a burst of
// remote changes cannot storm the log; later drops only bump the count.
func (r *Reconciler) noteDropped(dropped int) {
	r.mu.Lock()
	r.droppedTotal += dropped
	first := !r.loggedSanitize
	r.loggedSanitize = true
	r.mu.Unlock()
	if first {
		r.logger.Warn("dropped malformed entries from shared state",
			zap.Int("dropped", dropped),
		)
	}
}

// DroppedEntries reports how many malformed entries were sanitized away
// over the session.
func (r *Reconciler) DroppedEntries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.droppedTotal
}
