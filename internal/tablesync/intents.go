package tablesync

import (
	"sync"
	"time"

	"github.com/magefree/mage-table-go/internal/table"
)

// DefaultIntentTimeout discards a pending intent the authoritative
// snapshot never came to reflect. Long enough to ride out a reconnect.
const DefaultIntentTimeout = 30 * time.Second

// Intent is one optimistic local mutation awaiting authoritative
// confirmation. Apply replays its effect onto a snapshot; Confirmed
// reports whether the authoritative snapshot already reflects it
// (content equality on the mutated fields, not elapsed time).
type Intent struct {
	ID          string
	Kind        string
	SubmittedAt time.Time
	Remote      bool
	Apply       func(*table.Snapshot)
	Confirmed   func(*table.Snapshot) bool
}

// PendingIntents is the queue of not-yet-confirmed optimistic intents.
// Replay is idempotent and order-preserving: intents apply in submission
// order on every reconciliation pass until retired.
type PendingIntents struct {
	mu      sync.Mutex
	items   []Intent
	timeout time.Duration
}

// NewPendingIntents creates a queue with the given discard timeout;
// zero means DefaultIntentTimeout.
func NewPendingIntents(timeout time.Duration) *PendingIntents {
	if timeout <= 0 {
		timeout = DefaultIntentTimeout
	}
	return &PendingIntents{timeout: timeout}
}

// Add enqueues an intent.
func (q *PendingIntents) Add(intent Intent) {
	if intent.SubmittedAt.IsZero() {
		intent.SubmittedAt = time.Now()
	}
	q.mu.Lock()
	q.items = append(q.items, intent)
	q.mu.Unlock()
}

// Len returns the number of pending intents.
func (q *PendingIntents) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reconcile retires intents the authoritative snapshot already reflects
// (or that timed out), then replays the survivors onto the snapshot in
// submission order. Returns the number of intents still pending.
func (q *PendingIntents) Reconcile(snap *table.Snapshot, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, intent := range q.items {
		if intent.Confirmed != nil && intent.Confirmed(snap) {
			continue
		}
		if now.Sub(intent.SubmittedAt) > q.timeout {
			continue
		}
		kept = append(kept, intent)
	}
	q.items = kept

	for _, intent := range q.items {
		if intent.Apply != nil {
			intent.Apply(snap)
		}
	}
	return len(q.items)
}
