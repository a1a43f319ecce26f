// Package crdt provides the replicated map primitive the shared table
// state is built on: named maps of JSON values with last-writer-wins
// semantics per key and transactional batching. It deliberately does not
// implement a full CRDT algorithm; convergence relies on a Lamport clock
// with an actor-id tie-break, which is sufficient for LWW registers.
package crdt

import (
	"encoding/json"
	"sync"
)

// Op is a single replicated write: one key in one named map either set to
// a JSON value or deleted.
type Op struct {
	Map     string          `json:"map"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
	Lamport uint64          `json:"lamport"`
	Actor   string          `json:"actor"`
}

// Update is the atomic unit shipped between peers. All ops in an update
// come from one transaction and must be applied together.
type Update struct {
	Ops []Op `json:"ops"`
}

type entry struct {
	value   json.RawMessage
	lamport uint64
	actor   string
	deleted bool
}

// Doc is a replicated document holding named maps. All reads and writes
// go through Transact, which is the sole serialization boundary: a remote
// update can never be observed between two writes of the same transaction.
type Doc struct {
	mu    sync.Mutex
	actor string
	clock uint64
	maps  map[string]map[string]entry

	nextSubID uint64
	updateFns map[uint64]func(Update)
	changeFns map[uint64]func()
}

// NewDoc creates an empty document owned by the given actor id.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor:     actor,
		maps:      make(map[string]map[string]entry),
		updateFns: make(map[uint64]func(Update)),
		changeFns: make(map[uint64]func()),
	}
}

// Actor returns the local actor id used to stamp writes.
func (d *Doc) Actor() string {
	return d.actor
}

// OnUpdate registers a callback invoked with every locally-produced
// update, after the transaction that produced it has been applied.
// Transports subscribe here to ship local writes to peers. The
// returned func unregisters the callback; the document outlives any
// one transport, so subscribers must detach when they go.
func (d *Doc) OnUpdate(fn func(Update)) func() {
	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.updateFns[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.updateFns, id)
		d.mu.Unlock()
	}
}

// OnChange registers a callback invoked after any transaction or remote
// update that modified at least one key. The returned func unregisters
// the callback.
func (d *Doc) OnChange(fn func()) func() {
	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.changeFns[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.changeFns, id)
		d.mu.Unlock()
	}
}

func (d *Doc) snapshotUpdateFns() []func(Update) {
	fns := make([]func(Update), 0, len(d.updateFns))
	for _, fn := range d.updateFns {
		fns = append(fns, fn)
	}
	return fns
}

func (d *Doc) snapshotChangeFns() []func() {
	fns := make([]func(), 0, len(d.changeFns))
	for _, fn := range d.changeFns {
		fns = append(fns, fn)
	}
	return fns
}

// Tx gives transactional access to the document's named maps. It is only
// valid inside the Transact callback that produced it.
type Tx struct {
	doc *Doc
	ops []Op
}

// Transact runs fn with exclusive access to the document. All writes made
// through the Tx are batched into a single Update, so peers never observe
// a partially-applied multi-key change. Callbacks fire after the lock is
// released.
func (d *Doc) Transact(fn func(tx *Tx)) {
	d.mu.Lock()
	tx := &Tx{doc: d}
	fn(tx)
	ops := tx.ops
	updateFns := d.snapshotUpdateFns()
	changeFns := d.snapshotChangeFns()
	d.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	update := Update{Ops: ops}
	for _, fn := range updateFns {
		fn(update)
	}
	for _, fn := range changeFns {
		fn()
	}
}

// Map returns a handle to the named map, creating it on first use.
func (tx *Tx) Map(name string) *Map {
	if _, ok := tx.doc.maps[name]; !ok {
		tx.doc.maps[name] = make(map[string]entry)
	}
	return &Map{tx: tx, name: name}
}

// Map is a named replicated map inside a transaction.
type Map struct {
	tx   *Tx
	name string
}

// Get returns the raw JSON value for key. The second result is false when
// the key is absent or deleted.
func (m *Map) Get(key string) (json.RawMessage, bool) {
	e, ok := m.tx.doc.maps[m.name][key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// GetInto unmarshals the value for key into out. Returns false when the
// key is absent or the stored value does not decode into out.
func (m *Map) GetInto(key string, out any) bool {
	raw, ok := m.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Set marshals value and writes it under key. Marshal failures are
// silently dropped; every value type stored by this module is a plain
// struct that cannot fail to encode.
func (m *Map) Set(key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	doc := m.tx.doc
	doc.clock++
	e := entry{value: raw, lamport: doc.clock, actor: doc.actor}
	doc.maps[m.name][key] = e
	m.tx.ops = append(m.tx.ops, Op{
		Map:     m.name,
		Key:     key,
		Value:   raw,
		Lamport: e.lamport,
		Actor:   e.actor,
	})
}

// Delete removes key. Deletions replicate as tombstones so a concurrent
// late write with a lower clock cannot resurrect the key.
func (m *Map) Delete(key string) {
	doc := m.tx.doc
	if _, ok := doc.maps[m.name][key]; !ok {
		return
	}
	doc.clock++
	doc.maps[m.name][key] = entry{lamport: doc.clock, actor: doc.actor, deleted: true}
	m.tx.ops = append(m.tx.ops, Op{
		Map:     m.name,
		Key:     key,
		Deleted: true,
		Lamport: doc.clock,
		Actor:   doc.actor,
	})
}

// ForEach visits every live key in the map. Returning false from fn stops
// the iteration early. Iteration order is unspecified.
func (m *Map) ForEach(fn func(key string, raw json.RawMessage) bool) {
	for key, e := range m.tx.doc.maps[m.name] {
		if e.deleted {
			continue
		}
		if !fn(key, e.value) {
			return
		}
	}
}

// Len returns the number of live keys.
func (m *Map) Len() int {
	n := 0
	for _, e := range m.tx.doc.maps[m.name] {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Apply merges a remote update into the document. Per-key conflicts are
// resolved last-writer-wins on (lamport, actor). Returns true when at
// least one key changed; change callbacks fire in that case.
func (d *Doc) Apply(update Update) bool {
	d.mu.Lock()
	changed := false
	for _, op := range update.Ops {
		if _, ok := d.maps[op.Map]; !ok {
			d.maps[op.Map] = make(map[string]entry)
		}
		existing, ok := d.maps[op.Map][op.Key]
		if ok && !wins(op, existing) {
			continue
		}
		d.maps[op.Map][op.Key] = entry{
			value:   op.Value,
			lamport: op.Lamport,
			actor:   op.Actor,
			deleted: op.Deleted,
		}
		if op.Lamport > d.clock {
			d.clock = op.Lamport
		}
		changed = true
	}
	changeFns := d.snapshotChangeFns()
	d.mu.Unlock()

	if changed {
		for _, fn := range changeFns {
			fn()
		}
	}
	return changed
}

// State returns every live entry as ops, suitable for bringing a freshly
// connected peer up to date in a single Apply.
func (d *Doc) State() Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ops []Op
	for name, entries := range d.maps {
		for key, e := range entries {
			if e.deleted {
				continue
			}
			ops = append(ops, Op{
				Map:     name,
				Key:     key,
				Value:   e.value,
				Lamport: e.lamport,
				Actor:   e.actor,
			})
		}
	}
	return Update{Ops: ops}
}

func wins(op Op, existing entry) bool {
	if op.Lamport != existing.lamport {
		return op.Lamport > existing.lamport
	}
	return op.Actor > existing.actor
}
