// Package transport carries the replicated document and the auxiliary
// low-latency intent channel over websockets. The session layer only
// depends on the Provider and IntentTransport contracts, so the wire
// implementation stays swappable.
package transport

import (
	"context"
	"encoding/json"

	"github.com/magefree/mage-table-go/internal/crdt"
	"github.com/magefree/mage-table-go/internal/presence"
)

// Status of the document transport connection.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Close codes the relay uses for auth-style rejections. Everything else
// is treated as a transient drop.
const (
	CloseInvalidAccessKey = 4401
	CloseRoomClosed       = 4403
)

// IsAuthRejection reports whether a close code means the room refused
// the client, as opposed to a transient network failure.
func IsAuthRejection(code int) bool {
	return code == CloseInvalidAccessKey || code == CloseRoomClosed
}

// ConnectParams identify the client to the relay.
type ConnectParams struct {
	RoomID         string
	UserID         string
	ClientKey      string
	SessionVersion uint64
	ClientVersion  string
	Role           string
	AccessKey      string
}

// CloseInfo describes why a connection ended.
type CloseInfo struct {
	Code   int
	Reason string
}

// Provider is the replicated-document transport: it ships local updates
// out, applies remote updates, and exposes the presence channel that
// rides on the same connection.
type Provider interface {
	// Connect dials (or re-dials) the relay. Safe to call again after a
	// drop; the session layer drives reconnect with backoff.
	Connect(ctx context.Context) error
	// OnStatus registers a connection status callback.
	OnStatus(fn func(Status))
	// OnSynced registers a callback fired once the initial state
	// exchange after a connect completes.
	OnSynced(fn func())
	// OnClose registers a callback fired with the close details when the
	// connection ends.
	OnClose(fn func(CloseInfo))
	// Connected reports the provider's own view of the connection. Can
	// be stale relative to the intent channel's liveness; callers must
	// not gate reconnects on it.
	Connected() bool
	// Presence returns the awareness channel.
	Presence() presence.Channel
	// Disconnect closes the connection but keeps the provider reusable.
	Disconnect()
	// Destroy disconnects and drops all callbacks. The provider is dead
	// afterwards.
	Destroy()
}

// IntentEnvelope is one tagged intent shipped peer-to-peer through the
// relay for low-latency application ahead of document convergence.
type IntentEnvelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	RoomID  string          `json:"roomId"`
	ActorID string          `json:"actorId"`
	Remote  bool            `json:"remote,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IntentTransport is the auxiliary message path for intent envelopes.
type IntentTransport interface {
	SendIntent(env IntentEnvelope) error
	Close()
}

// IntentHandlers receive inbound envelopes and the close notification
// used to distinguish transient drops from auth rejections.
type IntentHandlers struct {
	OnMessage func(IntentEnvelope)
	OnClose   func(CloseInfo)
}

// Dialer creates the two transports for a room session. Injected into
// the session manager so tests can swap in fakes.
type Dialer interface {
	DialDocument(params ConnectParams, doc *crdt.Doc) Provider
	DialIntents(params ConnectParams, handlers IntentHandlers) (IntentTransport, error)
}

// Message is the frame format shared by both websocket channels. The
// relay speaks the same frames, so it lives here.
type Message struct {
	Type     string                   `json:"type"`
	Update   *crdt.Update             `json:"update,omitempty"`
	States   map[int64]presence.State `json:"states,omitempty"`
	State    *presence.State          `json:"state,omitempty"`
	Envelope *IntentEnvelope          `json:"envelope,omitempty"`
}

// Frame types on the wire.
const (
	MsgUpdate         = "update"
	MsgSync           = "sync"
	MsgSyncDone       = "sync_done"
	MsgPresence       = "presence"
	MsgPresenceStates = "presence_states"
	MsgIntent         = "intent"
)
