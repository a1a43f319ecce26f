// Package presence derives de-duplicated peer counts from the awareness
// channel's raw per-connection states.
package presence

import "strconv"

// Roles advertised in a presence payload.
const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// ClientState is the application-level payload a peer attaches to its
// connection once it knows who it is.
type ClientState struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
}

// State is one connection's raw presence entry. Client is nil until the
// application attaches an identity.
type State struct {
	Client *ClientState `json:"client,omitempty"`
}

// Channel is the presence/awareness contract the session registers on.
type Channel interface {
	// SetLocalStateField publishes one field of the local state.
	SetLocalStateField(key string, value any)
	// States returns the raw per-connection state map.
	States() map[int64]State
	// OnChange registers a callback for presence updates.
	OnChange(fn func())
	// Clear removes the local state on leave.
	Clear()
}

// PeerCounts buckets the unique peers seen on the presence channel.
type PeerCounts struct {
	Total      int `json:"total"`
	Players    int `json:"players"`
	Spectators int `json:"spectators"`
}

// ComputePeerCounts de-duplicates connections by application-level user
// id (falling back to the connection key while a peer hasn't attached an
// id yet) and buckets each unique user by advertised role. Total is
// floored at 1: the local client counts itself even before its own
// presence write propagates.
func ComputePeerCounts(states map[int64]State) PeerCounts {
	seen := make(map[string]bool, len(states))
	var counts PeerCounts
	for connKey, state := range states {
		key := strconv.FormatInt(connKey, 10)
		role := RolePlayer
		if state.Client != nil {
			if state.Client.ID != "" {
				key = state.Client.ID
			}
			if state.Client.Role != "" {
				role = state.Client.Role
			}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		counts.Total++
		if role == RoleSpectator {
			counts.Spectators++
		} else {
			counts.Players++
		}
	}
	if counts.Total < 1 {
		counts.Total = 1
		counts.Players = 1
	}
	return counts
}
