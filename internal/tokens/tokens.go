// Package tokens persists per-room join credentials and availability
// marks on the client, surviving reloads. A room the client holds tokens
// for that later rejects the connection is "unavailable"; a room it
// never had tokens for just needs an invite.
package tokens

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// RoomTokens are the credentials a client holds for one room.
type RoomTokens struct {
	AccessKey string `json:"accessKey,omitempty"`
	HostKey   string `json:"hostKey,omitempty"`
	Role      string `json:"role,omitempty"`
}

type fileState struct {
	Tokens      map[string]RoomTokens `json:"tokens"`
	Unavailable map[string]bool       `json:"unavailable"`
	HostPending map[string]bool       `json:"hostPending"`
}

// Store is a file-backed token store rooted at a data directory.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store persisting under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create token store dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "room_tokens.json")}, nil
}

func (s *Store) load() fileState {
	state := fileState{
		Tokens:      make(map[string]RoomTokens),
		Unavailable: make(map[string]bool),
		HostPending: make(map[string]bool),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	// A corrupt file degrades to an empty store rather than failing.
	_ = json.Unmarshal(data, &state)
	if state.Tokens == nil {
		state.Tokens = make(map[string]RoomTokens)
	}
	if state.Unavailable == nil {
		state.Unavailable = make(map[string]bool)
	}
	if state.HostPending == nil {
		state.HostPending = make(map[string]bool)
	}
	return state
}

func (s *Store) save(state fileState) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0o600)
}

// ReadRoomTokens returns the stored credentials for a room.
func (s *Store) ReadRoomTokens(sessionID string) (RoomTokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.load().Tokens[sessionID]
	return t, ok
}

// WriteRoomTokens stores credentials for a room.
func (s *Store) WriteRoomTokens(sessionID string, t RoomTokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	state.Tokens[sessionID] = t
	s.save(state)
}

// MarkRoomUnavailable records that a room rejected previously-valid
// tokens.
func (s *Store) MarkRoomUnavailable(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	state.Unavailable[sessionID] = true
	s.save(state)
}

// IsRoomUnavailable reports whether the room was marked unavailable.
func (s *Store) IsRoomUnavailable(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Unavailable[sessionID]
}

// ClearRoomUnavailable removes the unavailable mark, e.g. after a fresh
// invite arrives.
func (s *Store) ClearRoomUnavailable(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	delete(state.Unavailable, sessionID)
	s.save(state)
}

// MarkRoomHostPending records that this client created the room but the
// relay hasn't acknowledged host status yet.
func (s *Store) MarkRoomHostPending(sessionID string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	if pending {
		state.HostPending[sessionID] = true
	} else {
		delete(state.HostPending, sessionID)
	}
	s.save(state)
}

// IsRoomHostPending reports the host-pending mark.
func (s *Store) IsRoomHostPending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().HostPending[sessionID]
}

// ResolveInviteTokenFromURL extracts the access key from a share link.
// Returns "" when the link carries none.
func ResolveInviteTokenFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("key")
}
