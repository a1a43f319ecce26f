// Package identity persists the client's per-room local player id and
// session version. Rejoining the same room reuses the same identity; the
// session version increases on every mount so stale in-flight
// connections from a previous mount can be told apart and rejected.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

type fileState struct {
	PlayerIDs       map[string]string `json:"playerIds"`
	SessionVersions map[string]uint64 `json:"sessionVersions"`
	ClientKey       string            `json:"clientKey"`
}

// Store is the file-backed identity store.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store persisting under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create identity store dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "identity.json")}, nil
}

func (s *Store) load() fileState {
	state := fileState{
		PlayerIDs:       make(map[string]string),
		SessionVersions: make(map[string]uint64),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	_ = json.Unmarshal(data, &state)
	if state.PlayerIDs == nil {
		state.PlayerIDs = make(map[string]string)
	}
	if state.SessionVersions == nil {
		state.SessionVersions = make(map[string]uint64)
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

// PlayerIDFor returns the stable local player id for a room, minting and
// persisting one on first use.
func (s *Store) PlayerIDFor(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	if id, ok := state.PlayerIDs[sessionID]; ok && id != "" {
		return id
	}
	id := "p-" + uuid.NewString()
	state.PlayerIDs[sessionID] = id
	s.save(state)
	return id
}

// NextSessionVersion bumps and returns the per-room session version.
func (s *Store) NextSessionVersion(sessionID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	state.SessionVersions[sessionID]++
	v := state.SessionVersions[sessionID]
	s.save(state)
	return v
}

// ClientKey returns the stable per-client key used to tell this client's
// connections apart from other tabs or devices of the same user.
func (s *Store) ClientKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.load()
	if state.ClientKey != "" {
		return state.ClientKey
	}
	state.ClientKey = uuid.NewString()
	s.save(state)
	return state.ClientKey
}
