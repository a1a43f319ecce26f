package identity

import (
	"strings"
	"testing"
)

func TestPlayerIDFor_StablePerRoom(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	id1 := s.PlayerIDFor("room-1")
	if !strings.HasPrefix(id1, "p-") {
		t.Errorf("expected p- prefix, got %q", id1)
	}
	if id2 := s.PlayerIDFor("room-1"); id2 != id1 {
		t.Errorf("same room must reuse the id: %q vs %q", id1, id2)
	}
	if other := s.PlayerIDFor("room-2"); other == id1 {
		t.Error("different rooms must get different ids")
	}
}

func TestPlayerIDFor_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s1, _ := NewStore(dir)
	id := s1.PlayerIDFor("room-1")

	s2, _ := NewStore(dir)
	if got := s2.PlayerIDFor("room-1"); got != id {
		t.Errorf("identity lost across instances: %q vs %q", got, id)
	}
}

func TestNextSessionVersion_Monotonic(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	v1 := s.NextSessionVersion("room-1")
	v2 := s.NextSessionVersion("room-1")
	if v2 <= v1 {
		t.Errorf("session version must increase: %d then %d", v1, v2)
	}
	if other := s.NextSessionVersion("room-2"); other != 1 {
		t.Errorf("versions are per-room, expected 1, got %d", other)
	}
}

func TestClientKey_Stable(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	k1 := s.ClientKey()
	if k1 == "" {
		t.Fatal("client key must not be empty")
	}
	if k2 := s.ClientKey(); k2 != k1 {
		t.Error("client key must be stable")
	}
}
