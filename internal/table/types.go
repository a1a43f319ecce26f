// Package table holds the shared tabletop data model and the replicated
// SharedDocument the multiplayer session is built on.
package table

import "strings"

// ZoneType identifies one of the canonical per-player zones.
type ZoneType string

const (
	ZoneLibrary     ZoneType = "library"
	ZoneHand        ZoneType = "hand"
	ZoneBattlefield ZoneType = "battlefield"
	ZoneGraveyard   ZoneType = "graveyard"
	ZoneExile       ZoneType = "exile"
	ZoneCommander   ZoneType = "commander"

	// legacyCommandZone is the pre-rename spelling of the commander zone
	// still present in old documents.
	legacyCommandZone ZoneType = "command"
)

// CanonicalZoneTypes lists the six zones every player owns, in creation
// order.
var CanonicalZoneTypes = []ZoneType{
	ZoneLibrary,
	ZoneHand,
	ZoneBattlefield,
	ZoneGraveyard,
	ZoneExile,
	ZoneCommander,
}

// NormalizeZoneType maps legacy aliases onto the canonical spelling.
func NormalizeZoneType(t ZoneType) ZoneType {
	if t == legacyCommandZone {
		return ZoneCommander
	}
	return t
}

// IsHiddenZone reports whether a zone's contents are owner-only.
func IsHiddenZone(t ZoneType) bool {
	t = NormalizeZoneType(t)
	return t == ZoneLibrary || t == ZoneHand
}

// ZoneIDFor derives the deterministic id of a player's zone of the given
// type. One zone per type per player.
func ZoneIDFor(ownerID string, t ZoneType) string {
	return ownerID + "-" + string(NormalizeZoneType(t))
}

// OwnerFromZoneID recovers the owner portion of a derived zone id.
func OwnerFromZoneID(zoneID string) string {
	if i := strings.LastIndex(zoneID, "-"); i > 0 {
		return zoneID[:i]
	}
	return ""
}

// Counter is a named counter on a card or player. Count is always
// positive; zero-count counters are pruned on write.
type Counter struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Color string `json:"color,omitempty"`
}

// Position is a card's placement within its zone, normalized to [0,1] on
// both axes. Legacy documents stored raw pixels; those are migrated on
// write (see normalizePosition).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is one seat at the table.
type Player struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Life            int            `json:"life"`
	Color           string         `json:"color,omitempty"`
	Counters        []Counter      `json:"counters,omitempty"`
	CommanderDamage map[string]int `json:"commanderDamage,omitempty"`
	CommanderTax    int            `json:"commanderTax"`
	DeckLoaded      bool           `json:"deckLoaded"`
}

// Zone is a player-owned container of cards. The ordered card list lives
// in the zoneOrders replicated map keyed by zone id, so reordering a
// library does not rewrite the zone record itself; CardIDs is populated
// when building snapshots.
type Zone struct {
	ID      string   `json:"id"`
	Type    ZoneType `json:"type"`
	OwnerID string   `json:"ownerId"`
	CardIDs []string `json:"cardIds,omitempty"`
}

// CardFace is one printable face of a multi-faced card.
type CardFace struct {
	Name      string `json:"name"`
	TypeLine  string `json:"typeLine,omitempty"`
	OracleText string `json:"oracleText,omitempty"`
	Power     string `json:"power,omitempty"`
	Toughness string `json:"toughness,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// CardInfo is the scryfall-lite snapshot embedded in a card so peers can
// render it without their own card-data lookup.
type CardInfo struct {
	ScryfallID string     `json:"scryfallId,omitempty"`
	Name       string     `json:"name,omitempty"`
	TypeLine   string     `json:"typeLine,omitempty"`
	OracleText string     `json:"oracleText,omitempty"`
	ManaCost   string     `json:"manaCost,omitempty"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Faces      []CardFace `json:"faces,omitempty"`
}

// Card is a single card instance on the table. A card belongs to exactly
// one zone's order at any time.
type Card struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	ControllerID     string    `json:"controllerId"`
	ZoneID           string    `json:"zoneId"`
	Name             string    `json:"name"`
	Tapped           bool      `json:"tapped"`
	FaceDown         bool      `json:"faceDown"`
	FaceDownMode     string    `json:"faceDownMode,omitempty"`
	CurrentFaceIndex int       `json:"currentFaceIndex"`
	Position         Position  `json:"position"`
	Rotation         float64   `json:"rotation"`
	Counters         []Counter `json:"counters,omitempty"`
	Power            string    `json:"power,omitempty"`
	Toughness        string    `json:"toughness,omitempty"`
	BasePower        string    `json:"basePower,omitempty"`
	BaseToughness    string    `json:"baseToughness,omitempty"`
	IsToken          bool      `json:"isToken,omitempty"`
	IsCommander      bool      `json:"isCommander,omitempty"`
	CommanderTax     int       `json:"commanderTax,omitempty"`
	RevealedToAll    bool      `json:"revealedToAll,omitempty"`
	RevealedTo       []string  `json:"revealedTo,omitempty"`
	Info             CardInfo  `json:"info"`
}

// RoomMeta is the room-level metadata record. HostID is self-healing: if
// the recorded host leaves, it is reassigned to the first player in
// canonical order.
type RoomMeta struct {
	HostID string `json:"hostId,omitempty"`
	Locked bool   `json:"locked,omitempty"`
}

// Snapshot is a plain-Go copy of the full shared state, safe to hand to
// the UI layer without touching the replicated document again.
type Snapshot struct {
	Players        map[string]Player  `json:"players"`
	PlayerOrder    []string           `json:"playerOrder"`
	Zones          map[string]Zone    `json:"zones"`
	Cards          map[string]Card    `json:"cards"`
	GlobalCounters map[string]int     `json:"globalCounters,omitempty"`
	ViewScales     map[string]float64 `json:"viewScales,omitempty"`
	Meta           RoomMeta           `json:"meta"`
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Players:        make(map[string]Player),
		Zones:          make(map[string]Zone),
		Cards:          make(map[string]Card),
		GlobalCounters: make(map[string]int),
		ViewScales:     make(map[string]float64),
	}
}

// Clone returns a deep copy of the snapshot. Intent reducers mutate the
// copy, never the reconciler's working state.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for id, p := range s.Players {
		out.Players[id] = p.Clone()
	}
	out.PlayerOrder = append([]string{}, s.PlayerOrder...)
	for id, z := range s.Zones {
		z.CardIDs = append([]string{}, z.CardIDs...)
		out.Zones[id] = z
	}
	for id, c := range s.Cards {
		out.Cards[id] = c.Clone()
	}
	for k, v := range s.GlobalCounters {
		out.GlobalCounters[k] = v
	}
	for k, v := range s.ViewScales {
		out.ViewScales[k] = v
	}
	out.Meta = s.Meta
	return out
}

// Clone returns a deep copy of the player.
func (p Player) Clone() Player {
	out := p
	out.Counters = append([]Counter{}, p.Counters...)
	if p.CommanderDamage != nil {
		out.CommanderDamage = make(map[string]int, len(p.CommanderDamage))
		for k, v := range p.CommanderDamage {
			out.CommanderDamage[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	out.Counters = append([]Counter{}, c.Counters...)
	out.RevealedTo = append([]string{}, c.RevealedTo...)
	out.Info.Faces = append([]CardFace{}, c.Info.Faces...)
	return out
}

// mergeCounter adds a counter into a list, merging with an existing entry
// of the same type and pruning non-positive results. At most one entry
// per type survives.
func mergeCounter(counters []Counter, add Counter) []Counter {
	if add.Type == "" {
		return counters
	}
	merged := false
	out := counters[:0]
	for _, c := range counters {
		if c.Type == add.Type {
			c.Count += add.Count
			if add.Color != "" {
				c.Color = add.Color
			}
			merged = true
		}
		if c.Count > 0 {
			out = append(out, c)
		}
	}
	if !merged && add.Count > 0 {
		out = append(out, add)
	}
	return out
}

// removeCounter subtracts count from the entry of the given type,
// dropping it when it reaches zero.
func removeCounter(counters []Counter, counterType string, count int) []Counter {
	if count <= 0 {
		return counters
	}
	out := counters[:0]
	for _, c := range counters {
		if c.Type == counterType {
			c.Count -= count
		}
		if c.Count > 0 {
			out = append(out, c)
		}
	}
	return out
}
