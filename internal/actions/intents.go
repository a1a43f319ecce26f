package actions

import (
	"encoding/json"

	"github.com/magefree/mage-table-go/internal/table"
)

// IntentKind tags a mutation intent on the wire. The dispatch table in
// dispatch.go must handle every kind; there is no dynamic fallback.
type IntentKind string

const (
	KindAddCard       IntentKind = "addCard"
	KindMoveCard      IntentKind = "moveCard"
	KindTapCard       IntentKind = "tapCard"
	KindDuplicateCard IntentKind = "duplicateCard"
	KindRemoveCard    IntentKind = "removeCard"
	KindTransformCard IntentKind = "transformCard"
	KindUpdateCard    IntentKind = "updateCard"
	KindUntapAll      IntentKind = "untapAll"
	KindSetCardReveal IntentKind = "setCardReveal"
	KindUpdatePlayer  IntentKind = "updatePlayer"
)

// Kinds lists every intent kind, for exhaustiveness checks.
var Kinds = []IntentKind{
	KindAddCard,
	KindMoveCard,
	KindTapCard,
	KindDuplicateCard,
	KindRemoveCard,
	KindTransformCard,
	KindUpdateCard,
	KindUntapAll,
	KindSetCardReveal,
	KindUpdatePlayer,
}

// AddCardPayload carries a full card to create.
type AddCardPayload struct {
	Card table.Card `json:"card"`
}

// MoveCardPayload mirrors table.MoveRequest.
type MoveCardPayload struct {
	CardID   string          `json:"cardId"`
	ToZoneID string          `json:"toZoneId"`
	Position *table.Position `json:"position,omitempty"`
	Index    *int            `json:"index,omitempty"`
}

// TapCardPayload sets a card's tapped state.
type TapCardPayload struct {
	CardID string `json:"cardId"`
	Tapped bool   `json:"tapped"`
}

// DuplicateCardPayload clones a card as a token. NewID is chosen by the
// originator so every peer agrees on the token's identity.
type DuplicateCardPayload struct {
	CardID string `json:"cardId"`
	NewID  string `json:"newId"`
}

// RemoveCardPayload deletes a card.
type RemoveCardPayload struct {
	CardID string `json:"cardId"`
}

// TransformCardPayload flips a multi-faced card.
type TransformCardPayload struct {
	CardID    string `json:"cardId"`
	FaceIndex *int   `json:"faceIndex,omitempty"`
}

// UpdateCardPayload applies a partial card update.
type UpdateCardPayload struct {
	CardID string          `json:"cardId"`
	Patch  table.CardPatch `json:"patch"`
}

// UntapAllPayload untaps every battlefield card of a controller.
type UntapAllPayload struct {
	ControllerID string `json:"controllerId"`
}

// SetCardRevealPayload adjusts who may see a hidden card.
type SetCardRevealPayload struct {
	CardID        string   `json:"cardId"`
	RevealedToAll bool     `json:"revealedToAll"`
	RevealedTo    []string `json:"revealedTo,omitempty"`
}

// UpdatePlayerPayload applies a partial player update.
type UpdatePlayerPayload struct {
	PlayerID string            `json:"playerId"`
	Patch    table.PlayerPatch `json:"patch"`
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
