// Package events defines the realtime message vocabulary shared by the
// server broadcaster and the client reconciler.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/boardsync/internal/models"
)

// Kind is the type tag of a realtime message.
type Kind string

// The complete set of message kinds. Nothing else is ever sent.
const (
	ItemAdded   Kind = "itemAdded"
	ItemUpdated Kind = "itemUpdated"
	ItemMoved   Kind = "itemMoved"
	ItemDeleted Kind = "itemDeleted"
	ListAdded   Kind = "listAdded"
	ListDeleted Kind = "listDeleted"
)

// AllKinds returns every valid message kind.
func AllKinds() map[Kind]bool {
	return map[Kind]bool{
		ItemAdded:   true,
		ItemUpdated: true,
		ItemMoved:   true,
		ItemDeleted: true,
		ListAdded:   true,
		ListDeleted: true,
	}
}

// IsValidKind checks if k is one of the known kinds.
func IsValidKind(k string) bool {
	return AllKinds()[Kind(k)]
}

// ItemMovedPayload is the body of an itemMoved message. Item carries the
// item's full state after the move so receivers can merge scalar edits made
// in the same request.
type ItemMovedPayload struct {
	ItemID      string       `json:"itemId"`
	NewListID   string       `json:"newListId"`
	NewPosition int          `json:"newPosition"`
	Item        *models.Item `json:"item,omitempty"`
}

// ItemDeletedPayload is the body of an itemDeleted message.
type ItemDeletedPayload struct {
	ItemID string `json:"itemId"`
	ListID string `json:"listId,omitempty"`
}

// ListDeletedPayload is the body of a listDeleted message.
type ListDeletedPayload struct {
	ListID string `json:"listId"`
}

// Envelope is one realtime message on the wire.
type Envelope struct {
	Type          Kind            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func newEnvelope(kind Kind, payload any, correlationID string) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs of strings, ints and UTC times.
		panic(fmt.Sprintf("events: marshal %s payload: %v", kind, err))
	}
	return Envelope{Type: kind, Payload: raw, CorrelationID: correlationID}
}

// NewItemAdded builds an itemAdded message.
func NewItemAdded(it models.Item, correlationID string) Envelope {
	return newEnvelope(ItemAdded, it, correlationID)
}

// NewItemUpdated builds an itemUpdated message.
func NewItemUpdated(it models.Item, correlationID string) Envelope {
	return newEnvelope(ItemUpdated, it, correlationID)
}

// NewItemMoved builds an itemMoved message for it at its new location.
func NewItemMoved(it models.Item, correlationID string) Envelope {
	return newEnvelope(ItemMoved, ItemMovedPayload{
		ItemID:      it.ID,
		NewListID:   it.ListID,
		NewPosition: it.Position,
		Item:        &it,
	}, correlationID)
}

// NewItemDeleted builds an itemDeleted message.
func NewItemDeleted(it models.Item, correlationID string) Envelope {
	return newEnvelope(ItemDeleted, ItemDeletedPayload{ItemID: it.ID, ListID: it.ListID}, correlationID)
}

// NewListAdded builds a listAdded message.
func NewListAdded(l models.List, correlationID string) Envelope {
	return newEnvelope(ListAdded, l, correlationID)
}

// NewListDeleted builds a listDeleted message.
func NewListDeleted(listID, correlationID string) Envelope {
	return newEnvelope(ListDeleted, ListDeletedPayload{ListID: listID}, correlationID)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Item decodes the payload of an itemAdded or itemUpdated message.
func (e Envelope) Item() (models.Item, error) {
	var it models.Item
	if e.Type != ItemAdded && e.Type != ItemUpdated {
		return it, fmt.Errorf("%s does not carry an item", e.Type)
	}
	err := e.Decode(&it)
	return it, err
}

// List decodes the payload of a listAdded message.
func (e Envelope) List() (models.List, error) {
	var l models.List
	if e.Type != ListAdded {
		return l, fmt.Errorf("%s does not carry a list", e.Type)
	}
	err := e.Decode(&l)
	return l, err
}

// Validate checks the envelope has a known kind and a payload.
func (e Envelope) Validate() error {
	if !IsValidKind(string(e.Type)) {
		return fmt.Errorf("unknown message kind %q", e.Type)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return nil
}
