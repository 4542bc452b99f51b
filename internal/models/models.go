package models

import (
	"time"
)

// List is an ordered container (column) of items. It never holds its items;
// they are found by querying items whose ListID matches.
type List struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item is a positioned record (card) belonging to exactly one list.
// ListID is a foreign key, not an owning reference.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ListID      string    `json:"listId"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ItemPatch carries the optional fields of a partial item update.
// A nil field means "leave unchanged".
type ItemPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	ListID      *string `json:"listId,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.ListID == nil && p.Position == nil
}

// DeleteListResult is the response body of a list deletion.
type DeleteListResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
