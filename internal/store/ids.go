package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	listIDPrefix = "ls-"
	itemIDPrefix = "it-"
)

// NewListID generates a list ID.
func NewListID() string {
	return mustID(listIDPrefix)
}

// NewItemID generates an item ID.
func NewItemID() string {
	return mustID(itemIDPrefix)
}

func mustID(prefix string) string {
	id, err := generateID(prefix)
	if err != nil {
		// crypto/rand failure is fatal
		panic("generate id: " + err.Error())
	}
	return id
}

// generateID creates a prefixed ID with 16 random hex chars.
func generateID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s", prefix, hex.EncodeToString(b)), nil
}
