// Package idgen provides short, URL-safe unique ID generation for listing
// rows and time-ordered IDs for ingestion runs.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// ListingPrefix is prepended to every listing row ID.
var ListingPrefix = "lst-"

// RunPrefix is prepended to every run ID.
var RunPrefix = "run-"

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// ListingID returns a new row ID for a listing.
func ListingID() (string, error) {
	return GenerateWithPrefix(ListingPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// RunID returns a time-ordered run ID. Later runs sort after earlier ones.
func RunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunPrefix + id.String()
}
