// Package uuid provides identifier generation for queued actions.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// UUID v7 format: xxxxxxxx-xxxx-7xxx-yxxx-xxxxxxxxxxxx
// The leading 48 bits are the Unix millisecond timestamp, so the canonical
// string form sorts in creation order.
var uuidV7Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Generator produces action identifiers.
type Generator func() (string, error)

// NewOrdered generates a new time-ordered UUID v7.
// IDs generated in the same process are strictly increasing.
func NewOrdered() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}

// New generates a new random UUID v4.
func New() string {
	return uuid.New().String()
}

// IsOrdered checks if a string is a canonical lowercase UUID v7.
func IsOrdered(s string) bool {
	return uuidV7Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v7.
func Validate(s string) error {
	if !IsOrdered(s) {
		return fmt.Errorf("invalid UUID v7 format: %q", s)
	}
	return nil
}

// Sequence returns a deterministic Generator yielding prefix-0001, prefix-0002, ...
// Used for replay and golden tests.
func Sequence(prefix string) Generator {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("%s-%04d", prefix, n), nil
	}
}
