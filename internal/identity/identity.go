package identity

import (
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"

	"liveclass/pkg/types"
)

// URL-safe alphabet; 16 symbols of 6 bits give 96 bits per id.
const (
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"
	Size     = 16

	maxAttempts = 5
)

var ErrExhausted = errors.New("could not allocate a free client id")

// Assigner hands out client ids. When InUse is set, ids it reports as taken
// are redrawn so an id is never handed to two live connections.
type Assigner struct {
	InUse func(types.ClientID) bool
}

// NewAssigner creates an assigner that checks candidates against inUse.
func NewAssigner(inUse func(types.ClientID) bool) *Assigner {
	return &Assigner{InUse: inUse}
}

// Assign returns a fresh id.
func (a *Assigner) Assign() (types.ClientID, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := gonanoid.Generate(Alphabet, Size)
		if err != nil {
			return "", fmt.Errorf("generate client id: %w", err)
		}
		id := types.ClientID(raw)
		if a.InUse == nil || !a.InUse(id) {
			return id, nil
		}
	}
	return "", ErrExhausted
}

// Valid reports whether s could have been produced by Assign.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
