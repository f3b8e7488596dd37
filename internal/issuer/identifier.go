package issuer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Identifier names a rendered artifact. It is a random UUID and is never
// derived from, or used to derive, a request identifier.
type Identifier uuid.UUID

var errNilIdentifier = errors.New("identifier must not be the nil UUID")

// NewIdentifier returns a fresh random identifier.
func NewIdentifier() Identifier {
	return Identifier(uuid.New())
}

// ParseIdentifier parses the canonical textual form and rejects the nil UUID.
func ParseIdentifier(s string) (Identifier, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Identifier{}, fmt.Errorf("parse identifier %q: %w", s, err)
	}
	if id == uuid.Nil {
		return Identifier{}, errNilIdentifier
	}
	return Identifier(id), nil
}

func (id Identifier) String() string {
	return uuid.UUID(id).String()
}

func (id Identifier) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentifier(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
