package routing

import "github.com/google/uuid"

const recordIDPrefix = "cs_"

// IDProvider issues unique identifiers for destinations and records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues cs_-prefixed UUIDv7
// identifiers. UUIDv7 embeds a millisecond timestamp ahead of random bits,
// which keeps the persisted files roughly time-ordered by id.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return recordIDPrefix + value.String(), nil
}
