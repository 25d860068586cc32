package store

import (
	"context"
	"errors"
)

// DefaultAccountKey identifies the single account when none is configured.
const DefaultAccountKey = "default"

// ErrCorruptCredentials is returned when stored credentials cannot be decoded.
var ErrCorruptCredentials = errors.New("stored credentials are corrupt")

// CredentialStore durably persists the account's pairing credentials.
// Load returns (nil, nil) when nothing has been stored yet.
type CredentialStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Clear(ctx context.Context) error
}
