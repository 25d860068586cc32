package store

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/wagate/internal/crypto"
)

// EncryptedStore wraps a CredentialStore with AES-256-GCM at rest.
// Values written before a key was configured are read back as plain text.
type EncryptedStore struct {
	inner CredentialStore
	key   string
}

// NewEncryptedStore returns inner unchanged when key is empty.
func NewEncryptedStore(inner CredentialStore, key string) (CredentialStore, error) {
	if key == "" {
		return inner, nil
	}
	if _, err := crypto.DeriveKey(key); err != nil {
		return nil, err
	}
	return &EncryptedStore{inner: inner, key: key}, nil
}

func (s *EncryptedStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.inner.Load(ctx)
	if err != nil || data == nil {
		return data, err
	}
	plain, err := crypto.Decrypt(data, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCredentials, err)
	}
	return plain, nil
}

func (s *EncryptedStore) Save(ctx context.Context, blob []byte) error {
	sealed, err := crypto.Encrypt(blob, s.key)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	return s.inner.Save(ctx, sealed)
}

func (s *EncryptedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}
