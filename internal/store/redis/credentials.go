// Package redis stores credentials in Redis, for deployments where the
// container filesystem is ephemeral and no Postgres is available.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/wagate/internal/store"
)

const keyPrefix = "wagate:credentials:"

// CredentialStore implements store.CredentialStore on a single Redis key.
type CredentialStore struct {
	client *goredis.Client
	key    string
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url, account string) (*CredentialStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return New(client, account), nil
}

// New wraps an existing client.
func New(client *goredis.Client, account string) *CredentialStore {
	if account == "" {
		account = store.DefaultAccountKey
	}
	return &CredentialStore{client: client, key: keyPrefix + account}
}

func (s *CredentialStore) Load(ctx context.Context) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return blob, nil
}

func (s *CredentialStore) Save(ctx context.Context, blob []byte) error {
	// No expiry: credentials live until logout clears them.
	if err := s.client.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	slog.Info("credentials cleared", "backend", "redis", "key", s.key)
	return nil
}

// Close releases the client.
func (s *CredentialStore) Close() error {
	return s.client.Close()
}
