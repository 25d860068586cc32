package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/store"
)

const credentialsSchema = `CREATE TABLE IF NOT EXISTS wagate_credentials (
	account    TEXT PRIMARY KEY,
	blob       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PGCredentialStore implements store.CredentialStore backed by Postgres.
type PGCredentialStore struct {
	db      *sql.DB
	account string
}

// NewPGCredentialStore creates the store and ensures its table exists.
func NewPGCredentialStore(ctx context.Context, db *sql.DB, account string) (*PGCredentialStore, error) {
	if account == "" {
		account = store.DefaultAccountKey
	}
	if _, err := db.ExecContext(ctx, credentialsSchema); err != nil {
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return &PGCredentialStore{db: db, account: account}, nil
}

func (s *PGCredentialStore) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM wagate_credentials WHERE account = $1`, s.account).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return blob, nil
}

func (s *PGCredentialStore) Save(ctx context.Context, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wagate_credentials (account, blob, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (account) DO UPDATE SET blob = $2, updated_at = $3`,
		s.account, blob, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *PGCredentialStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM wagate_credentials WHERE account = $1`, s.account); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	slog.Info("credentials cleared", "backend", "postgres", "account", s.account)
	return nil
}
