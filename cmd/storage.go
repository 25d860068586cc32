package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/store/file"
	"github.com/nextlevelbuilder/wagate/internal/store/pg"
	redisstore "github.com/nextlevelbuilder/wagate/internal/store/redis"
	"github.com/nextlevelbuilder/wagate/internal/transport/whatsapp"
)

// storage bundles the credential store with the database that holds
// whatsmeow's device keys.
type storage struct {
	backend  string
	creds    store.CredentialStore
	deviceDB *sql.DB
	dialect  string
	closers  []func() error
}

func (s *storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStorage selects the credential backend. Postgres also hosts the
// device tables; every other backend keeps them in sqlite under the data
// directory.
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	s := &storage{backend: cfg.StorageBackend()}
	dataDir := config.ExpandHome(cfg.Storage.DataDir)
	account := cfg.Storage.Account

	var creds store.CredentialStore
	switch s.backend {
	case config.BackendPostgres:
		db, err := pg.OpenDB(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		pgCreds, err := pg.NewPGCredentialStore(ctx, db, account)
		if err != nil {
			s.Close()
			return nil, err
		}
		creds = pgCreds
		s.deviceDB, s.dialect = db, whatsapp.DialectPostgres

	case config.BackendRedis:
		rc, err := redisstore.Open(ctx, cfg.Storage.RedisURL, account)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rc.Close)
		creds = rc

	case config.BackendMemory:
		slog.Warn("storage.memory", "msg", "credentials are not persisted; the account must be paired again after restart")
		creds = store.NewMemoryStore()

	default:
		creds = file.NewCredentialStore(filepath.Join(dataDir, "creds.json"), account)
	}

	if s.deviceDB == nil {
		db, err := whatsapp.OpenSQLite(ctx, dataDir)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.deviceDB, s.dialect = db, whatsapp.DialectSQLite
	}

	wrapped, err := store.NewEncryptedStore(creds, cfg.Storage.EncryptionKey)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("storage.encryptionKey: %w", err)
	}
	s.creds = wrapped
	return s, nil
}
