package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/store"
)

// credentialsFile is the on-disk layout. Blob is base64 via encoding/json.
type credentialsFile struct {
	Account string `json:"account"`
	Blob    []byte `json:"blob"`
	SavedAt int64  `json:"saved_at"` // unix millis
}

// CredentialStore keeps credentials in a JSON file under the data directory.
// The directory must be on durable (mounted) storage.
type CredentialStore struct {
	path    string
	account string
	mu      sync.Mutex
}

// NewCredentialStore creates a file-backed store at path
// (e.g. /data/auth/creds.json).
func NewCredentialStore(path, account string) *CredentialStore {
	if account == "" {
		account = store.DefaultAccountKey
	}
	return &CredentialStore{path: path, account: account}
}

// Path returns the file location.
func (s *CredentialStore) Path() string { return s.path }

func (s *CredentialStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil // first run
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptCredentials, err)
	}
	if f.Account != s.account {
		slog.Warn("credentials: account mismatch, ignoring stored file",
			"path", s.path, "stored", f.Account, "want", s.account)
		return nil, nil
	}
	return f.Blob, nil
}

func (s *CredentialStore) Save(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(credentialsFile{
		Account: s.account,
		Blob:    blob,
		SavedAt: time.Now().UnixMilli(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	// Write then rename so a crash never leaves a half-written file.
	tmp, err := os.CreateTemp(dir, ".creds-*.json")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	slog.Info("credentials cleared", "path", s.path)
	return nil
}
