package steam

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

// TokenRecord is the persisted refresh credential for one account.
type TokenRecord struct {
	Username     string    `json:"username"`
	SteamID      uint64    `json:"steamId"`
	RefreshToken string    `json:"refreshToken"`
	GuardData    string    `json:"guardData,omitempty"`
	UpdatedAt    time.Time `json:"updatedAtUtc"`
}

// TokenStore reads and writes the auth cache file. The session owns the
// file exclusively: it is written after a successful credential logon and
// cleared when a token logon is rejected.
type TokenStore struct {
	path string
}

// NewTokenStore creates a store at path, or at the default location under
// the home directory when path is empty.
func NewTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".workshop-sync", "auth.json")
	}
	return &TokenStore{path: path}, nil
}

// Path returns the location of the auth cache file.
func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the cached record when one exists and matches username.
// An empty username matches any cached account. A missing or unreadable
// cache yields (nil, nil); a stale cache is never fatal.
func (s *TokenStore) Load(username string) (*TokenRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read auth cache: %w", err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	if rec.RefreshToken == "" {
		return nil, nil
	}
	if username != "" && rec.Username != username {
		return nil, nil
	}
	return &rec, nil
}

// Save persists rec, creating the containing directory when needed. The
// file is written with owner-only permissions.
func (s *TokenStore) Save(rec *TokenRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create auth cache dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write auth cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. Missing files are not an error.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear auth cache: %w", err)
	}
	return nil
}
