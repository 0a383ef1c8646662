package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoUserID is returned by Load when no user id has been stored yet.
var ErrNoUserID = errors.New("no stored user id")

// UserIDStore keeps the device's user id between sessions, so repeat
// visits from one device report the same userId.
type UserIDStore interface {
	Save(userID string) error
	Load() (string, error) // returns ErrNoUserID if none exists
}

type storedUser struct {
	UserID  string    `json:"user_id"`
	SavedAt time.Time `json:"saved_at"`
}

// diskStore is the UserIDStore that writes to the XDG data directory.
type diskStore struct {
	path string // full path to user.json
}

// NewUserIDStore returns a UserIDStore backed by the XDG data directory.
// Path: $XDG_DATA_HOME/viewtrack/user.json or ~/.local/share/viewtrack/user.json
func NewUserIDStore() (UserIDStore, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{path: filepath.Join(dir, "user.json")}, nil
}

func dataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "viewtrack"), nil
}

// Save writes the user id atomically via a temp file + os.Rename.
func (d *diskStore) Save(userID string) (err error) {
	data, err := json.Marshal(storedUser{UserID: userID, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to persist user id: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "user-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist user id: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist user id: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist user id: %w", err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to persist user id: %w", err)
	}
	return nil
}

// Load reads the stored user id. Returns ErrNoUserID if the file does not
// exist or holds an empty id.
func (d *diskStore) Load() (string, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoUserID
		}
		return "", fmt.Errorf("failed to read user id: %w", err)
	}

	var u storedUser
	if err := json.Unmarshal(data, &u); err != nil {
		return "", fmt.Errorf("failed to parse user id: %w", err)
	}
	if u.UserID == "" {
		return "", ErrNoUserID
	}
	return u.UserID, nil
}
