package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// Store persists the cookie set to a local JSON file. It performs no network
// I/O and treats a missing or unreadable file as "no session" rather than an
// error.
type Store struct {
	path string
	log  *zap.Logger
}

func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, log: logger.Named("session_store")}
}

// Load returns the persisted cookie set, or nil when none is available.
func (s *Store) Load() []Cookie {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Could not read cookie file.", zap.String("path", s.path), zap.Error(err))
		}
		return nil
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		s.log.Warn("Cookie file is corrupt, ignoring it.", zap.String("path", s.path), zap.Error(err))
		return nil
	}
	return cookies
}

// Save replaces the persisted cookie set.
func (s *Store) Save(cookies []Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file %s: %w", s.path, err)
	}
	s.log.Debug("Saved cookie set.", zap.String("path", s.path), zap.Int("count", len(cookies)))
	return nil
}
