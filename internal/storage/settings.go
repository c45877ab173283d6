package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetSetting stores a daemon setting.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

// GetSetting returns a daemon setting, or ErrNotFound.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetSettingOr returns a daemon setting or def when it is not set.
func (s *Storage) GetSettingOr(key, def string) string {
	v, err := s.GetSetting(key)
	if err != nil {
		return def
	}
	return v
}
