package storage

import (
	"fmt"
	"strings"
	"time"
)

// WriteData upserts plugin-scoped values. A nil value deletes the key.
// All changes are applied in a single transaction.
func (s *Storage) WriteData(pluginID string, data map[string]*string) error {
	if pluginID == "" {
		return fmt.Errorf("plugin id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for key, value := range data {
		if key == "" {
			return fmt.Errorf("empty key")
		}
		if value == nil {
			if _, err := tx.Exec(`DELETE FROM plugin_data WHERE plugin_id = ? AND key = ?`, pluginID, key); err != nil {
				return fmt.Errorf("failed to delete %q: %w", key, err)
			}
			continue
		}

		query := `
			INSERT INTO plugin_data (plugin_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(plugin_id, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`
		if _, err := tx.Exec(query, pluginID, key, *value, now); err != nil {
			return fmt.Errorf("failed to write %q: %w", key, err)
		}
	}

	return tx.Commit()
}

// ReadData returns the stored values for the given keys. Keys without a
// stored value are absent from the result.
func (s *Storage) ReadData(pluginID string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, pluginID)
	for _, k := range keys {
		args = append(args, k)
	}

	rows, err := s.db.Query(
		`SELECT key, value FROM plugin_data WHERE plugin_id = ? AND key IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}

	return out, rows.Err()
}

// DeleteData removes keys for a plugin.
func (s *Storage) DeleteData(pluginID string, keys ...string) error {
	data := make(map[string]*string, len(keys))
	for _, k := range keys {
		data[k] = nil
	}
	return s.WriteData(pluginID, data)
}

// ListDataKeys returns every stored key for a plugin, sorted.
func (s *Storage) ListDataKeys(pluginID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key FROM plugin_data WHERE plugin_id = ? ORDER BY key`, pluginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// ClearPluginData removes every key stored by a plugin.
func (s *Storage) ClearPluginData(pluginID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM plugin_data WHERE plugin_id = ?`, pluginID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
