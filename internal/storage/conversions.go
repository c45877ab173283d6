package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversion is a conversion (swap, buy, sell) reported by a plugin.
type Conversion struct {
	ID       string `json:"id"`
	PluginID string `json:"pluginId"`
	OrderID  string `json:"orderId,omitempty"`

	FromPluginID string `json:"fromPluginId"`
	FromTokenID  string `json:"fromTokenId,omitempty"`
	FromAmount   string `json:"fromNativeAmount"`

	ToPluginID string `json:"toPluginId"`
	ToTokenID  string `json:"toTokenId,omitempty"`
	ToAmount   string `json:"toNativeAmount"`

	IsEstimate bool      `json:"isEstimate"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversionFilter specifies criteria for listing conversions.
type ConversionFilter struct {
	PluginID string
	Since    time.Time
	Limit    int
	Offset   int
}

// TrackConversion stores a conversion. An id and timestamp are assigned when
// missing.
func (s *Storage) TrackConversion(c *Conversion) error {
	if c.PluginID == "" || c.FromPluginID == "" || c.ToPluginID == "" {
		return fmt.Errorf("conversion requires plugin, from and to plugin ids")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO conversions (
			id, plugin_id, order_id,
			from_plugin_id, from_token_id, from_amount,
			to_plugin_id, to_token_id, to_amount,
			is_estimate, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		c.ID, c.PluginID, nullString(c.OrderID),
		c.FromPluginID, nullString(c.FromTokenID), c.FromAmount,
		c.ToPluginID, nullString(c.ToTokenID), c.ToAmount,
		boolToInt(c.IsEstimate), c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

// ListConversions returns conversions matching the filter, newest first.
func (s *Storage) ListConversions(filter ConversionFilter) ([]*Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, plugin_id, order_id,
			from_plugin_id, from_token_id, from_amount,
			to_plugin_id, to_token_id, to_amount,
			is_estimate, created_at
		FROM conversions WHERE 1=1
	`
	args := []interface{}{}

	if filter.PluginID != "" {
		query += " AND plugin_id = ?"
		args = append(args, filter.PluginID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.Unix())
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var out []*Conversion
	for rows.Next() {
		var c Conversion
		var orderID, fromToken, toToken sql.NullString
		var isEstimate int
		var createdAt int64

		err := rows.Scan(
			&c.ID, &c.PluginID, &orderID,
			&c.FromPluginID, &fromToken, &c.FromAmount,
			&c.ToPluginID, &toToken, &c.ToAmount,
			&isEstimate, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}

		c.OrderID = orderID.String
		c.FromTokenID = fromToken.String
		c.ToTokenID = toToken.String
		c.IsEstimate = isEstimate == 1
		c.CreatedAt = time.Unix(createdAt, 0)

		out = append(out, &c)
	}

	return out, rows.Err()
}
