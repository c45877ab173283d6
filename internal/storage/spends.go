package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpendStatus represents the outcome of a spend request.
type SpendStatus string

const (
	SpendStatusSent      SpendStatus = "sent"
	SpendStatusFailed    SpendStatus = "failed"
	SpendStatusCancelled SpendStatus = "cancelled"
)

// SpendTarget is one recipient of a logged spend.
type SpendTarget struct {
	PublicAddress string `json:"publicAddress"`
	NativeAmount  string `json:"nativeAmount"`
}

// Spend is a spend made (or attempted) on behalf of a plugin.
type Spend struct {
	ID        string `json:"id"`
	PluginID  string `json:"pluginId"`
	SessionID string `json:"sessionId,omitempty"`
	WalletID  string `json:"walletId"`

	CurrencyPluginID string `json:"currencyPluginId"`
	TokenID          string `json:"tokenId,omitempty"`
	CurrencyCode     string `json:"currencyCode"`

	TxID         string          `json:"txid,omitempty"`
	NativeAmount string          `json:"nativeAmount"`
	NetworkFee   string          `json:"networkFee,omitempty"`
	Targets      []SpendTarget   `json:"spendTargets"`
	OrderID      string          `json:"orderId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`

	Status    SpendStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// SpendFilter specifies criteria for listing spends.
type SpendFilter struct {
	PluginID string
	WalletID string
	Status   *SpendStatus
	Limit    int
	Offset   int
}

// LogSpend records a spend. An id and timestamp are assigned when missing.
func (s *Storage) LogSpend(sp *Spend) error {
	if sp.PluginID == "" || sp.WalletID == "" {
		return fmt.Errorf("spend requires plugin and wallet ids")
	}
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = time.Now()
	}
	if sp.Status == "" {
		sp.Status = SpendStatusSent
	}

	targets, err := json.Marshal(sp.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode targets: %w", err)
	}
	var metadata sql.NullString
	if len(sp.Metadata) > 0 {
		metadata = sql.NullString{String: string(sp.Metadata), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO spends (
			id, plugin_id, session_id, wallet_id,
			currency_plugin_id, token_id, currency_code,
			txid, native_amount, network_fee, targets,
			order_id, metadata, status, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		sp.ID, sp.PluginID, nullString(sp.SessionID), sp.WalletID,
		sp.CurrencyPluginID, nullString(sp.TokenID), sp.CurrencyCode,
		nullString(sp.TxID), sp.NativeAmount, nullString(sp.NetworkFee), string(targets),
		nullString(sp.OrderID), metadata, sp.Status, nullString(sp.Error), sp.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert spend: %w", err)
	}
	return nil
}

// GetSpend returns a spend by id.
func (s *Storage) GetSpend(id string) (*Spend, error) {
	spends, err := s.listSpends(" AND id = ?", []interface{}{id}, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(spends) == 0 {
		return nil, fmt.Errorf("spend %s: %w", id, ErrNotFound)
	}
	return spends[0], nil
}

// ListSpends returns spends matching the filter, newest first.
func (s *Storage) ListSpends(filter SpendFilter) ([]*Spend, error) {
	where := ""
	args := []interface{}{}

	if filter.PluginID != "" {
		where += " AND plugin_id = ?"
		args = append(args, filter.PluginID)
	}
	if filter.WalletID != "" {
		where += " AND wallet_id = ?"
		args = append(args, filter.WalletID)
	}
	if filter.Status != nil {
		where += " AND status = ?"
		args = append(args, *filter.Status)
	}

	return s.listSpends(where, args, filter.Limit, filter.Offset)
}

func (s *Storage) listSpends(where string, args []interface{}, limit, offset int) ([]*Spend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, plugin_id, session_id, wallet_id,
			currency_plugin_id, token_id, currency_code,
			txid, native_amount, network_fee, targets,
			order_id, metadata, status, error, created_at
		FROM spends WHERE 1=1` + where + `
		ORDER BY created_at DESC, rowid DESC`

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list spends: %w", err)
	}
	defer rows.Close()

	var out []*Spend
	for rows.Next() {
		var sp Spend
		var sessionID, tokenID, txid, fee, orderID, metadata, errMsg sql.NullString
		var targets string
		var createdAt int64

		err := rows.Scan(
			&sp.ID, &sp.PluginID, &sessionID, &sp.WalletID,
			&sp.CurrencyPluginID, &tokenID, &sp.CurrencyCode,
			&txid, &sp.NativeAmount, &fee, &targets,
			&orderID, &metadata, &sp.Status, &errMsg, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spend: %w", err)
		}

		if err := json.Unmarshal([]byte(targets), &sp.Targets); err != nil {
			return nil, fmt.Errorf("failed to parse spend targets: %w", err)
		}
		sp.SessionID = sessionID.String
		sp.TokenID = tokenID.String
		sp.TxID = txid.String
		sp.NetworkFee = fee.String
		sp.OrderID = orderID.String
		if metadata.Valid {
			sp.Metadata = json.RawMessage(metadata.String)
		}
		sp.Error = errMsg.String
		sp.CreatedAt = time.Unix(createdAt, 0)

		out = append(out, &sp)
	}

	return out, rows.Err()
}
