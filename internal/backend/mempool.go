package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MempoolBackend implements UTXOBackend using the mempool.space API.
// Compatible with mempool.space, litecoinspace.org, and self-hosted instances.
type MempoolBackend struct {
	baseURL    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
}

// NewMempoolBackend creates a new mempool.space backend.
func NewMempoolBackend(baseURL string, timeout time.Duration) *MempoolBackend {
	return &MempoolBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// Connect tests the connection to the API.
func (m *MempoolBackend) Connect(ctx context.Context) error {
	if _, err := m.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close closes the connection.
func (m *MempoolBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns true if connected.
func (m *MempoolBackend) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

type mempoolStats struct {
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
	TxCount      int64  `json:"tx_count"`
}

// GetBalance returns confirmed plus mempool balance.
func (m *MempoolBackend) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var result struct {
		ChainStats   mempoolStats `json:"chain_stats"`
		MempoolStats mempoolStats `json:"mempool_stats"`
	}

	if err := m.get(ctx, "/address/"+address, &result); err != nil {
		return nil, err
	}

	balance := new(big.Int).SetUint64(result.ChainStats.FundedTxoSum)
	balance.Sub(balance, new(big.Int).SetUint64(result.ChainStats.SpentTxoSum))
	balance.Add(balance, new(big.Int).SetUint64(result.MempoolStats.FundedTxoSum))
	balance.Sub(balance, new(big.Int).SetUint64(result.MempoolStats.SpentTxoSum))
	return balance, nil
}

// GetAddressUTXOs returns unspent outputs for an address.
func (m *MempoolBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var result []struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
		Value uint64 `json:"value"`
	}

	if err := m.get(ctx, "/address/"+address+"/utxo", &result); err != nil {
		return nil, err
	}

	// Without the tip height confirmed outputs count as one confirmation.
	currentHeight, err := m.GetBlockHeight(ctx)
	if err != nil {
		currentHeight = 0
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		var confirmations int64
		if u.Status.Confirmed && u.Status.BlockHeight > 0 {
			if currentHeight > 0 {
				confirmations = currentHeight - u.Status.BlockHeight + 1
			} else {
				confirmations = 1
			}
		}
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			Confirmations: confirmations,
			BlockHeight:   u.Status.BlockHeight,
		}
	}

	return utxos, nil
}

// BroadcastTransaction broadcasts a raw transaction.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, string(body))
	}

	// Response is the txid
	return strings.TrimSpace(string(body)), nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := m.get(ctx, "/blocks/tip/height", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetFeeEstimates returns fee estimates for different confirmation targets.
func (m *MempoolBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := m.get(ctx, "/v1/fees/recommended", &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(result["fastestFee"]),
		HalfHourFee: uint64(result["halfHourFee"]),
		HourFee:     uint64(result["hourFee"]),
		EconomyFee:  uint64(result["economyFee"]),
		MinimumFee:  uint64(result["minimumFee"]),
	}, nil
}

// get performs a GET request and decodes JSON response.
func (m *MempoolBackend) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}

	// Avoid stale CDN responses
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, result)
}

// decodeResponse maps HTTP status codes to backend errors and decodes a JSON body.
func decodeResponse(resp *http.Response, result interface{}) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrAddressNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// Ensure MempoolBackend implements UTXOBackend
var _ UTXOBackend = (*MempoolBackend)(nil)
