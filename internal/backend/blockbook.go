package backend

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BlockbookBackend implements UTXOBackend using Trezor's Blockbook API.
// API docs: https://github.com/trezor/blockbook/blob/master/docs/api.md
type BlockbookBackend struct {
	baseURL    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
}

// NewBlockbookBackend creates a new Blockbook backend.
// baseURL should be like "https://doge1.trezor.io/api/v2".
func NewBlockbookBackend(baseURL string, timeout time.Duration) *BlockbookBackend {
	return &BlockbookBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Type returns TypeBlockbook.
func (b *BlockbookBackend) Type() Type {
	return TypeBlockbook
}

// Connect tests the connection with the status endpoint.
func (b *BlockbookBackend) Connect(ctx context.Context) error {
	if _, err := b.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// Close closes the connection.
func (b *BlockbookBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// IsConnected returns true if connected.
func (b *BlockbookBackend) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// GetBalance returns confirmed plus unconfirmed balance.
func (b *BlockbookBackend) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var result struct {
		Balance            string `json:"balance"`
		UnconfirmedBalance string `json:"unconfirmedBalance"`
	}

	if err := b.get(ctx, "/address/"+address+"?details=basic", &result); err != nil {
		return nil, err
	}

	balance, err := parseBigAmount(result.Balance)
	if err != nil {
		return nil, err
	}
	unconfirmed, err := parseBigAmount(result.UnconfirmedBalance)
	if err != nil {
		return nil, err
	}
	return balance.Add(balance, unconfirmed), nil
}

// GetAddressUTXOs returns unspent outputs for an address.
func (b *BlockbookBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var result []struct {
		TxID          string `json:"txid"`
		Vout          uint32 `json:"vout"`
		Value         string `json:"value"`
		Height        int64  `json:"height"`
		Confirmations int64  `json:"confirmations"`
	}

	if err := b.get(ctx, "/utxo/"+address, &result); err != nil {
		return nil, err
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		amount, err := strconv.ParseUint(u.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo value %q: %w", u.Value, err)
		}
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        amount,
			BlockHeight:   u.Height,
			Confirmations: u.Confirmations,
		}
	}

	return utxos, nil
}

// BroadcastTransaction broadcasts a raw transaction.
func (b *BlockbookBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	// Blockbook takes the hex in the URL
	var result struct {
		Result string `json:"result"`
	}

	if err := b.get(ctx, "/sendtx/"+rawTxHex, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	return result.Result, nil
}

// GetBlockHeight returns the current block height.
func (b *BlockbookBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var result struct {
		Blockbook struct {
			BestHeight int64 `json:"bestHeight"`
		} `json:"blockbook"`
	}

	if err := b.get(ctx, "", &result); err != nil {
		return 0, err
	}

	return result.Blockbook.BestHeight, nil
}

// GetFeeEstimates queries /estimatefee/{blocks}, which answers in coin/kB.
// Targets that fail are left at zero.
func (b *BlockbookBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	estimates := &FeeEstimate{MinimumFee: 1}

	targets := []struct {
		blocks int
		dst    *uint64
	}{
		{1, &estimates.FastestFee},
		{3, &estimates.HalfHourFee},
		{6, &estimates.HourFee},
		{144, &estimates.EconomyFee},
	}

	for _, target := range targets {
		var result struct {
			Result string `json:"result"`
		}
		if err := b.get(ctx, fmt.Sprintf("/estimatefee/%d", target.blocks), &result); err == nil {
			*target.dst = coinKBToSatVB(result.Result)
		}
	}

	return estimates, nil
}

// get performs a GET request and decodes JSON response.
func (b *BlockbookBackend) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, result)
}

// parseBigAmount parses a base-unit amount that may be negative or empty.
func parseBigAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// coinKBToSatVB converts coin/kB to sat/vB, never returning less than 1.
func coinKBToSatVB(s string) uint64 {
	perKB, err := strconv.ParseFloat(s, 64)
	if err != nil || perKB <= 0 {
		return 1
	}
	// 1e8 sat per coin, 1000 bytes per kB
	fee := uint64(perKB * 1e8 / 1000)
	if fee == 0 {
		return 1
	}
	return fee
}

var _ UTXOBackend = (*BlockbookBackend)(nil)
