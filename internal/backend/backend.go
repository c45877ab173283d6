// Package backend provides blockchain API access for the wallet engine: balances,
// fee data and transaction broadcast. It never sees private keys; all signing
// happens in the wallet package.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-exchange/walletbridge/internal/currency"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrAddressNotFound    = errors.New("address not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrChainIDMismatch    = errors.New("chain id mismatch")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool   Type = "mempool"   // mempool.space API
	TypeEsplora   Type = "esplora"   // blockstream.info API
	TypeBlockbook Type = "blockbook" // Trezor Blockbook
	TypeEVM       Type = "evm"       // EVM JSON-RPC node
)

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"` // in smallest unit (satoshis)
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height,omitempty"`
}

// FeeEstimate contains fee estimation for different confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	EconomyFee  uint64 `json:"economy_fee"`   // sat/vB for low priority
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}

// Backend defines the operations every chain backend supports.
type Backend interface {
	// Type returns the backend type (mempool, esplora, etc.)
	Type() Type

	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	// GetBalance returns the native balance of an address in base units,
	// including unconfirmed funds.
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// BroadcastTransaction sends a signed raw transaction and returns its id.
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	GetBlockHeight(ctx context.Context) (int64, error)
}

// UTXOBackend is implemented by backends for Bitcoin-family chains.
type UTXOBackend interface {
	Backend
	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)
}

// EVMBackend is implemented by backends for EVM chains.
type EVMBackend interface {
	Backend
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config contains backend configuration for one currency plugin.
type Config struct {
	Type Type   `yaml:"type"`
	URL  string `yaml:"url"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// DefaultConfig returns the backend a plugin uses when nothing is configured:
// the first RPC server of its default settings. Chains without local engine
// support return nil.
func DefaultConfig(info *currency.CurrencyInfo) *Config {
	if len(info.Defaults.RPCServers) == 0 {
		return nil
	}
	url := info.Defaults.RPCServers[0]

	switch info.ChainType {
	case currency.ChainTypeEVM:
		return &Config{Type: TypeEVM, URL: url}
	case currency.ChainTypeUTXO:
		switch info.PluginID {
		case "bitcoin":
			return &Config{Type: TypeEsplora, URL: url}
		case "litecoin":
			return &Config{Type: TypeMempool, URL: url}
		default:
			return &Config{Type: TypeBlockbook, URL: url}
		}
	}
	return nil
}

// New creates a backend from its configuration. chainID is checked on connect
// for EVM backends; pass 0 to skip the check.
func New(cfg *Config, chainID uint64) (Backend, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("%w: no url", ErrUnsupportedBackend)
	}
	switch cfg.Type {
	case TypeMempool:
		return NewMempoolBackend(cfg.URL, cfg.timeout()), nil
	case TypeEsplora:
		return NewEsploraBackend(cfg.URL, cfg.timeout()), nil
	case TypeBlockbook:
		return NewBlockbookBackend(cfg.URL, cfg.timeout()), nil
	case TypeEVM:
		return NewEVMClient(cfg.URL, chainID), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

// Registry holds backend instances by plugin id.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// NewRegistryFor creates a registry with one backend per plugin in currencies.
// overrides replace the default config per plugin id. Plugins without a usable
// config are skipped.
func NewRegistryFor(currencies *currency.Config, overrides map[string]*Config) (*Registry, error) {
	r := NewRegistry()
	for _, info := range currencies.List() {
		cfg := overrides[info.PluginID]
		if cfg == nil {
			cfg = DefaultConfig(info)
		}
		if cfg == nil {
			continue
		}

		b, err := New(cfg, info.Defaults.ChainID)
		if err != nil {
			return nil, fmt.Errorf("backend for %s: %w", info.PluginID, err)
		}
		r.Register(info.PluginID, b)
	}
	return r, nil
}

// Register adds a backend to the registry.
func (r *Registry) Register(pluginID string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[pluginID] = backend
}

// Get returns a backend by plugin id.
func (r *Registry) Get(pluginID string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[pluginID]
	return b, ok
}

// EVM returns the EVM backend of a plugin.
func (r *Registry) EVM(pluginID string) (EVMBackend, error) {
	b, ok := r.Get(pluginID)
	if !ok {
		return nil, fmt.Errorf("no backend for %s", pluginID)
	}
	evm, ok := b.(EVMBackend)
	if !ok {
		return nil, fmt.Errorf("backend for %s is not an EVM backend", pluginID)
	}
	return evm, nil
}

// UTXO returns the UTXO backend of a plugin.
func (r *Registry) UTXO(pluginID string) (UTXOBackend, error) {
	b, ok := r.Get(pluginID)
	if !ok {
		return nil, fmt.Errorf("no backend for %s", pluginID)
	}
	u, ok := b.(UTXOBackend)
	if !ok {
		return nil, fmt.Errorf("backend for %s is not a UTXO backend", pluginID)
	}
	return u, nil
}

// List returns all registered plugin ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectAll connects all registered backends. Failures are collected per
// plugin so one unreachable chain does not keep the others offline.
func (r *Registry) ConnectAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	failed := make(map[string]error)
	for id, b := range r.backends {
		if err := b.Connect(ctx); err != nil {
			failed[id] = err
		}
	}
	return failed
}

// CloseAll closes all registered backends.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		b.Close()
	}
}
