package backend

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// balanceOfSelector is the ERC-20 balanceOf(address) function selector.
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// EVMClient implements EVMBackend on top of go-ethereum's ethclient.
type EVMClient struct {
	url     string
	chainID uint64

	mu     sync.RWMutex
	client *ethclient.Client
}

// NewEVMClient creates a client for the node at url. When chainID is non-zero
// Connect refuses nodes serving a different chain.
func NewEVMClient(url string, chainID uint64) *EVMClient {
	return &EVMClient{url: url, chainID: chainID}
}

// Type returns TypeEVM.
func (e *EVMClient) Type() Type {
	return TypeEVM
}

// Connect dials the node and verifies its chain id.
func (e *EVMClient) Connect(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, e.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if e.chainID != 0 && remote.Uint64() != e.chainID {
		client.Close()
		return fmt.Errorf("%w: node at %s serves %d, want %d", ErrChainIDMismatch, e.url, remote.Uint64(), e.chainID)
	}

	e.mu.Lock()
	if e.client != nil {
		e.client.Close()
	}
	e.client = client
	e.mu.Unlock()
	return nil
}

// Close closes the RPC connection.
func (e *EVMClient) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
	return nil
}

// IsConnected returns true if connected.
func (e *EVMClient) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client != nil
}

func (e *EVMClient) conn() (*ethclient.Client, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return nil, ErrNotConnected
	}
	return e.client, nil
}

// GetBalance returns the native balance at the latest block.
func (e *EVMClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address: %s", address)
	}
	c, err := e.conn()
	if err != nil {
		return nil, err
	}
	return c.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// TokenBalance returns an ERC-20 balance via balanceOf.
func (e *EVMClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	c, err := e.conn()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// BroadcastTransaction decodes a 0x-prefixed signed transaction and sends it.
func (e *EVMClient) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	raw, err := hexutil.Decode(rawTxHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	if err := e.SendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// SendTransaction sends a signed transaction.
func (e *EVMClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c, err := e.conn()
	if err != nil {
		return err
	}
	if err := c.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return nil
}

// GetBlockHeight returns the latest block number.
func (e *EVMClient) GetBlockHeight(ctx context.Context) (int64, error) {
	c, err := e.conn()
	if err != nil {
		return 0, err
	}
	n, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// ChainID returns the chain id reported by the node.
func (e *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	c, err := e.conn()
	if err != nil {
		return nil, err
	}
	return c.ChainID(ctx)
}

// PendingNonceAt returns the next nonce for account, counting pending transactions.
func (e *EVMClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c, err := e.conn()
	if err != nil {
		return 0, err
	}
	return c.PendingNonceAt(ctx, account)
}

// SuggestGasPrice returns the node's legacy gas price suggestion.
func (e *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c, err := e.conn()
	if err != nil {
		return nil, err
	}
	return c.SuggestGasPrice(ctx)
}

// EstimateGas estimates the gas needed for msg.
func (e *EVMClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c, err := e.conn()
	if err != nil {
		return 0, err
	}
	return c.EstimateGas(ctx, msg)
}

var _ EVMBackend = (*EVMClient)(nil)
