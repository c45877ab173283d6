package wallet

import (
	"errors"
	"time"
)

// Wallet engine errors
var (
	ErrLocked            = errors.New("wallet is locked")
	ErrNoSeed            = errors.New("no wallet seed found")
	ErrSeedExists        = errors.New("wallet seed already exists")
	ErrUnsupported       = errors.New("not supported by the local engine")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNoSpendTargets    = errors.New("no spend targets")
	ErrInvalidURI        = errors.New("invalid uri")
	ErrNoBackend         = errors.New("no backend for currency")
	ErrAlreadySent       = errors.New("transaction already broadcast")
)

// FeeOption selects the network fee level of a spend.
type FeeOption string

const (
	FeeLow      FeeOption = "low"
	FeeStandard FeeOption = "standard"
	FeeHigh     FeeOption = "high"
	FeeCustom   FeeOption = "custom"
)

// Custom fee keys. EVM chains take gasPrice (gwei) and gasLimit, UTXO chains
// take satPerByte.
const (
	CustomFeeGasPrice   = "gasPrice"
	CustomFeeGasLimit   = "gasLimit"
	CustomFeeSatPerByte = "satPerByte"
)

// Metadata is user-facing transaction metadata.
type Metadata struct {
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// SpendTarget is one recipient of a spend.
type SpendTarget struct {
	PublicAddress    string `json:"publicAddress"`
	NativeAmount     string `json:"nativeAmount"`
	UniqueIdentifier string `json:"uniqueIdentifier,omitempty"` // memo or destination tag
}

// SpendInfo describes a spend to build.
type SpendInfo struct {
	TokenID          string            `json:"tokenId,omitempty"`
	CurrencyCode     string            `json:"currencyCode,omitempty"`
	SpendTargets     []SpendTarget     `json:"spendTargets"`
	NetworkFeeOption FeeOption         `json:"networkFeeOption,omitempty"`
	CustomNetworkFee map[string]string `json:"customNetworkFee,omitempty"`
	Metadata         *Metadata         `json:"metadata,omitempty"`
	OrderID          string            `json:"orderId,omitempty"`
	LockInputs       bool              `json:"lockInputs,omitempty"`
}

// Transaction is a spend built by a currency wallet. It is unsigned until
// passed through SignAndBroadcast.
type Transaction struct {
	TxID         string        `json:"txid"`
	PluginID     string        `json:"pluginId"`
	TokenID      string        `json:"tokenId,omitempty"`
	CurrencyCode string        `json:"currencyCode"`
	NativeAmount string        `json:"nativeAmount"` // negative for sends
	NetworkFee   string        `json:"networkFee"`   // in the parent currency
	SpendTargets []SpendTarget `json:"spendTargets"`
	FromAddress  string        `json:"fromAddress"`
	SignedTx     string        `json:"signedTx,omitempty"`
	Date         time.Time     `json:"date"`
	Metadata     *Metadata     `json:"metadata,omitempty"`
	OrderID      string        `json:"orderId,omitempty"`

	// Engine state between MakeSpend and SignAndBroadcast
	unsigned interface{}
}

// Signed reports whether the transaction has been signed.
func (t *Transaction) Signed() bool {
	return t.SignedTx != ""
}

// ReceiveAddress is a wallet's receive address, echoing the request options.
type ReceiveAddress struct {
	PublicAddress string    `json:"publicAddress"`
	LegacyAddress string    `json:"legacyAddress,omitempty"`
	NativeAmount  string    `json:"nativeAmount,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// ReceiveOptions are the options of a receive address request.
type ReceiveOptions struct {
	TokenID      string    `json:"tokenId,omitempty"`
	NativeAmount string    `json:"nativeAmount,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// ParsedURI is the result of parsing a payment URI or bare address.
type ParsedURI struct {
	PublicAddress    string    `json:"publicAddress,omitempty"`
	NativeAmount     string    `json:"nativeAmount,omitempty"`
	CurrencyCode     string    `json:"currencyCode,omitempty"`
	TokenID          string    `json:"tokenId,omitempty"`
	UniqueIdentifier string    `json:"uniqueIdentifier,omitempty"`
	ChainID          uint64    `json:"chainId,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
}
