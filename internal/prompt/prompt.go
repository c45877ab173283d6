// Package prompt brokers questions from plugin sessions to the host UI: which
// wallet to use, whether to send a spend, whether to sign a message.
package prompt

import (
	"errors"
	"time"
)

// Broker errors
var (
	ErrPromptNotFound = errors.New("prompt not found")
	ErrPromptTimeout  = errors.New("prompt timed out")
	ErrBrokerClosed   = errors.New("prompt broker closed")
	ErrNoChoice       = errors.New("no choice to approve")
)

// Kind identifies what a prompt asks for.
type Kind string

const (
	KindWalletChoose Kind = "wallet_choose"
	KindSpendConfirm Kind = "spend_confirm"
	KindMessageSign  Kind = "message_sign"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWalletChoose, KindSpendConfirm, KindMessageSign:
		return true
	}
	return false
}

// Prompt is a pending question for the host UI.
type Prompt struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	PluginID  string      `json:"pluginId"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Response is the host's answer. WalletID and TokenID are set for
// wallet_choose prompts.
type Response struct {
	Approved bool   `json:"approved"`
	WalletID string `json:"walletId,omitempty"`
	TokenID  string `json:"tokenId,omitempty"`
}

// WalletChoice is one wallet/currency the user may pick.
type WalletChoice struct {
	WalletID     string `json:"walletId"`
	WalletName   string `json:"walletName"`
	PluginID     string `json:"pluginId"`
	TokenID      string `json:"tokenId,omitempty"`
	CurrencyCode string `json:"currencyCode"`
}

// WalletChoosePayload is the payload of a wallet_choose prompt.
type WalletChoosePayload struct {
	Choices []WalletChoice `json:"choices"`
}

// SpendTarget is a recipient shown in a spend confirmation.
type SpendTarget struct {
	PublicAddress string `json:"publicAddress"`
	NativeAmount  string `json:"nativeAmount"`
}

// SpendConfirmPayload is the payload of a spend_confirm prompt.
type SpendConfirmPayload struct {
	WalletID     string        `json:"walletId"`
	PluginID     string        `json:"pluginId"`
	TokenID      string        `json:"tokenId,omitempty"`
	CurrencyCode string        `json:"currencyCode"`
	NativeAmount string        `json:"nativeAmount"`
	NetworkFee   string        `json:"networkFee"`
	SpendTargets []SpendTarget `json:"spendTargets"`
	Name         string        `json:"name,omitempty"`
	Notes        string        `json:"notes,omitempty"`
}

// MessageSignPayload is the payload of a message_sign prompt.
type MessageSignPayload struct {
	WalletID string `json:"walletId"`
	Address  string `json:"address"`
	Message  string `json:"message"`
}

// Notifier delivers prompts to the host UI.
type Notifier interface {
	PromptOpened(p *Prompt)
	PromptClosed(id string, reason string)
}

// Close reasons passed to Notifier.PromptClosed.
const (
	ClosedResolved  = "resolved"
	ClosedTimeout   = "timeout"
	ClosedCancelled = "cancelled"
)
