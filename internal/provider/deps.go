package provider

import (
	"context"

	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/internal/prompt"
	"github.com/klingon-exchange/walletbridge/internal/storage"
	"github.com/klingon-exchange/walletbridge/internal/wallet"
)

// Wallet is a currency wallet of the account.
type Wallet interface {
	ID() string
	Name() string
	PluginID() string
	CurrencyInfo() *currency.CurrencyInfo
	EnabledTokenIDs() []string

	ReceiveAddress(ctx context.Context, opts wallet.ReceiveOptions) (*wallet.ReceiveAddress, error)
	ParseURI(uri string) (*wallet.ParsedURI, error)
	MakeSpend(ctx context.Context, spend wallet.SpendInfo) (*wallet.Transaction, error)
	SignAndBroadcast(ctx context.Context, tx *wallet.Transaction) (*wallet.Transaction, error)
	SignMessage(message string) (string, error)
}

// Account lists and looks up currency wallets.
type Account interface {
	CurrencyWallets() []Wallet
	CurrencyWallet(id string) (Wallet, error)
}

// Host asks the user to choose or confirm.
type Host interface {
	Ask(ctx context.Context, kind prompt.Kind, pluginID string, payload interface{}) (prompt.Response, error)
}

// DataStore is the plugin-scoped key/value store.
type DataStore interface {
	WriteData(pluginID string, data map[string]*string) error
	ReadData(pluginID string, keys []string) (map[string]string, error)
}

// Tracker records spends and conversions.
type Tracker interface {
	LogSpend(sp *storage.Spend) error
	TrackConversion(c *storage.Conversion) error
}

// Events forwards plugin requests aimed at the host UI.
type Events interface {
	OpenURL(pluginID, url string)
	Toast(pluginID, message string)
	Error(pluginID, message string)
	ExitPlugin(pluginID string)
	SpendSent(pluginID string, tx *wallet.Transaction)
}

// serviceAccount adapts the wallet service to Account.
type serviceAccount struct {
	svc *wallet.Service
}

// NewAccount exposes the wallet service's currency wallets to providers.
func NewAccount(svc *wallet.Service) Account {
	return &serviceAccount{svc: svc}
}

func (a *serviceAccount) CurrencyWallets() []Wallet {
	wallets := a.svc.Wallets()
	out := make([]Wallet, len(wallets))
	for i, w := range wallets {
		out[i] = w
	}
	return out
}

func (a *serviceAccount) CurrencyWallet(id string) (Wallet, error) {
	w, err := a.svc.CurrencyWallet(id)
	if err != nil {
		return nil, err
	}
	return w, nil
}

type nopEvents struct{}

func (nopEvents) OpenURL(string, string)                {}
func (nopEvents) Toast(string, string)                  {}
func (nopEvents) Error(string, string)                  {}
func (nopEvents) ExitPlugin(string)                     {}
func (nopEvents) SpendSent(string, *wallet.Transaction) {}
