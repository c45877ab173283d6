// Package provider implements the EdgeProvider bridge: the API an embedded
// plugin uses to pick a wallet, fetch addresses, keep private data and
// request spends. One Provider serves one plugin session.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/klingon-exchange/walletbridge/internal/config"
	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/internal/prompt"
	"github.com/klingon-exchange/walletbridge/internal/storage"
	"github.com/klingon-exchange/walletbridge/internal/wallet"
	"github.com/klingon-exchange/walletbridge/pkg/logging"
)

// Bridge errors. The messages travel to the plugin verbatim.
var (
	ErrNoWallet          = errors.New("No wallet selected")
	ErrUserCancelled     = errors.New("User cancelled")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnknownFunc       = errors.New("unknown function")
	ErrNoMatchingWallets = errors.New("no wallets match the requested currencies")
	ErrInvalidSelection  = errors.New("selected wallet was not offered")
	ErrCurrencyMismatch  = errors.New("uri currency does not match the selected wallet")
	ErrInvalidURL        = errors.New("invalid url")
)

// DeviceInfo is returned by getDeviceInfo.
type DeviceInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
}

// Deps are the collaborators of a Provider. Only Account and Host are
// required.
type Deps struct {
	Currencies *currency.Config
	Account    Account
	Host       Host
	Data       DataStore
	Tracker    Tracker
	Events     Events
	Device     DeviceInfo
	Logger     *logging.Logger
}

// Selection is the wallet and token picked through chooseCurrencyWallet.
type Selection struct {
	WalletID     string `json:"walletId"`
	PluginID     string `json:"pluginId"`
	TokenID      string `json:"tokenId,omitempty"`
	CurrencyCode string `json:"currencyCode"`

	// requested holds the string codes of the last request, used to format
	// currency codes on the way back
	requested []string
}

// WalletInfo describes the selected wallet.
type WalletInfo struct {
	WalletID       string `json:"walletId"`
	WalletName     string `json:"walletName"`
	PluginID       string `json:"pluginId"`
	TokenID        string `json:"tokenId,omitempty"`
	CurrencyCode   string `json:"currencyCode"`
	ChainCode      string `json:"chainCode"`
	ReceiveAddress string `json:"receiveAddress"`
}

// SpendOptions are the optional parameters of requestSpend and
// requestSpendUri.
type SpendOptions struct {
	CurrencyCode     string            `json:"currencyCode,omitempty"`
	NativeAmount     string            `json:"nativeAmount,omitempty"` // overrides a URI amount
	NetworkFeeOption wallet.FeeOption  `json:"networkFeeOption,omitempty"`
	CustomNetworkFee map[string]string `json:"customNetworkFee,omitempty"`
	Metadata         *wallet.Metadata  `json:"metadata,omitempty"`
	OrderID          string            `json:"orderId,omitempty"`
	LockInputs       bool              `json:"lockInputs,omitempty"`
}

// ConversionParams describe a swap or sale the plugin made.
type ConversionParams struct {
	FromPluginID     string `json:"fromPluginId"`
	FromTokenID      string `json:"fromTokenId,omitempty"`
	FromNativeAmount string `json:"fromNativeAmount"`
	ToPluginID       string `json:"toPluginId"`
	ToTokenID        string `json:"toTokenId,omitempty"`
	ToNativeAmount   string `json:"toNativeAmount"`
	OrderID          string `json:"orderId,omitempty"`
	IsEstimate       bool   `json:"isEstimate,omitempty"`
}

// Provider serves the bridge calls of one plugin session.
type Provider struct {
	plugin     *config.GuiPlugin
	currencies *currency.Config
	account    Account
	host       Host
	data       DataStore
	tracker    Tracker
	events     Events
	device     DeviceInfo
	log        *logging.Logger

	sessionID string
	funcs     map[string]bridgeFunc

	mu       sync.RWMutex
	selected *Selection
}

// New creates a provider for a plugin session.
func New(plugin *config.GuiPlugin, deps Deps) (*Provider, error) {
	if plugin == nil || plugin.ID == "" {
		return nil, fmt.Errorf("provider requires a plugin")
	}
	if deps.Account == nil || deps.Host == nil {
		return nil, fmt.Errorf("provider requires an account and a host")
	}

	p := &Provider{
		plugin:     plugin,
		currencies: deps.Currencies,
		account:    deps.Account,
		host:       deps.Host,
		data:       deps.Data,
		tracker:    deps.Tracker,
		events:     deps.Events,
		device:     deps.Device,
		sessionID:  uuid.New().String(),
	}
	if p.currencies == nil {
		p.currencies = currency.Default()
	}
	if p.events == nil {
		p.events = nopEvents{}
	}
	if p.device.Platform == "" {
		p.device.Platform = runtime.GOOS
	}
	if p.device.Arch == "" {
		p.device.Arch = runtime.GOARCH
	}

	log := deps.Logger
	if log == nil {
		log = logging.GetDefault()
	}
	p.log = log.Component("bridge").With("plugin", plugin.ID, "session", p.sessionID)

	p.registerFuncs()
	return p, nil
}

// PluginID returns the id of the plugin this provider serves.
func (p *Provider) PluginID() string { return p.plugin.ID }

// SessionID returns the session id.
func (p *Provider) SessionID() string { return p.sessionID }

// Selection returns the current selection, or nil.
func (p *Provider) Selection() *Selection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.selected == nil {
		return nil
	}
	sel := *p.selected
	return &sel
}

// ChooseCurrencyWallet asks the user to pick a wallet holding one of the
// allowed currencies and returns the picked currency code, formatted the way
// the plugin wrote its request. An empty list allows every wallet.
func (p *Provider) ChooseCurrencyWallet(ctx context.Context, allowed []currency.ExtendedCode) (string, error) {
	var requested []string
	for _, code := range allowed {
		if code.Ref == nil && code.Code != "" {
			requested = append(requested, code.Code)
		}
	}

	choices := p.walletChoices(allowed)
	if len(choices) == 0 {
		return "", ErrNoMatchingWallets
	}

	resp, err := p.host.Ask(ctx, prompt.KindWalletChoose, p.plugin.ID, prompt.WalletChoosePayload{Choices: choices})
	if err != nil {
		return "", fmt.Errorf("wallet selection failed: %w", err)
	}
	if !resp.Approved {
		return "", ErrUserCancelled
	}

	var picked *prompt.WalletChoice
	for i := range choices {
		if choices[i].WalletID == resp.WalletID && choices[i].TokenID == resp.TokenID {
			picked = &choices[i]
			break
		}
	}
	if picked == nil {
		return "", ErrInvalidSelection
	}

	p.mu.Lock()
	p.selected = &Selection{
		WalletID:     picked.WalletID,
		PluginID:     picked.PluginID,
		TokenID:      picked.TokenID,
		CurrencyCode: picked.CurrencyCode,
		requested:    requested,
	}
	p.mu.Unlock()

	p.log.Info("Wallet selected", "wallet", picked.WalletID, "currency", picked.PluginID, "code", picked.CurrencyCode)

	info, ok := p.currencies.Get(picked.PluginID)
	if !ok {
		return picked.CurrencyCode, nil
	}
	return returnCode(requested, info.CurrencyCode, picked.TokenID, picked.CurrencyCode), nil
}

// walletChoices lists the wallet and token pairs matching the allowed codes,
// following the order of the upgraded codes.
func (p *Provider) walletChoices(allowed []currency.ExtendedCode) []prompt.WalletChoice {
	wallets := p.account.CurrencyWallets()
	var choices []prompt.WalletChoice

	if len(allowed) == 0 {
		for _, w := range wallets {
			choices = append(choices, choice(w, "", w.CurrencyInfo().CurrencyCode))
			for _, tokenID := range w.EnabledTokenIDs() {
				if token, ok := w.CurrencyInfo().Token(tokenID); ok {
					choices = append(choices, choice(w, tokenID, token.CurrencyCode))
				}
			}
		}
		return choices
	}

	refs := currency.UpgradeExtendedCurrencyCodes(p.currencies, p.plugin.FixCurrencyCodes, allowed)
	for _, ref := range refs {
		for _, w := range wallets {
			if w.PluginID() != ref.PluginID {
				continue
			}
			info := w.CurrencyInfo()
			if ref.TokenID == "" {
				choices = append(choices, choice(w, "", info.CurrencyCode))
				continue
			}
			if !contains(w.EnabledTokenIDs(), ref.TokenID) {
				continue
			}
			if token, ok := info.Token(ref.TokenID); ok {
				choices = append(choices, choice(w, ref.TokenID, token.CurrencyCode))
			}
		}
	}
	return choices
}

func choice(w Wallet, tokenID, code string) prompt.WalletChoice {
	return prompt.WalletChoice{
		WalletID:     w.ID(),
		WalletName:   w.Name(),
		PluginID:     w.PluginID(),
		TokenID:      tokenID,
		CurrencyCode: code,
	}
}

// returnCode formats the picked code. A native pick is only paired when the
// plugin asked for the "X-X" form explicitly.
func returnCode(requested []string, nativeCode, tokenID, code string) string {
	if tokenID == "" {
		pair := nativeCode + "-" + nativeCode
		for _, r := range requested {
			if strings.EqualFold(r, pair) {
				return pair
			}
		}
		return nativeCode
	}
	return currency.GetReturnCurrencyCode(requested, nativeCode, code)
}

// selection returns the selected wallet.
func (p *Provider) selection() (*Selection, Wallet, error) {
	p.mu.RLock()
	sel := p.selected
	p.mu.RUnlock()
	if sel == nil {
		return nil, nil, ErrNoWallet
	}

	w, err := p.account.CurrencyWallet(sel.WalletID)
	if err != nil {
		return nil, nil, fmt.Errorf("selected wallet unavailable: %w", err)
	}
	return sel, w, nil
}

// CurrentWalletInfo describes the selected wallet.
func (p *Provider) CurrentWalletInfo(ctx context.Context) (*WalletInfo, error) {
	sel, w, err := p.selection()
	if err != nil {
		return nil, err
	}
	addr, err := w.ReceiveAddress(ctx, wallet.ReceiveOptions{TokenID: sel.TokenID})
	if err != nil {
		return nil, err
	}
	info := w.CurrencyInfo()
	return &WalletInfo{
		WalletID:       w.ID(),
		WalletName:     w.Name(),
		PluginID:       w.PluginID(),
		TokenID:        sel.TokenID,
		CurrencyCode:   returnCode(sel.requested, info.CurrencyCode, sel.TokenID, sel.CurrencyCode),
		ChainCode:      info.CurrencyCode,
		ReceiveAddress: addr.PublicAddress,
	}, nil
}

// GetReceiveAddress returns the receive address of the selected wallet. The
// selected token is used when the options name none.
func (p *Provider) GetReceiveAddress(ctx context.Context, opts wallet.ReceiveOptions) (*wallet.ReceiveAddress, error) {
	sel, w, err := p.selection()
	if err != nil {
		return nil, err
	}
	if opts.TokenID == "" {
		opts.TokenID = sel.TokenID
	}
	return w.ReceiveAddress(ctx, opts)
}

// WriteData upserts plugin data. Nil values delete their keys.
func (p *Provider) WriteData(data map[string]*string) error {
	if p.data == nil {
		return fmt.Errorf("data store unavailable")
	}
	return p.data.WriteData(p.plugin.ID, data)
}

// ReadData returns the stored values of the keys that exist.
func (p *Provider) ReadData(keys []string) (map[string]string, error) {
	if p.data == nil {
		return nil, fmt.Errorf("data store unavailable")
	}
	return p.data.ReadData(p.plugin.ID, keys)
}

// RequestSpend spends from the selected wallet to the given targets.
func (p *Provider) RequestSpend(ctx context.Context, targets []wallet.SpendTarget, opts SpendOptions) (*wallet.Transaction, error) {
	sel, w, err := p.selection()
	if err != nil {
		return nil, err
	}
	spend := opts.spendInfo(targets)
	return p.spend(ctx, sel, w, spend)
}

// RequestSpendURI spends to a payment URI. The URI must match the selected
// currency. An amount in the options overrides the URI amount.
func (p *Provider) RequestSpendURI(ctx context.Context, uri string, opts SpendOptions) (*wallet.Transaction, error) {
	sel, w, err := p.selection()
	if err != nil {
		return nil, err
	}

	parsed, err := w.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if parsed.TokenID != "" && parsed.TokenID != sel.TokenID {
		return nil, fmt.Errorf("%w: %s", ErrCurrencyMismatch, parsed.CurrencyCode)
	}
	if parsed.TokenID == "" && sel.TokenID != "" && parsed.NativeAmount != "" {
		return nil, fmt.Errorf("%w: %s", ErrCurrencyMismatch, parsed.CurrencyCode)
	}

	amount := opts.NativeAmount
	if amount == "" {
		amount = parsed.NativeAmount
	}
	if amount == "" {
		return nil, fmt.Errorf("%w: uri carries no amount", wallet.ErrInvalidAmount)
	}
	if opts.Metadata == nil {
		opts.Metadata = parsed.Metadata
	}

	spend := opts.spendInfo([]wallet.SpendTarget{{
		PublicAddress:    parsed.PublicAddress,
		NativeAmount:     amount,
		UniqueIdentifier: parsed.UniqueIdentifier,
	}})
	return p.spend(ctx, sel, w, spend)
}

// MakeSpendRequest spends a fully described SpendInfo from the selected
// wallet.
func (p *Provider) MakeSpendRequest(ctx context.Context, spend wallet.SpendInfo) (*wallet.Transaction, error) {
	sel, w, err := p.selection()
	if err != nil {
		return nil, err
	}
	return p.spend(ctx, sel, w, spend)
}

func (o SpendOptions) spendInfo(targets []wallet.SpendTarget) wallet.SpendInfo {
	return wallet.SpendInfo{
		CurrencyCode:     o.CurrencyCode,
		SpendTargets:     targets,
		NetworkFeeOption: o.NetworkFeeOption,
		CustomNetworkFee: o.CustomNetworkFee,
		Metadata:         o.Metadata,
		OrderID:          o.OrderID,
		LockInputs:       o.LockInputs,
	}
}

// spend builds, confirms, signs and broadcasts a spend, logging the outcome.
func (p *Provider) spend(ctx context.Context, sel *Selection, w Wallet, spend wallet.SpendInfo) (*wallet.Transaction, error) {
	if !p.plugin.Allows(config.PermissionSpend) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, config.PermissionSpend)
	}
	if err := validateTargets(spend.SpendTargets); err != nil {
		return nil, err
	}
	if spend.TokenID == "" && spend.CurrencyCode == "" {
		spend.TokenID = sel.TokenID
	}

	tx, err := w.MakeSpend(ctx, spend)
	if err != nil {
		return nil, err
	}

	confirm := prompt.SpendConfirmPayload{
		WalletID:     w.ID(),
		PluginID:     w.PluginID(),
		TokenID:      tx.TokenID,
		CurrencyCode: tx.CurrencyCode,
		NativeAmount: tx.NativeAmount,
		NetworkFee:   tx.NetworkFee,
	}
	for _, t := range tx.SpendTargets {
		confirm.SpendTargets = append(confirm.SpendTargets, prompt.SpendTarget{
			PublicAddress: t.PublicAddress,
			NativeAmount:  t.NativeAmount,
		})
	}
	if tx.Metadata != nil {
		confirm.Name = tx.Metadata.Name
		confirm.Notes = tx.Metadata.Notes
	}

	resp, err := p.host.Ask(ctx, prompt.KindSpendConfirm, p.plugin.ID, confirm)
	if err != nil {
		p.record(w, tx, storage.SpendStatusCancelled, err)
		return nil, fmt.Errorf("spend confirmation failed: %w", err)
	}
	if !resp.Approved {
		p.record(w, tx, storage.SpendStatusCancelled, ErrUserCancelled)
		return nil, ErrUserCancelled
	}

	sent, err := w.SignAndBroadcast(ctx, tx)
	if err != nil {
		p.record(w, tx, storage.SpendStatusFailed, err)
		return nil, err
	}

	p.record(w, sent, storage.SpendStatusSent, nil)
	p.events.SpendSent(p.plugin.ID, sent)
	p.log.Info("Spend sent", "wallet", w.ID(), "txid", sent.TxID, "amount", sent.NativeAmount, "code", sent.CurrencyCode)
	return sent, nil
}

func validateTargets(targets []wallet.SpendTarget) error {
	if len(targets) == 0 {
		return wallet.ErrNoSpendTargets
	}
	for i, t := range targets {
		if strings.TrimSpace(t.PublicAddress) == "" {
			return fmt.Errorf("target %d: %w", i, wallet.ErrInvalidAddress)
		}
		amount, ok := new(big.Int).SetString(t.NativeAmount, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("target %d: %w: %q", i, wallet.ErrInvalidAmount, t.NativeAmount)
		}
	}
	return nil
}

// record writes the spend log. Failures are logged, never returned.
func (p *Provider) record(w Wallet, tx *wallet.Transaction, status storage.SpendStatus, cause error) {
	if p.tracker == nil {
		return
	}

	sp := &storage.Spend{
		PluginID:         p.plugin.ID,
		SessionID:        p.sessionID,
		WalletID:         w.ID(),
		CurrencyPluginID: w.PluginID(),
		TokenID:          tx.TokenID,
		CurrencyCode:     tx.CurrencyCode,
		TxID:             tx.TxID,
		NativeAmount:     tx.NativeAmount,
		NetworkFee:       tx.NetworkFee,
		OrderID:          tx.OrderID,
		Status:           status,
	}
	for _, t := range tx.SpendTargets {
		sp.Targets = append(sp.Targets, storage.SpendTarget{PublicAddress: t.PublicAddress, NativeAmount: t.NativeAmount})
	}
	if tx.Metadata != nil {
		if raw, err := json.Marshal(tx.Metadata); err == nil {
			sp.Metadata = raw
		}
	}
	if cause != nil {
		sp.Error = cause.Error()
	}

	if err := p.tracker.LogSpend(sp); err != nil {
		p.log.Warn("Failed to log spend", "error", err)
	}
}

// SignMessage signs a message with the selected wallet's key once the user
// approves.
func (p *Provider) SignMessage(ctx context.Context, message string) (string, error) {
	if !p.plugin.Allows(config.PermissionSignMessage) {
		return "", fmt.Errorf("%w: %s", ErrPermissionDenied, config.PermissionSignMessage)
	}
	_, w, err := p.selection()
	if err != nil {
		return "", err
	}

	addr, err := w.ReceiveAddress(ctx, wallet.ReceiveOptions{})
	if err != nil {
		return "", err
	}
	resp, err := p.host.Ask(ctx, prompt.KindMessageSign, p.plugin.ID, prompt.MessageSignPayload{
		WalletID: w.ID(),
		Address:  addr.PublicAddress,
		Message:  message,
	})
	if err != nil {
		return "", fmt.Errorf("signature confirmation failed: %w", err)
	}
	if !resp.Approved {
		return "", ErrUserCancelled
	}
	return w.SignMessage(message)
}

// TrackConversion stores a conversion the plugin reports.
func (p *Provider) TrackConversion(params ConversionParams) error {
	if p.tracker == nil {
		return fmt.Errorf("conversion tracking unavailable")
	}
	from := currency.TokenRef{PluginID: params.FromPluginID, TokenID: currency.NormalizeTokenID(params.FromTokenID)}
	to := currency.TokenRef{PluginID: params.ToPluginID, TokenID: currency.NormalizeTokenID(params.ToTokenID)}
	for _, ref := range []currency.TokenRef{from, to} {
		if _, ok := p.currencies.CurrencyCodeFor(ref); !ok {
			return fmt.Errorf("unknown currency %s", ref)
		}
	}
	return p.tracker.TrackConversion(&storage.Conversion{
		PluginID:     p.plugin.ID,
		OrderID:      params.OrderID,
		FromPluginID: from.PluginID,
		FromTokenID:  from.TokenID,
		FromAmount:   params.FromNativeAmount,
		ToPluginID:   to.PluginID,
		ToTokenID:    to.TokenID,
		ToAmount:     params.ToNativeAmount,
		IsEstimate:   params.IsEstimate,
	})
}

// OpenURL asks the host to open an http(s) URL.
func (p *Provider) OpenURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	p.events.OpenURL(p.plugin.ID, u.String())
	return nil
}

// DisplayToast shows a message in the host UI.
func (p *Provider) DisplayToast(message string) {
	p.events.Toast(p.plugin.ID, message)
}

// DisplayError shows an error in the host UI.
func (p *Provider) DisplayError(message string) {
	p.log.Warn("Plugin error", "message", message)
	p.events.Error(p.plugin.ID, message)
}

// ConsoleInfo writes a plugin message to the daemon log.
func (p *Provider) ConsoleInfo(message string) {
	p.log.Info("Plugin console", "message", message)
}

// ExitPlugin asks the host to close the plugin.
func (p *Provider) ExitPlugin() {
	p.events.ExitPlugin(p.plugin.ID)
}

// DeviceInfo returns static information about the host.
func (p *Provider) DeviceInfo() DeviceInfo {
	return p.device
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
