package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/internal/wallet"
	"github.com/klingon-exchange/walletbridge/pkg/helpers"
)

// ========================================
// Wallet handlers
// ========================================

// WalletStatusResult is the response for wallet_status.
type WalletStatusResult struct {
	HasWallet bool `json:"has_wallet"`
	Unlocked  bool `json:"unlocked"`
	Wallets   int  `json:"wallets"`
}

func (s *Server) walletStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	return &WalletStatusResult{
		HasWallet: s.wallet.HasWallet(),
		Unlocked:  s.wallet.IsUnlocked(),
		Wallets:   len(s.wallet.Wallets()),
	}, nil
}

// WalletGenerateResult is the response for wallet_generate.
type WalletGenerateResult struct {
	Mnemonic string `json:"mnemonic"`
}

func (s *Server) walletGenerate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	mnemonic, err := s.wallet.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return &WalletGenerateResult{
		Mnemonic: mnemonic,
	}, nil
}

// WalletCreateParams is the parameters for wallet_create.
type WalletCreateParams struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase"` // BIP39 passphrase (optional)
	Password   string `json:"password"`   // Encryption password (required)
}

func (s *Server) walletCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	var p WalletCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Mnemonic == "" {
		return nil, missing("mnemonic")
	}
	if p.Password == "" {
		return nil, missing("password")
	}

	if err := s.wallet.CreateWallet(p.Mnemonic, p.Passphrase, p.Password); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"message": "Wallet created successfully",
		"wallets": len(s.wallet.Wallets()),
	}, nil
}

// WalletUnlockParams is the parameters for wallet_unlock.
type WalletUnlockParams struct {
	Password   string `json:"password"`
	Passphrase string `json:"passphrase"` // BIP39 passphrase (optional)
}

func (s *Server) walletUnlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	var p WalletUnlockParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Password == "" {
		return nil, missing("password")
	}

	if err := s.wallet.Unlock(p.Password, p.Passphrase); err != nil {
		return nil, fmt.Errorf("failed to unlock wallet: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"message": "Wallet unlocked successfully",
	}, nil
}

func (s *Server) walletLock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	s.wallet.Lock()

	return map[string]interface{}{
		"success": true,
		"message": "Wallet locked successfully",
	}, nil
}

// WalletChangePasswordParams is the parameters for wallet_changePassword.
type WalletChangePasswordParams struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) walletChangePassword(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	var p WalletChangePasswordParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.OldPassword == "" || p.NewPassword == "" {
		return nil, missing("old_password and new_password")
	}

	if err := s.wallet.ChangePassword(p.OldPassword, p.NewPassword); err != nil {
		return nil, fmt.Errorf("failed to change password: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"message": "Password changed successfully",
	}, nil
}

// WalletTokenInfo is an enabled token of a currency wallet.
type WalletTokenInfo struct {
	TokenID      string `json:"token_id"`
	CurrencyCode string `json:"currency_code"`
	Contract     string `json:"contract"`
}

// WalletInfo describes an open currency wallet.
type WalletInfo struct {
	WalletID      string            `json:"wallet_id"`
	Name          string            `json:"name"`
	PluginID      string            `json:"plugin_id"`
	CurrencyCode  string            `json:"currency_code"`
	Address       string            `json:"address"`
	LegacyAddress string            `json:"legacy_address,omitempty"`
	ReceiveURI    string            `json:"receive_uri,omitempty"`
	ExplorerURL   string            `json:"explorer_url,omitempty"`
	Tokens        []WalletTokenInfo `json:"tokens,omitempty"`
}

func (s *Server) walletList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}
	if !s.wallet.IsUnlocked() {
		return nil, wallet.ErrLocked
	}

	wallets := s.wallet.Wallets()
	result := make([]WalletInfo, 0, len(wallets))
	for _, cw := range wallets {
		info := cw.CurrencyInfo()
		item := WalletInfo{
			WalletID:     cw.ID(),
			Name:         cw.Name(),
			PluginID:     cw.PluginID(),
			CurrencyCode: info.CurrencyCode,
			Address:      cw.Address(),
		}
		if addr, err := cw.ReceiveAddress(ctx, wallet.ReceiveOptions{}); err == nil {
			item.LegacyAddress = addr.LegacyAddress
		}
		if uri, err := cw.EncodeURI(""); err == nil {
			item.ReceiveURI = uri
		}
		if link, err := s.currencies.AddressURL(cw.PluginID(), cw.Address()); err == nil {
			item.ExplorerURL = link
		}
		for _, id := range cw.EnabledTokenIDs() {
			if token, ok := info.Token(id); ok {
				item.Tokens = append(item.Tokens, WalletTokenInfo{
					TokenID:      id,
					CurrencyCode: token.CurrencyCode,
					Contract:     token.ContractAddress,
				})
			}
		}
		result = append(result, item)
	}
	return result, nil
}

// WalletGetBalanceParams is the parameters for wallet_getBalance.
// Denomination picks the display unit by name; the first one by default.
type WalletGetBalanceParams struct {
	WalletID     string `json:"wallet_id"`
	TokenID      string `json:"token_id,omitempty"`
	Denomination string `json:"denomination,omitempty"`
}

// WalletGetBalanceResult is the response for wallet_getBalance.
type WalletGetBalanceResult struct {
	WalletID      string `json:"wallet_id"`
	TokenID       string `json:"token_id,omitempty"`
	CurrencyCode  string `json:"currency_code"`
	NativeAmount  string `json:"native_amount"`
	DisplayAmount string `json:"display_amount"`
	Denomination  string `json:"denomination"`
}

func (s *Server) walletGetBalance(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.wallet == nil {
		return nil, fmt.Errorf("wallet service not initialized")
	}

	var p WalletGetBalanceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.WalletID == "" {
		return nil, missing("wallet_id")
	}

	cw, err := s.wallet.CurrencyWallet(p.WalletID)
	if err != nil {
		return nil, err
	}

	ref := currency.TokenRef{PluginID: cw.PluginID(), TokenID: currency.NormalizeTokenID(p.TokenID)}
	code, ok := s.currencies.CurrencyCodeFor(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", wallet.ErrTokenNotFound, ref)
	}
	denom, err := s.pickDenomination(ref, p.Denomination)
	if err != nil {
		return nil, err
	}

	balance, err := cw.Balance(ctx, ref.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	display, err := helpers.NativeToDenomination(balance.String(), denom.Multiplier)
	if err != nil {
		return nil, err
	}

	return &WalletGetBalanceResult{
		WalletID:      p.WalletID,
		TokenID:       ref.TokenID,
		CurrencyCode:  code,
		NativeAmount:  balance.String(),
		DisplayAmount: display,
		Denomination:  denom.Name,
	}, nil
}

func (s *Server) pickDenomination(ref currency.TokenRef, name string) (currency.Denomination, error) {
	denoms, ok := s.currencies.Denominations(ref)
	if !ok || len(denoms) == 0 {
		return currency.Denomination{}, fmt.Errorf("no denominations for %s", ref)
	}
	if name == "" {
		return denoms[0], nil
	}
	for _, d := range denoms {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return currency.Denomination{}, fmt.Errorf("%w: unknown denomination %q", errInvalidParams, name)
}
