package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/klingon-exchange/walletbridge/internal/wallet"
)

func TestWalletInfoOmitEmpty(t *testing.T) {
	info := WalletInfo{
		WalletID:     "w1",
		PluginID:     "ethereum",
		CurrencyCode: "ETH",
		Address:      testETHAddress,
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("failed to marshal WalletInfo: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal WalletInfo: %v", err)
	}

	for _, field := range []string{"legacy_address", "receive_uri", "tokens"} {
		if _, ok := raw[field]; ok {
			t.Errorf("%s should be omitted when empty", field)
		}
	}
	if raw["wallet_id"] != "w1" {
		t.Errorf("wallet_id = %v, want w1", raw["wallet_id"])
	}
}

func TestWalletLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var status WalletStatusResult
	env.mustCall(t, "wallet_status", nil, &status)
	if status.HasWallet || status.Unlocked {
		t.Errorf("fresh status = %+v", status)
	}

	if rpcErr := env.call(t, "wallet_list", nil, nil); rpcErr == nil || rpcErr.Code != WalletLocked {
		t.Errorf("wallet_list while locked = %+v", rpcErr)
	}

	var generated WalletGenerateResult
	env.mustCall(t, "wallet_generate", nil, &generated)
	if !wallet.ValidateMnemonic(generated.Mnemonic) {
		t.Errorf("generated mnemonic is invalid: %q", generated.Mnemonic)
	}

	env.mustCall(t, "wallet_create", WalletCreateParams{Mnemonic: testMnemonic, Password: testPassword}, nil)

	env.mustCall(t, "wallet_status", nil, &status)
	if !status.HasWallet || !status.Unlocked || status.Wallets == 0 {
		t.Errorf("status after create = %+v", status)
	}

	var wallets []WalletInfo
	env.mustCall(t, "wallet_list", nil, &wallets)
	if len(wallets) != status.Wallets {
		t.Fatalf("wallet_list returned %d wallets, want %d", len(wallets), status.Wallets)
	}

	byPlugin := make(map[string]WalletInfo)
	for _, w := range wallets {
		byPlugin[w.PluginID] = w
	}
	if wallets[0].PluginID != "bitcoin" {
		t.Errorf("first wallet = %s, want bitcoin", wallets[0].PluginID)
	}

	btc := byPlugin["bitcoin"]
	if btc.Address != testBTCAddress {
		t.Errorf("bitcoin address = %s, want %s", btc.Address, testBTCAddress)
	}
	if btc.ReceiveURI != "bitcoin:"+testBTCAddress {
		t.Errorf("bitcoin receive uri = %s", btc.ReceiveURI)
	}
	if btc.ExplorerURL != "https://blockchair.com/bitcoin/address/"+testBTCAddress {
		t.Errorf("bitcoin explorer url = %s", btc.ExplorerURL)
	}

	eth, ok := byPlugin["ethereum"]
	if !ok {
		t.Fatal("ethereum wallet missing")
	}
	if eth.Address != testETHAddress {
		t.Errorf("ethereum address = %s, want %s", eth.Address, testETHAddress)
	}
	hasUSDC := false
	for _, tok := range eth.Tokens {
		if tok.TokenID == usdcID && tok.CurrencyCode == "USDC" {
			hasUSDC = true
		}
	}
	if !hasUSDC {
		t.Error("ethereum wallet should track USDC")
	}

	// No chain backends are configured
	if rpcErr := env.call(t, "wallet_getBalance", WalletGetBalanceParams{WalletID: btc.WalletID}, nil); rpcErr == nil {
		t.Error("expected balance error without a backend")
	}
	if rpcErr := env.call(t, "wallet_getBalance", WalletGetBalanceParams{WalletID: eth.WalletID, TokenID: "deadbeef"}, nil); rpcErr == nil {
		t.Error("expected error for unknown token")
	}
	rpcErr := env.call(t, "wallet_getBalance", WalletGetBalanceParams{WalletID: btc.WalletID, Denomination: "furlongs"}, nil)
	if rpcErr == nil || rpcErr.Code != InvalidParams {
		t.Errorf("unknown denomination error = %+v", rpcErr)
	}
	if rpcErr := env.call(t, "wallet_getBalance", WalletGetBalanceParams{WalletID: "nope"}, nil); rpcErr == nil || rpcErr.Code != NotFound {
		t.Errorf("unknown wallet error = %+v", rpcErr)
	}

	env.mustCall(t, "wallet_lock", nil, nil)
	env.mustCall(t, "wallet_status", nil, &status)
	if !status.HasWallet || status.Unlocked {
		t.Errorf("status after lock = %+v", status)
	}
	if rpcErr := env.call(t, "wallet_getBalance", WalletGetBalanceParams{WalletID: btc.WalletID}, nil); rpcErr == nil || rpcErr.Code != WalletLocked {
		t.Errorf("wallet_getBalance while locked = %+v", rpcErr)
	}

	if rpcErr := env.call(t, "wallet_unlock", WalletUnlockParams{Password: "WrongPassword123!"}, nil); rpcErr == nil {
		t.Error("expected unlock error for wrong password")
	}
	env.mustCall(t, "wallet_unlock", WalletUnlockParams{Password: testPassword}, nil)

	const newPassword = "NewPassword456!"
	env.mustCall(t, "wallet_changePassword", WalletChangePasswordParams{OldPassword: testPassword, NewPassword: newPassword}, nil)
	env.mustCall(t, "wallet_lock", nil, nil)
	if rpcErr := env.call(t, "wallet_unlock", WalletUnlockParams{Password: testPassword}, nil); rpcErr == nil {
		t.Error("old password should no longer unlock")
	}
	env.mustCall(t, "wallet_unlock", WalletUnlockParams{Password: newPassword}, nil)

	env.mustCall(t, "wallet_list", nil, &wallets)
	if wallets[0].Address != testBTCAddress {
		t.Errorf("address after re-unlock = %s", wallets[0].Address)
	}
}

func TestWalletCreateRejectsSecondSeed(t *testing.T) {
	env := newTestEnv(t)
	env.createWallet(t)

	rpcErr := env.call(t, "wallet_create", WalletCreateParams{Mnemonic: testMnemonic, Password: testPassword}, nil)
	if rpcErr == nil {
		t.Error("expected error creating a second wallet")
	}
}

// ============ Handler Error Tests ============

func TestWalletHandlersNoWallet(t *testing.T) {
	s := &Server{wallet: nil}
	ctx := context.Background()

	handlers := map[string]Handler{
		"wallet_status":         s.walletStatus,
		"wallet_generate":       s.walletGenerate,
		"wallet_create":         s.walletCreate,
		"wallet_unlock":         s.walletUnlock,
		"wallet_lock":           s.walletLock,
		"wallet_changePassword": s.walletChangePassword,
		"wallet_list":           s.walletList,
		"wallet_getBalance":     s.walletGetBalance,
	}

	for name, h := range handlers {
		if _, err := h(ctx, json.RawMessage(`{}`)); err == nil {
			t.Errorf("%s: expected error when wallet is nil", name)
		}
	}
}

func TestWalletHandlersInvalidParams(t *testing.T) {
	s := &Server{wallet: wallet.NewService(&wallet.ServiceConfig{DataDir: t.TempDir()})}
	ctx := context.Background()

	tests := []struct {
		name   string
		h      Handler
		params string
	}{
		{"create invalid json", s.walletCreate, `{invalid`},
		{"create missing mnemonic", s.walletCreate, `{"password":"TestPassword123!"}`},
		{"create missing password", s.walletCreate, `{"mnemonic":"abandon"}`},
		{"unlock missing password", s.walletUnlock, `{}`},
		{"unlock wrong type", s.walletUnlock, `{"password":1}`},
		{"change password missing new", s.walletChangePassword, `{"old_password":"x"}`},
		{"balance missing wallet", s.walletGetBalance, `{"token_id":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.h(ctx, json.RawMessage(tt.params))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errInvalidParams) {
				t.Errorf("error = %v, want invalid params", err)
			}
			if errorCode(err) != InvalidParams {
				t.Errorf("errorCode = %d, want %d", errorCode(err), InvalidParams)
			}
		})
	}
}
