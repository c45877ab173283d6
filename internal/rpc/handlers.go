package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klingon-exchange/walletbridge/internal/config"
	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/internal/prompt"
	"github.com/klingon-exchange/walletbridge/internal/storage"
)

// Version of the daemon
const Version = "0.1.0-dev"

// decodeParams unmarshals params into dst. Missing params leave dst as is.
func decodeParams(params json.RawMessage, dst interface{}) error {
	params = bytes.TrimSpace(params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", errInvalidParams, field)
}

// ========================================
// Node handlers
// ========================================

// NodeInfoResult is the response for node_info.
type NodeInfoResult struct {
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
	DataDir        string `json:"data_dir"`
	Currencies     int    `json:"currencies"`
	Plugins        int    `json:"plugins"`
	BridgeSessions int    `json:"bridge_sessions"`
	WSClients      int    `json:"ws_clients"`
	PendingPrompts int    `json:"pending_prompts"`
}

func (s *Server) nodeInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &NodeInfoResult{
		Version:        s.version,
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		DataDir:        s.config.Storage.DataDir,
		Currencies:     s.currencies.Len(),
		Plugins:        len(s.config.Plugins),
		BridgeSessions: len(s.Sessions()),
		WSClients:      s.wsHub.ClientCount(),
		PendingPrompts: len(s.prompts.Pending()),
	}, nil
}

// ========================================
// Currency handlers
// ========================================

// TokenResult is a token of a currency.
type TokenResult struct {
	TokenID string `json:"tokenId"`
	*currency.Token
}

// CurrencyResult is a currency with its token table.
type CurrencyResult struct {
	*currency.CurrencyInfo
	Tokens []TokenResult `json:"tokens,omitempty"`
}

func currencyResult(info *currency.CurrencyInfo) *CurrencyResult {
	res := &CurrencyResult{CurrencyInfo: info}
	for _, id := range info.TokenIDs() {
		if token, ok := info.Token(id); ok {
			res.Tokens = append(res.Tokens, TokenResult{TokenID: id, Token: token})
		}
	}
	return res
}

// CurrencyListParams is the parameters for currency_list.
type CurrencyListParams struct {
	PluginIDs []string `json:"plugin_ids,omitempty"`
}

func (s *Server) currencyList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CurrencyListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	cfg := s.currencies
	if len(p.PluginIDs) > 0 {
		cfg = cfg.Subset(p.PluginIDs...)
	}

	result := make([]*CurrencyResult, 0, cfg.Len())
	for _, info := range cfg.List() {
		result = append(result, currencyResult(info))
	}
	return result, nil
}

// CurrencyGetParams is the parameters for currency_get. ChainID looks up an
// EVM plugin by its chain id instead.
type CurrencyGetParams struct {
	PluginID string `json:"plugin_id,omitempty"`
	ChainID  uint64 `json:"chain_id,omitempty"`
}

func (s *Server) currencyGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CurrencyGetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	switch {
	case p.PluginID != "":
		info, ok := s.currencies.Get(p.PluginID)
		if !ok {
			return nil, fmt.Errorf("unknown currency plugin: %s", p.PluginID)
		}
		return currencyResult(info), nil
	case p.ChainID != 0:
		info, ok := s.currencies.ByChainID(p.ChainID)
		if !ok {
			return nil, fmt.Errorf("no currency plugin for chain id %d", p.ChainID)
		}
		return currencyResult(info), nil
	default:
		return nil, missing("plugin_id or chain_id")
	}
}

// CurrencyUpgradeParams is the parameters for currency_upgrade. A GUI
// plugin id applies that plugin's fix map; Fixes adds to it.
type CurrencyUpgradeParams struct {
	Codes     []currency.ExtendedCode `json:"codes"`
	GuiPlugin string                  `json:"gui_plugin,omitempty"`
	Fixes     currency.FixMap         `json:"fixes,omitempty"`
}

// CurrencyUpgradeResult is the response for currency_upgrade. Ambiguous lists
// the input codes left out because they exist on more than one chain.
type CurrencyUpgradeResult struct {
	Refs      []currency.TokenRef `json:"refs"`
	Ambiguous []string            `json:"ambiguous,omitempty"`
}

func (s *Server) currencyUpgrade(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CurrencyUpgradeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	fixes := currency.FixMap{}
	if p.GuiPlugin != "" {
		plugin, ok := s.config.Plugin(p.GuiPlugin)
		if !ok {
			return nil, fmt.Errorf("unknown plugin: %s", p.GuiPlugin)
		}
		for k, v := range plugin.FixCurrencyCodes {
			fixes[k] = v
		}
	}
	for k, v := range p.Fixes {
		fixes[k] = v
	}

	result := &CurrencyUpgradeResult{
		Refs: currency.UpgradeExtendedCurrencyCodes(s.currencies, fixes, p.Codes),
	}

	ambiguous := make(map[string]bool)
	for _, code := range currency.AmbiguousCodes(s.currencies) {
		ambiguous[code] = true
	}
	for _, c := range p.Codes {
		code := strings.ToUpper(c.Code)
		if c.Ref != nil || !ambiguous[code] {
			continue
		}
		if _, fixed := fixes[c.Code]; fixed {
			continue
		}
		if _, fixed := fixes[code]; fixed {
			continue
		}
		result.Ambiguous = append(result.Ambiguous, code)
	}
	return result, nil
}

// CurrencyReturnCodeParams is the parameters for currency_returnCode.
type CurrencyReturnCodeParams struct {
	Requested  []string `json:"requested"`
	PluginCode string   `json:"plugin_code"`
	ReturnCode string   `json:"return_code"`
}

// CurrencyReturnCodeResult is the response for currency_returnCode.
type CurrencyReturnCodeResult struct {
	CurrencyCode string `json:"currency_code"`
}

func (s *Server) currencyReturnCode(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CurrencyReturnCodeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PluginCode == "" {
		return nil, missing("plugin_code")
	}
	if p.ReturnCode == "" {
		return nil, missing("return_code")
	}

	return &CurrencyReturnCodeResult{
		CurrencyCode: currency.GetReturnCurrencyCode(p.Requested, p.PluginCode, p.ReturnCode),
	}, nil
}

// CurrencyExplorerParams is the parameters for currency_explorer. Exactly one
// of TxID and Address is expected.
type CurrencyExplorerParams struct {
	PluginID string `json:"plugin_id"`
	TxID     string `json:"txid,omitempty"`
	Address  string `json:"address,omitempty"`
}

// CurrencyExplorerResult is the response for currency_explorer.
type CurrencyExplorerResult struct {
	URL string `json:"url"`
}

func (s *Server) currencyExplorer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CurrencyExplorerParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PluginID == "" {
		return nil, missing("plugin_id")
	}

	var (
		link string
		err  error
	)
	switch {
	case p.TxID != "" && p.Address == "":
		link, err = s.currencies.TransactionURL(p.PluginID, p.TxID)
	case p.Address != "" && p.TxID == "":
		link, err = s.currencies.AddressURL(p.PluginID, p.Address)
	default:
		return nil, fmt.Errorf("%w: one of txid or address is required", errInvalidParams)
	}
	if err != nil {
		return nil, err
	}
	return &CurrencyExplorerResult{URL: link}, nil
}

// ========================================
// Plugin handlers
// ========================================

// PluginInfo describes a catalogue plugin.
type PluginInfo struct {
	PluginID    string              `json:"plugin_id"`
	DisplayName string              `json:"display_name"`
	URI         string              `json:"uri"`
	Permissions []config.Permission `json:"permissions"`
	BridgeURL   string              `json:"bridge_url"`
	Sessions    int                 `json:"sessions"`
}

func (s *Server) pluginsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	open := make(map[string]int)
	for _, sess := range s.Sessions() {
		open[sess.PluginID]++
	}

	result := make([]PluginInfo, 0, len(s.config.Plugins))
	for _, p := range s.config.Plugins {
		perms := p.Permissions
		if perms == nil {
			perms = []config.Permission{}
		}
		result = append(result, PluginInfo{
			PluginID:    p.ID,
			DisplayName: p.DisplayName,
			URI:         p.URI,
			Permissions: perms,
			BridgeURL:   "/plugins/" + p.ID + "/bridge",
			Sessions:    open[p.ID],
		})
	}
	return result, nil
}

// PluginDataParams is the parameters for plugins_data and plugins_clearData.
// An empty key list clears everything the plugin stored.
type PluginDataParams struct {
	PluginID string   `json:"plugin_id"`
	Keys     []string `json:"keys,omitempty"`
}

func (s *Server) pluginData(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	var p PluginDataParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PluginID == "" {
		return nil, missing("plugin_id")
	}

	keys := p.Keys
	if len(keys) == 0 {
		var err error
		if keys, err = s.store.ListDataKeys(p.PluginID); err != nil {
			return nil, fmt.Errorf("failed to list plugin data: %w", err)
		}
	}
	data, err := s.store.ReadData(p.PluginID, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin data: %w", err)
	}
	return data, nil
}

func (s *Server) pluginClearData(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	var p PluginDataParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PluginID == "" {
		return nil, missing("plugin_id")
	}

	if len(p.Keys) > 0 {
		if err := s.store.DeleteData(p.PluginID, p.Keys...); err != nil {
			return nil, fmt.Errorf("failed to delete plugin data: %w", err)
		}
		return map[string]interface{}{"success": true, "deleted": len(p.Keys)}, nil
	}

	n, err := s.store.ClearPluginData(p.PluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear plugin data: %w", err)
	}
	s.log.Info("Plugin data cleared", "plugin", p.PluginID, "keys", n)
	return map[string]interface{}{"success": true, "deleted": n}, nil
}

// ========================================
// Prompt handlers
// ========================================

func (s *Server) promptList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.prompts.Pending(), nil
}

// PromptResolveParams is the parameters for prompt_resolve.
type PromptResolveParams struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	WalletID string `json:"wallet_id,omitempty"`
	TokenID  string `json:"token_id,omitempty"`
}

func (s *Server) promptResolve(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PromptResolveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, missing("id")
	}

	pending, ok := s.prompts.Get(p.ID)
	if ok && pending.Kind == prompt.KindWalletChoose && p.Approved && p.WalletID == "" {
		return nil, missing("wallet_id")
	}

	err := s.prompts.Resolve(p.ID, prompt.Response{
		Approved: p.Approved,
		WalletID: p.WalletID,
		TokenID:  currency.NormalizeTokenID(p.TokenID),
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"success": true,
		"id":      p.ID,
	}, nil
}

// ========================================
// History handlers
// ========================================

// SpendsListParams is the parameters for spends_list.
type SpendsListParams struct {
	PluginID string `json:"plugin_id,omitempty"`
	WalletID string `json:"wallet_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// SpendsListResult is the response for spends_list.
type SpendsListResult struct {
	Spends []*storage.Spend `json:"spends"`
	Count  int              `json:"count"`
}

func (s *Server) spendsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	var p SpendsListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	filter := storage.SpendFilter{
		PluginID: p.PluginID,
		WalletID: p.WalletID,
		Limit:    p.Limit,
		Offset:   p.Offset,
	}
	if p.Status != "" {
		status := storage.SpendStatus(p.Status)
		switch status {
		case storage.SpendStatusSent, storage.SpendStatusFailed, storage.SpendStatusCancelled:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", errInvalidParams, p.Status)
		}
		filter.Status = &status
	}

	spends, err := s.store.ListSpends(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list spends: %w", err)
	}
	if spends == nil {
		spends = []*storage.Spend{}
	}
	return &SpendsListResult{Spends: spends, Count: len(spends)}, nil
}

// SpendGetParams is the parameters for spends_get.
type SpendGetParams struct {
	ID string `json:"id"`
}

func (s *Server) spendGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	var p SpendGetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, missing("id")
	}
	return s.store.GetSpend(p.ID)
}

// ConversionsListParams is the parameters for conversions_list.
type ConversionsListParams struct {
	PluginID string `json:"plugin_id,omitempty"`
	Since    int64  `json:"since,omitempty"` // unix seconds
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// ConversionsListResult is the response for conversions_list.
type ConversionsListResult struct {
	Conversions []*storage.Conversion `json:"conversions"`
	Count       int                   `json:"count"`
}

func (s *Server) conversionsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	var p ConversionsListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	filter := storage.ConversionFilter{
		PluginID: p.PluginID,
		Limit:    p.Limit,
		Offset:   p.Offset,
	}
	if p.Since > 0 {
		filter.Since = time.Unix(p.Since, 0)
	}

	conversions, err := s.store.ListConversions(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	if conversions == nil {
		conversions = []*storage.Conversion{}
	}
	return &ConversionsListResult{Conversions: conversions, Count: len(conversions)}, nil
}
