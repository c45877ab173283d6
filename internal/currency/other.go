package currency

// Chains the local engine cannot derive keys for. They are still part of the
// table so currency codes resolve and explorers render.
func otherPlugins() []*CurrencyInfo {
	return []*CurrencyInfo{
		{
			PluginID:     "binance",
			DisplayName:  "BNB Beacon Chain",
			CurrencyCode: "BNB",
			WalletType:   "wallet:binance",
			ChainType:    ChainTypeOther,
			URIScheme:    "binance",
			Denominations: []Denomination{
				{Name: "BNB", Multiplier: "100000000"},
			},
			AddressExplorer:     "https://explorer.binance.org/address/%s",
			TransactionExplorer: "https://explorer.binance.org/tx/%s",
		},
		{
			PluginID:     "solana",
			DisplayName:  "Solana",
			CurrencyCode: "SOL",
			WalletType:   "wallet:solana",
			ChainType:    ChainTypeOther,
			URIScheme:    "solana",
			Denominations: []Denomination{
				{Name: "SOL", Multiplier: "1000000000", Symbol: "◎"},
			},
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://api.mainnet-beta.solana.com"},
			},
			AddressExplorer:     "https://explorer.solana.com/address/%s",
			TransactionExplorer: "https://explorer.solana.com/tx/%s",
		},
		{
			PluginID:     "ripple",
			DisplayName:  "XRP",
			CurrencyCode: "XRP",
			WalletType:   "wallet:ripple",
			ChainType:    ChainTypeOther,
			URIScheme:    "ripple",
			Denominations: []Denomination{
				{Name: "XRP", Multiplier: "1000000"},
			},
			Defaults: NetworkDefaults{
				RPCServers: []string{"wss://s1.ripple.com"},
			},
			AddressExplorer:     "https://bithomp.com/explorer/%s",
			TransactionExplorer: "https://bithomp.com/explorer/%s",
		},
	}
}

func init() {
	for _, group := range [][]*CurrencyInfo{utxoPlugins(), evmPlugins(), otherPlugins()} {
		for _, info := range group {
			Register(info)
		}
	}

	for _, info := range registry.List() {
		for _, def := range builtinTokens[info.PluginID] {
			if _, err := info.AddToken(def.token()); err != nil {
				panic(err)
			}
		}
	}
}
