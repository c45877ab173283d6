package currency

func utxoPlugins() []*CurrencyInfo {
	return []*CurrencyInfo{
		{
			PluginID:     "bitcoin",
			DisplayName:  "Bitcoin",
			CurrencyCode: "BTC",
			WalletType:   "wallet:bitcoin",
			ChainType:    ChainTypeUTXO,
			URIScheme:    "bitcoin",
			Denominations: []Denomination{
				{Name: "BTC", Multiplier: "100000000", Symbol: "₿"},
				{Name: "mBTC", Multiplier: "100000", Symbol: "m₿"},
				{Name: "bits", Multiplier: "100", Symbol: "ƀ"},
				{Name: "sats", Multiplier: "1", Symbol: "s"},
			},
			Defaults: NetworkDefaults{
				RPCServers:  []string{"https://blockstream.info/api"},
				FeeSchedule: FeeSchedule{Low: "2", Standard: "10", High: "25"},
			},
			AddressExplorer:     "https://blockchair.com/bitcoin/address/%s",
			TransactionExplorer: "https://blockchair.com/bitcoin/transaction/%s",
			Keys: KeyParams{
				Purpose:          84,
				CoinType:         0,
				PubKeyHashAddrID: 0x00, // 1...
				ScriptHashAddrID: 0x05, // 3...
				Bech32HRP:        "bc",
				AddressType:      AddressP2WPKH,
			},
		},
		{
			PluginID:     "bitcoincash",
			DisplayName:  "Bitcoin Cash",
			CurrencyCode: "BCH",
			WalletType:   "wallet:bitcoincash",
			ChainType:    ChainTypeUTXO,
			URIScheme:    "bitcoincash",
			Denominations: []Denomination{
				{Name: "BCH", Multiplier: "100000000", Symbol: "₿"},
				{Name: "mBCH", Multiplier: "100000", Symbol: "m₿"},
				{Name: "cash", Multiplier: "100", Symbol: "ƀ"},
			},
			Defaults: NetworkDefaults{
				RPCServers:  []string{"https://bch1.trezor.io/api/v2"},
				FeeSchedule: FeeSchedule{Low: "1", Standard: "2", High: "5"},
			},
			AddressExplorer:     "https://blockchair.com/bitcoin-cash/address/%s",
			TransactionExplorer: "https://blockchair.com/bitcoin-cash/transaction/%s",
			Keys: KeyParams{
				Purpose:          44,
				CoinType:         145,
				PubKeyHashAddrID: 0x00,
				ScriptHashAddrID: 0x05,
				AddressType:      AddressP2PKH,
			},
		},
		{
			PluginID:     "litecoin",
			DisplayName:  "Litecoin",
			CurrencyCode: "LTC",
			WalletType:   "wallet:litecoin",
			ChainType:    ChainTypeUTXO,
			URIScheme:    "litecoin",
			Denominations: []Denomination{
				{Name: "LTC", Multiplier: "100000000", Symbol: "Ł"},
				{Name: "mLTC", Multiplier: "100000", Symbol: "mŁ"},
			},
			Defaults: NetworkDefaults{
				RPCServers:  []string{"https://litecoinspace.org/api"},
				FeeSchedule: FeeSchedule{Low: "1", Standard: "5", High: "10"},
			},
			AddressExplorer:     "https://blockchair.com/litecoin/address/%s",
			TransactionExplorer: "https://blockchair.com/litecoin/transaction/%s",
			Keys: KeyParams{
				Purpose:          84,
				CoinType:         2,
				PubKeyHashAddrID: 0x30, // L...
				ScriptHashAddrID: 0x32, // M...
				Bech32HRP:        "ltc",
				AddressType:      AddressP2WPKH,
			},
		},
		{
			PluginID:     "dogecoin",
			DisplayName:  "Dogecoin",
			CurrencyCode: "DOGE",
			WalletType:   "wallet:dogecoin",
			ChainType:    ChainTypeUTXO,
			URIScheme:    "dogecoin",
			Denominations: []Denomination{
				{Name: "DOGE", Multiplier: "100000000", Symbol: "Ð"},
			},
			Defaults: NetworkDefaults{
				RPCServers:  []string{"https://doge1.trezor.io/api/v2"},
				FeeSchedule: FeeSchedule{Low: "500", Standard: "1000", High: "2000"},
			},
			AddressExplorer:     "https://blockchair.com/dogecoin/address/%s",
			TransactionExplorer: "https://blockchair.com/dogecoin/transaction/%s",
			Keys: KeyParams{
				Purpose:          44,
				CoinType:         3,
				PubKeyHashAddrID: 0x1e, // D...
				ScriptHashAddrID: 0x16, // 9... or A...
				AddressType:      AddressP2PKH,
			},
		},
	}
}
