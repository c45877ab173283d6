package currency

// Gas prices below are in wei.
const (
	gwei = "000000000"

	defaultGasLimit      = 21000
	defaultTokenGasLimit = 300000
)

func evmDenominations(code, symbol string) []Denomination {
	return []Denomination{
		{Name: code, Multiplier: "1000000000000000000", Symbol: symbol},
		{Name: "m" + code, Multiplier: "1000000000000000", Symbol: "m" + symbol},
	}
}

func evmKeys(coinType uint32) KeyParams {
	return KeyParams{Purpose: 44, CoinType: coinType, AddressType: AddressEVM}
}

func evmPlugins() []*CurrencyInfo {
	return []*CurrencyInfo{
		{
			PluginID:      "ethereum",
			DisplayName:   "Ethereum",
			CurrencyCode:  "ETH",
			WalletType:    "wallet:ethereum",
			ChainType:     ChainTypeEVM,
			URIScheme:     "ethereum",
			Denominations: evmDenominations("ETH", "Ξ"),
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
				ChainID:    1,
				FeeSchedule: FeeSchedule{
					Low: "10" + gwei, Standard: "25" + gwei, High: "50" + gwei,
					GasLimit: defaultGasLimit, TokenGasLimit: defaultTokenGasLimit,
				},
			},
			AddressExplorer:     "https://etherscan.io/address/%s",
			TransactionExplorer: "https://etherscan.io/tx/%s",
			Keys:                evmKeys(60),
		},
		{
			PluginID:      "ethereumclassic",
			DisplayName:   "Ethereum Classic",
			CurrencyCode:  "ETC",
			WalletType:    "wallet:ethereumclassic",
			ChainType:     ChainTypeEVM,
			URIScheme:     "ethereumclassic",
			Denominations: evmDenominations("ETC", "Ξ"),
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://etc.rivet.link"},
				ChainID:    61,
				FeeSchedule: FeeSchedule{
					Low: "1" + gwei, Standard: "2" + gwei, High: "5" + gwei,
					GasLimit: defaultGasLimit, TokenGasLimit: defaultTokenGasLimit,
				},
			},
			AddressExplorer:     "https://blockscout.com/etc/mainnet/address/%s",
			TransactionExplorer: "https://blockscout.com/etc/mainnet/tx/%s",
			Keys:                evmKeys(61),
		},
		{
			PluginID:      "polygon",
			DisplayName:   "Polygon",
			CurrencyCode:  "MATIC",
			WalletType:    "wallet:polygon",
			ChainType:     ChainTypeEVM,
			URIScheme:     "polygon",
			Denominations: evmDenominations("MATIC", ""),
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://polygon-rpc.com"},
				ChainID:    137,
				FeeSchedule: FeeSchedule{
					Low: "30" + gwei, Standard: "60" + gwei, High: "120" + gwei,
					GasLimit: defaultGasLimit, TokenGasLimit: defaultTokenGasLimit,
				},
			},
			AddressExplorer:     "https://polygonscan.com/address/%s",
			TransactionExplorer: "https://polygonscan.com/tx/%s",
			Keys:                evmKeys(60),
		},
		{
			PluginID:      "binancesmartchain",
			DisplayName:   "BNB Smart Chain",
			CurrencyCode:  "BNB",
			WalletType:    "wallet:binancesmartchain",
			ChainType:     ChainTypeEVM,
			URIScheme:     "smartchain",
			Denominations: evmDenominations("BNB", ""),
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://bsc-dataseed.binance.org"},
				ChainID:    56,
				FeeSchedule: FeeSchedule{
					Low: "3" + gwei, Standard: "5" + gwei, High: "10" + gwei,
					GasLimit: defaultGasLimit, TokenGasLimit: defaultTokenGasLimit,
				},
			},
			AddressExplorer:     "https://bscscan.com/address/%s",
			TransactionExplorer: "https://bscscan.com/tx/%s",
			Keys:                evmKeys(60),
		},
		{
			PluginID:      "avalanche",
			DisplayName:   "Avalanche C-Chain",
			CurrencyCode:  "AVAX",
			WalletType:    "wallet:avalanche",
			ChainType:     ChainTypeEVM,
			URIScheme:     "avalanche",
			Denominations: evmDenominations("AVAX", ""),
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://api.avax.network/ext/bc/C/rpc"},
				ChainID:    43114,
				FeeSchedule: FeeSchedule{
					Low: "25" + gwei, Standard: "30" + gwei, High: "40" + gwei,
					GasLimit: defaultGasLimit, TokenGasLimit: defaultTokenGasLimit,
				},
			},
			AddressExplorer:     "https://snowtrace.io/address/%s",
			TransactionExplorer: "https://snowtrace.io/tx/%s",
			Keys:                evmKeys(60),
		},
		{
			PluginID:      "fantom",
			DisplayName:   "Fantom",
			CurrencyCode:  "FTM",
			WalletType:    "wallet:fantom",
			ChainType:     ChainTypeEVM,
			URIScheme:     "fantom",
			Denominations: evmDenominations("FTM", ""),
			Defaults: NetworkDefaults{
				RPCServers: []string{"https://rpc.ftm.tools"},
				ChainID:    250,
				FeeSchedule: FeeSchedule{
					Low: "20" + gwei, Standard: "50" + gwei, High: "100" + gwei,
					GasLimit: defaultGasLimit, TokenGasLimit: defaultTokenGasLimit,
				},
			},
			AddressExplorer:     "https://ftmscan.com/address/%s",
			TransactionExplorer: "https://ftmscan.com/tx/%s",
			Keys:                evmKeys(60),
		},
	}
}
