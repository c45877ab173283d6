package currency

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/walletbridge/pkg/helpers"
)

// Token is a token living on a parent chain, keyed by its token id.
type Token struct {
	CurrencyCode    string         `json:"currencyCode"`
	DisplayName     string         `json:"displayName"`
	Denominations   []Denomination `json:"denominations"`
	ContractAddress string         `json:"contractAddress"` // canonical (EIP-55) case
}

// TokenRef identifies a currency: a plugin's native currency when TokenID is
// empty, a token otherwise.
type TokenRef struct {
	PluginID string `json:"pluginId" yaml:"pluginId"`
	TokenID  string `json:"tokenId,omitempty" yaml:"tokenId,omitempty"`
}

// String renders the ref as pluginId or pluginId:tokenId.
func (r TokenRef) String() string {
	if r.TokenID == "" {
		return r.PluginID
	}
	return r.PluginID + ":" + r.TokenID
}

// NormalizeTokenID turns a contract address into a token id: lowercase hex
// without the 0x prefix.
func NormalizeTokenID(contract string) string {
	return strings.ToLower(helpers.TrimHexPrefix(strings.TrimSpace(contract)))
}

// AddToken registers a token under the plugin and returns its token id. EVM
// contract addresses are stored in checksummed form.
func (c *CurrencyInfo) AddToken(token *Token) (string, error) {
	if token.CurrencyCode == "" {
		return "", fmt.Errorf("token on %s has no currency code", c.PluginID)
	}
	if c.IsEVM() {
		if !common.IsHexAddress(token.ContractAddress) {
			return "", fmt.Errorf("invalid contract address for %s on %s: %q",
				token.CurrencyCode, c.PluginID, token.ContractAddress)
		}
		token.ContractAddress = common.HexToAddress(token.ContractAddress).Hex()
	}
	if len(token.Denominations) == 0 {
		token.Denominations = []Denomination{{Name: token.CurrencyCode, Multiplier: "1"}}
	}

	id := NormalizeTokenID(token.ContractAddress)
	if id == "" {
		return "", fmt.Errorf("token %s on %s has no contract address", token.CurrencyCode, c.PluginID)
	}
	if c.tokens == nil {
		return "", fmt.Errorf("plugin %s is not registered", c.PluginID)
	}
	c.tokens.Set(id, token)
	return id, nil
}

// Token returns a token by id. The id may be given in any case and with or
// without the 0x prefix.
func (c *CurrencyInfo) Token(tokenID string) (*Token, bool) {
	if c.tokens == nil {
		return nil, false
	}
	return c.tokens.Get(NormalizeTokenID(tokenID))
}

// TokenByCode returns the first token whose currency code matches
// (case-insensitive) together with its id.
func (c *CurrencyInfo) TokenByCode(code string) (string, *Token, bool) {
	if c.tokens == nil {
		return "", nil, false
	}
	for el := c.tokens.Front(); el != nil; el = el.Next() {
		if strings.EqualFold(el.Value.CurrencyCode, code) {
			return el.Key, el.Value, true
		}
	}
	return "", nil, false
}

// TokenIDs returns the token ids in registration order.
func (c *CurrencyInfo) TokenIDs() []string {
	if c.tokens == nil {
		return nil
	}
	ids := make([]string, 0, c.tokens.Len())
	for el := c.tokens.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Key)
	}
	return ids
}

// CurrencyCodeFor returns the currency code of a ref's currency.
func (c *Config) CurrencyCodeFor(ref TokenRef) (string, bool) {
	info, ok := c.Get(ref.PluginID)
	if !ok {
		return "", false
	}
	if ref.TokenID == "" {
		return info.CurrencyCode, true
	}
	token, ok := info.Token(ref.TokenID)
	if !ok {
		return "", false
	}
	return token.CurrencyCode, true
}

// Denominations returns the denominations of a ref's currency.
func (c *Config) Denominations(ref TokenRef) ([]Denomination, bool) {
	info, ok := c.Get(ref.PluginID)
	if !ok {
		return nil, false
	}
	if ref.TokenID == "" {
		return info.Denominations, true
	}
	token, ok := info.Token(ref.TokenID)
	if !ok {
		return nil, false
	}
	return token.Denominations, true
}

// tokenDef is the compact form used by the built-in tables.
type tokenDef struct {
	code     string
	name     string
	contract string
	decimals int
}

func (d tokenDef) token() *Token {
	return &Token{
		CurrencyCode:    d.code,
		DisplayName:     d.name,
		ContractAddress: d.contract,
		Denominations: []Denomination{{
			Name:       d.code,
			Multiplier: "1" + strings.Repeat("0", d.decimals),
		}},
	}
}

// builtinTokens maps pluginId -> tokens shipped with the plugin.
var builtinTokens = map[string][]tokenDef{
	"ethereum": {
		{"USDC", "USD Coin", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6},
		{"USDT", "Tether", "0xdAC17F958D2ee523a2206206994597C13D831ec7", 6},
		{"DAI", "Dai Stablecoin", "0x6B175474E89094C44Da98b954EedeAC495271d0F", 18},
		{"REP", "Augur", "0x1985365e9f78359a9b6ad760e32412f4a445e862", 18},
		{"MATIC", "Polygon", "0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0", 18},
		{"BNB", "BNB", "0xB8c77482e45F1F44dE1745F52C74426C631bDD52", 18},
		{"WBTC", "Wrapped Bitcoin", "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", 8},
		{"LINK", "Chainlink", "0x514910771AF9Ca656af840dff83E8264EcF986CA", 18},
	},
	"polygon": {
		{"USDC", "USD Coin", "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", 6},
		{"USDT", "Tether", "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", 6},
		{"DAI", "Dai Stablecoin", "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", 18},
		{"WETH", "Wrapped Ether", "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", 18},
	},
	"binancesmartchain": {
		{"USDC", "USD Coin", "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", 18},
		{"USDT", "Tether", "0x55d398326f99059fF775485246999027B3197955", 18},
		{"BUSD", "Binance USD", "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", 18},
	},
	"avalanche": {
		{"USDC", "USD Coin", "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", 6},
		{"USDT", "Tether", "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", 6},
	},
}
