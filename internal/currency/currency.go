// Package currency holds the static currency-plugin table: display metadata,
// denominations, network defaults and token registries for every chain the
// wallet knows about. Everything here is populated at init time and read-only
// afterwards.
package currency

import "github.com/elliotchance/orderedmap/v2"

// ChainType represents the blockchain family.
type ChainType string

const (
	ChainTypeUTXO  ChainType = "utxo"  // BTC and forks (LTC, BCH, DOGE)
	ChainTypeEVM   ChainType = "evm"   // Ethereum and EVM chains
	ChainTypeOther ChainType = "other" // chains without local engine support
)

// AddressType represents the address encoding format for UTXO chains.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"  // Legacy (1..., L..., D...)
	AddressP2WPKH AddressType = "p2wpkh" // Native SegWit (bc1q..., ltc1q...)
	AddressEVM    AddressType = "evm"    // 0x...
)

// Denomination is a display unit for a currency.
type Denomination struct {
	Name       string `json:"name" yaml:"name"`
	Multiplier string `json:"multiplier" yaml:"multiplier"` // relative to the base unit, power of ten
	Symbol     string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
}

// FeeSchedule holds default network fees. For EVM chains the values are gas
// prices in wei, for UTXO chains they are sat/vB.
type FeeSchedule struct {
	Low      string `json:"low"`
	Standard string `json:"standard"`
	High     string `json:"high"`

	// EVM only
	GasLimit      uint64 `json:"gasLimit,omitempty"`
	TokenGasLimit uint64 `json:"tokenGasLimit,omitempty"`
}

// NetworkDefaults are the default settings a plugin ships with.
type NetworkDefaults struct {
	RPCServers  []string    `json:"rpcServers,omitempty"`
	ChainID     uint64      `json:"chainId,omitempty"`
	FeeSchedule FeeSchedule `json:"feeSchedule"`
}

// KeyParams describes how the local engine derives keys and encodes addresses.
type KeyParams struct {
	Purpose  uint32 // BIP44 purpose (44, 84)
	CoinType uint32 // BIP44 coin type

	// UTXO chains
	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	Bech32HRP        string
	AddressType      AddressType
}

// CurrencyInfo is the static descriptor of a currency plugin.
type CurrencyInfo struct {
	PluginID     string    `json:"pluginId"`
	DisplayName  string    `json:"displayName"`
	CurrencyCode string    `json:"currencyCode"`
	WalletType   string    `json:"walletType"`
	ChainType    ChainType `json:"chainType"`
	URIScheme    string    `json:"uriScheme,omitempty"`

	Denominations []Denomination  `json:"denominations"`
	Defaults      NetworkDefaults `json:"defaultSettings"`

	// Explorer templates contain a single %s.
	AddressExplorer     string `json:"addressExplorer,omitempty"`
	TransactionExplorer string `json:"transactionExplorer,omitempty"`

	Keys KeyParams `json:"-"`

	tokens *orderedmap.OrderedMap[string, *Token]
}

// DisplayDenomination returns the primary denomination (the first one).
func (c *CurrencyInfo) DisplayDenomination() Denomination {
	if len(c.Denominations) == 0 {
		return Denomination{Name: c.CurrencyCode, Multiplier: "1"}
	}
	return c.Denominations[0]
}

// IsEVM reports whether the plugin is an EVM chain.
func (c *CurrencyInfo) IsEVM() bool {
	return c.ChainType == ChainTypeEVM
}

// Config is an ordered set of currency plugins, the way an account sees them.
// Iteration follows registration order.
type Config struct {
	infos *orderedmap.OrderedMap[string, *CurrencyInfo]
}

// NewConfig builds a config from the given plugins.
func NewConfig(infos ...*CurrencyInfo) *Config {
	c := &Config{infos: orderedmap.NewOrderedMap[string, *CurrencyInfo]()}
	for _, info := range infos {
		c.add(info)
	}
	return c
}

func (c *Config) add(info *CurrencyInfo) {
	if info.tokens == nil {
		info.tokens = orderedmap.NewOrderedMap[string, *Token]()
	}
	c.infos.Set(info.PluginID, info)
}

// Get returns the plugin with the given id.
func (c *Config) Get(pluginID string) (*CurrencyInfo, bool) {
	return c.infos.Get(pluginID)
}

// Len returns the number of plugins.
func (c *Config) Len() int {
	return c.infos.Len()
}

// List returns all plugins in registration order.
func (c *Config) List() []*CurrencyInfo {
	out := make([]*CurrencyInfo, 0, c.infos.Len())
	for el := c.infos.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// PluginIDs returns all plugin ids in registration order.
func (c *Config) PluginIDs() []string {
	out := make([]string, 0, c.infos.Len())
	for el := c.infos.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}

// Subset returns a config restricted to the given plugin ids, keeping the
// receiver's order. Unknown ids are ignored.
func (c *Config) Subset(pluginIDs ...string) *Config {
	want := make(map[string]bool, len(pluginIDs))
	for _, id := range pluginIDs {
		want[id] = true
	}
	out := NewConfig()
	for el := c.infos.Front(); el != nil; el = el.Next() {
		if want[el.Key] {
			out.infos.Set(el.Key, el.Value)
		}
	}
	return out
}

// ByChainID returns the EVM plugin with the given chain id.
func (c *Config) ByChainID(chainID uint64) (*CurrencyInfo, bool) {
	for el := c.infos.Front(); el != nil; el = el.Next() {
		if el.Value.IsEVM() && el.Value.Defaults.ChainID == chainID {
			return el.Value, true
		}
	}
	return nil, false
}

var registry = NewConfig()

// Register adds a plugin to the default table. Registering the same plugin id
// again replaces the previous entry.
func Register(info *CurrencyInfo) {
	registry.add(info)
}

// Default returns the full built-in table.
func Default() *Config {
	return registry
}

// Get returns a plugin from the built-in table.
func Get(pluginID string) (*CurrencyInfo, bool) {
	return registry.Get(pluginID)
}

// List returns all built-in plugins in registration order.
func List() []*CurrencyInfo {
	return registry.List()
}

// IsSupported returns true if the plugin is registered.
func IsSupported(pluginID string) bool {
	_, ok := registry.Get(pluginID)
	return ok
}
