// Package wallet is the local wallet engine: HD keys from a BIP39 seed, one
// currency wallet per enabled plugin, URI parsing, spend building, signing,
// message signing and the encrypted seed file.
package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/walletbridge/internal/currency"
)

// Wallet manages HD keys derived from a BIP39 seed.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
	mu        sync.Mutex

	// Cached derived keys, keyed by derivation path
	cache map[string]*hdkeychain.ExtendedKey
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// NewFromMnemonic creates a wallet from a BIP39 mnemonic.
// The passphrase is optional (can be empty string).
func NewFromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	return NewFromSeed(bip39.NewSeed(mnemonic, passphrase))
}

// NewFromSeed creates a wallet from a raw 64-byte seed.
func NewFromSeed(seed []byte) (*Wallet, error) {
	// The master key version bytes are irrelevant for derivation; chain
	// specific encodings are applied when addresses are built.
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Wallet{
		masterKey: masterKey,
		cache:     make(map[string]*hdkeychain.ExtendedKey),
	}, nil
}

// DerivationPath formats m/purpose'/coin'/account'/change/index.
func DerivationPath(purpose, coinType, account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", purpose, coinType, account, change, index)
}

// DeriveKey derives a key at the full BIP44 path: m/purpose'/coin'/account'/change/index
func (w *Wallet) DeriveKey(purpose, coinType, account, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := DerivationPath(purpose, coinType, account, change, index)
	if key, ok := w.cache[path]; ok {
		return key, nil
	}

	steps := []struct {
		name  string
		index uint32
	}{
		{"purpose", hdkeychain.HardenedKeyStart + purpose},
		{"coin", hdkeychain.HardenedKeyStart + coinType},
		{"account", hdkeychain.HardenedKeyStart + account},
		{"change", change},
		{"address", index},
	}

	key := w.masterKey
	for _, step := range steps {
		next, err := key.Derive(step.index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", step.name, err)
		}
		key = next
	}

	w.cache[path] = key
	return key, nil
}

// DeriveKeyFor derives the key a currency plugin uses at account/change/index.
func (w *Wallet) DeriveKeyFor(info *currency.CurrencyInfo, account, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	if info.Keys.AddressType == "" {
		return nil, fmt.Errorf("%s: %w", info.PluginID, ErrUnsupported)
	}
	return w.DeriveKey(info.Keys.Purpose, info.Keys.CoinType, account, change, index)
}

// DerivePrivateKey derives a private key for a plugin at the given account and index.
func (w *Wallet) DerivePrivateKey(info *currency.CurrencyInfo, account, index uint32) (*btcec.PrivateKey, error) {
	key, err := w.DeriveKeyFor(info, account, 0, index)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	return privKey, nil
}

// DerivePublicKey derives a public key for a plugin at the given account and index.
func (w *Wallet) DerivePublicKey(info *currency.CurrencyInfo, account, index uint32) (*btcec.PublicKey, error) {
	key, err := w.DeriveKeyFor(info, account, 0, index)
	if err != nil {
		return nil, err
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	return pubKey, nil
}

// DeriveAddress derives the default address of a plugin at the given account
// and index (external chain).
func (w *Wallet) DeriveAddress(info *currency.CurrencyInfo, account, index uint32) (string, error) {
	pubKey, err := w.DerivePublicKey(info, account, index)
	if err != nil {
		return "", err
	}

	if info.IsEVM() {
		return PublicKeyToEVMAddress(pubKey), nil
	}
	return EncodeAddress(pubKey, info.Keys.AddressType, ChainParams(info))
}

// GetDerivationPath returns the derivation path string for a plugin.
func (w *Wallet) GetDerivationPath(info *currency.CurrencyInfo, account, index uint32) string {
	return DerivationPath(info.Keys.Purpose, info.Keys.CoinType, account, 0, index)
}

// ClearCache clears the key cache.
func (w *Wallet) ClearCache() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache = make(map[string]*hdkeychain.ExtendedKey)
}
