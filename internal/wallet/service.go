package wallet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"

	"github.com/klingon-exchange/walletbridge/internal/backend"
	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/pkg/logging"
)

// SeedFileName is the encrypted seed file inside the data directory.
const SeedFileName = "wallet.seed"

// Service is the account: it owns the HD seed and exposes one currency
// wallet per enabled plugin while unlocked.
type Service struct {
	wallet     *Wallet
	dataDir    string
	account    uint32
	currencies *currency.Config
	enabled    []string
	backends   *backend.Registry
	log        *logging.Logger

	// Wallet id -> currency wallet, in currency table order
	wallets *orderedmap.OrderedMap[string, *CurrencyWallet]

	mu sync.RWMutex
}

// ServiceConfig holds configuration for the wallet service.
type ServiceConfig struct {
	DataDir string

	// Currencies is the currency table; defaults to the built-in one.
	Currencies *currency.Config

	// EnabledPlugins restricts the wallets created. Empty means every
	// plugin the local engine can derive keys for.
	EnabledPlugins []string

	// Account is the BIP44 account index.
	Account uint32

	Backends *backend.Registry
	Logger   *logging.Logger
}

// NewService creates a new wallet service.
func NewService(cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}

	currencies := cfg.Currencies
	if currencies == nil {
		currencies = currency.Default()
	}

	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	backends := cfg.Backends
	if backends == nil {
		backends = backend.NewRegistry()
	}

	return &Service{
		dataDir:    dataDir,
		account:    cfg.Account,
		currencies: currencies,
		enabled:    cfg.EnabledPlugins,
		backends:   backends,
		log:        log.Component("wallet"),
		wallets:    orderedmap.NewOrderedMap[string, *CurrencyWallet](),
	}
}

func (s *Service) seedPath() string {
	return filepath.Join(s.dataDir, SeedFileName)
}

// GenerateMnemonic generates a new 24-word mnemonic.
func (s *Service) GenerateMnemonic() (string, error) {
	return GenerateMnemonic()
}

// CreateWallet creates the account from a mnemonic, encrypts the seed to disk
// and leaves the account unlocked.
func (s *Service) CreateWallet(mnemonic, passphrase, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ValidateMnemonic(mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	if err := ValidatePassword(password); err != nil {
		return fmt.Errorf("weak password: %w", err)
	}
	if _, err := os.Stat(s.seedPath()); err == nil {
		return ErrSeedExists
	}

	w, err := NewFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	encrypted, err := EncryptMnemonic(mnemonic, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt seed: %w", err)
	}
	if err := SaveEncryptedSeed(encrypted, s.seedPath()); err != nil {
		return fmt.Errorf("failed to save seed: %w", err)
	}

	return s.open(w)
}

// Unlock decrypts the seed and opens the currency wallets.
func (s *Service) Unlock(password, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := LoadEncryptedSeed(s.seedPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNoSeed
		}
		return fmt.Errorf("failed to load encrypted seed: %w", err)
	}

	mnemonic, err := DecryptMnemonic(encrypted, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt seed: %w", err)
	}

	w, err := NewFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return s.open(w)
}

// open derives the currency wallets. Caller holds s.mu.
func (s *Service) open(w *Wallet) error {
	if err := ValidateAccountIndex(s.account); err != nil {
		return err
	}

	wallets := orderedmap.NewOrderedMap[string, *CurrencyWallet]()

	for _, info := range s.enabledCurrencies() {
		cw, err := newCurrencyWallet(s, w, info)
		if err != nil {
			return fmt.Errorf("failed to open %s wallet: %w", info.PluginID, err)
		}
		wallets.Set(cw.id, cw)
		s.log.Debug("Opened currency wallet", "plugin", info.PluginID, "id", cw.id, "address", cw.address)
	}

	s.wallet = w
	s.wallets = wallets
	s.log.Info("Wallet unlocked", "wallets", wallets.Len())
	return nil
}

// enabledCurrencies returns the plugins that get a wallet.
func (s *Service) enabledCurrencies() []*currency.CurrencyInfo {
	infos := s.currencies.List()
	if len(s.enabled) > 0 {
		infos = s.currencies.Subset(s.enabled...).List()
	}

	out := make([]*currency.CurrencyInfo, 0, len(infos))
	for _, info := range infos {
		if info.Keys.AddressType == "" {
			continue
		}
		out = append(out, info)
	}
	return out
}

// ChangePassword re-encrypts the seed file under a new password.
func (s *Service) ChangePassword(oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := LoadEncryptedSeed(s.seedPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNoSeed
		}
		return fmt.Errorf("failed to load encrypted seed: %w", err)
	}

	mnemonic, err := DecryptMnemonic(encrypted, oldPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt seed: %w", err)
	}

	reencrypted, err := EncryptMnemonic(mnemonic, newPassword)
	if err != nil {
		return err
	}
	if err := SaveEncryptedSeed(reencrypted, s.seedPath()); err != nil {
		return fmt.Errorf("failed to save seed: %w", err)
	}

	s.log.Info("Wallet password changed")
	return nil
}

// IsUnlocked returns true if the seed is loaded.
func (s *Service) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet != nil
}

// HasWallet returns true if a seed file exists.
func (s *Service) HasWallet() bool {
	_, err := os.Stat(s.seedPath())
	return err == nil
}

// Lock clears keys and wallets from memory.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet != nil {
		s.wallet.ClearCache()
		s.wallet = nil
	}
	s.wallets = orderedmap.NewOrderedMap[string, *CurrencyWallet]()
	s.log.Info("Wallet locked")
}

// Currencies returns the currency table the account uses.
func (s *Service) Currencies() *currency.Config {
	return s.currencies
}

// Backends returns the backend registry.
func (s *Service) Backends() *backend.Registry {
	return s.backends
}

// Wallets returns the open currency wallets in currency table order. It is
// empty while locked.
func (s *Service) Wallets() []*CurrencyWallet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*CurrencyWallet, 0, s.wallets.Len())
	for el := s.wallets.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// CurrencyWallet returns an open wallet by id.
func (s *Service) CurrencyWallet(id string) (*CurrencyWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wallet == nil {
		return nil, ErrLocked
	}
	cw, ok := s.wallets.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrWalletNotFound)
	}
	return cw, nil
}

// WalletForPlugin returns the open wallet of a currency plugin.
func (s *Service) WalletForPlugin(pluginID string) (*CurrencyWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wallet == nil {
		return nil, ErrLocked
	}
	for el := s.wallets.Front(); el != nil; el = el.Next() {
		if el.Value.info.PluginID == pluginID {
			return el.Value, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", pluginID, ErrWalletNotFound)
}

// keyWallet returns the HD wallet if unlocked.
func (s *Service) keyWallet() (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return nil, ErrLocked
	}
	return s.wallet, nil
}

// walletID derives a stable wallet id from the plugin and its first address.
func walletID(pluginID, address string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(pluginID+":"+address)).String()
}
