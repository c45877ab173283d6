package wallet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klingon-exchange/walletbridge/internal/backend"
)

const testPassword = "TestPassword123!"

func newTestService(t *testing.T, plugins ...string) *Service {
	t.Helper()
	return NewService(&ServiceConfig{
		DataDir:        t.TempDir(),
		EnabledPlugins: plugins,
		Backends:       backend.NewRegistry(),
	})
}

func unlockedService(t *testing.T, plugins ...string) *Service {
	t.Helper()
	svc := newTestService(t, plugins...)
	if err := svc.CreateWallet(testMnemonic, "", testPassword); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	return svc
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(nil)

	if svc == nil {
		t.Fatal("NewService(nil) returned nil")
	}
	if svc.Currencies() == nil || svc.Backends() == nil {
		t.Error("expected default currency table and backend registry")
	}
	if svc.IsUnlocked() {
		t.Error("new service should be locked")
	}
	if len(svc.Wallets()) != 0 {
		t.Error("locked service should have no wallets")
	}
}

func TestServiceGenerateMnemonic(t *testing.T) {
	svc := NewService(nil)

	mnemonic, err := svc.GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error = %v", err)
	}
	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic should be valid")
	}
}

func TestServiceCreateAndUnlock(t *testing.T) {
	svc := newTestService(t, "bitcoin", "ethereum")

	if svc.HasWallet() {
		t.Error("HasWallet() should be false initially")
	}
	if err := svc.Unlock(testPassword, ""); !errors.Is(err, ErrNoSeed) {
		t.Errorf("Unlock() without seed error = %v, want ErrNoSeed", err)
	}

	if err := svc.CreateWallet(testMnemonic, "", testPassword); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if !svc.HasWallet() || !svc.IsUnlocked() {
		t.Fatal("expected wallet created and unlocked")
	}

	info, err := os.Stat(filepath.Join(svc.dataDir, SeedFileName))
	if err != nil {
		t.Fatalf("seed file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("seed file mode = %o, want 600", info.Mode().Perm())
	}

	ids := walletIDs(svc)
	if len(ids) != 2 {
		t.Fatalf("wallets = %d, want 2", len(ids))
	}

	svc.Lock()
	if svc.IsUnlocked() {
		t.Error("IsUnlocked() should be false after Lock")
	}
	if _, err := svc.CurrencyWallet(ids[0]); !errors.Is(err, ErrLocked) {
		t.Errorf("CurrencyWallet() while locked error = %v", err)
	}

	if err := svc.Unlock(testPassword, ""); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	again := walletIDs(svc)
	for i := range ids {
		if ids[i] != again[i] {
			t.Errorf("wallet id changed across unlock: %s != %s", ids[i], again[i])
		}
	}

	if err := svc.CreateWallet(testMnemonic, "", testPassword); !errors.Is(err, ErrSeedExists) {
		t.Errorf("second CreateWallet() error = %v, want ErrSeedExists", err)
	}
}

func walletIDs(svc *Service) []string {
	var ids []string
	for _, cw := range svc.Wallets() {
		ids = append(ids, cw.ID())
	}
	return ids
}

func TestServiceCreateWalletInvalid(t *testing.T) {
	svc := newTestService(t)

	if err := svc.CreateWallet("invalid mnemonic", "", testPassword); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
	if err := svc.CreateWallet(testMnemonic, "", "weak"); err == nil {
		t.Error("expected error for weak password")
	}
	if svc.HasWallet() {
		t.Error("failed create should not write a seed")
	}
}

func TestServiceUnlockWrongPassword(t *testing.T) {
	svc := unlockedService(t, "bitcoin")
	svc.Lock()

	if err := svc.Unlock("WrongPassword123!", ""); err == nil {
		t.Error("expected error for wrong password")
	}
	if svc.IsUnlocked() {
		t.Error("wrong password should leave the wallet locked")
	}
}

func TestServiceChangePassword(t *testing.T) {
	svc := unlockedService(t, "bitcoin")
	svc.Lock()

	if err := svc.ChangePassword("WrongPassword123!", "NewPassword456!"); err == nil {
		t.Error("expected error for wrong old password")
	}
	if err := svc.ChangePassword(testPassword, "NewPassword456!"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if err := svc.Unlock(testPassword, ""); err == nil {
		t.Error("old password should no longer unlock")
	}
	if err := svc.Unlock("NewPassword456!", ""); err != nil {
		t.Errorf("Unlock() with new password error = %v", err)
	}
}

func TestServicePassphraseChangesWallets(t *testing.T) {
	a := unlockedService(t, "bitcoin")

	b := newTestService(t, "bitcoin")
	if err := b.CreateWallet(testMnemonic, "extra words", testPassword); err != nil {
		t.Fatal(err)
	}

	if a.Wallets()[0].Address() == b.Wallets()[0].Address() {
		t.Error("passphrase should change the derived address")
	}
	if a.Wallets()[0].ID() == b.Wallets()[0].ID() {
		t.Error("passphrase should change the wallet id")
	}
}

func TestServiceWalletsDefaultTable(t *testing.T) {
	svc := unlockedService(t)

	want := 0
	for _, info := range svc.Currencies().List() {
		if info.Keys.AddressType != "" {
			want++
		}
	}
	wallets := svc.Wallets()
	if len(wallets) != want {
		t.Fatalf("wallets = %d, want %d", len(wallets), want)
	}

	// Currency table order
	ids := svc.Currencies().PluginIDs()
	pos := 0
	for _, cw := range wallets {
		for pos < len(ids) && ids[pos] != cw.PluginID() {
			pos++
		}
		if pos == len(ids) {
			t.Fatalf("wallet %s out of table order", cw.PluginID())
		}
	}
}

func TestServiceWalletLookup(t *testing.T) {
	svc := unlockedService(t, "bitcoin", "ethereum")

	eth, err := svc.WalletForPlugin("ethereum")
	if err != nil {
		t.Fatalf("WalletForPlugin() error = %v", err)
	}
	if eth.Address() != testETHAddress {
		t.Errorf("address = %s, want %s", eth.Address(), testETHAddress)
	}
	if eth.Name() != "My Ethereum" {
		t.Errorf("name = %s", eth.Name())
	}

	byID, err := svc.CurrencyWallet(eth.ID())
	if err != nil || byID != eth {
		t.Errorf("CurrencyWallet(%s) = %v, %v", eth.ID(), byID, err)
	}

	if _, err := svc.CurrencyWallet("missing"); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("CurrencyWallet(missing) error = %v", err)
	}
	if _, err := svc.WalletForPlugin("dogecoin"); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("WalletForPlugin(disabled) error = %v", err)
	}
}

func TestCurrencyWalletReceiveAddress(t *testing.T) {
	svc := unlockedService(t, "bitcoin", "ethereum")
	ctx := context.Background()

	btc, _ := svc.WalletForPlugin("bitcoin")
	addr, err := btc.ReceiveAddress(ctx, ReceiveOptions{NativeAmount: "1000", Metadata: &Metadata{Name: "Alice"}})
	if err != nil {
		t.Fatalf("ReceiveAddress() error = %v", err)
	}
	if addr.PublicAddress != testBTCAddress {
		t.Errorf("public address = %s", addr.PublicAddress)
	}
	if addr.LegacyAddress == "" || addr.LegacyAddress[0] != '1' {
		t.Errorf("legacy address = %q", addr.LegacyAddress)
	}
	if addr.NativeAmount != "1000" || addr.Metadata.Name != "Alice" {
		t.Errorf("options not echoed: %+v", addr)
	}

	if _, err := btc.ReceiveAddress(ctx, ReceiveOptions{NativeAmount: "1.5"}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("fractional native amount error = %v", err)
	}
	if _, err := btc.ReceiveAddress(ctx, ReceiveOptions{TokenID: "deadbeef"}); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("unknown token error = %v", err)
	}

	eth, _ := svc.WalletForPlugin("ethereum")
	ethAddr, err := eth.ReceiveAddress(ctx, ReceiveOptions{TokenID: usdcID})
	if err != nil {
		t.Fatalf("token ReceiveAddress() error = %v", err)
	}
	if ethAddr.PublicAddress != testETHAddress || ethAddr.LegacyAddress != "" {
		t.Errorf("unexpected eth receive address %+v", ethAddr)
	}
}

func TestCurrencyWalletSignMessage(t *testing.T) {
	svc := unlockedService(t, "bitcoin")
	btc, _ := svc.WalletForPlugin("bitcoin")

	sig, err := btc.SignMessage("hello")
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}
	ok, err := btc.VerifyMessage("hello", sig)
	if err != nil || !ok {
		t.Errorf("VerifyMessage() = %v, %v", ok, err)
	}

	svc.Lock()
	if _, err := btc.SignMessage("hello"); !errors.Is(err, ErrLocked) {
		t.Errorf("SignMessage() while locked error = %v", err)
	}
}

func TestCurrencyWalletBalanceNoBackend(t *testing.T) {
	svc := unlockedService(t, "bitcoin")
	btc, _ := svc.WalletForPlugin("bitcoin")

	if _, err := btc.Balance(context.Background(), ""); !errors.Is(err, ErrNoBackend) {
		t.Errorf("Balance() error = %v, want ErrNoBackend", err)
	}
}

func TestSeedFileRoundTrip(t *testing.T) {
	encrypted, err := EncryptMnemonic(testMnemonic, testPassword)
	if err != nil {
		t.Fatalf("EncryptMnemonic() error = %v", err)
	}
	if encrypted.KDF != "argon2id" || encrypted.Version != 1 {
		t.Errorf("unexpected header %+v", encrypted)
	}

	path := filepath.Join(t.TempDir(), "nested", SeedFileName)
	if err := SaveEncryptedSeed(encrypted, path); err != nil {
		t.Fatalf("SaveEncryptedSeed() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary seed file left behind")
	}

	loaded, err := LoadEncryptedSeed(path)
	if err != nil {
		t.Fatalf("LoadEncryptedSeed() error = %v", err)
	}
	mnemonic, err := DecryptMnemonic(loaded, testPassword)
	if err != nil {
		t.Fatalf("DecryptMnemonic() error = %v", err)
	}
	if mnemonic != testMnemonic {
		t.Error("decrypted mnemonic differs")
	}

	loaded.KDF = "scrypt"
	if _, err := DecryptMnemonic(loaded, testPassword); err == nil {
		t.Error("expected error for unknown kdf")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"TestPassword123!", true},
		{"abcDEF123", true},
		{"short1A", false},
		{"alllowercase", false},
		{"ALLUPPER123", false},
		{"lower-and-123", true},
	}
	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if (err == nil) != tc.valid {
			t.Errorf("ValidatePassword(%q) error = %v, want valid %v", tc.password, err, tc.valid)
		}
	}
}

func TestValidateAccountIndex(t *testing.T) {
	if err := ValidateAccountIndex(0); err != nil {
		t.Error(err)
	}
	if err := ValidateAccountIndex(1 << 31); err == nil {
		t.Error("expected error for non-hardenable account")
	}
}
