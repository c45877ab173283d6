package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// setupTestStorage creates a temporary storage for testing.
func setupTestStorage(t *testing.T) (*Storage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "walletbridge-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func strPtr(s string) *string { return &s }

func TestNew(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "walletbridge-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "walletbridge.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", store.Path(), dbPath)
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "walletbridge-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.WriteData("plugin", map[string]*string{"k": strPtr("v")}); err != nil {
		t.Fatalf("WriteData() error = %v", err)
	}
	store.Close()

	// Migrations must be idempotent on an existing database.
	store, err = New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() on existing db error = %v", err)
	}
	defer store.Close()

	got, err := store.ReadData("plugin", []string{"k"})
	if err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if got["k"] != "v" {
		t.Errorf("ReadData()[k] = %q, want v", got["k"])
	}
}

func TestNewWithTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")

	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
}

func TestStorageSchema(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	for _, table := range []string{"plugin_data", "conversions", "spends", "settings"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not found: %v", table, err)
		}
	}
}

func TestPluginData(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	err := store.WriteData("wyre", map[string]*string{
		"account": strPtr("acct-1"),
		"token":   strPtr("secret"),
	})
	if err != nil {
		t.Fatalf("WriteData() error = %v", err)
	}

	// Another plugin must not see wyre's data.
	if err := store.WriteData("simplex", map[string]*string{"account": strPtr("other")}); err != nil {
		t.Fatalf("WriteData() error = %v", err)
	}

	got, err := store.ReadData("wyre", []string{"account", "token", "missing"})
	if err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	want := map[string]string{"account": "acct-1", "token": "secret"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadData() = %v, want %v", got, want)
	}

	// Overwrite and delete in one call.
	err = store.WriteData("wyre", map[string]*string{
		"account": strPtr("acct-2"),
		"token":   nil,
	})
	if err != nil {
		t.Fatalf("WriteData() error = %v", err)
	}

	got, err = store.ReadData("wyre", []string{"account", "token"})
	if err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	want = map[string]string{"account": "acct-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadData() after update = %v, want %v", got, want)
	}

	keys, err := store.ListDataKeys("simplex")
	if err != nil {
		t.Fatalf("ListDataKeys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"account"}) {
		t.Errorf("ListDataKeys(simplex) = %v", keys)
	}

	if err := store.DeleteData("simplex", "account"); err != nil {
		t.Fatalf("DeleteData() error = %v", err)
	}
	keys, _ = store.ListDataKeys("simplex")
	if len(keys) != 0 {
		t.Errorf("ListDataKeys() after delete = %v, want empty", keys)
	}

	n, err := store.ClearPluginData("wyre")
	if err != nil {
		t.Fatalf("ClearPluginData() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ClearPluginData() removed %d rows, want 1", n)
	}
}

func TestPluginDataValidation(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	if err := store.WriteData("", map[string]*string{"k": strPtr("v")}); err == nil {
		t.Error("WriteData() with empty plugin id should fail")
	}
	if err := store.WriteData("p", map[string]*string{"": strPtr("v")}); err == nil {
		t.Error("WriteData() with empty key should fail")
	}

	got, err := store.ReadData("p", nil)
	if err != nil {
		t.Fatalf("ReadData(nil) error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ReadData(nil) = %v, want empty map", got)
	}
}

func TestConversions(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	base := time.Now().Add(-time.Hour)
	convs := []*Conversion{
		{PluginID: "changelly", FromPluginID: "bitcoin", FromAmount: "100000", ToPluginID: "ethereum", ToAmount: "2000000000000000", CreatedAt: base},
		{PluginID: "changelly", OrderID: "o-2", FromPluginID: "ethereum", FromTokenID: "a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", FromAmount: "5000000", ToPluginID: "bitcoin", ToAmount: "10000", IsEstimate: true, CreatedAt: base.Add(time.Minute)},
		{PluginID: "moonpay", FromPluginID: "ethereum", FromAmount: "1", ToPluginID: "polygon", ToAmount: "1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, c := range convs {
		if err := store.TrackConversion(c); err != nil {
			t.Fatalf("TrackConversion() error = %v", err)
		}
		if c.ID == "" {
			t.Error("TrackConversion() did not assign an id")
		}
	}

	all, err := store.ListConversions(ConversionFilter{})
	if err != nil {
		t.Fatalf("ListConversions() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListConversions() returned %d, want 3", len(all))
	}
	if all[0].PluginID != "moonpay" {
		t.Errorf("ListConversions() first = %s, want newest (moonpay)", all[0].PluginID)
	}

	changelly, err := store.ListConversions(ConversionFilter{PluginID: "changelly"})
	if err != nil {
		t.Fatalf("ListConversions() error = %v", err)
	}
	if len(changelly) != 2 {
		t.Fatalf("ListConversions(changelly) returned %d, want 2", len(changelly))
	}
	got := changelly[0]
	if got.OrderID != "o-2" || !got.IsEstimate || got.FromTokenID != "a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Errorf("conversion round trip mismatch: %+v", got)
	}
	if changelly[1].ToTokenID != "" {
		t.Errorf("ToTokenID = %q, want empty", changelly[1].ToTokenID)
	}

	paged, err := store.ListConversions(ConversionFilter{Offset: 1})
	if err != nil {
		t.Fatalf("ListConversions(offset) error = %v", err)
	}
	if len(paged) != 2 {
		t.Errorf("ListConversions(offset=1) returned %d, want 2", len(paged))
	}

	if err := store.TrackConversion(&Conversion{PluginID: "x"}); err == nil {
		t.Error("TrackConversion() without chains should fail")
	}
}

func TestSpends(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	sp := &Spend{
		PluginID:         "wyre",
		SessionID:        "sess-1",
		WalletID:         "w-eth",
		CurrencyPluginID: "ethereum",
		TokenID:          "a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		CurrencyCode:     "USDC",
		TxID:             "0xabc",
		NativeAmount:     "1500000",
		NetworkFee:       "21000000000000",
		Targets:          []SpendTarget{{PublicAddress: "0x1111111111111111111111111111111111111111", NativeAmount: "1500000"}},
		OrderID:          "order-9",
		Metadata:         json.RawMessage(`{"name":"Wyre"}`),
	}
	if err := store.LogSpend(sp); err != nil {
		t.Fatalf("LogSpend() error = %v", err)
	}
	if sp.Status != SpendStatusSent {
		t.Errorf("default status = %s, want sent", sp.Status)
	}

	failed := &Spend{
		PluginID:         "wyre",
		WalletID:         "w-btc",
		CurrencyPluginID: "bitcoin",
		CurrencyCode:     "BTC",
		NativeAmount:     "1000",
		Status:           SpendStatusFailed,
		Error:            "insufficient funds",
		CreatedAt:        time.Now().Add(time.Second),
	}
	if err := store.LogSpend(failed); err != nil {
		t.Fatalf("LogSpend() error = %v", err)
	}

	got, err := store.GetSpend(sp.ID)
	if err != nil {
		t.Fatalf("GetSpend() error = %v", err)
	}
	if got.TxID != "0xabc" || got.SessionID != "sess-1" || got.OrderID != "order-9" {
		t.Errorf("GetSpend() = %+v", got)
	}
	if len(got.Targets) != 1 || got.Targets[0].NativeAmount != "1500000" {
		t.Errorf("targets = %+v", got.Targets)
	}
	if string(got.Metadata) != `{"name":"Wyre"}` {
		t.Errorf("metadata = %s", got.Metadata)
	}

	status := SpendStatusFailed
	list, err := store.ListSpends(SpendFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListSpends() error = %v", err)
	}
	if len(list) != 1 || list[0].Error != "insufficient funds" {
		t.Errorf("ListSpends(failed) = %+v", list)
	}
	if list[0].Metadata != nil {
		t.Errorf("metadata = %s, want nil", list[0].Metadata)
	}

	list, err = store.ListSpends(SpendFilter{WalletID: "w-eth"})
	if err != nil {
		t.Fatalf("ListSpends() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != sp.ID {
		t.Errorf("ListSpends(w-eth) = %+v", list)
	}

	_, err = store.GetSpend("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSpend(missing) error = %v, want ErrNotFound", err)
	}

	if err := store.LogSpend(&Spend{PluginID: "wyre"}); err == nil {
		t.Error("LogSpend() without wallet should fail")
	}
}

func TestSettings(t *testing.T) {
	store, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := store.GetSetting("selected_wallet")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSetting(unset) error = %v, want ErrNotFound", err)
	}
	if v := store.GetSettingOr("selected_wallet", "none"); v != "none" {
		t.Errorf("GetSettingOr() = %s, want none", v)
	}

	if err := store.SetSetting("selected_wallet", "w1"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := store.SetSetting("selected_wallet", "w2"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	v, err := store.GetSetting("selected_wallet")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if v != "w2" {
		t.Errorf("GetSetting() = %s, want w2", v)
	}
}
