package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-exchange/walletbridge/internal/backend"
)

const usdcID = "a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

type fakeEVM struct {
	balance      *big.Int
	tokenBalance *big.Int
	gasPrice     *big.Int
	gasEstimate  uint64
	nonce        uint64
	sent         []*types.Transaction
}

func (f *fakeEVM) Type() backend.Type                            { return backend.TypeEVM }
func (f *fakeEVM) Connect(ctx context.Context) error             { return nil }
func (f *fakeEVM) Close() error                                  { return nil }
func (f *fakeEVM) IsConnected() bool                             { return true }
func (f *fakeEVM) GetBlockHeight(context.Context) (int64, error) { return 100, nil }

func (f *fakeEVM) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeEVM) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeEVM) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeEVM) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeEVM) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return nil, errors.New("no suggestion")
	}
	return f.gasPrice, nil
}

func (f *fakeEVM) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.gasEstimate == 0 {
		return 0, errors.New("execution reverted")
	}
	return f.gasEstimate, nil
}

func (f *fakeEVM) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return f.tokenBalance, nil
}

func (f *fakeEVM) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

type fakeUTXO struct {
	utxos     []backend.UTXO
	fees      *backend.FeeEstimate
	broadcast []string
}

func (f *fakeUTXO) Type() backend.Type                            { return backend.TypeEsplora }
func (f *fakeUTXO) Connect(ctx context.Context) error             { return nil }
func (f *fakeUTXO) Close() error                                  { return nil }
func (f *fakeUTXO) IsConnected() bool                             { return true }
func (f *fakeUTXO) GetBlockHeight(context.Context) (int64, error) { return 800000, nil }

func (f *fakeUTXO) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var total uint64
	for _, u := range f.utxos {
		total += u.Amount
	}
	return new(big.Int).SetUint64(total), nil
}

func (f *fakeUTXO) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	f.broadcast = append(f.broadcast, rawTxHex)
	return "", nil
}

func (f *fakeUTXO) GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error) {
	return f.utxos, nil
}

func (f *fakeUTXO) GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error) {
	if f.fees == nil {
		return nil, errors.New("unavailable")
	}
	return f.fees, nil
}

func TestEVMSpendNative(t *testing.T) {
	svc := unlockedService(t, "ethereum")
	fake := &fakeEVM{
		balance:     big.NewInt(1_000_000_000_000_000_000),
		gasPrice:    big.NewInt(20_000_000_000),
		gasEstimate: 21000,
		nonce:       5,
	}
	svc.Backends().Register("ethereum", fake)
	eth, _ := svc.WalletForPlugin("ethereum")
	ctx := context.Background()

	to := "0x000000000000000000000000000000000000dEaD"
	tx, err := eth.MakeSpend(ctx, SpendInfo{
		SpendTargets: []SpendTarget{{PublicAddress: strings.ToLower(to), NativeAmount: "100000000000000000"}},
		Metadata:     &Metadata{Name: "Coffee"},
	})
	if err != nil {
		t.Fatalf("MakeSpend() error = %v", err)
	}
	if tx.NetworkFee != "420000000000000" {
		t.Errorf("fee = %s", tx.NetworkFee)
	}
	if tx.NativeAmount != "-100420000000000000" {
		t.Errorf("native amount = %s", tx.NativeAmount)
	}
	if tx.CurrencyCode != "ETH" || tx.TokenID != "" {
		t.Errorf("currency = %s/%s", tx.CurrencyCode, tx.TokenID)
	}
	if tx.SpendTargets[0].PublicAddress != to {
		t.Errorf("target not checksummed: %s", tx.SpendTargets[0].PublicAddress)
	}
	if tx.Signed() {
		t.Error("MakeSpend should not sign")
	}

	sent, err := eth.SignAndBroadcast(ctx, tx)
	if err != nil {
		t.Fatalf("SignAndBroadcast() error = %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent = %d", len(fake.sent))
	}
	onChain := fake.sent[0]
	if onChain.Nonce() != 5 || onChain.Gas() != 21000 || onChain.To().Hex() != to {
		t.Errorf("unexpected tx nonce=%d gas=%d to=%s", onChain.Nonce(), onChain.Gas(), onChain.To().Hex())
	}
	if sent.TxID != onChain.Hash().Hex() || !sent.Signed() {
		t.Errorf("txid = %s, signed = %v", sent.TxID, sent.Signed())
	}

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), onChain)
	if err != nil || sender.Hex() != testETHAddress {
		t.Errorf("sender = %s, %v", sender.Hex(), err)
	}

	if _, err := eth.SignAndBroadcast(ctx, tx); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("second broadcast error = %v", err)
	}
}

func TestEVMSpendToken(t *testing.T) {
	svc := unlockedService(t, "ethereum")
	fake := &fakeEVM{
		balance:      big.NewInt(1_000_000_000_000_000),
		tokenBalance: big.NewInt(5_000_000),
	}
	svc.Backends().Register("ethereum", fake)
	eth, _ := svc.WalletForPlugin("ethereum")
	ctx := context.Background()

	tx, err := eth.MakeSpend(ctx, SpendInfo{
		CurrencyCode:     "USDC",
		SpendTargets:     []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "1000000"}},
		NetworkFeeOption: FeeCustom,
		CustomNetworkFee: map[string]string{CustomFeeGasPrice: "3", CustomFeeGasLimit: "80000"},
	})
	if err != nil {
		t.Fatalf("MakeSpend() error = %v", err)
	}
	if tx.TokenID != usdcID || tx.CurrencyCode != "USDC" {
		t.Errorf("token = %s/%s", tx.TokenID, tx.CurrencyCode)
	}
	if tx.NativeAmount != "-1000000" {
		t.Errorf("native amount = %s", tx.NativeAmount)
	}
	if tx.NetworkFee != "240000000000000" {
		t.Errorf("fee = %s", tx.NetworkFee)
	}

	if _, err := eth.SignAndBroadcast(ctx, tx); err != nil {
		t.Fatalf("SignAndBroadcast() error = %v", err)
	}
	onChain := fake.sent[0]
	if !strings.EqualFold(onChain.To().Hex(), "0x"+usdcID) {
		t.Errorf("tx sent to %s, want token contract", onChain.To().Hex())
	}
	if onChain.Value().Sign() != 0 {
		t.Errorf("token transfer carries value %s", onChain.Value())
	}
	recipient, amount, err := DecodeERC20Transfer(onChain.Data())
	if err != nil {
		t.Fatal(err)
	}
	if recipient != testETHAddress || amount.Int64() != 1_000_000 {
		t.Errorf("transfer(%s, %s)", recipient, amount)
	}
}

func TestEVMSpendScheduleFallback(t *testing.T) {
	svc := unlockedService(t, "ethereum")
	eth, _ := svc.WalletForPlugin("ethereum")

	// No backend: schedule price and gas limit
	tx, err := eth.MakeSpend(context.Background(), SpendInfo{
		SpendTargets:     []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "1"}},
		NetworkFeeOption: FeeLow,
	})
	if err != nil {
		t.Fatalf("MakeSpend() error = %v", err)
	}
	schedule := eth.CurrencyInfo().Defaults.FeeSchedule
	price, _ := new(big.Int).SetString(schedule.Low, 10)
	want := new(big.Int).Mul(price, new(big.Int).SetUint64(schedule.GasLimit))
	if tx.NetworkFee != want.String() {
		t.Errorf("fee = %s, want %s", tx.NetworkFee, want)
	}

	if _, err := eth.SignAndBroadcast(context.Background(), tx); !errors.Is(err, ErrNoBackend) {
		t.Errorf("broadcast without backend error = %v", err)
	}
}

func TestEVMSpendErrors(t *testing.T) {
	svc := unlockedService(t, "ethereum")
	svc.Backends().Register("ethereum", &fakeEVM{balance: big.NewInt(1), tokenBalance: big.NewInt(0), gasEstimate: 21000})
	eth, _ := svc.WalletForPlugin("ethereum")
	ctx := context.Background()

	tests := []struct {
		name  string
		spend SpendInfo
		want  error
	}{
		{"no targets", SpendInfo{}, ErrNoSpendTargets},
		{"bad address", SpendInfo{SpendTargets: []SpendTarget{{PublicAddress: "0x123", NativeAmount: "1"}}}, ErrInvalidAddress},
		{"zero amount", SpendInfo{SpendTargets: []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "0"}}}, ErrInvalidAmount},
		{"decimal amount", SpendInfo{SpendTargets: []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "0.1"}}}, ErrInvalidAmount},
		{"unknown token", SpendInfo{TokenID: "deadbeef", SpendTargets: []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "1"}}}, ErrTokenNotFound},
		{"insufficient", SpendInfo{SpendTargets: []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "1000"}}}, ErrInsufficientFunds},
		{"multiple targets", SpendInfo{SpendTargets: []SpendTarget{
			{PublicAddress: testETHAddress, NativeAmount: "1"},
			{PublicAddress: testETHAddress, NativeAmount: "1"},
		}}, ErrUnsupported},
		{"custom without price", SpendInfo{
			NetworkFeeOption: FeeCustom,
			SpendTargets:     []SpendTarget{{PublicAddress: testETHAddress, NativeAmount: "1"}},
		}, ErrInvalidAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eth.MakeSpend(ctx, tc.spend); !errors.Is(err, tc.want) {
				t.Errorf("MakeSpend() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSignAndBroadcastForeignTransaction(t *testing.T) {
	svc := unlockedService(t, "bitcoin", "ethereum")
	eth, _ := svc.WalletForPlugin("ethereum")

	if _, err := eth.SignAndBroadcast(context.Background(), &Transaction{PluginID: "bitcoin"}); err == nil {
		t.Error("expected error for transaction of another plugin")
	}
	if _, err := eth.SignAndBroadcast(context.Background(), &Transaction{PluginID: "ethereum"}); err == nil {
		t.Error("expected error for transaction not built by MakeSpend")
	}
}

func decodeRawTx(t *testing.T, raw string) *wire.MsgTx {
	t.Helper()
	b, err := hex.DecodeString(raw)
	if err != nil {
		t.Fatal(err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	return &tx
}

// verifyInputs runs the script engine over every input.
func verifyInputs(t *testing.T, tx *wire.MsgTx, pkScript []byte, amounts []int64) {
	t.Helper()
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range tx.TxIn {
		prevOuts[in.PreviousOutPoint] = wire.NewTxOut(amounts[i], pkScript)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	for i := range tx.TxIn {
		vm, err := txscript.NewEngine(pkScript, tx, i, txscript.StandardVerifyFlags, nil, hashes, amounts[i], fetcher)
		if err != nil {
			t.Fatalf("NewEngine(%d) error = %v", i, err)
		}
		if err := vm.Execute(); err != nil {
			t.Errorf("input %d does not verify: %v", i, err)
		}
	}
}

func TestUTXOSpendBitcoin(t *testing.T) {
	svc := unlockedService(t, "bitcoin")
	fake := &fakeUTXO{
		utxos: []backend.UTXO{
			{TxID: strings.Repeat("ab", 32), Vout: 1, Amount: 100_000, Confirmations: 3},
			{TxID: strings.Repeat("cd", 32), Vout: 0, Amount: 20_000, Confirmations: 1},
		},
	}
	svc.Backends().Register("bitcoin", fake)
	btc, _ := svc.WalletForPlugin("bitcoin")
	ctx := context.Background()

	tx, err := btc.MakeSpend(ctx, SpendInfo{
		SpendTargets:     []SpendTarget{{PublicAddress: "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", NativeAmount: "50000"}},
		NetworkFeeOption: FeeCustom,
		CustomNetworkFee: map[string]string{CustomFeeSatPerByte: "2"},
	})
	if err != nil {
		t.Fatalf("MakeSpend() error = %v", err)
	}
	// One P2WPKH input, target and change outputs
	if tx.NetworkFee != "296" {
		t.Errorf("fee = %s, want 296", tx.NetworkFee)
	}
	if tx.NativeAmount != "-50296" {
		t.Errorf("native amount = %s", tx.NativeAmount)
	}

	sent, err := btc.SignAndBroadcast(ctx, tx)
	if err != nil {
		t.Fatalf("SignAndBroadcast() error = %v", err)
	}
	if len(fake.broadcast) != 1 || fake.broadcast[0] != sent.SignedTx {
		t.Fatal("raw transaction not broadcast")
	}

	msgTx := decodeRawTx(t, sent.SignedTx)
	if sent.TxID != msgTx.TxHash().String() {
		t.Errorf("txid = %s, want %s", sent.TxID, msgTx.TxHash())
	}
	if len(msgTx.TxIn) != 1 || len(msgTx.TxOut) != 2 {
		t.Fatalf("inputs=%d outputs=%d", len(msgTx.TxIn), len(msgTx.TxOut))
	}
	if msgTx.TxOut[0].Value != 50_000 || msgTx.TxOut[1].Value != 49_704 {
		t.Errorf("output values %d, %d", msgTx.TxOut[0].Value, msgTx.TxOut[1].Value)
	}

	pkScript, err := PayToAddrScript(btc.CurrencyInfo(), btc.Address())
	if err != nil {
		t.Fatal(err)
	}
	verifyInputs(t, msgTx, pkScript, []int64{100_000})
}

func TestUTXOSpendDogecoinLegacy(t *testing.T) {
	svc := unlockedService(t, "dogecoin")
	fake := &fakeUTXO{
		utxos: []backend.UTXO{
			{TxID: strings.Repeat("11", 32), Vout: 0, Amount: 300_000_000},
			{TxID: strings.Repeat("22", 32), Vout: 2, Amount: 400_000_000},
		},
		fees: &backend.FeeEstimate{FastestFee: 2000, HalfHourFee: 1000, EconomyFee: 500},
	}
	svc.Backends().Register("dogecoin", fake)
	doge, _ := svc.WalletForPlugin("dogecoin")
	ctx := context.Background()

	tx, err := doge.MakeSpend(ctx, SpendInfo{
		SpendTargets: []SpendTarget{{PublicAddress: doge.Address(), NativeAmount: "500000000"}},
	})
	if err != nil {
		t.Fatalf("MakeSpend() error = %v", err)
	}
	// Two P2PKH inputs at the half-hour rate
	wantFee := estimateVSize(2, 2, p2pkhInVSize) * 1000
	if tx.NetworkFee != big.NewInt(int64(wantFee)).String() {
		t.Errorf("fee = %s, want %d", tx.NetworkFee, wantFee)
	}

	sent, err := doge.SignAndBroadcast(ctx, tx)
	if err != nil {
		t.Fatalf("SignAndBroadcast() error = %v", err)
	}
	msgTx := decodeRawTx(t, sent.SignedTx)
	if len(msgTx.TxIn) != 2 {
		t.Fatalf("inputs = %d", len(msgTx.TxIn))
	}
	if msgTx.TxIn[0].SignatureScript == nil || len(msgTx.TxIn[0].Witness) != 0 {
		t.Error("legacy input should carry a signature script")
	}

	pkScript, err := PayToAddrScript(doge.CurrencyInfo(), doge.Address())
	if err != nil {
		t.Fatal(err)
	}
	// Largest first
	verifyInputs(t, msgTx, pkScript, []int64{400_000_000, 300_000_000})
}

func TestUTXOSpendErrors(t *testing.T) {
	svc := unlockedService(t, "bitcoin", "bitcoincash")
	svc.Backends().Register("bitcoin", &fakeUTXO{
		utxos: []backend.UTXO{{TxID: strings.Repeat("ab", 32), Amount: 1000}},
	})
	btc, _ := svc.WalletForPlugin("bitcoin")
	bch, _ := svc.WalletForPlugin("bitcoincash")
	ctx := context.Background()

	_, err := btc.MakeSpend(ctx, SpendInfo{
		SpendTargets: []SpendTarget{{PublicAddress: testBTCAddress, NativeAmount: "900"}},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("insufficient error = %v", err)
	}

	_, err = btc.MakeSpend(ctx, SpendInfo{
		SpendTargets: []SpendTarget{{PublicAddress: testBTCAddress, NativeAmount: "100"}},
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("dust error = %v", err)
	}

	_, err = bch.MakeSpend(ctx, SpendInfo{
		SpendTargets: []SpendTarget{{PublicAddress: bch.Address(), NativeAmount: "10000"}},
	})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("bitcoincash error = %v", err)
	}
}

func TestSelectUTXOs(t *testing.T) {
	utxos := []backend.UTXO{
		{TxID: "a", Amount: 1000},
		{TxID: "b", Amount: 5000},
		{TxID: "c", Amount: 3000},
	}

	selected, total, fee, err := selectUTXOs(utxos, 6000, 1, 2, p2wpkhInVSize)
	if err != nil {
		t.Fatalf("selectUTXOs() error = %v", err)
	}
	if len(selected) != 2 || selected[0].TxID != "b" || selected[1].TxID != "c" {
		t.Errorf("selected = %+v", selected)
	}
	if total != 8000 {
		t.Errorf("total = %d", total)
	}
	if fee != estimateVSize(2, 2, p2wpkhInVSize) {
		t.Errorf("fee = %d", fee)
	}

	if _, _, _, err := selectUTXOs(utxos, 9000, 1, 2, p2wpkhInVSize); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds, got %v", err)
	}
	if _, _, _, err := selectUTXOs(nil, 1, 1, 2, p2wpkhInVSize); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected insufficient funds for empty set, got %v", err)
	}
}
