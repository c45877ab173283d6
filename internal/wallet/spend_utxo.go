package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/walletbridge/internal/backend"
	"github.com/klingon-exchange/walletbridge/internal/currency"
)

// Virtual sizes used for fee estimation.
const (
	txOverheadVSize = 10
	p2wpkhInVSize   = 68
	p2pkhInVSize    = 148
	outputVSize     = 34
)

// Default dust threshold in satoshis.
const defaultDustThreshold = uint64(546)

var dustThresholds = map[string]uint64{
	"dogecoin": 1_000_000, // 0.01 DOGE
}

// Chains whose signature hash the local engine cannot produce.
var unsupportedSpends = map[string]string{
	"bitcoincash": "SIGHASH_FORKID signing",
}

// utxoUnsigned holds the selected inputs and outputs of a UTXO spend.
type utxoUnsigned struct {
	inputs  []backend.UTXO
	outputs []*wire.TxOut
	fee     uint64
}

func (cw *CurrencyWallet) makeUTXOSpend(ctx context.Context, spend SpendInfo) (*Transaction, error) {
	if what, ok := unsupportedSpends[cw.info.PluginID]; ok {
		return nil, fmt.Errorf("%s: %s: %w", cw.info.PluginID, what, ErrUnsupported)
	}
	if _, _, err := cw.resolveToken(spend); err != nil {
		return nil, err
	}

	b, err := cw.svc.backends.UTXO(cw.info.PluginID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}

	feeRate, err := cw.utxoFeeRate(ctx, b, spend)
	if err != nil {
		return nil, err
	}

	var outputs []*wire.TxOut
	var amount uint64
	targets := make([]SpendTarget, 0, len(spend.SpendTargets))
	for _, target := range spend.SpendTargets {
		value, err := strconv.ParseUint(target.NativeAmount, 10, 63)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, target.NativeAmount)
		}
		if value < cw.dustThreshold() {
			return nil, fmt.Errorf("%w: %d is below dust", ErrInvalidAmount, value)
		}
		script, err := PayToAddrScript(cw.info, target.PublicAddress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		outputs = append(outputs, wire.NewTxOut(int64(value), script))
		amount += value
		targets = append(targets, target)
	}

	utxos, err := b.GetAddressUTXOs(ctx, cw.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get UTXOs: %w", err)
	}

	selected, totalInput, fee, err := selectUTXOs(utxos, amount, feeRate, len(outputs)+1, cw.inputVSize())
	if err != nil {
		return nil, err
	}

	change := totalInput - amount - fee
	if change > cw.dustThreshold() {
		changeScript, err := PayToAddrScript(cw.info, cw.address)
		if err != nil {
			return nil, fmt.Errorf("invalid change address: %w", err)
		}
		outputs = append(outputs, wire.NewTxOut(int64(change), changeScript))
	} else {
		// Dust change goes to the miner
		fee += change
	}

	total := new(big.Int).SetUint64(amount)
	total.Add(total, new(big.Int).SetUint64(fee))

	return &Transaction{
		PluginID:     cw.info.PluginID,
		CurrencyCode: cw.info.CurrencyCode,
		NativeAmount: new(big.Int).Neg(total).String(),
		NetworkFee:   strconv.FormatUint(fee, 10),
		SpendTargets: targets,
		FromAddress:  cw.address,
		Date:         time.Now(),
		Metadata:     spend.Metadata,
		OrderID:      spend.OrderID,
		unsigned: &utxoUnsigned{
			inputs:  selected,
			outputs: outputs,
			fee:     fee,
		},
	}, nil
}

// utxoFeeRate returns the fee rate in sat/vB. Backend estimates are preferred
// to the static schedule.
func (cw *CurrencyWallet) utxoFeeRate(ctx context.Context, b backend.UTXOBackend, spend SpendInfo) (uint64, error) {
	if spend.NetworkFeeOption == FeeCustom {
		raw, ok := spend.CustomNetworkFee[CustomFeeSatPerByte]
		if !ok {
			return 0, fmt.Errorf("%w: custom fee requires %s", ErrInvalidAmount, CustomFeeSatPerByte)
		}
		rate, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || rate == 0 {
			return 0, fmt.Errorf("%w: fee rate %q", ErrInvalidAmount, raw)
		}
		return rate, nil
	}

	schedule := cw.info.Defaults.FeeSchedule
	level := schedule.Standard
	switch spend.NetworkFeeOption {
	case FeeLow:
		level = schedule.Low
	case FeeHigh:
		level = schedule.High
	}

	if estimates, err := b.GetFeeEstimates(ctx); err == nil {
		var rate uint64
		switch spend.NetworkFeeOption {
		case FeeLow:
			rate = estimates.EconomyFee
		case FeeHigh:
			rate = estimates.FastestFee
		default:
			rate = estimates.HalfHourFee
		}
		if rate > 0 {
			return rate, nil
		}
	} else {
		cw.svc.log.Debug("Fee estimation failed, using schedule", "plugin", cw.info.PluginID, "error", err)
	}

	rate, err := strconv.ParseUint(level, 10, 64)
	if err != nil || rate == 0 {
		return 0, fmt.Errorf("%s has no %s fee", cw.info.PluginID, spend.NetworkFeeOption)
	}
	return rate, nil
}

func (cw *CurrencyWallet) dustThreshold() uint64 {
	if dust, ok := dustThresholds[cw.info.PluginID]; ok {
		return dust
	}
	return defaultDustThreshold
}

func (cw *CurrencyWallet) inputVSize() int {
	if cw.info.Keys.AddressType == currency.AddressP2WPKH {
		return p2wpkhInVSize
	}
	return p2pkhInVSize
}

// estimateVSize estimates the virtual size of a transaction with 2 vbytes
// of margin for rounding.
func estimateVSize(inputs, outputs, inputVSize int) uint64 {
	return uint64(txOverheadVSize + inputs*inputVSize + outputs*outputVSize + 2)
}

// selectUTXOs picks the largest UTXOs first until amount plus fee is covered.
// outputs includes the change output.
func selectUTXOs(utxos []backend.UTXO, amount, feeRate uint64, outputs, inputVSize int) ([]backend.UTXO, uint64, uint64, error) {
	sorted := make([]backend.UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	var selected []backend.UTXO
	var total, fee uint64
	for _, utxo := range sorted {
		selected = append(selected, utxo)
		total += utxo.Amount

		fee = estimateVSize(len(selected), outputs, inputVSize) * feeRate
		if total >= amount+fee {
			return selected, total, fee, nil
		}
	}

	if fee == 0 {
		fee = estimateVSize(1, outputs, inputVSize) * feeRate
	}
	return nil, 0, 0, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount+fee, total)
}

// signUTXOTx builds the transaction and signs every input with the key of
// the wallet address.
func signUTXOTx(privKey *btcec.PrivateKey, info *currency.CurrencyInfo, from string, unsigned *utxoUnsigned) (*wire.MsgTx, error) {
	senderAddr, err := DecodeAddress(info, from)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	senderScript, err := txscript.PayToAddrScript(senderAddr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for _, utxo := range unsigned.inputs {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %s: %w", utxo.TxID, err)
		}
		outpoint := wire.NewOutPoint(txHash, utxo.Vout)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2 // Enable RBF
		tx.AddTxIn(txIn)
		prevOuts[*outpoint] = wire.NewTxOut(int64(utxo.Amount), senderScript)
	}
	for _, out := range unsigned.outputs {
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	for i, utxo := range unsigned.inputs {
		switch senderAddr.(type) {
		case *btcutil.AddressWitnessPubKeyHash:
			witness, err := txscript.WitnessSignature(
				tx, sigHashes, i, int64(utxo.Amount), senderScript,
				txscript.SigHashAll, privKey, true,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to sign P2WPKH input %d: %w", i, err)
			}
			tx.TxIn[i].Witness = witness
		case *btcutil.AddressPubKeyHash:
			sig, err := txscript.SignatureScript(tx, i, senderScript, txscript.SigHashAll, privKey, true)
			if err != nil {
				return nil, fmt.Errorf("failed to sign P2PKH input %d: %w", i, err)
			}
			tx.TxIn[i].SignatureScript = sig
		default:
			return nil, fmt.Errorf("unsupported address type for input %d: %T", i, senderAddr)
		}
	}

	return tx, nil
}

func (cw *CurrencyWallet) broadcastUTXO(ctx context.Context, priv *btcec.PrivateKey, tx *Transaction, unsigned *utxoUnsigned) error {
	b, err := cw.svc.backends.UTXO(cw.info.PluginID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoBackend, err)
	}

	msgTx, err := signUTXOTx(priv, cw.info, cw.address, unsigned)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := msgTx.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize: %w", err)
	}
	raw := hex.EncodeToString(buf.Bytes())

	txid, err := b.BroadcastTransaction(ctx, raw)
	if err != nil {
		return err
	}
	if txid == "" {
		txid = msgTx.TxHash().String()
	}

	tx.TxID = txid
	tx.SignedTx = raw
	tx.Date = time.Now()
	return nil
}
