package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/walletbridge/internal/backend"
	"github.com/klingon-exchange/walletbridge/internal/currency"
)

var gweiInWei = big.NewInt(1_000_000_000)

// evmUnsigned is the call a spend will sign: a value transfer, or a token
// transfer to the contract.
type evmUnsigned struct {
	to       common.Address
	value    *big.Int
	data     []byte
	gasLimit uint64
	gasPrice *big.Int
}

func (cw *CurrencyWallet) makeEVMSpend(ctx context.Context, spend SpendInfo) (*Transaction, error) {
	if len(spend.SpendTargets) > 1 {
		return nil, fmt.Errorf("%s: multiple spend targets: %w", cw.info.PluginID, ErrUnsupported)
	}
	target := spend.SpendTargets[0]
	amount, _ := new(big.Int).SetString(target.NativeAmount, 10)

	tokenID, token, err := cw.resolveToken(spend)
	if err != nil {
		return nil, err
	}

	// Backend is optional until broadcast
	evm, _ := cw.svc.backends.EVM(cw.info.PluginID)

	call := &evmUnsigned{value: new(big.Int)}
	currencyCode := cw.info.CurrencyCode
	if token == nil {
		call.to = common.HexToAddress(target.PublicAddress)
		call.value.Set(amount)
	} else {
		call.to = common.HexToAddress(token.ContractAddress)
		call.data, err = EncodeERC20Transfer(target.PublicAddress, amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		currencyCode = token.CurrencyCode
	}

	call.gasPrice, err = cw.evmGasPrice(ctx, evm, spend)
	if err != nil {
		return nil, err
	}
	call.gasLimit, err = cw.evmGasLimit(ctx, evm, spend, call)
	if err != nil {
		return nil, err
	}

	fee := new(big.Int).Mul(call.gasPrice, new(big.Int).SetUint64(call.gasLimit))

	if evm != nil {
		if err := cw.checkEVMFunds(ctx, evm, token, amount, fee); err != nil {
			return nil, err
		}
	}

	// Native sends include the fee in the amount leaving the wallet
	total := new(big.Int).Set(amount)
	if token == nil {
		total.Add(total, fee)
	}

	return &Transaction{
		PluginID:     cw.info.PluginID,
		TokenID:      tokenID,
		CurrencyCode: currencyCode,
		NativeAmount: new(big.Int).Neg(total).String(),
		NetworkFee:   fee.String(),
		SpendTargets: []SpendTarget{{
			PublicAddress:    normalizeEVMAddress(target.PublicAddress),
			NativeAmount:     amount.String(),
			UniqueIdentifier: target.UniqueIdentifier,
		}},
		FromAddress: cw.address,
		Date:        time.Now(),
		Metadata:    spend.Metadata,
		OrderID:     spend.OrderID,
		unsigned:    call,
	}, nil
}

// evmGasPrice picks the gas price in wei for the requested fee level.
func (cw *CurrencyWallet) evmGasPrice(ctx context.Context, evm backend.EVMBackend, spend SpendInfo) (*big.Int, error) {
	schedule := cw.info.Defaults.FeeSchedule

	var level string
	switch spend.NetworkFeeOption {
	case FeeLow:
		level = schedule.Low
	case FeeHigh:
		level = schedule.High
	case FeeCustom:
		gwei, ok := spend.CustomNetworkFee[CustomFeeGasPrice]
		if !ok {
			return nil, fmt.Errorf("%w: custom fee requires %s", ErrInvalidAmount, CustomFeeGasPrice)
		}
		f, err := strconv.ParseFloat(gwei, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("%w: gas price %q", ErrInvalidAmount, gwei)
		}
		wei, _ := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(gweiInWei)).Int(nil)
		return wei, nil
	default:
		if evm != nil {
			if price, err := evm.SuggestGasPrice(ctx); err == nil && price.Sign() > 0 {
				return price, nil
			}
		}
		level = schedule.Standard
	}

	price, ok := new(big.Int).SetString(level, 10)
	if !ok {
		return nil, fmt.Errorf("%s has no %s fee", cw.info.PluginID, spend.NetworkFeeOption)
	}
	return price, nil
}

// evmGasLimit uses a custom limit, then node estimation, then the schedule.
func (cw *CurrencyWallet) evmGasLimit(ctx context.Context, evm backend.EVMBackend, spend SpendInfo, call *evmUnsigned) (uint64, error) {
	if spend.NetworkFeeOption == FeeCustom {
		if limit, ok := spend.CustomNetworkFee[CustomFeeGasLimit]; ok {
			n, err := strconv.ParseUint(limit, 10, 64)
			if err != nil || n == 0 {
				return 0, fmt.Errorf("%w: gas limit %q", ErrInvalidAmount, limit)
			}
			return n, nil
		}
	}

	if evm != nil {
		to := call.to
		estimate, err := evm.EstimateGas(ctx, ethereum.CallMsg{
			From:  common.HexToAddress(cw.address),
			To:    &to,
			Value: call.value,
			Data:  call.data,
		})
		if err == nil && estimate > 0 {
			return estimate, nil
		}
		cw.svc.log.Debug("Gas estimation failed, using default", "plugin", cw.info.PluginID, "error", err)
	}

	schedule := cw.info.Defaults.FeeSchedule
	if len(call.data) > 0 {
		if schedule.TokenGasLimit > 0 {
			return schedule.TokenGasLimit, nil
		}
		return DefaultERC20GasLimit, nil
	}
	if schedule.GasLimit > 0 {
		return schedule.GasLimit, nil
	}
	return DefaultGasLimit, nil
}

func (cw *CurrencyWallet) checkEVMFunds(ctx context.Context, evm backend.EVMBackend, token *currency.Token, amount, fee *big.Int) error {
	native, err := evm.GetBalance(ctx, cw.address)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}

	if token == nil {
		need := new(big.Int).Add(amount, fee)
		if native.Cmp(need) < 0 {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, need, native)
		}
		return nil
	}

	if native.Cmp(fee) < 0 {
		return fmt.Errorf("%w: need %s for fees, have %s", ErrInsufficientFunds, fee, native)
	}
	balance, err := evm.TokenBalance(ctx, common.HexToAddress(token.ContractAddress), common.HexToAddress(cw.address))
	if err != nil {
		return fmt.Errorf("failed to get token balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientFunds, amount, token.CurrencyCode, balance)
	}
	return nil
}

func (cw *CurrencyWallet) broadcastEVM(ctx context.Context, priv *btcec.PrivateKey, tx *Transaction, call *evmUnsigned) error {
	evm, err := cw.svc.backends.EVM(cw.info.PluginID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoBackend, err)
	}

	nonce, err := evm.PendingNonceAt(ctx, common.HexToAddress(cw.address))
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	unsigned, err := NewEVMTx(&EVMTxParams{
		Nonce:    nonce,
		To:       call.to.Hex(),
		Value:    call.value,
		Data:     call.data,
		ChainID:  cw.info.Defaults.ChainID,
		GasLimit: call.gasLimit,
		GasPrice: call.gasPrice,
	})
	if err != nil {
		return err
	}

	signed, raw, err := SignEVMTx(priv, unsigned, cw.info.Defaults.ChainID)
	if err != nil {
		return err
	}

	if err := evm.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrBroadcastFailed, err)
	}

	tx.TxID = signed.Hash().Hex()
	tx.SignedTx = raw
	tx.Date = time.Now()
	return nil
}
