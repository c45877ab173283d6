package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/walletbridge/internal/currency"
)

// CurrencyWallet is the wallet of one currency plugin inside the account.
// Receive and change both use the first address of the account.
type CurrencyWallet struct {
	svc  *Service
	info *currency.CurrencyInfo

	id      string
	name    string
	address string
	legacy  string // P2PKH form of a segwit address
}

func newCurrencyWallet(svc *Service, w *Wallet, info *currency.CurrencyInfo) (*CurrencyWallet, error) {
	pub, err := w.DerivePublicKey(info, svc.account, 0)
	if err != nil {
		return nil, err
	}

	var address, legacy string
	if info.IsEVM() {
		address = PublicKeyToEVMAddress(pub)
	} else {
		params := ChainParams(info)
		address, err = EncodeAddress(pub, info.Keys.AddressType, params)
		if err != nil {
			return nil, err
		}
		if info.Keys.AddressType == currency.AddressP2WPKH {
			legacy, err = EncodeAddress(pub, currency.AddressP2PKH, params)
			if err != nil {
				return nil, err
			}
		}
	}

	return &CurrencyWallet{
		svc:     svc,
		info:    info,
		id:      walletID(info.PluginID, address),
		name:    "My " + info.DisplayName,
		address: address,
		legacy:  legacy,
	}, nil
}

// ID returns the stable wallet id.
func (cw *CurrencyWallet) ID() string { return cw.id }

// Name returns the wallet's display name.
func (cw *CurrencyWallet) Name() string { return cw.name }

// PluginID returns the currency plugin id.
func (cw *CurrencyWallet) PluginID() string { return cw.info.PluginID }

// CurrencyInfo returns the plugin's descriptor.
func (cw *CurrencyWallet) CurrencyInfo() *currency.CurrencyInfo { return cw.info }

// Address returns the wallet's primary address.
func (cw *CurrencyWallet) Address() string { return cw.address }

// EnabledTokenIDs returns the tokens this wallet tracks: every token the
// plugin knows.
func (cw *CurrencyWallet) EnabledTokenIDs() []string {
	return cw.info.TokenIDs()
}

// ReceiveAddress returns the address to receive funds into, echoing the
// requested amount and metadata.
func (cw *CurrencyWallet) ReceiveAddress(ctx context.Context, opts ReceiveOptions) (*ReceiveAddress, error) {
	if opts.TokenID != "" {
		if _, ok := cw.info.Token(opts.TokenID); !ok {
			return nil, fmt.Errorf("%s on %s: %w", opts.TokenID, cw.info.PluginID, ErrTokenNotFound)
		}
	}
	if opts.NativeAmount != "" {
		if _, ok := new(big.Int).SetString(opts.NativeAmount, 10); !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, opts.NativeAmount)
		}
	}

	return &ReceiveAddress{
		PublicAddress: cw.address,
		LegacyAddress: cw.legacy,
		NativeAmount:  opts.NativeAmount,
		Metadata:      opts.Metadata,
	}, nil
}

// Balance returns the balance of the native currency or a token in base units.
func (cw *CurrencyWallet) Balance(ctx context.Context, tokenID string) (*big.Int, error) {
	if tokenID == "" {
		b, ok := cw.svc.backends.Get(cw.info.PluginID)
		if !ok {
			return nil, fmt.Errorf("%s: %w", cw.info.PluginID, ErrNoBackend)
		}
		return b.GetBalance(ctx, cw.address)
	}

	token, ok := cw.info.Token(tokenID)
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", tokenID, cw.info.PluginID, ErrTokenNotFound)
	}
	evm, err := cw.svc.backends.EVM(cw.info.PluginID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}
	return evm.TokenBalance(ctx, common.HexToAddress(token.ContractAddress), common.HexToAddress(cw.address))
}

// ParseURI parses a payment URI or bare address for this wallet's chain.
func (cw *CurrencyWallet) ParseURI(uri string) (*ParsedURI, error) {
	return ParseURI(cw.info, uri)
}

// EncodeURI builds a payment URI to this wallet's address.
func (cw *CurrencyWallet) EncodeURI(nativeAmount string) (string, error) {
	return EncodeURI(cw.info, cw.address, nativeAmount)
}

// MakeSpend builds an unsigned transaction. Fees are estimated and balances
// checked where a backend is available.
func (cw *CurrencyWallet) MakeSpend(ctx context.Context, spend SpendInfo) (*Transaction, error) {
	if len(spend.SpendTargets) == 0 {
		return nil, ErrNoSpendTargets
	}
	for _, target := range spend.SpendTargets {
		if !ValidateAddress(cw.info, target.PublicAddress) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, target.PublicAddress)
		}
		amount, ok := new(big.Int).SetString(target.NativeAmount, 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, target.NativeAmount)
		}
	}

	switch cw.info.ChainType {
	case currency.ChainTypeEVM:
		return cw.makeEVMSpend(ctx, spend)
	case currency.ChainTypeUTXO:
		return cw.makeUTXOSpend(ctx, spend)
	default:
		return nil, fmt.Errorf("%s: %w", cw.info.PluginID, ErrUnsupported)
	}
}

// SignAndBroadcast signs a transaction from MakeSpend and sends it to the
// network. The transaction is updated in place with its id and raw form.
func (cw *CurrencyWallet) SignAndBroadcast(ctx context.Context, tx *Transaction) (*Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if tx.Signed() {
		return nil, ErrAlreadySent
	}
	if tx.PluginID != cw.info.PluginID {
		return nil, fmt.Errorf("transaction for %s cannot be signed by %s wallet", tx.PluginID, cw.info.PluginID)
	}

	priv, err := cw.privateKey()
	if err != nil {
		return nil, err
	}

	switch unsigned := tx.unsigned.(type) {
	case *evmUnsigned:
		err = cw.broadcastEVM(ctx, priv, tx, unsigned)
	case *utxoUnsigned:
		err = cw.broadcastUTXO(ctx, priv, tx, unsigned)
	default:
		return nil, fmt.Errorf("transaction was not built by this wallet")
	}
	if err != nil {
		return nil, err
	}

	cw.svc.log.Info("Transaction broadcast", "plugin", cw.info.PluginID, "txid", tx.TxID, "amount", tx.NativeAmount)
	return tx, nil
}

// SignMessage signs a message with the wallet's address key.
func (cw *CurrencyWallet) SignMessage(message string) (string, error) {
	priv, err := cw.privateKey()
	if err != nil {
		return "", err
	}
	return SignMessage(priv, cw.info, []byte(message))
}

// VerifyMessage checks a signature from SignMessage against this wallet's address.
func (cw *CurrencyWallet) VerifyMessage(message, signature string) (bool, error) {
	return VerifyMessage(cw.info, cw.address, []byte(message), signature)
}

func (cw *CurrencyWallet) privateKey() (*btcec.PrivateKey, error) {
	w, err := cw.svc.keyWallet()
	if err != nil {
		return nil, err
	}
	return w.DerivePrivateKey(cw.info, cw.svc.account, 0)
}

// resolveToken maps the spend's token id or currency code to a token id. An
// empty id is the native currency.
func (cw *CurrencyWallet) resolveToken(spend SpendInfo) (string, *currency.Token, error) {
	if spend.TokenID != "" {
		token, ok := cw.info.Token(spend.TokenID)
		if !ok {
			return "", nil, fmt.Errorf("%s on %s: %w", spend.TokenID, cw.info.PluginID, ErrTokenNotFound)
		}
		return currency.NormalizeTokenID(spend.TokenID), token, nil
	}
	if spend.CurrencyCode == "" || spend.CurrencyCode == cw.info.CurrencyCode {
		return "", nil, nil
	}
	tokenID, token, ok := cw.info.TokenByCode(spend.CurrencyCode)
	if !ok {
		return "", nil, fmt.Errorf("%s on %s: %w", spend.CurrencyCode, cw.info.PluginID, ErrTokenNotFound)
	}
	return tokenID, token, nil
}
