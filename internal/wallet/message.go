package wallet

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/klingon-exchange/walletbridge/internal/currency"
)

// Signed message magic per plugin. Chains not listed use Bitcoin's.
var messageMagic = map[string]string{
	"litecoin": "Litecoin Signed Message:\n",
	"dogecoin": "Dogecoin Signed Message:\n",
}

const bitcoinMessageMagic = "Bitcoin Signed Message:\n"

// messageHash is the double SHA-256 of the varstring-encoded magic and message.
func messageHash(pluginID string, message []byte) ([]byte, error) {
	magic, ok := messageMagic[pluginID]
	if !ok {
		magic = bitcoinMessageMagic
	}

	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, magic); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, message); err != nil {
		return nil, err
	}
	return chainhash.DoubleHashB(buf.Bytes()), nil
}

// SignBitcoinMessage produces a base64 compact signature over message, the
// format of Bitcoin Core's signmessage.
func SignBitcoinMessage(privKey *btcec.PrivateKey, pluginID string, message []byte) (string, error) {
	hash, err := messageHash(pluginID, message)
	if err != nil {
		return "", err
	}
	sig := btcecdsa.SignCompact(privKey, hash, true)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyBitcoinMessage checks a signmessage signature against a P2PKH or
// P2WPKH address.
func VerifyBitcoinMessage(info *currency.CurrencyInfo, address string, message []byte, signature string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}

	hash, err := messageHash(info.PluginID, message)
	if err != nil {
		return false, err
	}

	pubKey, compressed, err := ecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	decoded, err := DecodeAddress(info, address)
	if err != nil {
		return false, err
	}

	var serialized []byte
	if compressed {
		serialized = pubKey.SerializeCompressed()
	} else {
		serialized = pubKey.SerializeUncompressed()
	}
	pubKeyHash := btcutil.Hash160(serialized)

	switch addr := decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		return bytes.Equal(addr.Hash160()[:], pubKeyHash), nil
	case *btcutil.AddressWitnessPubKeyHash:
		return compressed && bytes.Equal(addr.WitnessProgram(), pubKeyHash), nil
	default:
		return false, fmt.Errorf("unsupported address type %T", decoded)
	}
}

// SignMessage signs a message with the key behind a plugin's address: EVM
// chains use personal_sign, UTXO chains the signmessage format.
func SignMessage(privKey *btcec.PrivateKey, info *currency.CurrencyInfo, message []byte) (string, error) {
	switch info.ChainType {
	case currency.ChainTypeEVM:
		return PersonalSign(privKey, message)
	case currency.ChainTypeUTXO:
		return SignBitcoinMessage(privKey, info.PluginID, message)
	default:
		return "", fmt.Errorf("%s: %w", info.PluginID, ErrUnsupported)
	}
}

// VerifyMessage checks a signature produced by SignMessage.
func VerifyMessage(info *currency.CurrencyInfo, address string, message []byte, signature string) (bool, error) {
	switch info.ChainType {
	case currency.ChainTypeEVM:
		signer, err := RecoverPersonalSign(message, signature)
		if err != nil {
			return false, err
		}
		return signer == normalizeEVMAddress(address), nil
	case currency.ChainTypeUTXO:
		return VerifyBitcoinMessage(info, address, message, signature)
	default:
		return false, fmt.Errorf("%s: %w", info.PluginID, ErrUnsupported)
	}
}
