package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/walletbridge/internal/currency"
)

// ChainParams builds the btcd network parameters a UTXO plugin encodes its
// addresses with. Only the address fields are meaningful.
func ChainParams(info *currency.CurrencyInfo) *chaincfg.Params {
	if info.PluginID == "bitcoin" {
		return &chaincfg.MainNetParams
	}

	params := chaincfg.MainNetParams
	params.Name = info.PluginID
	params.PubKeyHashAddrID = info.Keys.PubKeyHashAddrID
	params.ScriptHashAddrID = info.Keys.ScriptHashAddrID
	params.Bech32HRPSegwit = info.Keys.Bech32HRP
	return &params
}

// EncodeAddress encodes a public key as an address of the given type.
func EncodeAddress(pubKey *btcec.PublicKey, addrType currency.AddressType, params *chaincfg.Params) (string, error) {
	switch addrType {
	case currency.AddressP2PKH:
		return deriveP2PKH(pubKey, params)
	case currency.AddressP2WPKH:
		return deriveP2WPKH(pubKey, params)
	case currency.AddressEVM:
		return PublicKeyToEVMAddress(pubKey), nil
	default:
		return "", fmt.Errorf("unsupported address type %q", addrType)
	}
}

// deriveP2PKH derives a legacy P2PKH address (1... for BTC, D... for DOGE, etc.)
func deriveP2PKH(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2PKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// deriveP2WPKH derives a native SegWit address (bc1q... for BTC, ltc1q... for LTC)
func deriveP2WPKH(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2WPKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// DecodeAddress decodes an address for a UTXO plugin and checks that it
// belongs to the plugin's network.
func DecodeAddress(info *currency.CurrencyInfo, address string) (btcutil.Address, error) {
	params := ChainParams(info)

	var decoded btcutil.Address
	var err error
	if hrp := params.Bech32HRPSegwit; hrp != "" && !chaincfg.IsBech32SegwitPrefix(hrp+"1") &&
		strings.HasPrefix(strings.ToLower(address), hrp+"1") {
		// btcutil only recognizes bech32 prefixes of registered networks.
		decoded, err = decodeWitnessAddress(address, params)
	} else {
		decoded, err = btcutil.DecodeAddress(address, params)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("address %s is not a %s address", address, info.PluginID)
	}
	return decoded, nil
}

// decodeWitnessAddress decodes a version 0 segwit address of a network that
// is not registered with chaincfg.
func decodeWitnessAddress(address string, params *chaincfg.Params) (btcutil.Address, error) {
	hrp, data, version, err := bech32.DecodeGeneric(address)
	if err != nil {
		return nil, err
	}
	if hrp != params.Bech32HRPSegwit {
		return nil, fmt.Errorf("unexpected prefix %q", hrp)
	}
	if len(data) < 1 || data[0] != 0 || version != bech32.Version0 {
		return nil, fmt.Errorf("unsupported witness version")
	}

	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, err
	}

	switch len(program) {
	case 20:
		return btcutil.NewAddressWitnessPubKeyHash(program, params)
	case 32:
		return btcutil.NewAddressWitnessScriptHash(program, params)
	default:
		return nil, fmt.Errorf("invalid witness program length %d", len(program))
	}
}

// PayToAddrScript returns the output script paying to a UTXO address.
func PayToAddrScript(info *currency.CurrencyInfo, address string) ([]byte, error) {
	decoded, err := DecodeAddress(info, address)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}

// ValidateAddress checks if an address is valid for a plugin.
func ValidateAddress(info *currency.CurrencyInfo, address string) bool {
	switch info.ChainType {
	case currency.ChainTypeEVM:
		return ValidateEVMAddress(address)
	case currency.ChainTypeUTXO:
		_, err := DecodeAddress(info, address)
		return err == nil
	default:
		return false
	}
}

// ValidateEVMAddress checks if an EVM address is valid. Mixed-case addresses
// must carry a correct EIP-55 checksum.
func ValidateEVMAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	hexPart := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return true
	}
	return common.HexToAddress(address).Hex() == "0x"+hexPart
}
