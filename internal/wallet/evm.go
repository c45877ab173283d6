package wallet

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ERC-20 function selectors.
var (
	erc20TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
)

// Gas limits used when estimation is not available.
const (
	DefaultGasLimit      = uint64(21000)
	DefaultERC20GasLimit = uint64(65000)
)

// PublicKeyToEVMAddress converts a secp256k1 public key to a checksummed EVM address.
func PublicKeyToEVMAddress(pubKey *btcec.PublicKey) string {
	return PublicKeyToCommonAddress(pubKey).Hex()
}

// PublicKeyToCommonAddress converts a secp256k1 public key to an EVM address.
func PublicKeyToCommonAddress(pubKey *btcec.PublicKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pubKey.SerializeUncompressed()[1:])[12:])
}

// ToECDSA converts a btcec private key to a go-ethereum signing key.
func ToECDSA(privKey *btcec.PrivateKey) (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(privKey.Serialize())
}

// EncodeERC20Transfer builds the call data of transfer(to, amount).
func EncodeERC20Transfer(to string, amount *big.Int) ([]byte, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid recipient address: %s", to)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("amount overflows uint256")
	}

	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20TransferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data, nil
}

// DecodeERC20Transfer extracts the recipient and amount from transfer call data.
func DecodeERC20Transfer(data []byte) (string, *big.Int, error) {
	if len(data) != 4+32+32 || !bytes.Equal(data[:4], erc20TransferSelector) {
		return "", nil, fmt.Errorf("not an ERC-20 transfer")
	}
	to := common.BytesToAddress(data[4:36])
	amount := new(big.Int).SetBytes(data[36:68])
	return to.Hex(), amount, nil
}

// EVMTxParams are parameters for building a legacy EVM transaction.
type EVMTxParams struct {
	Nonce    uint64
	To       string   // destination address
	Value    *big.Int // amount in wei
	Data     []byte   // contract data (nil for simple transfer)
	ChainID  uint64
	GasLimit uint64
	GasPrice *big.Int // in wei
}

// NewEVMTx builds an unsigned legacy transaction.
func NewEVMTx(params *EVMTxParams) (*types.Transaction, error) {
	if params == nil {
		return nil, fmt.Errorf("params required")
	}
	if !common.IsHexAddress(params.To) {
		return nil, fmt.Errorf("invalid destination address: %s", params.To)
	}
	if params.GasPrice == nil {
		return nil, fmt.Errorf("gas price required")
	}

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		if len(params.Data) > 0 {
			gasLimit = DefaultERC20GasLimit
		} else {
			gasLimit = DefaultGasLimit
		}
	}

	value := params.Value
	if value == nil {
		value = new(big.Int)
	}

	to := common.HexToAddress(params.To)
	return types.NewTx(&types.LegacyTx{
		Nonce:    params.Nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: params.GasPrice,
		Data:     params.Data,
	}), nil
}

// SignEVMTx signs a transaction with EIP-155 replay protection and returns
// the signed transaction and its raw 0x-prefixed encoding.
func SignEVMTx(privKey *btcec.PrivateKey, tx *types.Transaction, chainID uint64) (*types.Transaction, string, error) {
	key, err := ToECDSA(privKey)
	if err != nil {
		return nil, "", fmt.Errorf("invalid private key: %w", err)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return signed, hexutil.Encode(raw), nil
}

// PersonalSign signs a message with Ethereum's personal_sign format and
// returns the 0x-prefixed r || s || v signature with v in {27, 28}.
func PersonalSign(privKey *btcec.PrivateKey, message []byte) (string, error) {
	key, err := ToECDSA(privKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverPersonalSign returns the address that produced a personal_sign signature.
func RecoverPersonalSign(message []byte, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// normalizeEVMAddress returns the checksummed form of an address.
func normalizeEVMAddress(address string) string {
	return common.HexToAddress(address).Hex()
}
