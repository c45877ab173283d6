package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for new seed files.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KiB
	argon2Parallelism = 4
	argon2KeyLen      = 32 // AES-256
	argon2SaltLen     = 32
)

const (
	seedFileVersion = 1
	seedKDF         = "argon2id"
)

// EncryptedSeed is the on-disk form of the account mnemonic.
type EncryptedSeed struct {
	Version     int    `json:"version"`
	KDF         string `json:"kdf,omitempty"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// seedCipher derives the AES-GCM cipher of a seed file from the password.
func (e *EncryptedSeed) seedCipher(password string) (cipher.AEAD, error) {
	if e.KDF != "" && e.KDF != seedKDF {
		return nil, fmt.Errorf("unsupported kdf %q", e.KDF)
	}

	t, memory, parallelism := e.Time, e.Memory, e.Parallelism
	if t == 0 {
		t = argon2Time
	}
	if memory == 0 {
		memory = argon2Memory
	}
	if parallelism == 0 {
		parallelism = argon2Parallelism
	}

	key := argon2.IDKey([]byte(password), e.Salt, t, memory, parallelism, argon2KeyLen)
	defer SecureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptMnemonic encrypts a mnemonic with a password.
func EncryptMnemonic(mnemonic, password string) (*EncryptedSeed, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := &EncryptedSeed{
		Version:     seedFileVersion,
		KDF:         seedKDF,
		Salt:        make([]byte, argon2SaltLen),
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}
	if _, err := rand.Read(seed.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := seed.seedCipher(password)
	if err != nil {
		return nil, err
	}

	seed.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(seed.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	seed.Ciphertext = gcm.Seal(nil, seed.Nonce, []byte(mnemonic), nil)
	return seed, nil
}

// DecryptMnemonic decrypts a seed file's mnemonic.
func DecryptMnemonic(encrypted *EncryptedSeed, password string) (string, error) {
	gcm, err := encrypted.seedCipher(password)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, encrypted.Nonce, encrypted.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt (wrong password?): %w", err)
	}
	defer SecureClear(plaintext)

	return string(plaintext), nil
}

// SaveEncryptedSeed writes a seed file with owner-only permissions. The file
// is replaced atomically.
func SaveEncryptedSeed(encrypted *EncryptedSeed, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(encrypted)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace seed file: %w", err)
	}
	return nil
}

// LoadEncryptedSeed reads a seed file.
func LoadEncryptedSeed(path string) (*EncryptedSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var encrypted EncryptedSeed
	if err := json.Unmarshal(data, &encrypted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	if encrypted.Version > seedFileVersion {
		return nil, fmt.Errorf("seed file version %d is newer than supported %d", encrypted.Version, seedFileVersion)
	}
	return &encrypted, nil
}

// SecureClear overwrites a byte slice with zeros.
func SecureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// Password limits
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// ValidatePassword requires at least 8 characters and 3 of 4 character classes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var classes [4]bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			classes[0] = true
		case unicode.IsLower(r):
			classes[1] = true
		case unicode.IsNumber(r):
			classes[2] = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			classes[3] = true
		}
	}

	n := 0
	for _, ok := range classes {
		if ok {
			n++
		}
	}
	if n < 3 {
		return fmt.Errorf("password must contain at least 3 of: uppercase, lowercase, number, special character")
	}
	return nil
}

// ValidateAccountIndex checks that a BIP44 account index can be hardened.
func ValidateAccountIndex(index uint32) error {
	const maxAccount = 1<<31 - 1
	if index > maxAccount {
		return fmt.Errorf("account index %d exceeds maximum %d", index, maxAccount)
	}
	return nil
}
