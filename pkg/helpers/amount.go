// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// MultiplierDecimals returns the number of decimal places a denomination
// multiplier represents. The multiplier must be a power of ten ("1", "100",
// "100000000", ...).
func MultiplierDecimals(multiplier string) (uint8, error) {
	if multiplier == "" || multiplier[0] != '1' {
		return 0, fmt.Errorf("invalid multiplier: %q", multiplier)
	}
	zeros := multiplier[1:]
	if strings.Trim(zeros, "0") != "" {
		return 0, fmt.Errorf("multiplier is not a power of ten: %q", multiplier)
	}
	if len(zeros) > 255 {
		return 0, fmt.Errorf("multiplier too large: %q", multiplier)
	}
	return uint8(len(zeros)), nil
}

// FormatAmount formats an amount in smallest units as a decimal string.
// For example, FormatAmount("100000000", 8) returns "1".
func FormatAmount(native string, decimals uint8) (string, error) {
	amount, ok := new(big.Int).SetString(native, 10)
	if !ok {
		return "", fmt.Errorf("invalid native amount: %q", native)
	}
	return FormatBigAmount(amount, decimals), nil
}

// FormatBigAmount is FormatAmount for a big.Int.
func FormatBigAmount(amount *big.Int, decimals uint8) string {
	if decimals == 0 {
		return amount.String()
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole, frac := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	sign := ""
	if neg {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := frac.String()
	if len(fracStr) < int(decimals) {
		fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")

	return fmt.Sprintf("%s%s.%s", sign, whole.String(), fracStr)
}

// ParseAmount parses a decimal string to smallest units.
// For example, ParseAmount("1", 8) returns 100000000 (1 BTC in satoshis).
// Digits past the precision of the denomination are truncated.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}

	for _, c := range wholeStr + fracStr {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid character in amount: %c", c)
		}
	}

	if len(fracStr) < int(decimals) {
		fracStr += strings.Repeat("0", int(decimals)-len(fracStr))
	}
	if len(fracStr) > int(decimals) {
		fracStr = fracStr[:decimals]
	}

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return amount, nil
}

// NativeToDenomination converts a native amount string into the display
// denomination described by multiplier.
func NativeToDenomination(native, multiplier string) (string, error) {
	decimals, err := MultiplierDecimals(multiplier)
	if err != nil {
		return "", err
	}
	return FormatAmount(native, decimals)
}

// DenominationToNative converts a display amount into native units.
func DenominationToNative(amount, multiplier string) (string, error) {
	decimals, err := MultiplierDecimals(multiplier)
	if err != nil {
		return "", err
	}
	native, err := ParseAmount(amount, decimals)
	if err != nil {
		return "", err
	}
	return native.String(), nil
}

// ParseNative parses a non-negative base-10 native amount.
func ParseNative(native string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(native, 10)
	if !ok {
		return nil, fmt.Errorf("invalid native amount: %q", native)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative native amount: %q", native)
	}
	return n, nil
}
