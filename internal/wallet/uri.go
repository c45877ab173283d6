package wallet

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/pkg/helpers"
)

// ParseURI parses a payment request for a plugin: a BIP21 URI on UTXO chains,
// an EIP-681 URI on EVM chains, or a bare address.
func ParseURI(info *currency.CurrencyInfo, uri string) (*ParsedURI, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURI)
	}

	scheme, rest, hasScheme := strings.Cut(uri, ":")
	if !hasScheme || (info.IsEVM() && strings.HasPrefix(strings.ToLower(uri), "0x")) {
		if !ValidateAddress(info, uri) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, uri)
		}
		return &ParsedURI{PublicAddress: canonicalAddress(info, uri)}, nil
	}

	scheme = strings.ToLower(scheme)
	switch info.ChainType {
	case currency.ChainTypeEVM:
		if scheme != info.URIScheme && scheme != "ethereum" {
			return nil, fmt.Errorf("%w: scheme %q is not %s", ErrInvalidURI, scheme, info.URIScheme)
		}
		return parseEIP681(info, rest)
	case currency.ChainTypeUTXO:
		if scheme != info.URIScheme {
			return nil, fmt.Errorf("%w: scheme %q is not %s", ErrInvalidURI, scheme, info.URIScheme)
		}
		return parseBIP21(info, rest)
	default:
		return nil, fmt.Errorf("%s: %w", info.PluginID, ErrUnsupported)
	}
}

func canonicalAddress(info *currency.CurrencyInfo, address string) string {
	if info.IsEVM() {
		return normalizeEVMAddress(address)
	}
	return address
}

// parseBIP21 parses address[?amount=&label=&message=]. The amount is in the
// display denomination.
func parseBIP21(info *currency.CurrencyInfo, rest string) (*ParsedURI, error) {
	rest = strings.TrimPrefix(rest, "//")
	address, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	if !ValidateAddress(info, address) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}

	parsed := &ParsedURI{
		PublicAddress: address,
		CurrencyCode:  info.CurrencyCode,
	}

	if amount := query.Get("amount"); amount != "" {
		native, err := helpers.DenominationToNative(amount, info.DisplayDenomination().Multiplier)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		parsed.NativeAmount = native
	}

	label, message := query.Get("label"), query.Get("message")
	if label != "" || message != "" {
		parsed.Metadata = &Metadata{Name: label, Notes: message}
	}

	return parsed, nil
}

// parseEIP681 parses target[@chainId][/function]?params.
func parseEIP681(info *currency.CurrencyInfo, rest string) (*ParsedURI, error) {
	rest = strings.TrimPrefix(rest, "pay-")
	path, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	target, function, _ := strings.Cut(path, "/")
	target, chainPart, hasChain := strings.Cut(target, "@")

	parsed := &ParsedURI{CurrencyCode: info.CurrencyCode}

	if hasChain {
		chainID, err := strconv.ParseUint(chainPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: chain id %q", ErrInvalidURI, chainPart)
		}
		if chainID != info.Defaults.ChainID {
			return nil, fmt.Errorf("%w: chain id %d is not %s", ErrInvalidURI, chainID, info.PluginID)
		}
		parsed.ChainID = chainID
	}

	if !ValidateEVMAddress(target) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, target)
	}

	switch function {
	case "":
		parsed.PublicAddress = normalizeEVMAddress(target)
		if value := query.Get("value"); value != "" {
			amount, err := ParseUint256(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
			}
			parsed.NativeAmount = amount.Dec()
		} else if amount := query.Get("amount"); amount != "" {
			native, err := helpers.DenominationToNative(amount, info.DisplayDenomination().Multiplier)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
			}
			parsed.NativeAmount = native
		}

	case "transfer":
		tokenID := currency.NormalizeTokenID(target)
		token, ok := info.Token(tokenID)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrTokenNotFound, target, info.PluginID)
		}
		parsed.TokenID = tokenID
		parsed.CurrencyCode = token.CurrencyCode

		recipient := query.Get("address")
		if !ValidateEVMAddress(recipient) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, recipient)
		}
		parsed.PublicAddress = normalizeEVMAddress(recipient)

		if value := query.Get("uint256"); value != "" {
			amount, err := ParseUint256(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
			}
			parsed.NativeAmount = amount.Dec()
		}

	default:
		return nil, fmt.Errorf("%w: unsupported function %q", ErrInvalidURI, function)
	}

	if label := query.Get("label"); label != "" {
		parsed.Metadata = &Metadata{Name: label}
	}

	return parsed, nil
}

// ParseUint256 parses an EIP-681 number: a decimal integer, optionally in
// scientific notation ("2.014e18").
func ParseUint256(s string) (*uint256.Int, error) {
	mantissa, expPart, hasExp := strings.Cut(strings.ToLower(s), "e")
	if !hasExp {
		return uint256.FromDecimal(s)
	}

	exp, err := strconv.Atoi(strings.TrimPrefix(expPart, "+"))
	if err != nil || exp < 0 {
		return nil, fmt.Errorf("invalid exponent in %q", s)
	}

	whole, frac, _ := strings.Cut(mantissa, ".")
	frac = strings.TrimRight(frac, "0")
	if len(frac) > exp {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	exp -= len(frac)
	if exp > 77 {
		return nil, fmt.Errorf("%q overflows uint256", s)
	}

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	n, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, err
	}

	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp)))
	out, overflow := new(uint256.Int).MulOverflow(n, scale)
	if overflow {
		return nil, fmt.Errorf("%q overflows uint256", s)
	}
	return out, nil
}

// EncodeURI builds a payment URI for a receive address.
func EncodeURI(info *currency.CurrencyInfo, address string, nativeAmount string) (string, error) {
	if nativeAmount == "" {
		return info.URIScheme + ":" + address, nil
	}

	if info.IsEVM() {
		u := fmt.Sprintf("%s:%s", "ethereum", address)
		if info.Defaults.ChainID != 0 && info.Defaults.ChainID != 1 {
			u += "@" + strconv.FormatUint(info.Defaults.ChainID, 10)
		}
		return u + "?value=" + nativeAmount, nil
	}

	amount, err := helpers.NativeToDenomination(nativeAmount, info.DisplayDenomination().Multiplier)
	if err != nil {
		return "", err
	}
	return info.URIScheme + ":" + address + "?amount=" + amount, nil
}
