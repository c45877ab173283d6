package wallet

import (
	"errors"
	"testing"
)

func TestParseURIBitcoin(t *testing.T) {
	btc := mustInfo(t, "bitcoin")

	parsed, err := ParseURI(btc, "bitcoin:"+testBTCAddress+"?amount=0.001&label=Shop&message=Order%2042")
	if err != nil {
		t.Fatalf("ParseURI() error = %v", err)
	}
	if parsed.PublicAddress != testBTCAddress {
		t.Errorf("address = %s", parsed.PublicAddress)
	}
	if parsed.NativeAmount != "100000" {
		t.Errorf("native amount = %s, want 100000", parsed.NativeAmount)
	}
	if parsed.CurrencyCode != "BTC" {
		t.Errorf("currency code = %s", parsed.CurrencyCode)
	}
	if parsed.Metadata == nil || parsed.Metadata.Name != "Shop" || parsed.Metadata.Notes != "Order 42" {
		t.Errorf("metadata = %+v", parsed.Metadata)
	}
}

func TestParseURIBareAddress(t *testing.T) {
	btc := mustInfo(t, "bitcoin")
	eth := mustInfo(t, "ethereum")

	parsed, err := ParseURI(btc, testBTCAddress)
	if err != nil || parsed.PublicAddress != testBTCAddress {
		t.Errorf("ParseURI(bare btc) = %+v, %v", parsed, err)
	}

	parsed, err = ParseURI(eth, "0x9858effd232b4033e47d90003d41ec34ecaeda94")
	if err != nil {
		t.Fatalf("ParseURI(bare eth) error = %v", err)
	}
	if parsed.PublicAddress != testETHAddress {
		t.Errorf("address not checksummed: %s", parsed.PublicAddress)
	}

	if _, err := ParseURI(btc, "nonsense"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ParseURI(nonsense) error = %v", err)
	}
	if _, err := ParseURI(btc, "  "); !errors.Is(err, ErrInvalidURI) {
		t.Errorf("ParseURI(empty) error = %v", err)
	}
}

func TestParseURIEthereum(t *testing.T) {
	eth := mustInfo(t, "ethereum")

	tests := []struct {
		name   string
		uri    string
		amount string
	}{
		{"value", "ethereum:" + testETHAddress + "?value=2.014e18", "2014000000000000000"},
		{"chain id", "ethereum:" + testETHAddress + "@1?value=1000", "1000"},
		{"pay prefix", "ethereum:pay-" + testETHAddress + "?value=1", "1"},
		{"display amount", "ethereum:" + testETHAddress + "?amount=0.5", "500000000000000000"},
		{"no amount", "ethereum:" + testETHAddress, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseURI(eth, tc.uri)
			if err != nil {
				t.Fatalf("ParseURI() error = %v", err)
			}
			if parsed.PublicAddress != testETHAddress {
				t.Errorf("address = %s", parsed.PublicAddress)
			}
			if parsed.NativeAmount != tc.amount {
				t.Errorf("amount = %s, want %s", parsed.NativeAmount, tc.amount)
			}
		})
	}
}

func TestParseURITokenTransfer(t *testing.T) {
	eth := mustInfo(t, "ethereum")

	uri := "ethereum:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48/transfer?address=" + testETHAddress + "&uint256=2.5e6"
	parsed, err := ParseURI(eth, uri)
	if err != nil {
		t.Fatalf("ParseURI() error = %v", err)
	}
	if parsed.TokenID != usdcID || parsed.CurrencyCode != "USDC" {
		t.Errorf("token = %s/%s", parsed.TokenID, parsed.CurrencyCode)
	}
	if parsed.PublicAddress != testETHAddress {
		t.Errorf("recipient = %s", parsed.PublicAddress)
	}
	if parsed.NativeAmount != "2500000" {
		t.Errorf("amount = %s", parsed.NativeAmount)
	}

	unknown := "ethereum:0x000000000000000000000000000000000000dEaD/transfer?address=" + testETHAddress
	if _, err := ParseURI(eth, unknown); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("unknown token error = %v", err)
	}
}

func TestParseURIErrors(t *testing.T) {
	btc := mustInfo(t, "bitcoin")
	eth := mustInfo(t, "ethereum")

	tests := []struct {
		name string
		info string
		uri  string
		want error
	}{
		{"wrong scheme", "bitcoin", "litecoin:" + testBTCAddress, ErrInvalidURI},
		{"bad btc amount", "bitcoin", "bitcoin:" + testBTCAddress + "?amount=abc", ErrInvalidAmount},
		{"wrong chain id", "ethereum", "ethereum:" + testETHAddress + "@137?value=1", ErrInvalidURI},
		{"bad eth address", "ethereum", "ethereum:0x1234?value=1", ErrInvalidAddress},
		{"unknown function", "ethereum", "ethereum:" + testETHAddress + "/approve?address=" + testETHAddress, ErrInvalidURI},
		{"fractional value", "ethereum", "ethereum:" + testETHAddress + "?value=1.5", ErrInvalidAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := btc
			if tc.info == "ethereum" {
				info = eth
			}
			if _, err := ParseURI(info, tc.uri); !errors.Is(err, tc.want) {
				t.Errorf("ParseURI(%s) error = %v, want %v", tc.uri, err, tc.want)
			}
		})
	}
}

func TestParseUint256(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"123", "123", true},
		{"1e3", "1000", true},
		{"2.014e18", "2014000000000000000", true},
		{"1.50e1", "15", true},
		{"0e5", "0", true},
		{"1.5e0", "", false},
		{"1e-2", "", false},
		{"1e80", "", false},
		{"abc", "", false},
	}
	for _, tc := range tests {
		got, err := ParseUint256(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseUint256(%q) error = %v", tc.in, err)
				continue
			}
			if got.Dec() != tc.want {
				t.Errorf("ParseUint256(%q) = %s, want %s", tc.in, got.Dec(), tc.want)
			}
		} else if err == nil {
			t.Errorf("ParseUint256(%q) expected error, got %s", tc.in, got.Dec())
		}
	}
}

func TestEncodeURI(t *testing.T) {
	btc := mustInfo(t, "bitcoin")
	poly := mustInfo(t, "polygon")

	u, err := EncodeURI(btc, testBTCAddress, "150000")
	if err != nil {
		t.Fatal(err)
	}
	if u != "bitcoin:"+testBTCAddress+"?amount=0.0015" {
		t.Errorf("EncodeURI(btc) = %s", u)
	}

	u, _ = EncodeURI(btc, testBTCAddress, "")
	if u != "bitcoin:"+testBTCAddress {
		t.Errorf("EncodeURI(btc, no amount) = %s", u)
	}

	u, err = EncodeURI(poly, testETHAddress, "1000")
	if err != nil {
		t.Fatal(err)
	}
	if u != "ethereum:"+testETHAddress+"@137?value=1000" {
		t.Errorf("EncodeURI(polygon) = %s", u)
	}

	// Round trip through the parser
	parsed, err := ParseURI(poly, u)
	if err != nil || parsed.NativeAmount != "1000" || parsed.ChainID != 137 {
		t.Errorf("round trip = %+v, %v", parsed, err)
	}
}
