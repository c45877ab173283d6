package helpers

import (
	"math/big"
	"testing"
)

func TestMultiplierDecimals(t *testing.T) {
	tests := []struct {
		multiplier string
		want       uint8
		wantErr    bool
	}{
		{"1", 0, false},
		{"100", 2, false},
		{"100000000", 8, false},
		{"1000000000000000000", 18, false},
		{"", 0, true},
		{"250", 0, true},
		{"1001", 0, true},
	}

	for _, tt := range tests {
		got, err := MultiplierDecimals(tt.multiplier)
		if (err != nil) != tt.wantErr {
			t.Errorf("MultiplierDecimals(%q) error = %v, wantErr %v", tt.multiplier, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("MultiplierDecimals(%q) = %d, want %d", tt.multiplier, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		native   string
		decimals uint8
		want     string
	}{
		{"one btc", "100000000", 8, "1"},
		{"fraction", "150000000", 8, "1.5"},
		{"satoshi", "1", 8, "0.00000001"},
		{"zero", "0", 8, "0"},
		{"no decimals", "42", 0, "42"},
		{"one eth", "1000000000000000000", 18, "1"},
		{"beyond uint64", "123456789000000000000000000", 18, "123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatAmount(tt.native, tt.decimals)
			if err != nil {
				t.Fatalf("FormatAmount() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatAmount(%s, %d) = %s, want %s", tt.native, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatBigAmountNegative(t *testing.T) {
	if got := FormatBigAmount(big.NewInt(-150), 2); got != "-1.5" {
		t.Errorf("FormatBigAmount(-150, 2) = %s, want -1.5", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"whole", "1", 8, "100000000", false},
		{"fraction", "1.5", 8, "150000000", false},
		{"leading dot", ".5", 2, "50", false},
		{"truncates", "0.123456789", 8, "12345678", false},
		{"empty", "", 8, "", true},
		{"letters", "1a", 8, "", true},
		{"negative", "-1", 8, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDenominationConversion(t *testing.T) {
	native, err := DenominationToNative("0.25", "100000000")
	if err != nil {
		t.Fatalf("DenominationToNative() error = %v", err)
	}
	if native != "25000000" {
		t.Errorf("DenominationToNative = %s, want 25000000", native)
	}

	display, err := NativeToDenomination(native, "100000000")
	if err != nil {
		t.Fatalf("NativeToDenomination() error = %v", err)
	}
	if display != "0.25" {
		t.Errorf("NativeToDenomination = %s, want 0.25", display)
	}
}

func TestParseNative(t *testing.T) {
	if _, err := ParseNative("-5"); err == nil {
		t.Error("expected error for negative amount")
	}
	if _, err := ParseNative("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
	n, err := ParseNative("1000")
	if err != nil || n.Int64() != 1000 {
		t.Errorf("ParseNative(1000) = %v, %v", n, err)
	}
}

func TestHex(t *testing.T) {
	if got := TrimHexPrefix("0XaBc"); got != "aBc" {
		t.Errorf("TrimHexPrefix(0XaBc) = %s, want aBc", got)
	}
	if got := TrimHexPrefix("x0"); got != "x0" {
		t.Errorf("TrimHexPrefix(x0) = %s, want x0", got)
	}
	if !IsHex("0xDEADbeef") {
		t.Error("IsHex(0xDEADbeef) = false")
	}
	if IsHex("0x") || IsHex("xyz") {
		t.Error("IsHex accepted invalid input")
	}
}
