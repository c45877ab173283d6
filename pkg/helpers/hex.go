package helpers

import "strings"

// TrimHexPrefix removes a leading 0x or 0X.
func TrimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// IsHex reports whether s (after an optional 0x) is a non-empty hex string.
func IsHex(s string) bool {
	s = TrimHexPrefix(s)
	if s == "" {
		return false
	}
	return strings.Trim(strings.ToLower(s), "0123456789abcdef") == ""
}
