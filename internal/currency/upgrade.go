package currency

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtendedCode is a currency reference as plugins send it: either a legacy
// string ("ETH", "ETH-USDC") or an explicit {pluginId, tokenId} object.
type ExtendedCode struct {
	Code string
	Ref  *TokenRef
}

// Codes wraps plain strings as extended codes.
func Codes(codes ...string) []ExtendedCode {
	out := make([]ExtendedCode, len(codes))
	for i, c := range codes {
		out[i] = ExtendedCode{Code: c}
	}
	return out
}

// UnmarshalJSON accepts a string or an object.
func (e *ExtendedCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ExtendedCode{Code: s}
		return nil
	}
	var ref TokenRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("currency code must be a string or {pluginId, tokenId}: %w", err)
	}
	if ref.PluginID == "" {
		return fmt.Errorf("currency code object is missing pluginId")
	}
	*e = ExtendedCode{Ref: &ref}
	return nil
}

// MarshalJSON writes the string or object form.
func (e ExtendedCode) MarshalJSON() ([]byte, error) {
	if e.Ref != nil {
		return json.Marshal(e.Ref)
	}
	return json.Marshal(e.Code)
}

// String returns the legacy code or the ref.
func (e ExtendedCode) String() string {
	if e.Ref != nil {
		return e.Ref.String()
	}
	return e.Code
}

// FixMap maps legacy strings that cannot be resolved by the table (or that
// resolve wrongly) to explicit refs. Keys are matched exactly, then upper-cased.
type FixMap map[string]TokenRef

func (f FixMap) lookup(code string) (TokenRef, bool) {
	if f == nil {
		return TokenRef{}, false
	}
	if ref, ok := f[code]; ok {
		return ref, true
	}
	ref, ok := f[strings.ToUpper(code)]
	return ref, ok
}

// codeIndex lists, per upper-case currency code, the plugins using it as their
// native code and the tokens using it.
type codeIndex struct {
	natives map[string][]string
	tokens  map[string][]TokenRef
}

func buildIndex(cfg *Config) *codeIndex {
	idx := &codeIndex{
		natives: make(map[string][]string),
		tokens:  make(map[string][]TokenRef),
	}
	for _, info := range cfg.List() {
		code := strings.ToUpper(info.CurrencyCode)
		idx.natives[code] = append(idx.natives[code], info.PluginID)
		for _, tokenID := range info.TokenIDs() {
			token, _ := info.Token(tokenID)
			tcode := strings.ToUpper(token.CurrencyCode)
			idx.tokens[tcode] = append(idx.tokens[tcode], TokenRef{PluginID: info.PluginID, TokenID: tokenID})
		}
	}
	return idx
}

// chains returns the plugins on which code names a currency, natively or as
// a token, without duplicates.
func (idx *codeIndex) chains(code string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(pluginID string) {
		if !seen[pluginID] {
			seen[pluginID] = true
			out = append(out, pluginID)
		}
	}
	for _, pluginID := range idx.natives[code] {
		add(pluginID)
	}
	for _, ref := range idx.tokens[code] {
		add(ref.PluginID)
	}
	return out
}

// ambiguous reports whether a bare code names currencies on more than one
// chain.
func (idx *codeIndex) ambiguous(code string) bool {
	return len(idx.chains(code)) > 1
}

// AmbiguousCodes returns the bare currency and token codes that cannot be
// resolved to a single chain in cfg, in table order.
func AmbiguousCodes(cfg *Config) []string {
	idx := buildIndex(cfg)
	seen := make(map[string]bool)
	var out []string
	check := func(code string) {
		code = strings.ToUpper(code)
		if !seen[code] && idx.ambiguous(code) {
			out = append(out, code)
		}
		seen[code] = true
	}
	for _, info := range cfg.List() {
		check(info.CurrencyCode)
		for _, tokenID := range info.TokenIDs() {
			token, _ := info.Token(tokenID)
			check(token.CurrencyCode)
		}
	}
	return out
}

// UpgradeExtendedCurrencyCodes resolves legacy currency codes into explicit
// refs. It returns nil when codes is empty. Codes that are unknown, or that
// exist on more than one chain, are left out rather than guessed. Paired codes
// such as "ETH-USDC" name their chain and always resolve when it has the token.
func UpgradeExtendedCurrencyCodes(cfg *Config, fixes FixMap, codes []ExtendedCode) []TokenRef {
	if len(codes) == 0 {
		return nil
	}

	idx := buildIndex(cfg)
	out := make([]TokenRef, 0, len(codes))
	seen := make(map[TokenRef]bool)
	add := func(ref TokenRef) {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}

	for _, code := range codes {
		if code.Ref != nil {
			if ref, ok := checkRef(cfg, *code.Ref); ok {
				add(ref)
			}
			continue
		}
		if ref, ok := fixes.lookup(code.Code); ok {
			add(ref)
			continue
		}
		if ref, ok := resolveCode(cfg, idx, code.Code); ok {
			add(ref)
		}
	}
	return out
}

func checkRef(cfg *Config, ref TokenRef) (TokenRef, bool) {
	info, ok := cfg.Get(ref.PluginID)
	if !ok {
		return TokenRef{}, false
	}
	if ref.TokenID == "" {
		return ref, true
	}
	if _, ok := info.Token(ref.TokenID); !ok {
		return TokenRef{}, false
	}
	return TokenRef{PluginID: ref.PluginID, TokenID: NormalizeTokenID(ref.TokenID)}, true
}

func resolveCode(cfg *Config, idx *codeIndex, raw string) (TokenRef, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return TokenRef{}, false
	}

	if parent, tokenCode, isPair := strings.Cut(code, "-"); isPair {
		return resolvePair(cfg, idx, parent, tokenCode)
	}

	if idx.ambiguous(code) {
		return TokenRef{}, false
	}
	if natives := idx.natives[code]; len(natives) == 1 {
		return TokenRef{PluginID: natives[0]}, true
	}
	if tokens := idx.tokens[code]; len(tokens) == 1 {
		return tokens[0], true
	}
	return TokenRef{}, false
}

func resolvePair(cfg *Config, idx *codeIndex, parent, tokenCode string) (TokenRef, bool) {
	parents := idx.natives[parent]
	if len(parents) != 1 || tokenCode == "" {
		return TokenRef{}, false
	}
	pluginID := parents[0]
	if tokenCode == parent {
		return TokenRef{PluginID: pluginID}, true
	}
	info, _ := cfg.Get(pluginID)
	tokenID, _, ok := info.TokenByCode(tokenCode)
	if !ok {
		return TokenRef{}, false
	}
	return TokenRef{PluginID: pluginID, TokenID: tokenID}, true
}

// GetReturnCurrencyCode formats a currency code for a plugin the same way the
// plugin formatted its request: bare ("USDC") or paired with the chain code
// ("ETH-USDC").
func GetReturnCurrencyCode(requested []string, pluginCurrencyCode, returnCurrencyCode string) string {
	if len(requested) == 0 {
		return returnCurrencyCode
	}

	pair := pluginCurrencyCode + "-" + returnCurrencyCode
	usesPairs := false
	for _, code := range requested {
		if strings.EqualFold(code, pair) {
			return pair
		}
		if strings.Contains(code, "-") {
			usesPairs = true
		}
	}
	for _, code := range requested {
		if strings.EqualFold(code, returnCurrencyCode) {
			return returnCurrencyCode
		}
	}
	if usesPairs {
		return pair
	}
	return returnCurrencyCode
}
