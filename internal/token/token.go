package token

import "strings"

// NormalizeSymbol maps a denomination to its canonical ticker: surrounding
// space trimmed, upper-cased, and a bridged suffix like "USDC.E" reduced to
// "USDC".
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if base, _, found := strings.Cut(symbol, "."); found && base != "" {
		return base
	}
	return symbol
}
