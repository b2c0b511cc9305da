// Package symbol handles tradable symbol parsing and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches: [{EXCHANGE}:]{TICKER}
// Example: NSE:RELIANCE, M&M, BRK.B
var symbolRegex = regexp.MustCompile(
	`^(?:([A-Z]{2,10}):)?([A-Z0-9.&-]{1,20})$`,
)

var (
	ErrInvalidSymbol   = errors.New("symbol: invalid symbol format")
	ErrInvalidExchange = errors.New("symbol: unsupported exchange")
)

// Supported exchanges. An unqualified symbol carries no exchange.
var validExchanges = map[string]bool{
	"NSE":    true,
	"BSE":    true,
	"NASDAQ": true,
	"NYSE":   true,
}

// Symbol is a parsed tradable symbol.
type Symbol struct {
	Exchange string `json:"exchange,omitempty"`
	Ticker   string `json:"ticker"`
}

// String renders the canonical form used as the position key.
func (s Symbol) String() string {
	if s.Exchange == "" {
		return s.Ticker
	}
	return s.Exchange + ":" + s.Ticker
}

// Parse trims and upper-cases raw, then validates it.
func Parse(raw string) (Symbol, error) {
	canon := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(canon)
	if matches == nil {
		return Symbol{}, fmt.Errorf("%w: %q (expected [EXCHANGE:]TICKER)", ErrInvalidSymbol, raw)
	}

	exchange, ticker := matches[1], matches[2]
	if exchange != "" && !validExchanges[exchange] {
		return Symbol{}, fmt.Errorf("%w: %s", ErrInvalidExchange, exchange)
	}
	return Symbol{Exchange: exchange, Ticker: ticker}, nil
}

// Normalize returns the canonical form of raw.
func Normalize(raw string) (string, error) {
	s, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}
