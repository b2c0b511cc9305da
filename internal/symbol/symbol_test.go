package symbol

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	s, err := Parse("nse:reliance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Exchange != "NSE" {
		t.Errorf("expected exchange=NSE, got %s", s.Exchange)
	}
	if s.Ticker != "RELIANCE" {
		t.Errorf("expected ticker=RELIANCE, got %s", s.Ticker)
	}
	if s.String() != "NSE:RELIANCE" {
		t.Errorf("expected NSE:RELIANCE, got %s", s.String())
	}
}

func TestParse_Unqualified(t *testing.T) {
	for _, raw := range []string{"AAPL", " m&m ", "BRK.B", "BAJAJ-AUTO", "500325"} {
		got, err := Normalize(raw)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", raw, err)
			continue
		}
		if got == "" {
			t.Errorf("Normalize(%q): empty result", raw)
		}
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"NSE:",
		":AAPL",
		"AAPL MSFT",
		"THIS-TICKER-IS-WAY-TOO-LONG",
		"AA$PL",
	}
	for _, raw := range tests {
		_, err := Parse(raw)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("expected ErrInvalidSymbol for %q, got %v", raw, err)
		}
	}
}

func TestParse_InvalidExchange(t *testing.T) {
	_, err := Parse("LSE:VOD")
	if !errors.Is(err, ErrInvalidExchange) {
		t.Errorf("expected ErrInvalidExchange, got %v", err)
	}
}
