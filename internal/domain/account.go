package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AccountMetrics is the flat balance record pushed by the portfolio feed.
// It is always replaced whole.
type AccountMetrics struct {
	NetLiquidity      decimal.Decimal `json:"NetLiquidity"`
	OptionBuyingPower decimal.Decimal `json:"OptionBuyingPower"`
}

// TrackedSet is the set of tickers the backend is tracking for this user.
type TrackedSet struct {
	tickers map[string]struct{}
}

// NewTrackedSet builds a set, ignoring empty tickers
func NewTrackedSet(tickers ...string) TrackedSet {
	s := TrackedSet{tickers: make(map[string]struct{}, len(tickers))}
	for _, t := range tickers {
		if t != "" {
			s.tickers[t] = struct{}{}
		}
	}
	return s
}

// Contains reports whether ticker is tracked
func (s TrackedSet) Contains(ticker string) bool {
	_, ok := s.tickers[ticker]
	return ok
}

// Len returns the number of tracked tickers
func (s TrackedSet) Len() int {
	return len(s.tickers)
}

// Tickers returns the members sorted
func (s TrackedSet) Tickers() []string {
	out := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// With returns a copy that also holds ticker.
func (s TrackedSet) With(ticker string) TrackedSet {
	return NewTrackedSet(append(s.Tickers(), ticker)...)
}

// Without returns a copy that no longer holds ticker.
func (s TrackedSet) Without(ticker string) TrackedSet {
	out := NewTrackedSet(s.Tickers()...)
	delete(out.tickers, ticker)
	return out
}
