// Package state holds ViewState, the one shared model every feed and action writes to.
package state

import (
	"sync"

	"github.com/shopspring/decimal"

	"optiondesk/internal/domain"
)

// CommitKind says which aggregate a commit touched
type CommitKind int

const (
	CommitChain CommitKind = iota + 1
	CommitQuote
	CommitOrderBook
	CommitAccount
	CommitTracked
	CommitCleared
)

func (k CommitKind) String() string {
	switch k {
	case CommitChain:
		return "chain"
	case CommitQuote:
		return "quote"
	case CommitOrderBook:
		return "order_book"
	case CommitAccount:
		return "account"
	case CommitTracked:
		return "tracked"
	case CommitCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Commit is emitted after every successful mutation so a rendering layer can redraw.
type Commit struct {
	Seq    uint64
	Kind   CommitKind
	Ticker string // set for quote and tracked commits
}

// ViewState is the shared model: option chain, order book, account metrics and tracked set.
//
// All writes go through the coordinate-checked setters below and are expected
// to come from a single goroutine (the sequencer). The lock exists so other
// goroutines can read consistent copies.
type ViewState struct {
	mu sync.RWMutex

	chain      *domain.OptionChain
	book       domain.OrderBook
	account    domain.AccountMetrics
	hasAccount bool
	tracked    domain.TrackedSet

	seq      uint64
	onCommit func(Commit)
}

// New creates an empty view. onCommit may be nil.
func New(onCommit func(Commit)) *ViewState {
	return &ViewState{
		tracked:  domain.NewTrackedSet(),
		onCommit: onCommit,
	}
}

// commit must be called with mu held; it releases mu before notifying.
func (v *ViewState) commit(kind CommitKind, ticker string) {
	v.seq++
	c := Commit{Seq: v.seq, Kind: kind, Ticker: ticker}
	v.mu.Unlock()
	if v.onCommit != nil {
		v.onCommit(c)
	}
}

// SetChain replaces the chain wholesale. A new chain invalidates every tracked
// highlight, so the tracked mirror is cleared until the backend re-syncs it.
func (v *ViewState) SetChain(chain *domain.OptionChain) {
	v.mu.Lock()
	v.chain = chain
	if v.chain != nil {
		v.chain.ClearTracked()
	}
	v.tracked = domain.NewTrackedSet()
	v.commit(CommitChain, "")
}

// SetQuote updates bid/ask at coord. It is a no-op returning false when no chain
// is loaded or the coordinate is not part of the current chain.
func (v *ViewState) SetQuote(coord domain.Coordinate, bid, ask decimal.Decimal) bool {
	v.mu.Lock()
	q, ok := v.chain.Quote(coord)
	if !ok {
		v.mu.Unlock()
		return false
	}
	q.Bid = bid
	q.Ask = ask
	v.commit(CommitQuote, q.Ticker)
	return true
}

// ReplaceOrderBook swaps in a complete snapshot.
func (v *ViewState) ReplaceOrderBook(book domain.OrderBook) {
	v.mu.Lock()
	v.book = book
	v.commit(CommitOrderBook, "")
}

// ReplaceAccountMetrics swaps in the latest portfolio record.
func (v *ViewState) ReplaceAccountMetrics(m domain.AccountMetrics) {
	v.mu.Lock()
	v.account = m
	v.hasAccount = true
	v.commit(CommitAccount, "")
}

// SetTracked flips the highlight of the quote holding ticker and keeps the
// mirror in step. Returns false if the ticker is not in the current chain.
func (v *ViewState) SetTracked(ticker string, tracked bool) bool {
	v.mu.Lock()
	coord, ok := v.chain.Lookup(ticker)
	if !ok {
		v.mu.Unlock()
		return false
	}
	q, _ := v.chain.Quote(coord)
	q.Tracked = tracked
	if tracked {
		v.tracked = v.tracked.With(ticker)
	} else {
		v.tracked = v.tracked.Without(ticker)
	}
	v.commit(CommitTracked, ticker)
	return true
}

// ReplaceTrackedSet overwrites the mirror with the backend's authoritative set.
func (v *ViewState) ReplaceTrackedSet(set domain.TrackedSet) {
	v.mu.Lock()
	v.tracked = domain.NewTrackedSet(set.Tickers()...)
	v.commit(CommitTracked, "")
}

// Clear drops everything; used when the session ends.
func (v *ViewState) Clear() {
	v.mu.Lock()
	v.chain = nil
	v.book = domain.OrderBook{}
	v.account = domain.AccountMetrics{}
	v.hasAccount = false
	v.tracked = domain.NewTrackedSet()
	v.commit(CommitCleared, "")
}

// Quote returns a copy of the quote at coord.
func (v *ViewState) Quote(coord domain.Coordinate) (domain.OptionQuote, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	q, ok := v.chain.Quote(coord)
	if !ok {
		return domain.OptionQuote{}, false
	}
	return *q, true
}

// Chain returns a deep copy of the current chain, or nil.
func (v *ViewState) Chain() *domain.OptionChain {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chain.Clone()
}

// OrderBook returns the current snapshot
func (v *ViewState) OrderBook() domain.OrderBook {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.book
}

// AccountMetrics returns the latest metrics and whether any have arrived
func (v *ViewState) AccountMetrics() (domain.AccountMetrics, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.account, v.hasAccount
}

// TrackedSet returns the tracked mirror
func (v *ViewState) TrackedSet() domain.TrackedSet {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return domain.NewTrackedSet(v.tracked.Tickers()...)
}

// Seq is the number of commits so far
func (v *ViewState) Seq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seq
}

// QuoteRow is one chain cell in a Snapshot.
type QuoteRow struct {
	Expiration string             `json:"expiration"`
	Strike     decimal.Decimal    `json:"strike"`
	Side       domain.OptionSide  `json:"side"`
	Quote      domain.OptionQuote `json:"quote"`
}

// Snapshot is a JSON-friendly copy of the whole view.
type Snapshot struct {
	Seq     uint64                `json:"seq"`
	Symbol  string                `json:"symbol,omitempty"`
	Quotes  []QuoteRow            `json:"quotes"`
	Orders  []domain.OrderStatus  `json:"orders"`
	Account domain.AccountMetrics `json:"account"`
	Tracked []string              `json:"tracked"`
}

// Snapshot copies the view for dumps and rendering.
func (v *ViewState) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := Snapshot{
		Seq:     v.seq,
		Orders:  v.book.Entries(),
		Account: v.account,
		Tracked: v.tracked.Tickers(),
	}
	if v.chain != nil {
		s.Symbol = v.chain.Symbol
		for _, c := range v.chain.Coordinates() {
			q, _ := v.chain.Quote(c)
			s.Quotes = append(s.Quotes, QuoteRow{Expiration: c.Expiration, Strike: c.Strike, Side: c.Side, Quote: *q})
		}
	}
	return s
}
