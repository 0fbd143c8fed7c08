package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExpirationLayout is the calendar format of expiration keys.
const ExpirationLayout = "2006-01-02"

// OptionSide is the type of option (call/put)
type OptionSide int

const (
	Call OptionSide = iota + 1
	Put
)

// String returns the backend spelling of the side
func (s OptionSide) String() string {
	switch s {
	case Call:
		return "CALL"
	case Put:
		return "PUT"
	default:
		return "UNKNOWN"
	}
}

// ParseOptionSide accepts "call"/"put" in any case, plus the single-letter forms.
func ParseOptionSide(s string) (OptionSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return Call, nil
	case "PUT", "P":
		return Put, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOptionSide, s)
}

func (s OptionSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OptionSide) UnmarshalText(b []byte) error {
	side, err := ParseOptionSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// Coordinate identifies one quote slot in the chain.
// Strikes compare numerically, so 100 and "100.00" are the same coordinate.
type Coordinate struct {
	Expiration string
	Strike     decimal.Decimal
	Side       OptionSide
}

// NewCoordinate builds a coordinate with a trimmed expiration key.
func NewCoordinate(expiration string, strike decimal.Decimal, side OptionSide) Coordinate {
	return Coordinate{Expiration: strings.TrimSpace(expiration), Strike: strike, Side: side}
}

// StrikeKey is the canonical map key for the strike.
func (c Coordinate) StrikeKey() string {
	return c.Strike.String()
}

func (c Coordinate) String() string {
	return c.Expiration + "/" + c.StrikeKey() + "/" + c.Side.String()
}

// Equal compares coordinates by value.
func (c Coordinate) Equal(o Coordinate) bool {
	return c.Expiration == o.Expiration && c.Side == o.Side && c.Strike.Equal(o.Strike)
}

// OptionQuote is one cell of the chain.
// Ticker is fixed at chain load; Bid/Ask move with the quote feed; Tracked with the tracking toggle.
type OptionQuote struct {
	Ticker  string          `json:"ticker"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	Tracked bool            `json:"tracked"`
}

type strikeRow struct {
	strike decimal.Decimal
	sides  map[OptionSide]*OptionQuote
}

// OptionChain is expiration -> strike -> side -> quote for one underlying.
type OptionChain struct {
	Symbol      string
	expirations map[string]map[string]*strikeRow
	tickers     map[string]Coordinate
}

// NewOptionChain creates an empty chain
func NewOptionChain(symbol string) *OptionChain {
	return &OptionChain{
		Symbol:      symbol,
		expirations: make(map[string]map[string]*strikeRow),
		tickers:     make(map[string]Coordinate),
	}
}

// Add inserts a quote. Tickers and coordinates must both be unique within the chain.
func (c *OptionChain) Add(coord Coordinate, ticker string, bid, ask decimal.Decimal) error {
	if ticker == "" {
		return fmt.Errorf("%w: ticker for %s", ErrEmptyParam, coord)
	}
	if coord.Expiration == "" {
		return fmt.Errorf("%w: expiration for %s", ErrEmptyParam, ticker)
	}
	if coord.Side != Call && coord.Side != Put {
		return fmt.Errorf("%w: %s", ErrUnknownOptionSide, ticker)
	}
	if prev, dup := c.tickers[ticker]; dup {
		return fmt.Errorf("ticker %s already at %s", ticker, prev)
	}

	strikes, ok := c.expirations[coord.Expiration]
	if !ok {
		strikes = make(map[string]*strikeRow)
		c.expirations[coord.Expiration] = strikes
	}
	row, ok := strikes[coord.StrikeKey()]
	if !ok {
		row = &strikeRow{strike: coord.Strike, sides: make(map[OptionSide]*OptionQuote, 2)}
		strikes[coord.StrikeKey()] = row
	}
	if _, dup := row.sides[coord.Side]; dup {
		return fmt.Errorf("coordinate %s already loaded", coord)
	}

	row.sides[coord.Side] = &OptionQuote{Ticker: ticker, Bid: bid, Ask: ask}
	c.tickers[ticker] = coord
	return nil
}

// Quote returns the live quote at coord. Callers outside the state package get copies.
func (c *OptionChain) Quote(coord Coordinate) (*OptionQuote, bool) {
	if c == nil {
		return nil, false
	}
	row, ok := c.expirations[coord.Expiration][coord.StrikeKey()]
	if !ok {
		return nil, false
	}
	q, ok := row.sides[coord.Side]
	return q, ok
}

// Lookup finds the coordinate currently holding ticker.
func (c *OptionChain) Lookup(ticker string) (Coordinate, bool) {
	if c == nil {
		return Coordinate{}, false
	}
	coord, ok := c.tickers[ticker]
	return coord, ok
}

// Len returns the number of quotes in the chain
func (c *OptionChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tickers)
}

// Expirations returns expiration keys in calendar order.
// Keys that are not dates sort after dates, lexically.
func (c *OptionChain) Expirations() []string {
	keys := make([]string, 0, len(c.expirations))
	for k := range c.expirations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, ei := time.Parse(ExpirationLayout, keys[i])
		tj, ej := time.Parse(ExpirationLayout, keys[j])
		switch {
		case ei == nil && ej == nil:
			return ti.Before(tj)
		case ei == nil:
			return true
		case ej == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Coordinates lists every coordinate ordered by expiration, strike, side.
func (c *OptionChain) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, len(c.tickers))
	for _, exp := range c.Expirations() {
		rows := make([]*strikeRow, 0, len(c.expirations[exp]))
		for _, row := range c.expirations[exp] {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].strike.LessThan(rows[j].strike) })
		for _, row := range rows {
			for _, side := range []OptionSide{Call, Put} {
				if _, ok := row.sides[side]; ok {
					out = append(out, Coordinate{Expiration: exp, Strike: row.strike, Side: side})
				}
			}
		}
	}
	return out
}

// ClearTracked resets every tracked flag.
func (c *OptionChain) ClearTracked() {
	for _, strikes := range c.expirations {
		for _, row := range strikes {
			for _, q := range row.sides {
				q.Tracked = false
			}
		}
	}
}

// Clone returns a deep copy
func (c *OptionChain) Clone() *OptionChain {
	if c == nil {
		return nil
	}
	out := NewOptionChain(c.Symbol)
	for exp, strikes := range c.expirations {
		outStrikes := make(map[string]*strikeRow, len(strikes))
		for key, row := range strikes {
			outRow := &strikeRow{strike: row.strike, sides: make(map[OptionSide]*OptionQuote, len(row.sides))}
			for side, q := range row.sides {
				cp := *q
				outRow.sides[side] = &cp
			}
			outStrikes[key] = outRow
		}
		out.expirations[exp] = outStrikes
	}
	for t, coord := range c.tickers {
		out.tickers[t] = coord
	}
	return out
}
