package state

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiondesk/internal/domain"
)

const xyzCall = "XYZ240621C00100000"

func xyzCoord() domain.Coordinate {
	return domain.NewCoordinate("2024-06-21", decimal.NewFromInt(100), domain.Call)
}

func xyzChain(t *testing.T) *domain.OptionChain {
	t.Helper()
	chain := domain.NewOptionChain("XYZ")
	require.NoError(t, chain.Add(xyzCoord(), xyzCall, decimal.Zero, decimal.Zero))
	return chain
}

func TestSetQuote_NoChainIsNoOp(t *testing.T) {
	var commits []Commit
	v := New(func(c Commit) { commits = append(commits, c) })

	applied := v.SetQuote(xyzCoord(), decimal.RequireFromString("1.05"), decimal.RequireFromString("1.10"))

	assert.False(t, applied)
	assert.Empty(t, commits, "no-op writes must not commit")
	_, ok := v.Quote(xyzCoord())
	assert.False(t, ok)
}

func TestSetQuote_AppliesToLoadedCoordinate(t *testing.T) {
	v := New(nil)
	v.SetChain(xyzChain(t))

	applied := v.SetQuote(domain.NewCoordinate("2024-06-21", decimal.RequireFromString("100.00"), domain.Call),
		decimal.RequireFromString("1.05"), decimal.RequireFromString("1.10"))
	require.True(t, applied)

	q, ok := v.Quote(xyzCoord())
	require.True(t, ok)
	assert.Equal(t, "1.05", q.Bid.String())
	assert.Equal(t, "1.1", q.Ask.String())
	assert.Equal(t, xyzCall, q.Ticker)

	assert.False(t, v.SetQuote(domain.NewCoordinate("2024-06-21", decimal.NewFromInt(100), domain.Put), decimal.Zero, decimal.Zero))
}

func TestSetChain_ClearsTracked(t *testing.T) {
	v := New(nil)
	v.SetChain(xyzChain(t))
	require.True(t, v.SetTracked(xyzCall, true))
	assert.True(t, v.TrackedSet().Contains(xyzCall))

	v.SetChain(xyzChain(t))

	q, _ := v.Quote(xyzCoord())
	assert.False(t, q.Tracked)
	assert.Zero(t, v.TrackedSet().Len())
}

func TestSetTracked_UnknownTicker(t *testing.T) {
	v := New(nil)
	assert.False(t, v.SetTracked(xyzCall, true), "no chain loaded")

	v.SetChain(xyzChain(t))
	assert.False(t, v.SetTracked("OTHER", true))
}

func TestReplaceTrackedSet_Overwrites(t *testing.T) {
	v := New(nil)
	v.SetChain(xyzChain(t))
	v.ReplaceTrackedSet(domain.NewTrackedSet("A", "B"))
	v.ReplaceTrackedSet(domain.NewTrackedSet("C"))

	assert.Equal(t, []string{"C"}, v.TrackedSet().Tickers())
}

func TestReplaceOrderBookAndAccount(t *testing.T) {
	var kinds []CommitKind
	v := New(func(c Commit) { kinds = append(kinds, c.Kind) })

	book, err := domain.NewOrderBook([]domain.OrderStatus{{OrderID: "1", Symbol: "XYZ"}})
	require.NoError(t, err)
	v.ReplaceOrderBook(book)

	_, ok := v.AccountMetrics()
	assert.False(t, ok)
	v.ReplaceAccountMetrics(domain.AccountMetrics{NetLiquidity: decimal.NewFromInt(1000), OptionBuyingPower: decimal.NewFromInt(500)})

	m, ok := v.AccountMetrics()
	require.True(t, ok)
	assert.True(t, m.NetLiquidity.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, []string{"1"}, v.OrderBook().IDs())
	assert.Equal(t, []CommitKind{CommitOrderBook, CommitAccount}, kinds)
	assert.Equal(t, uint64(2), v.Seq())
}

func TestClear(t *testing.T) {
	v := New(nil)
	v.SetChain(xyzChain(t))
	v.ReplaceAccountMetrics(domain.AccountMetrics{})
	v.Clear()

	assert.Nil(t, v.Chain())
	_, ok := v.AccountMetrics()
	assert.False(t, ok)
	assert.Empty(t, v.Snapshot().Quotes)
}

// Quotes arriving interleaved with chain reloads never create a coordinate that
// the most recent chain does not contain.
func TestSetQuote_InterleavedWithReloads(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := New(nil)

	strikes := []int64{90, 95, 100, 105, 110}
	var current *domain.OptionChain

	for i := 0; i < 500; i++ {
		if rng.Intn(10) == 0 {
			chain := domain.NewOptionChain("XYZ")
			for j, k := range strikes {
				if rng.Intn(2) == 0 {
					continue
				}
				coord := domain.NewCoordinate("2024-06-21", decimal.NewFromInt(k), domain.Call)
				require.NoError(t, chain.Add(coord, "T"+decimal.NewFromInt(int64(i*10+j)).String(), decimal.Zero, decimal.Zero))
			}
			v.SetChain(chain)
			current = chain.Clone()
			continue
		}

		coord := domain.NewCoordinate("2024-06-21", decimal.NewFromInt(strikes[rng.Intn(len(strikes))]), domain.Call)
		applied := v.SetQuote(coord, decimal.NewFromInt(int64(i)), decimal.NewFromInt(int64(i+1)))
		_, inChain := current.Quote(coord)
		assert.Equal(t, inChain, applied, "step %d", i)

		snap := v.Snapshot()
		assert.Equal(t, current.Len(), len(snap.Quotes))
		for _, row := range snap.Quotes {
			_, ok := current.Quote(domain.NewCoordinate(row.Expiration, row.Strike, row.Side))
			assert.True(t, ok, "quote %s/%s outside current chain", row.Expiration, row.Strike)
		}
	}
}
