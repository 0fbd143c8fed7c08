package event

import (
	"time"

	"optiondesk/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies the kind of event
type Type int

const (
	TypeOrderUpdate Type = iota + 1
	TypePortfolioUpdate
	TypeQuoteUpdate
	TypeOrderBookLoaded
	TypeChainLoaded
	TypeTrackingResolved
	TypeSessionStarted
	TypeSessionCleared
)

func (t Type) String() string {
	switch t {
	case TypeOrderUpdate:
		return "order_update"
	case TypePortfolioUpdate:
		return "portfolio_update"
	case TypeQuoteUpdate:
		return "quote_update"
	case TypeOrderBookLoaded:
		return "order_book_loaded"
	case TypeChainLoaded:
		return "chain_loaded"
	case TypeTrackingResolved:
		return "tracking_resolved"
	case TypeSessionStarted:
		return "session_started"
	case TypeSessionCleared:
		return "session_cleared"
	default:
		return "unknown"
	}
}

// Event is anything the sequencer applies to view state.
type Event interface {
	GetType() Type
	GetEpoch() uint64
	GetTs() int64
	// Complete is called by the sequencer once the event has been applied or dropped.
	Complete()
}

// BaseEvent carries the session epoch the event was produced under.
// Events from an epoch other than the sequencer's current one are dropped.
type BaseEvent struct {
	Epoch uint64
	Ts    int64 // unix micros at creation
	Done  chan struct{}
}

// NewBase stamps the current time. withDone allocates a completion channel.
func NewBase(epoch uint64, withDone bool) BaseEvent {
	b := BaseEvent{Epoch: epoch, Ts: time.Now().UnixMicro()}
	if withDone {
		b.Done = make(chan struct{})
	}
	return b
}

func (b *BaseEvent) GetEpoch() uint64 { return b.Epoch }
func (b *BaseEvent) GetTs() int64     { return b.Ts }

func (b *BaseEvent) Complete() {
	if b.Done != nil {
		close(b.Done)
	}
}

// OrderUpdateEvent is one message of the order feed.
type OrderUpdateEvent struct {
	BaseEvent
	OrderID string
	Event   domain.OrderEvent
}

func (e *OrderUpdateEvent) GetType() Type { return TypeOrderUpdate }

// PortfolioUpdateEvent is one message of the portfolio feed.
type PortfolioUpdateEvent struct {
	BaseEvent
	Metrics domain.AccountMetrics
}

func (e *PortfolioUpdateEvent) GetType() Type { return TypePortfolioUpdate }

// QuoteUpdateEvent is one message of the option-quote feed. Pooled; see pool.go.
type QuoteUpdateEvent struct {
	BaseEvent
	Coord domain.Coordinate
	Bid   decimal.Decimal
	Ask   decimal.Decimal
}

func (e *QuoteUpdateEvent) GetType() Type { return TypeQuoteUpdate }

// OrderBookLoadedEvent carries a full order book snapshot from one /reqOrderBook call.
type OrderBookLoadedEvent struct {
	BaseEvent
	Book domain.OrderBook
}

func (e *OrderBookLoadedEvent) GetType() Type { return TypeOrderBookLoaded }

// ChainLoadedEvent carries a freshly fetched option chain.
type ChainLoadedEvent struct {
	BaseEvent
	Chain *domain.OptionChain
}

func (e *ChainLoadedEvent) GetType() Type { return TypeChainLoaded }

// TrackingResolvedEvent is the answer to a track/untrack request for one coordinate.
type TrackingResolvedEvent struct {
	BaseEvent
	Coord   domain.Coordinate
	Ticker  string
	Tracked bool
	Set     domain.TrackedSet
}

func (e *TrackingResolvedEvent) GetType() Type { return TypeTrackingResolved }

// SessionStartedEvent moves the sequencer to a new epoch after login.
type SessionStartedEvent struct {
	BaseEvent
}

func (e *SessionStartedEvent) GetType() Type { return TypeSessionStarted }

// SessionClearedEvent moves the sequencer to a new epoch after logout and wipes view state.
type SessionClearedEvent struct {
	BaseEvent
}

func (e *SessionClearedEvent) GetType() Type { return TypeSessionCleared }
