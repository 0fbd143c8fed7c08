package event

import (
	"sync"

	"github.com/shopspring/decimal"

	"optiondesk/internal/domain"
)

// quoteUpdatePool provides sync.Pool for option quote events, the
// highest-volume feed. The sequencer releases each event after applying it.
//
// Usage:
//
//	ev := AcquireQuoteUpdateEvent()
//	ev.Coord = coord
//	// ... submit to sequencer ...
//	ReleaseQuoteUpdateEvent(ev)  // sequencer side, after processing
var quoteUpdatePool = sync.Pool{
	New: func() interface{} {
		return &QuoteUpdateEvent{}
	},
}

// AcquireQuoteUpdateEvent gets a QuoteUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireQuoteUpdateEvent() *QuoteUpdateEvent {
	return quoteUpdatePool.Get().(*QuoteUpdateEvent)
}

// ReleaseQuoteUpdateEvent returns a QuoteUpdateEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseQuoteUpdateEvent(ev *QuoteUpdateEvent) {
	if ev == nil {
		return
	}
	ev.BaseEvent = BaseEvent{}
	ev.Coord = domain.Coordinate{}
	ev.Bid = decimal.Zero
	ev.Ask = decimal.Zero

	quoteUpdatePool.Put(ev)
}

// Warmup pre-allocates quote events to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*QuoteUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireQuoteUpdateEvent())
	}
	for _, ev := range evs {
		ReleaseQuoteUpdateEvent(ev)
	}
}
