package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"optiondesk/internal/event"
	"optiondesk/internal/infra"
	"optiondesk/internal/state"
)

// Refetcher issues an asynchronous order book request on behalf of the sequencer.
// The result comes back as an OrderBookLoadedEvent.
type Refetcher interface {
	RequestOrderBook(epoch uint64)
}

// Sequencer is the single logical execution context that applies every
// mutation to ViewState, in arrival order.
type Sequencer struct {
	inbox   chan event.Event
	view    *state.ViewState
	refetch Refetcher
	metrics *infra.Metrics
	logger  *slog.Logger

	// epoch is written only by Run; atomic so Epoch() can be read from elsewhere.
	epoch     atomic.Uint64
	processed uint64

	DumpPath string
}

// NewSequencer creates a new sequencer instance. refetch may be nil and set
// later with SetRefetcher, before Run.
func NewSequencer(inboxSize int, view *state.ViewState, refetch Refetcher) *Sequencer {
	return &Sequencer{
		inbox:    make(chan event.Event, inboxSize),
		view:     view,
		refetch:  refetch,
		metrics:  infra.GlobalMetrics,
		logger:   slog.Default().With("module", "sequencer"),
		DumpPath: "panic_dump.json",
	}
}

// SetRefetcher wires the order book refetcher. Not safe once Run has started.
func (s *Sequencer) SetRefetcher(r Refetcher) {
	s.refetch = r
}

// SetMetrics swaps the metrics sink (tests).
func (s *Sequencer) SetMetrics(m *infra.Metrics) {
	s.metrics = m
}

// Submit enqueues ev, blocking until there is room or ctx is done.
func (s *Sequencer) Submit(ctx context.Context, ev event.Event) error {
	select {
	case s.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns the state the sequencer writes to.
func (s *Sequencer) View() *state.ViewState {
	return s.view
}

// Epoch is the current session epoch.
func (s *Sequencer) Epoch() uint64 {
	return s.epoch.Load()
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started")

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.DumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...", slog.Uint64("processed", s.processed))
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

// processEvent applies ev, signals completion, then recycles pooled events.
func (s *Sequencer) processEvent(ev event.Event) {
	s.apply(ev)
	ev.Complete()
	if q, ok := ev.(*event.QuoteUpdateEvent); ok {
		event.ReleaseQuoteUpdateEvent(q)
	}
}

func (s *Sequencer) apply(ev event.Event) {
	switch e := ev.(type) {
	case *event.SessionStartedEvent:
		s.advanceEpoch(e.Epoch)
		s.processed++
		return
	case *event.SessionClearedEvent:
		s.advanceEpoch(e.Epoch)
		s.view.Clear()
		s.processed++
		return
	}

	if ev.GetEpoch() != s.epoch.Load() {
		s.metrics.RecordDropped("stale_epoch")
		s.logger.Debug("Dropping event from another session",
			slog.String("type", ev.GetType().String()),
			slog.Uint64("event_epoch", ev.GetEpoch()),
			slog.Uint64("epoch", s.epoch.Load()))
		return
	}

	latency := time.Since(time.UnixMicro(ev.GetTs()))

	switch e := ev.(type) {
	case *event.OrderUpdateEvent:
		s.handleOrderUpdate(e)
	case *event.PortfolioUpdateEvent:
		s.view.ReplaceAccountMetrics(e.Metrics)
	case *event.QuoteUpdateEvent:
		s.handleQuoteUpdate(e)
	case *event.OrderBookLoadedEvent:
		s.view.ReplaceOrderBook(e.Book)
	case *event.ChainLoadedEvent:
		s.view.SetChain(e.Chain)
	case *event.TrackingResolvedEvent:
		s.handleTrackingResolved(e)
	default:
		s.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
		return
	}

	s.processed++
	s.metrics.RecordEvent(latency)
}

// advanceEpoch only moves forward; a late session event cannot rewind it.
func (s *Sequencer) advanceEpoch(epoch uint64) {
	if epoch > s.epoch.Load() {
		s.epoch.Store(epoch)
	}
}

func (s *Sequencer) handleOrderUpdate(e *event.OrderUpdateEvent) {
	if !e.Event.RequiresRefetch() {
		return
	}
	if s.refetch == nil {
		s.logger.Warn("Order update needs re-fetch but no refetcher is wired", slog.String("order_id", e.OrderID))
		return
	}
	s.refetch.RequestOrderBook(e.Epoch)
}

func (s *Sequencer) handleQuoteUpdate(e *event.QuoteUpdateEvent) {
	if !s.view.SetQuote(e.Coord, e.Bid, e.Ask) {
		s.metrics.RecordStaleQuote()
	}
}

// handleTrackingResolved applies a track/untrack answer. The backend's set is
// authoritative and always replaces the mirror; the highlight is only touched
// if coord still holds the same ticker (the chain may have been reloaded while
// the request was in flight).
func (s *Sequencer) handleTrackingResolved(e *event.TrackingResolvedEvent) {
	if q, ok := s.view.Quote(e.Coord); ok && q.Ticker == e.Ticker {
		s.view.SetTracked(e.Ticker, e.Tracked)
	} else {
		s.metrics.RecordDropped("tracking_stale_chain")
	}
	s.view.ReplaceTrackedSet(e.Set)
}

// DumpState writes the entire view to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Epoch     uint64         `json:"epoch"`
		Processed uint64         `json:"processed"`
		View      state.Snapshot `json:"view"`
	}{
		Epoch:     s.epoch.Load(),
		Processed: s.processed,
		View:      s.view.Snapshot(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
