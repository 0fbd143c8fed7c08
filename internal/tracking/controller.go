// Package tracking implements the per-coordinate Untracked/Tracked toggle.
package tracking

import (
	"context"
	"log/slog"
	"sync"

	"optiondesk/internal/domain"
	"optiondesk/internal/event"
	"optiondesk/internal/state"
)

// Transition is what a Toggle did.
type Transition int

const (
	// NoOp means the coordinate is not in the current chain.
	NoOp Transition = iota
	// Track is Untracked -> Tracked.
	Track
	// Untrack is Tracked -> Untracked.
	Untrack
)

func (t Transition) String() string {
	switch t {
	case Track:
		return "track"
	case Untrack:
		return "untrack"
	default:
		return "noop"
	}
}

// Gateway is the subset of the action gateway the controller needs.
type Gateway interface {
	Track(ctx context.Context, ticker string) (domain.TrackedSet, error)
	Untrack(ctx context.Context, ticker string) (domain.TrackedSet, error)
	Epoch() uint64
}

// Sink accepts events for the sequencer.
type Sink interface {
	Submit(ctx context.Context, ev event.Event) error
}

// Controller turns clicks on chain cells into track/untrack requests.
type Controller struct {
	view   *state.ViewState
	gw     Gateway
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewController creates a controller reading from view and posting to sink.
func NewController(view *state.ViewState, gw Gateway, sink Sink) *Controller {
	return &Controller{
		view:     view,
		gw:       gw,
		sink:     sink,
		logger:   slog.Default().With("module", "tracking"),
		inFlight: make(map[string]struct{}),
	}
}

// Toggle flips the tracking state of the quote at coord. The direction comes
// from the quote's tracked flag as currently shown, not from the tracked set.
// It returns once the backend's answer has been applied (or dropped, if the
// chain changed meanwhile). A second toggle of the same coordinate while one
// is pending fails with ErrToggleInFlight.
func (c *Controller) Toggle(ctx context.Context, coord domain.Coordinate) (Transition, error) {
	q, ok := c.view.Quote(coord)
	if !ok {
		return NoOp, nil
	}

	key := coord.String()
	c.mu.Lock()
	if _, busy := c.inFlight[key]; busy {
		c.mu.Unlock()
		return NoOp, domain.ErrToggleInFlight
	}
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, key)
		c.mu.Unlock()
	}()

	epoch := c.gw.Epoch()
	transition := Track
	request := c.gw.Track
	if q.Tracked {
		transition = Untrack
		request = c.gw.Untrack
	}

	set, err := request(ctx, q.Ticker)
	if err != nil {
		c.logger.Warn("Tracking request failed",
			slog.String("ticker", q.Ticker),
			slog.String("transition", transition.String()),
			slog.Any("error", err))
		return transition, err
	}

	ev := &event.TrackingResolvedEvent{
		BaseEvent: event.NewBase(epoch, true),
		Coord:     coord,
		Ticker:    q.Ticker,
		Tracked:   transition == Track,
		Set:       set,
	}
	if err := c.sink.Submit(ctx, ev); err != nil {
		return transition, err
	}
	select {
	case <-ev.Done:
	case <-ctx.Done():
		return transition, ctx.Err()
	}
	return transition, nil
}
