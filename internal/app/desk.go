package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"optiondesk/internal/domain"
	"optiondesk/internal/engine"
	"optiondesk/internal/feed"
	"optiondesk/internal/gateway"
	"optiondesk/internal/state"
	"optiondesk/internal/tracking"
)

const inboxSize = 1024

// Desk is the running client: one sequencer owning the view, the gateway for
// commands, the tracking controller and the per-session feeds.
type Desk struct {
	boot    *Bootstrap
	seq     *engine.Sequencer
	gw      *gateway.Gateway
	tracker *tracking.Controller
	logger  *slog.Logger

	mu    sync.Mutex
	feeds *feed.Feeds
}

// NewDesk wires the engine on top of an initialized Bootstrap. onCommit, if
// not nil, is called after every view mutation (on the sequencer goroutine).
func NewDesk(b *Bootstrap, onCommit func(state.Commit)) *Desk {
	cfg := b.Config
	seq := engine.NewSequencer(inboxSize, state.New(onCommit), nil)
	seq.SetMetrics(b.Metrics)

	gw := gateway.New(b.Client, b.Session, seq, b.journal(), gateway.Options{
		CoalesceRefetch: cfg.Gateway.CoalesceRefetch,
		RefetchTimeout:  cfg.RequestTimeout(),
	})
	gw.SetMetrics(b.Metrics)
	seq.SetRefetcher(gw)

	return &Desk{
		boot:    b,
		seq:     seq,
		gw:      gw,
		tracker: tracking.NewController(seq.View(), gw, seq),
		logger:  slog.Default().With("module", "desk"),
	}
}

// Run drives the sequencer until ctx ends.
func (d *Desk) Run(ctx context.Context) {
	d.seq.Run(ctx)
}

// View is the shared model. Read only.
func (d *Desk) View() *state.ViewState {
	return d.seq.View()
}

// Gateway exposes the command surface.
func (d *Desk) Gateway() *gateway.Gateway {
	return d.gw
}

// Login authenticates and, on success, opens the three feeds for the new
// session. It fails with domain.ErrAlreadyAuthenticated while a session is
// held; feeds left running by an earlier session are replaced.
func (d *Desk) Login(ctx context.Context, creds domain.Credentials) error {
	if _, err := d.gw.Login(ctx, creds); err != nil {
		return err
	}
	return d.startFeeds(ctx)
}

func (d *Desk) startFeeds(ctx context.Context) error {
	cfg := d.boot.Config

	epoch := d.gw.Epoch()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.feeds != nil {
		if d.feeds.Epoch() == epoch {
			// Joined an in-flight login; its feeds are already up.
			return nil
		}
		// Left over from a session that ended without Desk.Logout; everything
		// they would deliver is stamped with the old epoch.
		d.logger.Info("Replacing feeds from an earlier session",
			slog.Uint64("feeds_epoch", d.feeds.Epoch()),
			slog.Uint64("epoch", epoch))
		if err := d.feeds.Stop(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("Feed exited with error", slog.Any("error", err))
		}
		d.feeds = nil
	}

	feeds := feed.NewFeeds(feed.Options{
		BaseURL:      cfg.Backend.FeedURL,
		Epoch:        epoch,
		Tokens:       d.boot.Session,
		MaxBackoff:   time.Duration(cfg.Feed.MaxBackoffSec) * time.Second,
		ReadTimeout:  time.Duration(cfg.Feed.ReadTimeoutSec) * time.Second,
		PingInterval: time.Duration(cfg.Feed.PingIntervalSec) * time.Second,
	}, d.seq)
	feeds.SetMetrics(d.boot.Metrics)

	// Feeds outlive the login call; only Logout stops them.
	if err := feeds.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	d.feeds = feeds

	go func() {
		if err := feeds.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("Feeds stopped", slog.Any("error", err))
		}
	}()
	return nil
}

// Logout closes the feeds, then ends the session. View state is cleared even
// when the backend request fails.
func (d *Desk) Logout(ctx context.Context) error {
	d.mu.Lock()
	feeds := d.feeds
	d.feeds = nil
	d.mu.Unlock()

	if feeds != nil {
		if err := feeds.Stop(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("Feed exited with error", slog.Any("error", err))
		}
	}
	return d.gw.Logout(ctx)
}

// LoadChain fetches the chain for symbol and resumes its quote updates.
func (d *Desk) LoadChain(ctx context.Context, symbol string) error {
	chain, err := d.gw.FetchOptionChain(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load chain %s: %w", symbol, err)
	}
	d.logger.Info("Option chain loaded",
		slog.String("symbol", symbol),
		slog.Int("quotes", chain.Len()),
		slog.Int("expirations", len(chain.Expirations())))
	return nil
}

// Toggle flips tracking for the quote at coord.
func (d *Desk) Toggle(ctx context.Context, coord domain.Coordinate) (tracking.Transition, error) {
	return d.tracker.Toggle(ctx, coord)
}

// SubmitTestOrder places the backend's test order.
func (d *Desk) SubmitTestOrder(ctx context.Context) error {
	return d.gw.SubmitTestOrder(ctx)
}

// CancelOrder cancels orderID.
func (d *Desk) CancelOrder(ctx context.Context, orderID string) error {
	return d.gw.CancelOrder(ctx, orderID)
}

// FeedsConnected reports how many feed channels hold a connection.
func (d *Desk) FeedsConnected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.feeds == nil {
		return 0
	}
	return d.feeds.Connected()
}

// Close stops the feeds and background re-fetches. It does not log out.
func (d *Desk) Close() {
	d.mu.Lock()
	feeds := d.feeds
	d.feeds = nil
	d.mu.Unlock()
	if feeds != nil {
		_ = feeds.Stop()
	}
	d.gw.Close()
}
