package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"optiondesk/internal/infra"
)

// Feeds runs the order, portfolio and option channels for one session.
// A token rejection on any channel stops all three.
type Feeds struct {
	epoch    uint64
	channels []*Channel
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewFeeds builds one channel per kind sharing opts.
func NewFeeds(opts Options, sink Sink) *Feeds {
	f := &Feeds{epoch: opts.Epoch, logger: slog.Default().With("module", "feeds")}
	for _, k := range Kinds {
		f.channels = append(f.channels, NewChannel(k, opts, sink))
	}
	return f
}

// SetMetrics swaps the metrics sink on every channel (tests).
func (f *Feeds) SetMetrics(m *infra.Metrics) {
	for _, c := range f.channels {
		c.SetMetrics(m)
	}
}

// Epoch is the session epoch the channels stamp on their events.
func (f *Feeds) Epoch() uint64 {
	return f.epoch
}

// Channels returns the underlying channels in Kinds order.
func (f *Feeds) Channels() []*Channel {
	return f.channels
}

// Start launches the channels. Calling Start twice without Stop is an error.
func (f *Feeds) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.group != nil {
		return errors.New("feeds already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range f.channels {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	f.cancel = cancel
	f.group = g
	f.logger.Info("Feeds started", slog.Int("channels", len(f.channels)))
	return nil
}

// Stop cancels every channel and waits for them to exit. It returns the first
// error a channel stopped with, if any.
func (f *Feeds) Stop() error {
	f.mu.Lock()
	cancel, g := f.cancel, f.group
	f.cancel, f.group = nil, nil
	f.mu.Unlock()

	if g == nil {
		return nil
	}
	cancel()
	for _, c := range f.channels {
		c.closeConnection()
	}
	err := g.Wait()
	f.logger.Info("Feeds stopped")
	return err
}

// Wait blocks until every channel has exited, which only happens early when
// the backend rejects the session token. Returns nil if not started.
func (f *Feeds) Wait() error {
	f.mu.Lock()
	g := f.group
	f.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Connected reports how many channels currently hold a connection.
func (f *Feeds) Connected() int {
	n := 0
	for _, c := range f.channels {
		if c.IsConnected() {
			n++
		}
	}
	return n
}
