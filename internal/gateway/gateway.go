// Package gateway issues the request/response commands against the backend
// and hands their results to the sequencer as events.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"optiondesk/internal/domain"
	"optiondesk/internal/event"
	"optiondesk/internal/infra"
)

const defaultRefetchTimeout = 10 * time.Second

// Sink accepts events for the sequencer.
type Sink interface {
	Submit(ctx context.Context, ev event.Event) error
}

// Options tunes the gateway.
type Options struct {
	// CoalesceRefetch keeps at most one order book request in flight plus one
	// queued follow-up instead of one request per trigger.
	CoalesceRefetch bool
	RefetchTimeout  time.Duration
}

// Gateway is the ActionGateway. It never touches view state directly.
type Gateway struct {
	transport domain.Transport
	session   domain.SessionGate
	sink      Sink
	journal   domain.ActionJournal
	metrics   *infra.Metrics
	logger    *slog.Logger
	opts      Options

	sf    singleflight.Group
	epoch atomic.Uint64

	refetchMu       sync.Mutex
	refetchInFlight bool
	refetchQueued   bool
	queuedEpoch     uint64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a gateway. journal may be nil.
func New(transport domain.Transport, session domain.SessionGate, sink Sink, journal domain.ActionJournal, opts Options) *Gateway {
	if opts.RefetchTimeout <= 0 {
		opts.RefetchTimeout = defaultRefetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		transport: transport,
		session:   session,
		sink:      sink,
		journal:   journal,
		metrics:   infra.GlobalMetrics,
		logger:    slog.Default().With("module", "gateway"),
		opts:      opts,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// SetMetrics swaps the metrics sink (tests).
func (g *Gateway) SetMetrics(m *infra.Metrics) {
	g.metrics = m
}

// Epoch is the current session epoch. It moves on every login and logout.
func (g *Gateway) Epoch() uint64 {
	return g.epoch.Load()
}

// Sink exposes where results are posted (used by the tracking controller).
func (g *Gateway) Sink() Sink {
	return g.sink
}

// Close stops background re-fetches and waits for them.
func (g *Gateway) Close() {
	g.cancel()
	g.wg.Wait()
}

type loginResult struct {
	token string
	login string
}

// Login authenticates once for any number of concurrent callers: callers
// arriving while a login is in flight share its result and no second request
// is sent. A caller joining another user's login is refused. On success the
// sequencer moves to a new epoch and the order book snapshot is loaded.
// Logging in again while a session is held fails with ErrAlreadyAuthenticated.
func (g *Gateway) Login(ctx context.Context, creds domain.Credentials) (string, error) {
	v, err, shared := g.sf.Do("login", func() (any, error) {
		return g.login(ctx, creds)
	})
	if err != nil {
		return "", err
	}
	res := v.(loginResult)
	if shared && res.login != creds.Login {
		g.logger.Warn("Refused login joining another user's request",
			slog.String("login", creds.Login),
			slog.String("in_flight", res.login))
		return "", &domain.AuthError{Reason: "a login for another user is in flight"}
	}
	if shared {
		g.logger.Debug("Joined in-flight login")
	}
	return res.token, nil
}

func (g *Gateway) login(ctx context.Context, creds domain.Credentials) (loginResult, error) {
	if g.session.IsAuthenticated() {
		return loginResult{}, domain.ErrAlreadyAuthenticated
	}

	token, err := g.session.Login(ctx, creds)
	if err != nil {
		g.record(domain.EndpointLogin, creds.Login, g.epoch.Load(), err)
		return loginResult{}, err
	}
	res := loginResult{token: token, login: creds.Login}

	epoch := g.epoch.Add(1)
	g.record(domain.EndpointLogin, creds.Login, epoch, nil)
	if err := g.sink.Submit(ctx, &event.SessionStartedEvent{BaseEvent: event.NewBase(epoch, false)}); err != nil {
		return res, err
	}

	book, err := g.FetchOrderBook(ctx)
	if err != nil {
		g.logger.Warn("Initial order book fetch failed", slog.Any("error", err))
		return res, nil
	}
	if err := g.sink.Submit(ctx, &event.OrderBookLoadedEvent{BaseEvent: event.NewBase(epoch, false), Book: book}); err != nil {
		return res, err
	}
	return res, nil
}

// Logout ends the session. The epoch moves and view state is cleared even if
// the backend request fails, so late responses from the old session are dropped.
func (g *Gateway) Logout(ctx context.Context) error {
	_, err, _ := g.sf.Do("logout", func() (any, error) {
		return nil, g.logout(ctx)
	})
	return err
}

func (g *Gateway) logout(ctx context.Context) error {
	err := g.session.Logout(ctx)
	epoch := g.epoch.Add(1)
	g.record(domain.EndpointLogout, "", epoch, err)

	if subErr := g.sink.Submit(ctx, &event.SessionClearedEvent{BaseEvent: event.NewBase(epoch, false)}); subErr != nil && err == nil {
		err = subErr
	}
	return err
}

func (g *Gateway) requireSession() error {
	if !g.session.IsAuthenticated() {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// FetchOrderBook requests one complete order book snapshot.
func (g *Gateway) FetchOrderBook(ctx context.Context) (domain.OrderBook, error) {
	if err := g.requireSession(); err != nil {
		return domain.OrderBook{}, err
	}
	body, err := g.transport.Send(ctx, domain.EndpointOrderBook, nil)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.DecodeOrderBook(body)
}

// RequestOrderBook re-fetches the order book in the background and posts the
// snapshot under epoch. Triggers from a past epoch are ignored.
func (g *Gateway) RequestOrderBook(epoch uint64) {
	if epoch != g.epoch.Load() {
		return
	}

	if !g.opts.CoalesceRefetch {
		g.metrics.RecordRefetch("sent")
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.refetch(epoch)
		}()
		return
	}

	g.refetchMu.Lock()
	if g.refetchInFlight {
		g.refetchQueued = true
		g.queuedEpoch = epoch
		g.refetchMu.Unlock()
		g.metrics.RecordRefetch("coalesced")
		return
	}
	g.refetchInFlight = true
	g.refetchMu.Unlock()

	g.metrics.RecordRefetch("sent")
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		next := epoch
		for {
			g.refetch(next)

			g.refetchMu.Lock()
			if !g.refetchQueued {
				g.refetchInFlight = false
				g.refetchMu.Unlock()
				return
			}
			g.refetchQueued = false
			next = g.queuedEpoch
			g.refetchMu.Unlock()
			g.metrics.RecordRefetch("sent")
		}
	}()
}

func (g *Gateway) refetch(epoch uint64) {
	ctx, cancel := context.WithTimeout(g.baseCtx, g.opts.RefetchTimeout)
	defer cancel()

	book, err := g.FetchOrderBook(ctx)
	if err != nil {
		g.logger.Warn("Order book re-fetch failed", slog.Any("error", err))
		g.metrics.RecordAction(domain.EndpointOrderBook, domain.OutcomeError)
		return
	}
	if err := g.sink.Submit(g.baseCtx, &event.OrderBookLoadedEvent{BaseEvent: event.NewBase(epoch, false), Book: book}); err != nil {
		g.logger.Debug("Order book result not delivered", slog.Any("error", err))
	}
}

// SubmitTestOrder asks the backend to place its test order. Its effect shows
// up later on the order feed.
func (g *Gateway) SubmitTestOrder(ctx context.Context) error {
	if err := g.requireSession(); err != nil {
		return err
	}
	_, err := g.transport.Send(ctx, domain.EndpointTestOrder, nil)
	g.record(domain.EndpointTestOrder, "", g.epoch.Load(), err)
	return err
}

type cancelOrderRequest struct {
	OrderID string `json:"orderid"`
}

// CancelOrder asks the backend to cancel orderID. Like SubmitTestOrder it does
// not touch view state.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("cancel order: %w", domain.ErrEmptyParam)
	}
	if err := g.requireSession(); err != nil {
		return err
	}
	_, err := g.transport.Send(ctx, domain.EndpointCancelOrder, cancelOrderRequest{OrderID: orderID})
	g.record(domain.EndpointCancelOrder, orderID, g.epoch.Load(), err)
	return err
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

// FetchOptionChain loads the chain for symbol, waits until the sequencer has
// installed it, then tells the backend to resume option quote updates.
func (g *Gateway) FetchOptionChain(ctx context.Context, symbol string) (*domain.OptionChain, error) {
	if symbol == "" {
		return nil, fmt.Errorf("fetch option chain: %w", domain.ErrEmptyParam)
	}
	if err := g.requireSession(); err != nil {
		return nil, err
	}
	epoch := g.epoch.Load()

	body, err := g.transport.Send(ctx, domain.EndpointOptionChain, symbolRequest{Symbol: symbol})
	if err != nil {
		g.record(domain.EndpointOptionChain, symbol, epoch, err)
		return nil, err
	}
	chain, err := domain.DecodeOptionChain(symbol, body)
	if err != nil {
		g.record(domain.EndpointOptionChain, symbol, epoch, err)
		return nil, err
	}

	ev := &event.ChainLoadedEvent{BaseEvent: event.NewBase(epoch, true), Chain: chain.Clone()}
	if err := g.sink.Submit(ctx, ev); err != nil {
		return nil, err
	}
	select {
	case <-ev.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.epoch.Load() != epoch {
		// Logged out while loading; the sequencer dropped the chain.
		return nil, domain.ErrNotAuthenticated
	}

	g.record(domain.EndpointOptionChain, symbol, epoch, nil)

	_, err = g.transport.Send(ctx, domain.EndpointReleaseUpdates, nil)
	g.record(domain.EndpointReleaseUpdates, symbol, epoch, err)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// Track asks the backend to track ticker and returns the authoritative set.
func (g *Gateway) Track(ctx context.Context, ticker string) (domain.TrackedSet, error) {
	return g.tracking(ctx, domain.EndpointTrackOption, ticker)
}

// Untrack asks the backend to stop tracking ticker and returns the authoritative set.
func (g *Gateway) Untrack(ctx context.Context, ticker string) (domain.TrackedSet, error) {
	return g.tracking(ctx, domain.EndpointUntrackOption, ticker)
}

func (g *Gateway) tracking(ctx context.Context, endpoint, ticker string) (domain.TrackedSet, error) {
	if ticker == "" {
		return domain.TrackedSet{}, fmt.Errorf("%s: %w", endpoint, domain.ErrEmptyParam)
	}
	if err := g.requireSession(); err != nil {
		return domain.TrackedSet{}, err
	}
	body, err := g.transport.Send(ctx, endpoint, symbolRequest{Symbol: ticker})
	if err == nil {
		var set domain.TrackedSet
		set, err = domain.DecodeTrackedSet(body)
		if err == nil {
			g.record(endpoint, ticker, g.epoch.Load(), nil)
			return set, nil
		}
	}
	g.record(endpoint, ticker, g.epoch.Load(), err)
	return domain.TrackedSet{}, err
}

// record counts the outcome and appends it to the journal. Journal failures
// are logged, never returned.
func (g *Gateway) record(action, detail string, epoch uint64, err error) {
	outcome := domain.OutcomeOK
	if err != nil {
		outcome = domain.OutcomeError
	}
	g.metrics.RecordAction(action, outcome)

	if g.journal == nil {
		return
	}
	rec := &domain.ActionRecord{Action: action, Detail: detail, Outcome: outcome, Epoch: epoch}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := g.journal.Record(g.baseCtx, rec); jerr != nil {
		g.logger.Warn("Failed to journal action", slog.String("action", action), slog.Any("error", jerr))
	}
}
