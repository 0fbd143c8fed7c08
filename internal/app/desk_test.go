package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiondesk/internal/domain"
	"optiondesk/internal/infra"
	"optiondesk/internal/tracking"
)

const (
	xyzCall   = "XYZ240621C00100000"
	xyzPut    = "XYZ240621P00100000"
	testToken = "tok-1"
)

// fakeBackend serves the request/response commands and the three feeds.
type fakeBackend struct {
	mu        sync.Mutex
	orders    []domain.OrderStatus
	tracked   map[string]bool
	bookCalls int

	releaseOnce  sync.Once
	released     chan struct{}
	orderPush    chan string
	orderStreams atomic.Int32
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	b := &fakeBackend{
		tracked:   map[string]bool{},
		released:  make(chan struct{}),
		orderPush: make(chan string),
		orders: []domain.OrderStatus{
			{OrderID: "o-1", Symbol: xyzCall, Status: "Open", Quantity: decimal.NewFromInt(1)},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(domain.EndpointLogin, b.login)
	mux.HandleFunc(domain.EndpointLogout, b.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{})
	}))
	mux.HandleFunc(domain.EndpointOrderBook, b.authed(b.orderBook))
	mux.HandleFunc(domain.EndpointOptionChain, b.authed(b.chain))
	mux.HandleFunc(domain.EndpointReleaseUpdates, b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.releaseOnce.Do(func() { close(b.released) })
		writeJSON(w, map[string]string{})
	}))
	mux.HandleFunc(domain.EndpointTrackOption, b.authed(b.tracking(true)))
	mux.HandleFunc(domain.EndpointUntrackOption, b.authed(b.tracking(false)))

	mux.HandleFunc(domain.FeedPathOrderUpdates, b.feed(&b.orderStreams, func(send func(string) bool, done <-chan struct{}) {
		for {
			select {
			case msg := <-b.orderPush:
				if !send(msg) {
					return
				}
			case <-done:
				return
			}
		}
	}))
	mux.HandleFunc(domain.FeedPathPortfolioUpdate, b.feed(nil, func(send func(string) bool, done <-chan struct{}) {
		send(`{"NetLiquidity":"25000.50","OptionBuyingPower":"12000"}`)
		<-done
	}))
	mux.HandleFunc(domain.FeedPathOptionUpdates, b.feed(nil, func(send func(string) bool, done <-chan struct{}) {
		select {
		case <-b.released:
		case <-done:
			return
		}
		send(`{"Expiration":"2024-06-21","Strike":"100.00","OptionType":"CALL","TickerSymbol":"` + xyzCall + `","Bid":"1.25","Ask":"1.30"}`)
		<-done
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return b, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	_ = json.NewDecoder(r.Body).Decode(&creds)
	if creds.Password != "secret" {
		writeJSON(w, domain.LoginResponse{Error: "invalid password"})
		return
	}
	writeJSON(w, domain.LoginResponse{Token: testToken})
}

func (b *fakeBackend) orderBook(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.bookCalls++
	rows := make(map[string]domain.OrderStatus, len(b.orders))
	for _, o := range b.orders {
		rows[o.OrderID] = o
	}
	b.mu.Unlock()
	writeJSON(w, map[string]any{"UiOrderStatuses": rows})
}

func (b *fakeBackend) chain(w http.ResponseWriter, r *http.Request) {
	option := func(ticker string) map[string]string {
		return map[string]string{"Bid": "1.00", "Ask": "1.10", "Ticker": ticker}
	}
	writeJSON(w, map[string]any{
		"Expirations": map[string]any{
			"2024-06-21": map[string]any{
				"Strikes": map[string]any{
					"100.00": map[string]any{
						"Strike": "100.00",
						"Option": map[string]any{"CALL": option(xyzCall), "PUT": option(xyzPut)},
					},
				},
			},
		},
	})
}

func (b *fakeBackend) tracking(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Symbol string `json:"symbol"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		b.tracked[req.Symbol] = on
		list := []string{}
		for t, v := range b.tracked {
			if v {
				list = append(list, t)
			}
		}
		b.mu.Unlock()
		sort.Strings(list)
		writeJSON(w, map[string]any{"tracked": list})
	}
}

// feed opens a text/event-stream and runs serve until the client goes away.
// streams, if set, counts the open streams on this path.
func (b *fakeBackend) feed(streams *atomic.Int32, serve func(send func(string) bool, done <-chan struct{})) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		if streams != nil {
			streams.Add(1)
			defer streams.Add(-1)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		send := func(msg string) bool {
			if _, err := fmt.Fprintf(w, "data:%s\n\n", msg); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}
		serve(send, r.Context().Done())
	}
}

func (b *fakeBackend) setOrders(orders ...domain.OrderStatus) {
	b.mu.Lock()
	b.orders = orders
	b.mu.Unlock()
}

func testConfig(t *testing.T, srv *httptest.Server) *infra.Config {
	t.Helper()
	cfg := &infra.Config{}
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.FeedURL = srv.URL
	cfg.Backend.RequestTimeoutSec = 5
	cfg.Credentials.Login = "trader"
	cfg.Credentials.Password = "secret"
	cfg.Feed.MaxBackoffSec = 1
	cfg.Feed.ReadTimeoutSec = 10
	cfg.Feed.PingIntervalSec = 2
	cfg.Storage.Enabled = true
	cfg.Storage.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	cfg.Logging.Level = "error"
	cfg.Logging.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func startDesk(t *testing.T, cfg *infra.Config) (*Desk, *Bootstrap) {
	t.Helper()
	b := NewBootstrap()
	b.Metrics = infra.NewMetrics()
	require.NoError(t, b.InitializeWith(cfg))
	t.Cleanup(b.Close)

	d := NewDesk(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		d.Close()
		cancel()
	})
	return d, b
}

func TestDesk_SessionLifecycle(t *testing.T) {
	backend, srv := newFakeBackend(t)
	cfg := testConfig(t, srv)
	d, b := startDesk(t, cfg)
	ctx := context.Background()
	view := d.View()
	call := domain.NewCoordinate("2024-06-21", decimal.NewFromInt(100), domain.Call)

	require.NoError(t, d.Login(ctx, cfg.Creds()))
	require.Eventually(t, func() bool { return view.OrderBook().Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return d.FeedsConnected() == 3 }, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		m, ok := view.AccountMetrics()
		return ok && m.NetLiquidity.Equal(decimal.RequireFromString("25000.50"))
	}, 3*time.Second, 10*time.Millisecond)

	// Chain load, then the option feed's first quote lands on the loaded chain.
	require.NoError(t, d.LoadChain(ctx, "XYZ"))
	require.Eventually(t, func() bool {
		q, ok := view.Quote(call)
		return ok && q.Bid.Equal(decimal.RequireFromString("1.25"))
	}, 3*time.Second, 10*time.Millisecond)

	// A fill triggers a full order book re-fetch.
	backend.setOrders(
		domain.OrderStatus{OrderID: "o-1", Symbol: xyzCall, Status: "Filled", Quantity: decimal.NewFromInt(1), FilledQuantity: decimal.NewFromInt(1)},
		domain.OrderStatus{OrderID: "o-2", Symbol: xyzPut, Status: "Open", Quantity: decimal.NewFromInt(2)},
	)
	backend.orderPush <- `{"OrderID":"o-1","OrderEvent":"OrderFill"}`
	require.Eventually(t, func() bool { return view.OrderBook().Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	backend.mu.Lock()
	assert.Equal(t, 2, backend.bookCalls)
	backend.mu.Unlock()

	tr, err := d.Toggle(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, tracking.Track, tr)
	q, _ := view.Quote(call)
	assert.True(t, q.Tracked)
	assert.Equal(t, []string{xyzCall}, view.TrackedSet().Tickers())

	require.NoError(t, d.Logout(ctx))
	assert.Equal(t, 0, d.FeedsConnected())
	require.Eventually(t, func() bool { return view.Chain() == nil }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, view.OrderBook().Len())
	_, ok := view.AccountMetrics()
	assert.False(t, ok)
	assert.Equal(t, uint64(2), d.Gateway().Epoch())

	logins, err := b.Journal.ActionsByName(ctx, domain.EndpointLogin)
	require.NoError(t, err)
	assert.Len(t, logins, 1)
	failed, err := b.Journal.CountByOutcome(ctx, domain.OutcomeError)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestDesk_RejectedLoginOpensNoFeeds(t *testing.T) {
	_, srv := newFakeBackend(t)
	cfg := testConfig(t, srv)
	d, _ := startDesk(t, cfg)

	creds := cfg.Creds()
	creds.Password = "wrong"
	err := d.Login(context.Background(), creds)

	var ae *domain.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "invalid password", ae.Reason)
	assert.Equal(t, 0, d.FeedsConnected())
	assert.Equal(t, uint64(0), d.Gateway().Epoch())
}

func TestDesk_CommandsRequireSession(t *testing.T) {
	_, srv := newFakeBackend(t)
	d, _ := startDesk(t, testConfig(t, srv))
	ctx := context.Background()

	assert.ErrorIs(t, d.SubmitTestOrder(ctx), domain.ErrNotAuthenticated)
	assert.ErrorIs(t, d.CancelOrder(ctx, "o-1"), domain.ErrNotAuthenticated)
	err := d.LoadChain(ctx, "XYZ")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Contains(t, err.Error(), "load chain XYZ")
}

func TestDesk_LoginWhileAuthenticatedKeepsSession(t *testing.T) {
	_, srv := newFakeBackend(t)
	cfg := testConfig(t, srv)
	d, _ := startDesk(t, cfg)
	ctx := context.Background()

	require.NoError(t, d.Login(ctx, cfg.Creds()))
	require.Eventually(t, func() bool { return d.FeedsConnected() == 3 }, 3*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, d.Login(ctx, cfg.Creds()), domain.ErrAlreadyAuthenticated)
	assert.Equal(t, uint64(1), d.Gateway().Epoch())
	assert.Equal(t, 3, d.FeedsConnected())
}

func TestDesk_ReloginReplacesFeedsOfEndedSession(t *testing.T) {
	backend, srv := newFakeBackend(t)
	cfg := testConfig(t, srv)
	d, _ := startDesk(t, cfg)
	ctx := context.Background()
	view := d.View()

	require.NoError(t, d.Login(ctx, cfg.Creds()))
	require.Eventually(t, func() bool { return d.FeedsConnected() == 3 }, 3*time.Second, 10*time.Millisecond)

	// The session ends behind the desk's back; its feeds keep running.
	require.NoError(t, d.Gateway().Logout(ctx))
	require.NoError(t, d.Login(ctx, cfg.Creds()))
	assert.Equal(t, uint64(3), d.Gateway().Epoch())
	require.Eventually(t, func() bool { return view.OrderBook().Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	// Only the new session's order stream is open, and its events apply.
	require.Eventually(t, func() bool {
		return d.FeedsConnected() == 3 && backend.orderStreams.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
	backend.mu.Lock()
	before := backend.bookCalls
	backend.mu.Unlock()

	backend.orderPush <- `{"OrderID":"o-1","OrderEvent":"OrderFill"}`
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.bookCalls == before+1
	}, 3*time.Second, 10*time.Millisecond)
}
