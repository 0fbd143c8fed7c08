package feed

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"optiondesk/internal/domain"
	"optiondesk/internal/event"
	"optiondesk/internal/infra"
)

const (
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	handshakeTimeout    = 10 * time.Second
	maxRetryExponent    = 10
)

// Sink accepts decoded events. The sequencer implements it.
type Sink interface {
	Submit(ctx context.Context, ev event.Event) error
}

// Options configures a Channel. Zero durations fall back to defaults.
type Options struct {
	BaseURL      string // http(s):// event stream root or ws(s):// bridge; the kind's path is appended
	Epoch        uint64 // session epoch stamped on every event
	Tokens       domain.TokenSource
	BaseDelay    time.Duration
	MaxBackoff   time.Duration
	ReadTimeout  time.Duration // longest silence before the stream is redialed
	PingInterval time.Duration // websocket only
}

func (o *Options) applyDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxDelay
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
}

// Channel owns one push subscription and reconnects with exponential
// backoff until its context ends. Messages missed while disconnected are not
// replayed.
type Channel struct {
	kind    Kind
	opts    Options
	sink    Sink
	decode  decodeFunc
	metrics *infra.Metrics
	logger  *slog.Logger

	stream    stream
	mu        sync.RWMutex
	connected bool
}

// NewChannel creates a channel for kind.
func NewChannel(kind Kind, opts Options, sink Sink) *Channel {
	opts.applyDefaults()
	return &Channel{
		kind:    kind,
		opts:    opts,
		sink:    sink,
		decode:  decoderFor(kind),
		metrics: infra.GlobalMetrics,
		logger:  slog.Default().With("module", "feed", "feed", kind.String()),
	}
}

// SetMetrics swaps the metrics sink (tests).
func (c *Channel) SetMetrics(m *infra.Metrics) {
	c.metrics = m
}

// Kind returns the feed kind
func (c *Channel) Kind() Kind {
	return c.kind
}

// Run blocks in the connect/read loop until ctx is done. It returns nil on
// cancellation and the dial error once it is not retriable: a refused
// session token (AuthError) or a misconfigured endpoint.
func (c *Channel) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Feed panic recovered", slog.Any("panic", r))
		}
	}()

	dial, err := dialerFor(c.url())
	if err != nil {
		return err
	}

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Feed connection loop stopped")
			return nil
		default:
		}

		err := c.connect(ctx, dial)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !domain.IsRetriable(err) {
				return err
			}
			c.logger.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)
			c.metrics.RecordReconnect(c.kind.String())

			delay := c.calculateBackoff(retryCount)
			if retryCount < maxRetryExponent {
				retryCount++
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		c.readLoop(ctx)
	}
}

// calculateBackoff returns the delay for the current retry attempt
func (c *Channel) calculateBackoff(retryCount int) time.Duration {
	delay := c.opts.BaseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > c.opts.MaxBackoff {
		delay = c.opts.MaxBackoff
	}
	return delay
}

func (c *Channel) url() string {
	return strings.TrimRight(c.opts.BaseURL, "/") + c.kind.Path()
}

// connect opens the stream with the session token.
func (c *Channel) connect(ctx context.Context, dial dialer) error {
	token := ""
	if c.opts.Tokens != nil {
		token = c.opts.Tokens.Token()
	}
	if token == "" {
		return &domain.AuthError{Reason: domain.ErrNotAuthenticated.Error()}
	}

	s, err := dial(ctx, c.kind, c.url(), token, c.opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stream = s
	c.connected = true
	c.mu.Unlock()
	c.metrics.IncrementConnections()

	c.logger.Info("Feed connected", slog.String("url", c.url()))
	return nil
}

// readLoop reads messages until the stream fails or ctx is done.
func (c *Channel) readLoop(ctx context.Context) {
	c.mu.RLock()
	s := c.stream
	c.mu.RUnlock()
	if s == nil {
		return
	}

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	if ws, ok := s.(*wsStream); ok {
		go ws.pingLoop(loopCtx, c.opts.PingInterval)
	}

	// Unblock Next when ctx ends.
	go func() {
		<-loopCtx.Done()
		if ctx.Err() != nil {
			c.closeConnection()
		}
	}()

	for {
		message, err := s.Next()
		if err != nil {
			if ctx.Err() == nil && !isClosedRead(err) {
				c.logger.Warn("Feed read error", slog.Any("error", domain.NewNetworkError("read", err)))
			}
			c.closeConnection()
			return
		}

		if !c.handleMessage(ctx, message) {
			return
		}
	}
}

// handleMessage decodes and forwards one message. Malformed messages are
// dropped. Returns false once ctx is done.
func (c *Channel) handleMessage(ctx context.Context, message []byte) bool {
	c.metrics.RecordFeedMessage(c.kind.String())

	ev, err := c.decode(message, c.opts.Epoch)
	if err != nil {
		c.metrics.RecordDecodeFailure(c.kind.String())
		c.logger.Debug("Feed message parse error", slog.Any("error", err))
		return true
	}

	if err := c.sink.Submit(ctx, ev); err != nil {
		if q, ok := ev.(*event.QuoteUpdateEvent); ok {
			event.ReleaseQuoteUpdateEvent(q)
		}
		return false
	}
	return true
}

// closeConnection safely closes the current stream
func (c *Channel) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
		c.metrics.DecrementConnections()
	}
	c.connected = false
}

// IsConnected returns connection status
func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
