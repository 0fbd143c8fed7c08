package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"optiondesk/internal/domain"
	"optiondesk/internal/infra"
)

const maxEventBytes = 1 << 20

var errStreamClosed = errors.New("feed stream closed")

// stream yields one feed message per Next call until it fails or is closed.
type stream interface {
	Next() ([]byte, error)
	Close() error
}

// dialer opens a stream to rawURL presenting token.
type dialer func(ctx context.Context, kind Kind, rawURL, token string, opts Options) (stream, error)

// dialerFor picks the transport from the URL scheme: http(s) is the
// backend's server-sent events stream, ws(s) a websocket bridge.
func dialerFor(rawURL string) (dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.NewFatalNetworkError("dial", err)
	}
	switch u.Scheme {
	case "http", "https":
		return dialSSE, nil
	case "ws", "wss":
		return dialWebsocket, nil
	}
	return nil, domain.NewFatalNetworkError("dial", fmt.Errorf("unsupported feed scheme %q", u.Scheme))
}

func authRejected(kind Kind, status int) error {
	return &domain.AuthError{Reason: fmt.Sprintf("%s feed rejected token (%d)", kind, status)}
}

// sseStream reads "data:" frames from a text/event-stream body. A frame ends
// at a blank line; multi-line data is joined with "\n". Comments, event, id
// and retry fields are ignored.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	idle    time.Duration
	timer   *time.Timer
	once    sync.Once
	closed  atomic.Bool
}

// sseClient carries no overall timeout: the response body is the stream.
var sseClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: handshakeTimeout,
	},
}

func dialSSE(ctx context.Context, kind Kind, rawURL, token string, opts Options) (stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewFatalNetworkError("dial", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := sseClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("dial", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, authRejected(kind, resp.StatusCode)
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, domain.NewNetworkError("dial", fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, domain.NewFatalNetworkError("dial", fmt.Errorf("status=%d", resp.StatusCode))
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		resp.Body.Close()
		return nil, domain.NewFatalNetworkError("dial", fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	s := &sseStream{body: resp.Body, scanner: scanner, idle: opts.ReadTimeout}
	// Stands in for a read deadline: a silent stream is closed and redialed.
	s.timer = time.AfterFunc(s.idle, func() { s.Close() })
	return s, nil
}

func (s *sseStream) Next() ([]byte, error) {
	var data []byte
	hasData := false
	for s.scanner.Scan() {
		s.timer.Reset(s.idle)
		line := s.scanner.Bytes()

		if len(line) == 0 {
			if hasData {
				return data, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if hasData {
			data = append(data, '\n')
		}
		data = append(data, value...)
		hasData = true
	}
	if s.closed.Load() {
		return nil, errStreamClosed
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.timer.Stop()
		err = s.body.Close()
	})
	return err
}

// wsStream reads text frames from a websocket bridge and keeps it alive with pings.
type wsStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	writeMu     sync.Mutex
}

func dialWebsocket(ctx context.Context, kind Kind, rawURL, token string, opts Options) (stream, error) {
	d := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	header.Set("User-Agent", infra.DefaultUserAgent)

	conn, resp, err := d.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, authRejected(kind, resp.StatusCode)
		}
		return nil, domain.NewNetworkError("dial", err)
	}

	s := &wsStream{conn: conn, readTimeout: opts.ReadTimeout}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})
	return s, nil
}

func (s *wsStream) Next() ([]byte, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	_, message, err := s.conn.ReadMessage()
	return message, err
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (s *wsStream) threadSafeWrite(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsStream) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// isClosedRead reports read errors that only mean the stream went away.
func isClosedRead(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, errStreamClosed) ||
		websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
