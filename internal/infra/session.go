package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"optiondesk/internal/domain"
)

// HTTPSession is the SessionGate backed by the /login and /logout commands.
// It also serves the token to the transport and the feeds.
type HTTPSession struct {
	transport domain.Transport
	logger    *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPSession creates a logged-out session.
func NewHTTPSession(transport domain.Transport) *HTTPSession {
	return &HTTPSession{
		transport: transport,
		logger:    slog.Default().With("module", "session"),
	}
}

// Login exchanges credentials for a session token. A refusal from the backend
// comes back as an AuthError carrying the backend's message.
func (s *HTTPSession) Login(ctx context.Context, creds domain.Credentials) (string, error) {
	if creds.Login == "" || creds.Password == "" {
		return "", &domain.AuthError{Reason: "login and password are required"}
	}

	body, err := s.transport.Send(ctx, domain.EndpointLogin, creds)
	if err != nil {
		return "", err
	}

	var resp domain.LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &domain.DecodeError{Source: domain.EndpointLogin, Err: err}
	}
	if resp.Error != "" {
		return "", &domain.AuthError{Reason: resp.Error}
	}
	if resp.Token == "" {
		return "", &domain.AuthError{Reason: "backend returned no token"}
	}

	s.mu.Lock()
	s.token = resp.Token
	s.mu.Unlock()

	s.logger.Info("Logged in", slog.String("login", creds.Login))
	return resp.Token, nil
}

// Logout ends the session. The local token is dropped even if the request fails.
func (s *HTTPSession) Logout(ctx context.Context) error {
	if !s.IsAuthenticated() {
		return nil
	}
	_, err := s.transport.Send(ctx, domain.EndpointLogout, nil)

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Logout request failed; session dropped locally", slog.Any("error", err))
		return err
	}
	s.logger.Info("Logged out")
	return nil
}

// IsAuthenticated reports whether a token is held
func (s *HTTPSession) IsAuthenticated() bool {
	return s.Token() != ""
}

// Token returns the current session token, "" when logged out
func (s *HTTPSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
