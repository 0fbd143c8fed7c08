package domain

import (
	"context"
)

// Credentials are what the user types into the login form
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Transport sends one request/response command to the backend and returns the raw body.
type Transport interface {
	Send(ctx context.Context, endpoint string, payload any) ([]byte, error)
}

// SessionGate owns authentication state. Login returns the session token or an AuthError.
type SessionGate interface {
	Login(ctx context.Context, creds Credentials) (string, error)
	Logout(ctx context.Context) error
	IsAuthenticated() bool
}

// TokenSource hands out the current session token ("" when logged out)
type TokenSource interface {
	Token() string
}

// ActionJournal records the outcome of user actions
type ActionJournal interface {
	Record(ctx context.Context, rec *ActionRecord) error
}
