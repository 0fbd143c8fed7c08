package infra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiondesk/internal/domain"
)

type fixedToken string

func (f fixedToken) Token() string { return string(f) }

func TestBackendClient_Send(t *testing.T) {
	var gotAuth, gotRequestID, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewBackendClient(srv.URL+"/", time.Second, fixedToken("tok-1"))
	body, err := c.Send(context.Background(), domain.EndpointCancelOrder, map[string]string{"orderid": "7"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, domain.EndpointCancelOrder, gotPath)
	assert.Equal(t, "7", gotBody["orderid"])
	_, err = uuid.Parse(gotRequestID)
	assert.NoError(t, err)
}

func TestBackendClient_NilPayloadAndNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var v map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&v))
		assert.Empty(t, v)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewBackendClient(srv.URL, time.Second, nil)
	_, err := c.Send(context.Background(), domain.EndpointTestOrder, nil)
	require.NoError(t, err)
}

func TestBackendClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retriable bool
		unauth    bool
	}{
		{"server error", http.StatusBadGateway, true, false},
		{"bad request", http.StatusBadRequest, false, false},
		{"unauthorized", http.StatusUnauthorized, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewBackendClient(srv.URL, time.Second, nil).Send(context.Background(), domain.EndpointOrderBook, nil)
			var ne *domain.NetworkError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, domain.EndpointOrderBook, ne.Op)
			assert.Equal(t, tt.retriable, domain.IsRetriable(err))
			assert.Equal(t, tt.unauth, errors.Is(err, domain.ErrNotAuthenticated))
		})
	}
}

func TestBackendClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewBackendClient(url, time.Second, nil).Send(context.Background(), domain.EndpointLogin, nil)
	var ne *domain.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.IsRetriable())
}
