package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendWelcome(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	err := client.SendWelcome(context.Background(), "Acme Health", "admin@acme.test", "A B",
		"https://portal.example.com/acme_health_1")
	require.NoError(t, err)

	require.Equal(t, "admin@acme.test", got.To)
	require.Equal(t, "tenant_welcome", got.Template)
	require.Equal(t, "Acme Health", got.Data["tenant_name"])
	require.Equal(t, "https://portal.example.com/acme_health_1", got.Data["tenant_url"])
}

func TestSendWelcomeGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "smtp upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	err := client.SendWelcome(context.Background(), "Acme Health", "admin@acme.test", "A B", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestSendFailureSwallowsErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "smtp upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	// Must not panic or propagate anything, even when the gateway errors.
	client.SendFailure(context.Background(), "admin@acme.test", "Acme Health", "migrations failed")
	require.Equal(t, 1, calls)
}

func TestSendFailureUnreachableGateway(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())
	client.SendFailure(context.Background(), "admin@acme.test", "Acme Health", "migrations failed")
}
