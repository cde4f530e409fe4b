package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookClientDeliver(t *testing.T) {
	var got deliverRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Internal-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL+"/deliver", "secret", time.Second)
	require.NoError(t, c.Deliver(context.Background(), "U1", "hi"))
	assert.Equal(t, "secret", key)
	assert.Equal(t, deliverRequest{UserID: "U1", Type: "text", Text: "hi"}, got)
}

func TestWebhookClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "", time.Second)
	require.NoError(t, c.Deliver(context.Background(), "U1", "hi"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestWebhookClientClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown user", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, "", time.Second)
	err := c.Deliver(context.Background(), "U1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNoopClient(t *testing.T) {
	assert.Nil(t, NewWebhookClient(" ", "", time.Second))
	assert.NoError(t, NewNoopClient(zerolog.Nop()).Deliver(context.Background(), "U1", "hi"))
}
