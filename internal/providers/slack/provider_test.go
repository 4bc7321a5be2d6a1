package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsMessage(t *testing.T) {
	var got webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	provider := NewWebhook(srv.URL, time.Second)
	require.NoError(t, provider.PostMessage(context.Background(), "#security", "signature rejected"))
	assert.Equal(t, "#security", got.Channel)
	assert.Equal(t, "signature rejected", got.Text)
}

func TestWebhookReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).PostMessage(context.Background(), "", "x")
	assert.Error(t, err)
}

func TestNewFromConfigWithoutURL(t *testing.T) {
	provider := NewFromConfig(config.Config{})
	_, ok := provider.(*NoOpProvider)
	assert.True(t, ok)
}
