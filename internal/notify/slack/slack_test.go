package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/notify"
)

func TestDeliverPostsText(t *testing.T) {
	t.Parallel()
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := New(Config{WebhookURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	summary := notify.Summary{Count: 1, Items: []notify.Item{{Title: "Free couch", URL: "https://x/1.html"}}}

	require.NoError(t, ch.Deliver(context.Background(), summary))
	assert.Equal(t, summary.Text(), got["text"])
	assert.Equal(t, "slack", ch.Name())
}

func TestDeliverNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	ch, err := New(Config{WebhookURL: srv.URL}, nil)
	require.NoError(t, err)
	err = ch.Deliver(context.Background(), notify.Summary{Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestNewRequiresWebhook(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
