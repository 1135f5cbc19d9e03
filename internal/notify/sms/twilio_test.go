package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/notify"
)

func TestDeliverPostsForm(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		tos  []string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		mu.Lock()
		tos = append(tos, r.PostForm.Get("To"))
		body = r.PostForm.Get("Body")
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ch, err := New(Config{
		AccountSID: "AC123", AuthToken: "secret", From: "+15550000000",
		To: []string{"+15551111111", "+15552222222"}, APIBase: srv.URL,
	}, srv.Client())
	require.NoError(t, err)

	summary := notify.Summary{Count: 1, Items: []notify.Item{{Title: "Free couch", URL: "https://x/1.html"}}}
	require.NoError(t, ch.Deliver(context.Background(), summary))
	assert.Equal(t, []string{"+15551111111", "+15552222222"}, tos)
	assert.Equal(t, summary.Text(), body)
}

func TestDeliverAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	ch, err := New(Config{AccountSID: "AC1", AuthToken: "t", From: "+1", To: []string{"bad"}, APIBase: srv.URL}, nil)
	require.NoError(t, err)
	err = ch.Deliver(context.Background(), notify.Summary{Count: 1})
	require.ErrorContains(t, err, "21211")
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncate("short", maxBodyLength))
	long := strings.Repeat("é", maxBodyLength+10)
	got := truncate(long, maxBodyLength)
	assert.Equal(t, maxBodyLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	_, err := New(Config{From: "+1", To: []string{"+2"}}, nil)
	require.Error(t, err)
	_, err = New(Config{AccountSID: "a", AuthToken: "b", To: []string{"+2"}}, nil)
	require.Error(t, err)
	_, err = New(Config{AccountSID: "a", AuthToken: "b", From: "+1"}, nil)
	require.Error(t, err)
}
