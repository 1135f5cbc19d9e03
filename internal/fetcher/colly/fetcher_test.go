package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "User-agent: *\nDisallow: /private")
	})
	mux.HandleFunc("/search/zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-UA", r.UserAgent())
		w.Header().Set("X-Echo-Lang", r.Header.Get("Accept-Language"))
		w.Header().Set("X-Echo-Accept", r.Header.Get("Accept"))
		fmt.Fprint(w, "<html>results</html>")
	})
	mux.HandleFunc("/gone.html", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	})
	mux.HandleFunc("/slow-down", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSuccessSendsBrowserHeaders(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	f := New(Config{RespectRobots: true, Headers: http.Header{"X-Extra": {"1"}}}, nil, nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/search/zip", Kind: crawler.PageSearch})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>results</html>", string(resp.Body))
	assert.Equal(t, DefaultUserAgent, resp.Headers.Get("X-Echo-UA"))
	assert.Equal(t, defaultAcceptLanguage, resp.Headers.Get("X-Echo-Lang"))
	assert.Equal(t, defaultAccept, resp.Headers.Get("X-Echo-Accept"))
	assert.True(t, resp.OK())
}

func TestFetchRepeatedURL(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	f := New(Config{}, nil, nil)

	for range 2 {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/search/zip", Kind: crawler.PageSearch})
		require.NoError(t, err)
	}
}

func TestFetchNonSuccessIsReturned(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	f := New(Config{}, nil, nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/gone.html", Kind: crawler.PageDetail})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestFetchBlockedStatuses(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	f := New(Config{}, nil, nil)

	for _, path := range []string{"/forbidden", "/slow-down"} {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + path, Kind: crawler.PageDetail})
		require.Error(t, err, path)
		assert.True(t, errors.Is(err, crawler.ErrBlocked), path)
	}
}

func TestFetchRobotsDisallowed(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	f := New(Config{RespectRobots: true}, nil, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/thing", Kind: crawler.PageDetail})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrPolicyViolation))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	f := New(Config{Timeout: 100 * time.Millisecond}, nil, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/slow", Kind: crawler.PageDetail})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrTimeout), err.Error())
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	f := New(Config{}, nil, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: addr + "/search/zip", Kind: crawler.PageSearch})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrNetwork), err.Error())
}

func TestFetchUsesPacer(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	pacer := &recordingPacer{}
	f := New(Config{}, pacer, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/search/zip", Kind: crawler.PageSearch})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/gone.html", Kind: crawler.PageDetail})
	require.NoError(t, err)
	assert.Equal(t, []crawler.PageKind{crawler.PageSearch, crawler.PageDetail}, pacer.kinds)

	pacer.err = context.Canceled
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/search/zip", Kind: crawler.PageSearch})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil, nil)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	assert.Equal(t, "keep-alive", collyReq.Headers.Get("Connection"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	assert.True(t, errors.Is(classifyError("u", colly.ErrRobotsTxtBlocked), crawler.ErrPolicyViolation))
	assert.True(t, errors.Is(classifyError("u", context.DeadlineExceeded), crawler.ErrTimeout))
	assert.True(t, errors.Is(classifyError("u", errors.New("connection reset")), crawler.ErrNetwork))

	canceled := classifyError("u", context.Canceled)
	assert.True(t, errors.Is(canceled, context.Canceled))
	assert.False(t, errors.Is(canceled, crawler.ErrNetwork))
}

type recordingPacer struct {
	kinds []crawler.PageKind
	err   error
}

func (p *recordingPacer) Wait(_ context.Context, kind crawler.PageKind) error {
	if p.err != nil {
		return p.err
	}
	p.kinds = append(p.kinds, kind)
	return nil
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
