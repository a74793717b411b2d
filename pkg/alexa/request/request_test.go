package request

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	client   *http.Client
	base     *url.URL
	closing  atomic.Bool
	closed   atomic.Bool
	observed atomic.Int32
	rejected atomic.Int32
}

func newFakeTransport(t *testing.T, srv *httptest.Server) *fakeTransport {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &fakeTransport{client: srv.Client(), base: u}
}

func (f *fakeTransport) HTTPClient() *http.Client { return f.client }
func (f *fakeTransport) BaseURL() *url.URL        { return f.base }
func (f *fakeTransport) CloseRequested() bool     { return f.closing.Load() }
func (f *fakeTransport) Closed() bool             { return f.closed.Load() }
func (f *fakeTransport) Observe(*http.Response)   { f.observed.Add(1) }
func (f *fakeTransport) Unauthorized(context.Context) {
	f.rejected.Add(1)
}
func (f *fakeTransport) Header() http.Header {
	return http.Header{"User-Agent": {"myecho-test"}, "Csrf": {"12345"}}
}

func fastPolicy(retries uint64) Policy {
	return Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		MaxRetries:      retries,
		MaxElapsedTime:  10 * time.Second,
	}
}

func testContext(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}

func TestRateLimitedRetriesWithIncreasingDelay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var delays []time.Duration
	e := New(newFakeTransport(t, srv), fastPolicy(3), WithNotify(func(err error, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(t, err, types.ErrTooManyRequests)
		delays = append(delays, d)
	}))

	_, err := e.Do(testContext(t), &Request{Method: http.MethodGet, URL: "/api/bootstrap"})
	require.ErrorIs(t, err, types.ErrTooManyRequests)

	assert.Equal(t, int32(4), hits.Load())
	require.Len(t, delays, 3)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestRateLimitedThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := New(newFakeTransport(t, srv), fastPolicy(5))
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, e.GetJSON(testContext(t), "/api/ping", &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), hits.Load())
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := newFakeTransport(t, srv)
	e := New(tr, fastPolicy(5))
	_, err := e.Do(testContext(t), &Request{Method: http.MethodGet, URL: "/api/bootstrap"})
	assert.ErrorIs(t, err, types.ErrLogin)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), tr.rejected.Load())
}

func TestCloseRequestedFailsWithoutIO(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tr := newFakeTransport(t, srv)
	e := New(tr, fastPolicy(5))

	tr.closing.Store(true)
	_, err := e.Do(testContext(t), &Request{Method: http.MethodPost, URL: "/api/behaviors/preview", JSON: map[string]string{}})
	assert.ErrorIs(t, err, types.ErrCloseRequested)

	tr.closing.Store(false)
	tr.closed.Store(true)
	_, err = e.Do(testContext(t), &Request{Method: http.MethodGet, URL: "/api/bootstrap"})
	assert.ErrorIs(t, err, types.ErrCloseRequested)

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, int32(0), tr.observed.Load())
}

func TestConnectionErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tr := newFakeTransport(t, srv)
	srv.Close()

	retries := 0
	e := New(tr, fastPolicy(2), WithNotify(func(err error, d time.Duration) {
		retries++
	}))
	_, err := e.Do(testContext(t), &Request{Method: http.MethodGet, URL: "/api/bootstrap"})
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, 2, retries)
}

func TestOtherStatusPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "myecho-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "12345", r.Header.Get("csrf"))
		assert.Equal(t, "v", r.URL.Query().Get("k"))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	tr := newFakeTransport(t, srv)
	e := New(tr, fastPolicy(5))
	resp, err := e.Do(testContext(t), &Request{Method: http.MethodGet, URL: "/x", Query: url.Values{"k": {"v"}}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), tr.observed.Load())

	err = e.GetJSON(testContext(t), "/x?k=v", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "boom", se.Body)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))
	d := ParseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	assert.Greater(t, d, 59*time.Minute)
}

func TestHintKeepsDelaysIncreasing(t *testing.T) {
	b := &hinted{BackOff: fastPolicy(5).backOff()}
	b.Reset()
	b.hint = time.Minute
	delays := []time.Duration{b.NextBackOff(), b.NextBackOff(), b.NextBackOff()}
	assert.Equal(t, time.Minute, delays[0])
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}

	b.Reset()
	assert.Equal(t, time.Millisecond, b.NextBackOff())
}

func TestRetryAfterThenIncreasingDelays(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var delays []time.Duration
	e := New(newFakeTransport(t, srv), fastPolicy(2), WithNotify(func(err error, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
	}))

	_, err := e.Do(testContext(t), &Request{Method: http.MethodGet, URL: "/api/bootstrap"})
	require.ErrorIs(t, err, types.ErrTooManyRequests)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delays, 2)
	assert.Equal(t, time.Second, delays[0])
	assert.Greater(t, delays[1], delays[0])
}
