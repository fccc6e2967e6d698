package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/learn"
)

func newTestFetcher(store learn.Store) *Fetcher {
	f := NewFetcher(store, FetcherConfig{
		RequestTimeout: 2 * time.Second,
		TotalTimeout:   5 * time.Second,
		MaxRetries:     2,
		BackoffBase:    time.Millisecond,
	}, zerolog.Nop())
	f.initDelay = func() time.Duration { return 0 }
	return f
}

func TestFetchSuccess(t *testing.T) {
	var gotUA atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("<html>ok</html>"))
	}))
	defer ts.Close()

	store := learn.NewMemoryStore([]string{"test-agent"}, nil)
	f := newTestFetcher(store)

	res, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Contains(t, res.Body, "ok")
	assert.Equal(t, "html-fetch", string(res.Source))
	assert.Equal(t, "test-agent", gotUA.Load())

	// Outcome recorded against the chosen agent.
	ua, err := store.BestUserAgent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-agent", ua)
}

func TestFetchRetriesOnServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer ts.Close()

	f := newTestFetcher(learn.NewMemoryStore([]string{"ua"}, nil))

	res, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Contains(t, res.Body, "recovered")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := newTestFetcher(learn.NewMemoryStore([]string{"ua"}, nil))

	_, err := f.Fetch(context.Background(), ts.URL)
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	f := newTestFetcher(learn.NewMemoryStore([]string{"ua"}, nil))

	_, err := f.Fetch(context.Background(), ts.URL)
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusTooManyRequests, fe.Status)
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchInvalidatesChoiceAfterFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	store := learn.NewMemoryStore([]string{"ua-a", "ua-b"}, nil)
	f := newTestFetcher(store)

	_, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)

	// The failed attempt evicted the cached choice, so the store was asked
	// again; both attempts recorded either way.
	_, found := f.choices.Get(choiceKeyUA)
	assert.True(t, found)
	assert.Equal(t, int32(2), calls.Load())
}
