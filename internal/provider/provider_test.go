package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pwnedrange/pwnedrange/internal/httpx"
	"github.com/pwnedrange/pwnedrange/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Fetch_normalisesLineEndings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/00000", r.URL.Path)
		w.Write([]byte("AAAA:1\r\nBBBB:2\r\n"))
	}))
	defer srv.Close()

	client := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})
	p := provider.NewHTTPProvider(client, srv.URL+"/")

	body, err := p.Fetch(context.Background(), "00000")
	require.NoError(t, err)
	assert.Equal(t, "AAAA:1\nBBBB:2\n", body)
}

func TestHTTPProvider_Fetch_fourOhFourIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})
	p := provider.NewHTTPProvider(client, srv.URL+"/")

	_, err := p.Fetch(context.Background(), "00000")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUpstreamFatal)
	assert.False(t, provider.IsRetryable(err))
}

func TestHTTPProvider_Fetch_fiveOhThreeIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})
	p := provider.NewHTTPProvider(client, srv.URL+"/")

	_, err := p.Fetch(context.Background(), "00000")
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
}

// fakeProvider lets tests script a sequence of results per call.
type fakeProvider struct {
	results []result
	calls   int
}

type result struct {
	body string
	err  error
}

func (f *fakeProvider) Fetch(context.Context, string) (body string, err error) {
	r := f.results[f.calls]
	f.calls++

	return r.body, r.err
}

func TestFetchWithRetries_stopsImmediatelyOnFatalError(t *testing.T) {
	f := &fakeProvider{results: []result{
		{err: provider.ErrUpstreamFatal},
	}}

	_, err := provider.FetchWithRetries(context.Background(), f, "00000")
	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestMockProvider_countsRequestsPerPrefix(t *testing.T) {
	p := provider.NewMockProvider(nil)

	_, err := p.Fetch(context.Background(), "ABCDE")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), "ABCDE")
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), "00000")
	require.NoError(t, err)

	assert.Equal(t, 2, p.RequestCount("ABCDE"))
	assert.Equal(t, 1, p.RequestCount("00000"))
	assert.Equal(t, 0, p.RequestCount("FFFFF"))
}

func TestMockProvider_deterministicBody(t *testing.T) {
	p := provider.NewMockProvider(nil)

	body1, err := p.Fetch(context.Background(), "ABCDE")
	require.NoError(t, err)
	body2, err := p.Fetch(context.Background(), "ABCDE")
	require.NoError(t, err)

	assert.Equal(t, body1, body2, "the generated body depends only on the prefix, not the call count")
	assert.Contains(t, body1, ":")
}
