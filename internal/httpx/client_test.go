package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/pwnedrange/pwnedrange/internal/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get_sendsUserAgent(t *testing.T) {
	var gotUA string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("00000:1\n11111:2"))
	}))
	defer srv.Close()

	c := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "pwnedrange-test/1.0", gotUA)
	assert.NoError(t, httpx.CheckStatus(resp))
}

func TestClient_Get_transportErrorWrapsSentinel(t *testing.T) {
	c := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})

	_, err := c.Get(context.Background(), "http://127.0.0.1:0")
	require.Error(t, err)
	assert.ErrorIs(t, err, httpx.ErrTransient)
}

func TestClient_ReadBody_capsAtMaxSize(t *testing.T) {
	const body = "00000:1\n11111:2\n22222:3\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := httpx.New(&httpx.Config{
		UserAgent:   "pwnedrange-test/1.0",
		MaxBodySize: 4 * datasize.B,
	})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	got, err := c.ReadBody(resp)
	require.NoError(t, err)
	assert.True(t, len(got) <= 4, "body must be truncated to MaxBodySize, got %d bytes", len(got))
	assert.True(t, strings.HasPrefix(body, string(got)))
}

func TestClient_ReadBody_readsFullBodyWithinLimit(t *testing.T) {
	const body = "00000:1\n11111:2"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	got, err := c.ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "upstream/1")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := httpx.New(&httpx.Config{UserAgent: "pwnedrange-test/1.0"})

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	err = httpx.CheckStatus(resp)
	require.Error(t, err)

	var statusErr *httpx.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.Got)
	assert.True(t, statusErr.IsTransient())
}
