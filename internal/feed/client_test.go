package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trimet-twin/pipeline/internal/config"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		FeedURL:        url,
		AppID:          "secret-token",
		UserAgent:      "test-agent",
		AcceptEncoding: "gzip, deflate",
		FeedTimeout:    2 * time.Second,
	}
}

func TestFetch_SendsFixedRequest(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		w.Write([]byte(`{"resultSet":{}}`))
	}))
	defer srv.Close()

	body, err := NewClient(testConfig(srv.URL + "/ws/v2/vehicles")).Fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"resultSet":{}}`, string(body))

	got := <-requests
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/ws/v2/vehicles", got.URL.Path)
	assert.Equal(t, "secret-token", got.URL.Query().Get("appID"))
	assert.Equal(t, "test-agent", got.Header.Get("User-Agent"))
	assert.Equal(t, "*/*", got.Header.Get("Accept"))
	assert.Equal(t, "gzip, deflate", got.Header.Get("Accept-Encoding"))
}

func TestFetch_DecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`{"resultSet":{"vehicle":[]}}`))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	body, err := NewClient(testConfig(srv.URL)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"resultSet":{"vehicle":[]}}`, string(body))
}

func TestFetch_NonOKIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Fetch(context.Background())
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestFetch_UnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(testConfig(url)).Fetch(context.Background())

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.NotNil(t, te.Unwrap())
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.FeedTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewClient(cfg).Fetch(context.Background())

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Less(t, time.Since(start), time.Second)
}
