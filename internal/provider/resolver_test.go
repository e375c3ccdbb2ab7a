package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/logstream"
)

// chainServer answers eth_chainId with chainID.
func chainServer(t *testing.T, chainID int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x%x"}`, req.ID, chainID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// deadProxy returns a proxy URL nothing listens on.
func deadProxy(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()
	return "http://" + addr
}

func testConfig(url string) Config {
	return Config{
		URL:        url,
		ChainID:    1267,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Timeout:    2 * time.Second,
	}
}

func TestConnectDirect(t *testing.T) {
	srv := chainServer(t, 1267)
	logger, hub := logstream.NewCaptureLogger()

	conn, err := New(testConfig(srv.URL), logger).Connect(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.Direct)
	assert.Empty(t, conn.ProxyURL)
	assert.Equal(t, 0, hub.Count("Connection attempt failed"))
}

func TestConnectFallsBackAfterProxyFailures(t *testing.T) {
	srv := chainServer(t, 1267)
	logger, hub := logstream.NewCaptureLogger()

	conn, err := New(testConfig(srv.URL), logger).Connect(context.Background(), deadProxy(t))
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.Direct)
	assert.Equal(t, 3, hub.Count("Connection attempt failed"))
	assert.Equal(t, 1, hub.Count("Proxy failed, falling back to direct connection"))

	var attempts []string
	for _, ev := range hub.Recent(0) {
		if ev.Message == "Connection attempt failed" {
			attempts = append(attempts, ev.Attrs["attempt"])
		}
	}
	assert.Equal(t, []string{"1/3", "2/3", "3/3"}, attempts)
}

func TestConnectThroughProxy(t *testing.T) {
	srv := chainServer(t, 1267)

	var proxied atomic.Int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		req, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		req.Header = r.Header.Clone()
		resp, err := http.DefaultTransport.RoundTrip(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))
	defer proxySrv.Close()

	conn, err := New(testConfig(srv.URL), nil).Connect(context.Background(), proxySrv.URL)
	require.NoError(t, err)
	defer conn.Close()

	assert.False(t, conn.Direct)
	assert.Equal(t, proxySrv.URL, conn.ProxyURL)
	assert.Positive(t, proxied.Load())
}

func TestConnectChainIDMismatchIsPermanent(t *testing.T) {
	srv := chainServer(t, 1)
	logger, hub := logstream.NewCaptureLogger()

	_, err := New(testConfig(srv.URL), logger).Connect(context.Background(), "")
	require.Error(t, err)

	var mismatch *errs.ChainIDMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.EqualValues(t, 1267, mismatch.Expected.Int64())
	assert.EqualValues(t, 1, mismatch.Got.Int64())
	assert.Equal(t, 1, hub.Count("Connection attempt failed"))
	assert.Equal(t, 0, hub.Count("Proxy failed, falling back to direct connection"))
}

func TestConnectUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	logger, hub := logstream.NewCaptureLogger()

	_, err := New(testConfig(url), logger).Connect(context.Background(), deadProxy(t))
	require.Error(t, err)

	var unavailable *errs.ProviderUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 4, unavailable.Attempts)
	assert.True(t, errs.Retryable(err))
	assert.Equal(t, 1, hub.Count("Proxy failed, falling back to direct connection"))
}

func TestConnectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig("http://127.0.0.1:1"), nil).Connect(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
