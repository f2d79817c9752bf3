package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "0x1111111111111111111111111111111111114444"

type recorded struct {
	path  string
	query url.Values
}

type requests struct {
	mu   sync.Mutex
	list []recorded
}

func (r *requests) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.list...)
}

func fakeRelay(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *requests) {
	t.Helper()
	seen := &requests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.list = append(seen.list, recorded{path: r.URL.Path, query: r.URL.Query()})
		seen.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"relayctl", "--server", srv.URL}, args...))
	return out.String(), err
}

func TestQuoteBuy(t *testing.T) {
	srv, seen := fakeRelay(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tradable":true,"market":"internal"}`))
	})
	out, err := run(t, srv, "quote", "buy", "--bnb", "0.25", "--wallet", "3", token)
	require.NoError(t, err)
	assert.Contains(t, out, `"market": "internal"`)

	require.Len(t, seen.all(), 1)
	got := seen.all()[0]
	assert.Equal(t, "/api/bsc/quote/buy", got.path)
	assert.Equal(t, token, got.query.Get("token"))
	assert.Equal(t, "0.25", got.query.Get("bnb_cost"))
	assert.Equal(t, "3", got.query.Get("walletId"))
	assert.Equal(t, "2", got.query.Get("slippage"))
}

func TestQuoteSellNeedsSize(t *testing.T) {
	srv, seen := fakeRelay(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := run(t, srv, "quote", "sell", "--wallet", "1", token)
	assert.ErrorContains(t, err, "--percent or --amount-wei")
	assert.Empty(t, seen.all())

	_, err = run(t, srv, "quote", "sell", "--wallet", "1", "--percent", "50", token)
	require.NoError(t, err)
	assert.Equal(t, "50", seen.all()[0].query.Get("percent"))
}

func TestAPIErrorIsReturned(t *testing.T) {
	srv, _ := fakeRelay(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"INVALID_TOKEN_ADDRESS","message":"invalid token address"}`))
	})
	_, err := run(t, srv, "status", "0x12")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TOKEN_ADDRESS (400)")
}

func TestTxWait(t *testing.T) {
	var n atomic.Int32
	srv, seen := fakeRelay(t, func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","confirmations":1}`))
	})
	out, err := run(t, srv, "tx", "--wait", "--interval", "10ms", "0xabc")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "success"`)
	assert.Len(t, seen.all(), 3)
	assert.Equal(t, "0xabc", seen.all()[0].query.Get("hash"))
}

func TestTxWaitTimeoutReturnsLast(t *testing.T) {
	srv, _ := fakeRelay(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})
	out, err := run(t, srv, "tx", "--wait", "--interval", "10ms", "--max-wait", "50ms", "0xabc")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "pending"`)
}

func TestBalancesAndWallets(t *testing.T) {
	srv, seen := fakeRelay(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	_, err := run(t, srv, "balances", "--wallet", "2", "--token", token)
	require.NoError(t, err)
	_, err = run(t, srv, "wallets")
	require.NoError(t, err)

	require.Len(t, seen.all(), 2)
	assert.Equal(t, "/api/bsc/balances", seen.all()[0].path)
	assert.Equal(t, "2", seen.all()[0].query.Get("walletId"))
	assert.Equal(t, token, seen.all()[0].query.Get("token"))
	assert.Equal(t, "/api/wallets", seen.all()[1].path)
}
