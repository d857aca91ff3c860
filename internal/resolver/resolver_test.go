package resolver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint mimics the federation service: one capability, a token per
// invocation, and a configurable number of receipts before the result.
type fakeEndpoint struct {
	receipts  int32
	polls     atomic.Int32
	exception string
}

func (f *fakeEndpoint) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(capabilitiesResponse{Capabilities: []string{"btdht-ip4"}})
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Capability != "btdht-ip4" {
			http.Error(w, "bad invocation", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(invokeResponse{Token: "tok-1"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok-1" {
			http.Error(w, "unknown token", http.StatusBadRequest)
			return
		}
		if f.exception != "" {
			json.NewEncoder(w).Encode(resultResponse{Status: "exception", Message: f.exception})
			return
		}
		if f.polls.Add(1) <= f.receipts {
			json.NewEncoder(w).Encode(resultResponse{Status: "receipt"})
			return
		}
		json.NewEncoder(w).Encode(resultResponse{
			Status: "result",
			Addresses: []Address{
				{IP: "192.0.2.1", Port: 6881},
				{IP: "192.0.2.2", Port: 6882},
			},
		})
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(srv.URL, timeout)
	require.NoError(t, err)
	c.pollInterval = 5 * time.Millisecond
	return c
}

func TestRequestPollsUntilResult(t *testing.T) {
	ep := &fakeEndpoint{receipts: 2}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	c := newTestClient(t, srv, time.Second)
	jobs, err := c.Request("btdht-ip4", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "192.0.2.1", jobs[0].Addr)
	assert.Equal(t, uint16(6881), jobs[0].Port)
	assert.GreaterOrEqual(t, ep.polls.Load(), int32(3), "receipts should be polled through")
}

func TestRequestUnsupportedCapability(t *testing.T) {
	srv := httptest.NewServer((&fakeEndpoint{}).handler())
	defer srv.Close()

	c := newTestClient(t, srv, time.Second)
	_, err := c.Request("btdht-ip6", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "btdht-ip6")
}

func TestRequestTimesOut(t *testing.T) {
	// The endpoint only ever answers with receipts.
	srv := httptest.NewServer((&fakeEndpoint{receipts: 1 << 30}).handler())
	defer srv.Close()

	c := newTestClient(t, srv, 50*time.Millisecond)
	_, err := c.Request("btdht-ip4", 2)
	require.ErrorIs(t, err, ErrRequestTimeout)
}

func TestRequestSurfacesException(t *testing.T) {
	srv := httptest.NewServer((&fakeEndpoint{exception: "source exhausted"}).handler())
	defer srv.Close()

	c := newTestClient(t, srv, time.Second)
	_, err := c.Request("btdht-ip4", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source exhausted")
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer((&fakeEndpoint{}).handler())
	srv.Close()

	_, err := New(srv.URL, time.Second)
	assert.Error(t, err)
}
