package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/stretchr/testify/require"
)

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/v1/node/ping"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   apierr.Kind
	}{
		{http.StatusBadRequest, apierr.Perm},
		{http.StatusUnauthorized, apierr.Invalid},
		{http.StatusForbidden, apierr.Access},
		{http.StatusNotFound, apierr.NotFound},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c, err := New(srv.URL, WithMaxRetries(0))
		require.NoError(t, err)

		_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
		require.Error(t, err)
		kind, ok := apierr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, tc.kind, kind)
		srv.Close()
	}
}

func TestDoRetries5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithMaxRetries(5))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestDoDoesNotRetry4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithMaxRetries(5))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
