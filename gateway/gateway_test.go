package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/gaia-protocol/gaia-go/transport"
	"github.com/stretchr/testify/require"
)

// fakeKeyfileToken builds a minimal header.payload.signature compact JWT
// carrying claim.keys.apps[deviceID][appName].public_key = pubkey, the
// shape GetAppKeys decodes.
func fakeKeyfileToken(t *testing.T, deviceID, appName, pubkey string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256K","typ":"JWT"}`))
	payload := map[string]any{
		"claim": map[string]any{
			"keys": map[string]any{
				"apps": map[string]any{
					deviceID: map[string]any{
						appName: map[string]any{"public_key": pubkey},
					},
				},
			},
		},
	}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payloadBytes) + ".sig"
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	tc, err := transport.New(srv.URL, transport.WithMaxRetries(0))
	require.NoError(t, err)
	c, err := New(tc)
	require.NoError(t, err)
	return c, srv.Close
}

func TestPing(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/node/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	defer closeFn()

	require.NoError(t, c.Ping(context.Background()))
}

func TestMountSingleReaderNotFoundResolvesNil(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeFn()

	resp, err := c.MountSingleReader(context.Background(), "tok", "ds1", []string{"d1"}, []string{"pub1"})
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestMountSingleReaderSuccess(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/stores/ds1", r.URL.Path)
		w.Write([]byte(`{"datastore_id":"ds1","root_uuid":"uuid1"}`))
	})
	defer closeFn()

	resp, err := c.MountSingleReader(context.Background(), "tok", "ds1", []string{"d1"}, []string{"pub1"})
	require.NoError(t, err)
	require.Equal(t, "ds1", resp.DatastoreID)
}

func TestCreateDatastoreWithApiPassword(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Api-Password"))
		require.Equal(t, "pk1", r.URL.Query().Get("datastore_pubkey"))
		w.Write([]byte(`{"status":true,"root_urls":["u1"],"datastore_urls":["u2"]}`))
	})
	defer closeFn()

	resp, err := c.CreateDatastore(context.Background(), "", MutationBundle{}, "secret", "pk1")
	require.NoError(t, err)
	require.True(t, resp.Status)
}

func TestPutFile(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/stores/ds1/files", r.URL.Path)
		require.Equal(t, "/a", r.URL.Query().Get("path"))
		w.Write([]byte(`{"status":true,"root_urls":[],"datastore_urls":["https://x/a"]}`))
	})
	defer closeFn()

	resp, err := c.PutFile(context.Background(), "tok", "ds1", "/a", MutationBundle{})
	require.NoError(t, err)
	require.True(t, resp.Status)
}

func TestGetAppKeysExtractsPublicKeyFromProfileToken(t *testing.T) {
	token := fakeKeyfileToken(t, "dev1", "myapp", "pub-dev1")
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/names/bob.id/profile", r.URL.Path)
		records := []map[string]string{{"token": token}}
		body, err := json.Marshal(records)
		require.NoError(t, err)
		w.Write(body)
	})
	defer closeFn()

	keys, err := c.GetAppKeys(context.Background(), "tok", "bob.id", "myapp")
	require.NoError(t, err)
	require.Equal(t, "pub-dev1", keys["dev1"])
}

func TestGetAppKeysNoMatchingAppReturnsNotFound(t *testing.T) {
	token := fakeKeyfileToken(t, "dev1", "otherapp", "pub-dev1")
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		records := []map[string]string{{"token": token}}
		body, err := json.Marshal(records)
		require.NoError(t, err)
		w.Write(body)
	})
	defer closeFn()

	_, err := c.GetAppKeys(context.Background(), "tok", "bob.id", "myapp")
	require.True(t, apierr.Is(err, apierr.NotFound))
}

func TestGetFileConditionalNotModified(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})
	defer closeFn()

	body, unchanged, err := c.GetFile(context.Background(), "tok", "ds1", "/a", `"etag1"`)
	require.NoError(t, err)
	require.True(t, unchanged)
	require.Nil(t, body)
}
