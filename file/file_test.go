package file

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gaia-protocol/gaia-go/datastore"
	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"github.com/gaia-protocol/gaia-go/gateway"
	"github.com/gaia-protocol/gaia-go/session"
	"github.com/gaia-protocol/gaia-go/transport"
	"github.com/stretchr/testify/require"
)

func randomPrivateKey(t *testing.T) *gaiacrypto.PrivateKey {
	t.Helper()
	raw := make([]byte, 32)
	for {
		_, err := rand.Read(raw)
		require.NoError(t, err)
		var scalar secp256k1.ModNScalar
		if overflow := scalar.SetByteSlice(raw); !overflow && !scalar.IsZero() {
			break
		}
	}
	pk, err := gaiacrypto.DecodePrivateKeyBytes(raw)
	require.NoError(t, err)
	return pk
}

// fakeGateway models enough of the gateway surface in-memory to exercise
// put/get/delete/list round trips without a real server on the wire.
type fakeGateway struct {
	files map[string][]byte
	root  json.RawMessage
}

func newFakeGatewayServer(t *testing.T) (*httptest.Server, *fakeGateway) {
	t.Helper()
	fg := &fakeGateway{files: map[string][]byte{}}
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/stores/ds1/device_roots", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if fg.root == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(fg.root)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var bundle gateway.MutationBundle
		json.Unmarshal(body, &bundle)
		if len(bundle.Headers) > 0 {
			fg.root = json.RawMessage(bundle.Headers[0])
		}
		w.Write([]byte(`{"status":true}`))
	})

	mux.HandleFunc("/v1/stores/ds1/files", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("path")
		switch r.Method {
		case http.MethodGet:
			data, ok := fg.files[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var bundle gateway.MutationBundle
			json.Unmarshal(body, &bundle)
			decoded, _ := base64.StdEncoding.DecodeString(bundle.Payloads[0])
			fg.files[name] = decoded
			w.Write([]byte(`{"status":true,"datastore_urls":["https://example.com` + name + `"]}`))
		case http.MethodDelete:
			delete(fg.files, name)
			w.Write([]byte(`{"status":true}`))
		}
	})

	srv := httptest.NewServer(mux)
	return srv, fg
}

func setupClient(t *testing.T) (*Client, Options, *httptest.Server) {
	t.Helper()
	srv, _ := newFakeGatewayServer(t)
	t.Cleanup(srv.Close)

	tc, err := transport.New(srv.URL, transport.WithMaxRetries(0))
	require.NoError(t, err)
	gw, err := gateway.New(tc)
	require.NoError(t, err)

	store, err := session.Open(filepath.Join(t.TempDir(), "cache.bin"), []byte("pw"), nil)
	require.NoError(t, err)
	dsClient := datastore.New(gw, store, nil)
	fileClient := New(gw, dsClient, nil)

	priv := randomPrivateKey(t)
	opts := Options{
		Ctx: session.Context{
			DatastoreID: "ds1",
			DeviceID:    "dev1",
		},
		Priv:     priv,
		RootUUID: "uuid1",
	}
	return fileClient, opts, srv
}

func TestPutFileThenGetFileRoundTrip(t *testing.T) {
	c, opts, _ := setupClient(t)

	require.NoError(t, c.PutFile(context.Background(), opts, "/file1", []byte("hello world")))

	data, unchanged, err := c.GetFile(context.Background(), opts, "/file1", "")
	require.NoError(t, err)
	require.False(t, unchanged)
	require.Equal(t, "hello world", string(data))
}

func TestDeleteFileThenGetFileNotFound(t *testing.T) {
	c, opts, _ := setupClient(t)
	require.NoError(t, c.PutFile(context.Background(), opts, "/f", []byte("x")))
	require.NoError(t, c.DeleteFile(context.Background(), opts, "/f"))

	_, _, err := c.GetFile(context.Background(), opts, "/f", "")
	require.Error(t, err)
}

func TestDeleteNonexistentFileReturnsNotFound(t *testing.T) {
	c, opts, _ := setupClient(t)
	err := c.DeleteFile(context.Background(), opts, "/missing")
	require.Error(t, err)
}
