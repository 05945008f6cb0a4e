package datastore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"github.com/gaia-protocol/gaia-go/gateway"
	"github.com/gaia-protocol/gaia-go/session"
	"github.com/gaia-protocol/gaia-go/transport"
	"github.com/stretchr/testify/require"
)

// fakeKeyfileToken builds a minimal header.payload.signature compact JWT
// carrying claim.keys.apps[deviceID][appName].public_key = pubkey,
// mirroring gateway.GetAppKeys' expected profile-token shape.
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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tc, err := transport.New(srv.URL, transport.WithMaxRetries(0))
	require.NoError(t, err)
	gw, err := gateway.New(tc)
	require.NoError(t, err)

	store, err := session.Open(filepath.Join(t.TempDir(), "cache.bin"), []byte("pw"), nil)
	require.NoError(t, err)
	return New(gw, store, nil)
}

func TestCreateDatastoreRequestShape(t *testing.T) {
	priv := randomPrivateKey(t)
	req, err := CreateDatastoreRequest("datastore", priv, []string{"disk"}, "dev1", []string{"dev1"}, "uuid-1")
	require.NoError(t, err)
	require.Equal(t, "datastore", req.Descriptor.Type)
	require.NotEmpty(t, req.DatastoreSig)
	require.NotEmpty(t, req.RootSig)
	require.Len(t, req.RootTombstones, 1)
}

func TestMountReturnsNilOn404(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ctx, err := c.Mount(context.Background(), "tok", MountOptions{DatastoreID: "ds1", DeviceID: "dev1"})
	require.NoError(t, err)
	require.Nil(t, ctx)
}

func TestMountReturnsNilWhenPartialCreateFlagSet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway should not be called when partial-create flag is set")
	})
	require.NoError(t, c.SetCreateRetry("bid1", "app1"))

	ctx, err := c.Mount(context.Background(), "tok", MountOptions{BlockchainID: "bid1", AppName: "app1"})
	require.NoError(t, err)
	require.Nil(t, ctx)
}

func TestMountCachesContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"datastore_id":"ds1","root_uuid":"uuid1"}`))
	})

	ctx, err := c.Mount(context.Background(), "tok", MountOptions{DatastoreID: "ds1", DeviceID: "dev1"})
	require.NoError(t, err)
	require.Equal(t, "ds1", ctx.DatastoreID)

	state, err := c.store.Load()
	require.NoError(t, err)
	cached, ok := state.Context("ds1", "")
	require.True(t, ok)
	require.Equal(t, "ds1", cached.DatastoreID)
}

func TestFindDeviceRootInfoTreatsRecordedVersionAsOwnership(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ctxInfo := session.Context{DatastoreID: "ds1", DeviceID: "dev1"}

	// No recorded version yet: absence resolves to a freshly synthesized
	// empty root rather than an error.
	root, synthesized, err := c.FindDeviceRootInfo(context.Background(), "tok", ctxInfo, "uuid1", "pub1")
	require.NoError(t, err)
	require.True(t, synthesized)
	require.Equal(t, "ds1", root.Owner)

	// Once a version has been recorded for (datastore_id, root_uuid,
	// device_id), this device is expected to own the root, so a 404
	// from the gateway now surfaces as an error instead of being
	// silently treated as "never created".
	require.NoError(t, c.RecordRootVersion("ds1", "uuid1", "dev1", 42))
	_, _, err = c.FindDeviceRootInfo(context.Background(), "tok", ctxInfo, "uuid1", "pub1")
	require.Error(t, err)
}

func TestMountMultiReaderResolvesPeerPubkeysViaAppKeys(t *testing.T) {
	var gotPubkeys string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/names/bob.id/profile":
			token := fakeKeyfileToken(t, "dev1", "app1", "resolved-pub")
			records := []map[string]string{{"token": token}}
			body, _ := json.Marshal(records)
			w.Write(body)
		case r.URL.Path == "/v1/stores/app1":
			gotPubkeys = r.URL.Query().Get("device_pubkeys")
			w.Write([]byte(`{"datastore_id":"ds1","root_uuid":"uuid1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx, err := c.Mount(context.Background(), "tok", MountOptions{BlockchainID: "bob.id", AppName: "app1"})
	require.NoError(t, err)
	require.Equal(t, "ds1", ctx.DatastoreID)
	require.Equal(t, "resolved-pub", gotPubkeys)
}

func TestDeleteDatastoreRequestShape(t *testing.T) {
	priv := randomPrivateKey(t)
	req := DeleteDatastoreRequest(priv, "ds1", "uuid1", []string{"dev1", "dev2"})
	require.Len(t, req.DatastoreTombstones, 2)
	require.Len(t, req.RootTombstones, 2)
}
