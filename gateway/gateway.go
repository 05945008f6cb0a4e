// Package gateway provides typed bindings for every endpoint in spec
// §6's external-interface table: ping, auth, mount (single- and
// multi-reader), create, delete, device roots, headers, files, listing,
// and profile resolution.
//
// Grounded on the teacher's common/proto.go typed ReqXxx wrapper idiom:
// one small function per RPC, each building a request, delegating to a
// single shared transport call, and decoding a typed response.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/gaia-protocol/gaia-go/schema"
	"github.com/gaia-protocol/gaia-go/transport"
)

// Client binds a transport.Client to the gateway's endpoint shapes.
type Client struct {
	t       *transport.Client
	schemas *schema.Registry
}

// New builds a Client backed by t, compiling the response-validation
// schema registry once up front (spec §2, the HTTP envelope "maps
// status codes to a stable error taxonomy and validates responses
// against a schema").
func New(t *transport.Client) (*Client, error) {
	reg, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("gateway: compile schema registry: %w", err)
	}
	return &Client{t: t, schemas: reg}, nil
}

// validate checks body against the named schema, wrapping any
// violation as a RemoteIO apierr so callers can treat it the same way
// as a transport failure.
func (c *Client) validate(name schema.Name, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if err := c.schemas.Validate(name, body); err != nil {
		return apierr.Wrap(apierr.RemoteIO, err, "response failed schema validation")
	}
	return nil
}

// Ping checks gateway liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/node/ping"})
	return err
}

// Auth exchanges an auth JWT for a session bearer token.
func (c *Client) Auth(ctx context.Context, authJWT string) (string, error) {
	q := url.Values{"authRequest": {authJWT}}
	resp, err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/v1/auth", Query: q})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(resp.Body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// MountSingleReader resolves a mount context by datastore id and device
// ids/pubkeys (spec §4.5 mode 1).
func (c *Client) MountSingleReader(ctx context.Context, bearer, datastoreID string, deviceIDs, devicePubkeys []string) (*MountResponse, error) {
	q := url.Values{
		"device_ids":     {strings.Join(deviceIDs, ",")},
		"device_pubkeys": {strings.Join(devicePubkeys, ",")},
	}
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID),
		Query:  q,
		Bearer: bearer,
	})
	if err != nil {
		if apierr.Is(err, apierr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return c.decodeMountResponse(resp.Body)
}

// MountMultiReader resolves a mount context by blockchain id and app name
// (spec §4.5 mode 2). devicePubkeys, when non-empty, are included the
// same way MountSingleReader includes them, letting a caller that
// already resolved peer app pubkeys (getAppKeys) pass them along
// instead of relying on the gateway to look them up itself.
func (c *Client) MountMultiReader(ctx context.Context, bearer, appName, blockchainID string, devicePubkeys []string) (*MountResponse, error) {
	q := url.Values{"blockchain_id": {blockchainID}}
	if len(devicePubkeys) > 0 {
		q.Set("device_pubkeys", strings.Join(devicePubkeys, ","))
	}
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/stores/" + url.PathEscape(appName),
		Query:  q,
		Bearer: bearer,
	})
	if err != nil {
		if apierr.Is(err, apierr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return c.decodeMountResponse(resp.Body)
}

// MountResponse is the decoded body of a successful mount request.
type MountResponse struct {
	DatastoreID string          `json:"datastore_id"`
	RootUUID    string          `json:"root_uuid"`
	Descriptor  json.RawMessage `json:"datastore"`
	Peers       []PeerPubkey    `json:"peers"`
}

type PeerPubkey struct {
	DeviceID  string `json:"device_id"`
	PublicKey string `json:"public_key"`
}

func (c *Client) decodeMountResponse(body []byte) (*MountResponse, error) {
	var out MountResponse
	if err := decodeJSON(body, &out); err != nil {
		return nil, err
	}
	if len(out.Descriptor) > 0 {
		if err := c.validate(schema.DatastoreDescriptor, out.Descriptor); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

// MutationBundle is the shared body for create/delete/file mutations
// (spec §6 "Request body for mutation endpoints").
type MutationBundle struct {
	Headers      []string `json:"headers"`
	Payloads     []string `json:"payloads"`
	Signatures   []string `json:"signatures"`
	Tombstones   []string `json:"tombstones"`
	DatastoreStr string   `json:"datastore_str"`
	DatastoreSig string   `json:"datastore_sig"`
}

// CreateResponse is the put-datastore response (status + replica URLs).
type CreateResponse struct {
	Status        bool     `json:"status"`
	DataPubkey    string   `json:"data_pubkey,omitempty"`
	RootURLs      []string `json:"root_urls"`
	DatastoreURLs []string `json:"datastore_urls"`
}

// CreateDatastore POSTs a create bundle, authenticating with a bearer
// session token, or with an API password and explicit datastore pubkey
// (the auxiliary administrative path, spec §4.5).
func (c *Client) CreateDatastore(ctx context.Context, bearer string, bundle MutationBundle, apiPassword, datastorePubkey string) (*CreateResponse, error) {
	body, err := encodeJSON(bundle)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	headers := map[string]string{}
	if bearer == "" && apiPassword != "" {
		headers["X-Api-Password"] = apiPassword
		q.Set("datastore_pubkey", datastorePubkey)
	}
	resp, err := c.t.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/v1/stores",
		Query:   q,
		Body:    body,
		Headers: headers,
		Bearer:  bearer,
	})
	if err != nil {
		return nil, err
	}
	if err := c.validate(schema.PutDatastoreResp, resp.Body); err != nil {
		return nil, err
	}
	var out CreateResponse
	if err := decodeJSON(resp.Body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDatastore DELETEs with signed datastore and root tombstones.
func (c *Client) DeleteDatastore(ctx context.Context, bearer string, datastoreTombstones, rootTombstones []string) error {
	body, err := encodeJSON(map[string]any{
		"datastore_tombstones": datastoreTombstones,
		"root_tombstones":      rootTombstones,
	})
	if err != nil {
		return err
	}
	_, err = c.t.Do(ctx, transport.Request{Method: http.MethodDelete, Path: "/v1/stores", Body: body, Bearer: bearer})
	return err
}

// GetDeviceRoot reads the current device root page for thisDeviceID.
func (c *Client) GetDeviceRoot(ctx context.Context, bearer, datastoreID, thisDeviceID string) ([]byte, error) {
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID) + "/device_roots",
		Query:  url.Values{"this_device_id": {thisDeviceID}},
		Bearer: bearer,
	})
	if err != nil {
		return nil, err
	}
	if err := c.validate(schema.DeviceRootPage, resp.Body); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// PutDeviceRoot writes device root page for datastoreID. sync, when
// true, requests the gateway wait for replication to settle before
// responding.
func (c *Client) PutDeviceRoot(ctx context.Context, bearer, datastoreID string, bundle MutationBundle, sync bool) error {
	body, err := encodeJSON(bundle)
	if err != nil {
		return err
	}
	q := url.Values{"sync": {strconv.FormatBool(sync)}}
	_, err = c.t.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID) + "/device_roots",
		Query:  q,
		Body:   body,
		Bearer: bearer,
	})
	return err
}

// GetFileHeader fetches the file header (urls, data_hash, timestamp).
func (c *Client) GetFileHeader(ctx context.Context, bearer, datastoreID, path, thisDeviceID string) ([]byte, error) {
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID) + "/headers",
		Query:  url.Values{"path": {path}, "this_device_id": {thisDeviceID}},
		Bearer: bearer,
	})
	if err != nil {
		return nil, err
	}
	if err := c.validate(schema.FileEntry, resp.Body); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetFile fetches raw file bytes.
func (c *Client) GetFile(ctx context.Context, bearer, datastoreID, path string, ifNoneMatch string) ([]byte, bool, error) {
	headers := map[string]string{}
	if ifNoneMatch != "" {
		headers["If-None-Match"] = ifNoneMatch
	}
	resp, err := c.t.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    "/v1/stores/" + url.PathEscape(datastoreID) + "/files",
		Query:   url.Values{"path": {path}},
		Headers: headers,
		Bearer:  bearer,
	})
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}
	return resp.Body, false, nil
}

// GetListing fetches the full root listing.
func (c *Client) GetListing(ctx context.Context, bearer, datastoreID string, page string) ([]byte, error) {
	q := url.Values{}
	if page != "" {
		q.Set("page", page)
	}
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID) + "/listing",
		Query:  q,
		Bearer: bearer,
	})
	if err != nil {
		return nil, err
	}
	if err := c.validate(schema.DeviceRootPage, resp.Body); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// PutFile creates or updates a file.
func (c *Client) PutFile(ctx context.Context, bearer, datastoreID, path string, bundle MutationBundle) (*CreateResponse, error) {
	body, err := encodeJSON(bundle)
	if err != nil {
		return nil, err
	}
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID) + "/files",
		Query:  url.Values{"path": {path}},
		Body:   body,
		Bearer: bearer,
	})
	if err != nil {
		return nil, err
	}
	if err := c.validate(schema.PutDatastoreResp, resp.Body); err != nil {
		return nil, err
	}
	var out CreateResponse
	if err := decodeJSON(resp.Body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFile deletes a file with signed tombstones.
func (c *Client) DeleteFile(ctx context.Context, bearer, datastoreID, path string, bundle MutationBundle) error {
	body, err := encodeJSON(bundle)
	if err != nil {
		return err
	}
	_, err = c.t.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   "/v1/stores/" + url.PathEscape(datastoreID) + "/files",
		Query:  url.Values{"path": {path}},
		Body:   body,
		Bearer: bearer,
	})
	return err
}

// GetProfile resolves a blockchain id's published profile, used to
// extract peer app pubkeys (spec §4.7 getAppKeys).
func (c *Client) GetProfile(ctx context.Context, bearer, blockchainID string) ([]byte, error) {
	resp, err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/names/" + url.PathEscape(blockchainID) + "/profile",
		Bearer: bearer,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetAppKeys fetches blockchainID's published profile and extracts the
// per-device app public keys published under appName (spec §4.7
// getAppKeys): "fetch the user profile, decode the embedded keyfile
// JWT, and extract keys.apps[device_id][app_name].public_key". The
// result is keyed by device id.
func (c *Client) GetAppKeys(ctx context.Context, bearer, blockchainID, appName string) (map[string]string, error) {
	body, err := c.GetProfile(ctx, bearer, blockchainID)
	if err != nil {
		return nil, err
	}
	return parseAppKeys(body, appName)
}

// profileTokenRecord is one entry of a Blockstack profile-token-file:
// GET /v1/names/<blockchain_id>/profile returns an array of these, the
// signed keyfile JWT living in Token.
type profileTokenRecord struct {
	Token string `json:"token"`
}

// profileClaim is the JWT payload embedded in the keyfile token.
type profileClaim struct {
	Claim struct {
		Keys struct {
			Apps map[string]map[string]struct {
				PublicKey string `json:"public_key"`
			} `json:"apps"`
		} `json:"keys"`
	} `json:"claim"`
}

func parseAppKeys(body []byte, appName string) (map[string]string, error) {
	var records []profileTokenRecord
	if err := decodeJSON(body, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apierr.New(apierr.NotFound, "profile has no keyfile token")
	}

	payload, err := decodeJWTPayload(records[0].Token)
	if err != nil {
		return nil, err
	}
	var claim profileClaim
	if err := decodeJSON(payload, &claim); err != nil {
		return nil, err
	}

	byApp := claim.Claim.Keys.Apps
	if len(byApp) == 0 {
		return nil, apierr.New(apierr.NotFound, "profile keyfile has no apps")
	}
	out := make(map[string]string, len(byApp))
	for deviceID, apps := range byApp {
		if entry, ok := apps[appName]; ok && entry.PublicKey != "" {
			out[deviceID] = entry.PublicKey
		}
	}
	if len(out) == 0 {
		return nil, apierr.New(apierr.NotFound, "no app keys published for "+appName).WithPath(appName)
	}
	return out, nil
}

// decodeJWTPayload extracts and base64url-decodes the middle segment of
// a header.payload.signature compact JWT. The signature is not
// verified here: the keyfile token is itself fetched over a channel
// whose authenticity is the blockchain name resolution, not this JWT's
// signature.
func decodeJWTPayload(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, apierr.New(apierr.Invalid, "malformed keyfile token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apierr.Wrap(apierr.Invalid, err, "decode keyfile token payload")
	}
	return payload, nil
}

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apierr.Wrap(apierr.Invalid, err, "encode request body")
	}
	return b, nil
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apierr.Wrap(apierr.RemoteIO, err, "decode response body")
	}
	return nil
}
