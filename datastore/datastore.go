// Package datastore implements the datastore lifecycle: create,
// delete, mount, mount-or-create, and the partial-failure recovery
// state machine that makes create idempotent under ambiguous outcomes
// (spec §4.5).
//
// Grounded on the teacher's keychain/keyring.go CreateKey
// retry-on-collision loop and Unlock/Lock state-machine shape,
// generalized from "manage an in-memory signing key" to "manage a
// cached datastore mount context".
package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/gaia-protocol/gaia-go/blob"
	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"github.com/gaia-protocol/gaia-go/gateway"
	"github.com/gaia-protocol/gaia-go/replication"
	"github.com/gaia-protocol/gaia-go/rootpage"
	"github.com/gaia-protocol/gaia-go/session"
	"github.com/gaia-protocol/gaia-go/stablejson"
)

// Descriptor is the datastore descriptor, signed once at creation and
// immutable thereafter (spec §3).
type Descriptor struct {
	Type      string   `json:"type"`
	Pubkey    string   `json:"pubkey"`
	Drivers   []string `json:"drivers"`
	DeviceIDs []string `json:"device_ids"`
	RootUUID  string   `json:"root_uuid"`
}

// CreateRequest bundles the three byte-exact signed artifacts
// datastoreCreateRequest produces (spec §4.5).
type CreateRequest struct {
	Descriptor     Descriptor
	DatastoreBlob  blob.DataInfo
	DatastoreSig   string
	RootBlob       blob.DataInfo
	RootSig        string
	RootTombstones map[string]string // keyed by device id
}

// Client drives the datastore lifecycle over a gateway, with mount
// context cached in session.Store.
type Client struct {
	gw    *gateway.Client
	store *session.Store
	log   *slog.Logger
}

func New(gw *gateway.Client, store *session.Store, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{gw: gw, store: store, log: log}
}

// CreateDatastoreRequest builds the signed create bundle for a new
// datastore owned by priv.
func CreateDatastoreRequest(dsType string, priv *gaiacrypto.PrivateKey, drivers []string, deviceID string, allDeviceIDs []string, rootUUID string) (*CreateRequest, error) {
	pub := priv.UncompressedPublicKeyHex()
	descriptor := Descriptor{
		Type:      dsType,
		Pubkey:    pub,
		Drivers:   drivers,
		DeviceIDs: allDeviceIDs,
		RootUUID:  rootUUID,
	}
	descStr, err := stablejson.MarshalString(descriptor)
	if err != nil {
		return nil, fmt.Errorf("datastore: serialize descriptor: %w", err)
	}
	datastoreID, err := priv.Address()
	if err != nil {
		return nil, err
	}

	datastoreBlob := blob.MakeDataInfo(datastoreID, descStr, deviceID)
	datastoreEnvelope, err := stablejson.MarshalString(datastoreBlob)
	if err != nil {
		return nil, err
	}
	datastoreSig := gaiacrypto.SignDataPayload(datastoreEnvelope, priv)

	emptyRoot := rootpage.MakeEmptyDeviceRoot(datastoreID, nil)
	rootBlob, err := rootpage.DeviceRootSerialize(deviceID, datastoreID, rootUUID, emptyRoot)
	if err != nil {
		return nil, err
	}
	rootEnvelope, err := stablejson.MarshalString(rootBlob)
	if err != nil {
		return nil, err
	}
	rootSig := gaiacrypto.SignDataPayload(rootEnvelope, priv)

	rootDataID := fmt.Sprintf("%s.%s", datastoreID, rootUUID)
	tombstones := map[string]string{}
	for device, ts := range blob.MakeDataTombstones(allDeviceIDs, rootDataID) {
		tombstones[device] = blob.SignDataTombstone(ts, priv)
	}

	return &CreateRequest{
		Descriptor:     descriptor,
		DatastoreBlob:  datastoreBlob,
		DatastoreSig:   datastoreSig,
		RootBlob:       rootBlob,
		RootSig:        rootSig,
		RootTombstones: tombstones,
	}, nil
}

// Create POSTs req to the gateway, authenticating with a bearer session
// token or, when bearer is empty, an API password and explicit datastore
// pubkey (the auxiliary administrative path).
func (c *Client) Create(ctx context.Context, bearer string, req *CreateRequest, apiPassword string) (*gateway.CreateResponse, error) {
	descStr, err := stablejson.MarshalString(req.Descriptor)
	if err != nil {
		return nil, err
	}
	bundle := gateway.MutationBundle{
		Headers:      []string{mustJSON(req.DatastoreBlob), mustJSON(req.RootBlob)},
		Payloads:     []string{req.DatastoreBlob.Data, req.RootBlob.Data},
		Signatures:   []string{req.DatastoreSig, req.RootSig},
		Tombstones:   tombstoneValues(req.RootTombstones),
		DatastoreStr: descStr,
		DatastoreSig: req.DatastoreSig,
	}
	return c.gw.CreateDatastore(ctx, bearer, bundle, apiPassword, req.Descriptor.Pubkey)
}

func tombstoneValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// DeleteRequest is the signed tombstone bundle for deleting a datastore
// (per device, for both the descriptor and the root page).
type DeleteRequest struct {
	DatastoreTombstones []string
	RootTombstones      []string
}

// DeleteDatastoreRequest builds signed tombstones for the datastore
// descriptor and root page, per device.
func DeleteDatastoreRequest(priv *gaiacrypto.PrivateKey, datastoreID, rootUUID string, allDeviceIDs []string) *DeleteRequest {
	rootDataID := fmt.Sprintf("%s.%s", datastoreID, rootUUID)
	req := &DeleteRequest{}
	for _, ts := range blob.MakeDataTombstones(allDeviceIDs, datastoreID) {
		req.DatastoreTombstones = append(req.DatastoreTombstones, blob.SignDataTombstone(ts, priv))
	}
	for _, ts := range blob.MakeDataTombstones(allDeviceIDs, rootDataID) {
		req.RootTombstones = append(req.RootTombstones, blob.SignDataTombstone(ts, priv))
	}
	return req
}

// Delete DELETEs the datastore using the signed tombstones in req.
func (c *Client) Delete(ctx context.Context, bearer string, req *DeleteRequest) error {
	return c.gw.DeleteDatastore(ctx, bearer, req.DatastoreTombstones, req.RootTombstones)
}

// MountOptions selects single-reader or multi-reader mount mode (spec §4.5).
type MountOptions struct {
	// Single-reader/writer mode.
	DatastoreID string
	DeviceID    string
	DataPubkeys []string

	// Multi-reader mode.
	BlockchainID string
	AppName      string
}

// Mount resolves a mount context, returning (nil, nil) when the gateway
// reports absence (HTTP 404) or the partial-failure flag is set for
// (BlockchainID, AppName).
func (c *Client) Mount(ctx context.Context, bearer string, opts MountOptions) (*session.Context, error) {
	state, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if opts.BlockchainID != "" && opts.AppName != "" && state.PartialCreateFailed(opts.BlockchainID, opts.AppName) {
		return nil, nil
	}

	pubkeys := opts.DataPubkeys
	if len(pubkeys) == 0 && opts.BlockchainID != "" && opts.AppName != "" {
		resolved, err := c.gw.GetAppKeys(ctx, bearer, opts.BlockchainID, opts.AppName)
		if err != nil && !apierr.Is(err, apierr.NotFound) {
			return nil, err
		}
		for _, pk := range resolved {
			pubkeys = append(pubkeys, pk)
		}
	}

	var resp *gateway.MountResponse
	if opts.DatastoreID != "" {
		resp, err = c.gw.MountSingleReader(ctx, bearer, opts.DatastoreID, []string{opts.DeviceID}, pubkeys)
	} else {
		resp, err = c.gw.MountMultiReader(ctx, bearer, opts.AppName, opts.BlockchainID, pubkeys)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	ctxOut := session.Context{
		BlockchainID:        opts.BlockchainID,
		AppName:             opts.AppName,
		DatastoreID:         resp.DatastoreID,
		DeviceID:            opts.DeviceID,
		DatastoreDescriptor: resp.Descriptor,
	}
	for _, p := range resp.Peers {
		ctxOut.Peers = append(ctxOut.Peers, session.Peer{DeviceID: p.DeviceID, PublicKey: p.PublicKey})
	}

	owner := opts.BlockchainID
	if owner == "" {
		owner = opts.DatastoreID
	}
	state.SetContext(owner, opts.AppName, ctxOut)
	if err := c.store.Save(state); err != nil {
		return nil, err
	}
	return &ctxOut, nil
}

// MountOrCreateOptions supplies the inputs mountOrCreate needs when a
// mount resolves to absent and a create must be attempted.
type MountOrCreateOptions struct {
	Mount            MountOptions
	Priv             *gaiacrypto.PrivateKey
	DeviceID         string
	AllDeviceIDs     []string
	RootUUID         string
	DatastoreType    string
	Strategy         replication.Strategy
	Classification   replication.Classification
	PreferredDrivers []string // explicit strategy.drivers override, if any
	APIPassword      string
}

// MountOrCreate resolves a mount context, creating the datastore if it
// does not yet exist. Driver selection precedence: explicit
// PreferredDrivers, else SelectDrivers over Strategy/Classification.
func (c *Client) MountOrCreate(ctx context.Context, bearer string, opts MountOrCreateOptions) (*session.Context, error) {
	mounted, err := c.Mount(ctx, bearer, opts.Mount)
	if err != nil {
		return nil, err
	}
	if mounted != nil {
		return mounted, nil
	}

	drivers := opts.PreferredDrivers
	if drivers == nil {
		drivers, err = replication.SelectDrivers(opts.Strategy, opts.Classification)
		if err != nil {
			return nil, err
		}
	}

	createReq, err := CreateDatastoreRequest(opts.DatastoreType, opts.Priv, drivers, opts.DeviceID, opts.AllDeviceIDs, opts.RootUUID)
	if err != nil {
		return nil, err
	}
	createResp, err := c.Create(ctx, bearer, createReq, opts.APIPassword)
	if err != nil {
		return nil, err
	}
	if !createResp.Status {
		return nil, apierr.New(apierr.RemoteIO, "datastore create reported failure status")
	}

	state, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if opts.Mount.BlockchainID != "" && opts.Mount.AppName != "" {
		state.SetPartialCreateFailed(opts.Mount.BlockchainID, opts.Mount.AppName, false)
		if err := c.store.Save(state); err != nil {
			return nil, err
		}
	}

	datastoreID, err := opts.Priv.Address()
	if err != nil {
		return nil, err
	}
	remounted, err := c.Mount(ctx, bearer, MountOptions{
		DatastoreID:  datastoreID,
		DeviceID:     opts.DeviceID,
		BlockchainID: opts.Mount.BlockchainID,
		AppName:      opts.Mount.AppName,
	})
	if err != nil {
		return nil, err
	}
	if remounted == nil {
		return nil, apierr.New(apierr.RemoteIO, "mount-or-create: re-mount after create returned absent")
	}
	remounted.Created = true
	return remounted, nil
}

// SetCreateRetry forces the partial-failure flag for (blockchainID,
// appName), the external handle named in spec §4.5
// datastoreCreateSetRetry.
func (c *Client) SetCreateRetry(blockchainID, appName string) error {
	state, err := c.store.Load()
	if err != nil {
		return err
	}
	state.SetPartialCreateFailed(blockchainID, appName, true)
	return c.store.Save(state)
}

// FindDeviceRootInfo resolves whether deviceID is expected to own a root
// page for the mounted datastore, and fetches or synthesizes it (spec
// §4.7). rootUUID identifies which root page is under management,
// matching the (datastore_id, root_uuid, device_id) key the version
// cache is keyed on.
func (c *Client) FindDeviceRootInfo(ctx context.Context, bearer string, ctxInfo session.Context, rootUUID, thisDevicePubkeyHex string) (rootpage.Root, bool, error) {
	var descriptor Descriptor
	expectedOwner := false
	if len(ctxInfo.DatastoreDescriptor) > 0 {
		if err := json.Unmarshal(ctxInfo.DatastoreDescriptor, &descriptor); err == nil {
			expectedOwner = descriptor.Pubkey == thisDevicePubkeyHex
		}
	}

	state, err := c.store.Load()
	if err != nil {
		return rootpage.Root{}, false, err
	}
	if !expectedOwner {
		if _, ok := state.RootVersion(ctxInfo.DatastoreID, rootUUID, ctxInfo.DeviceID); ok {
			expectedOwner = true
		}
	}
	if !expectedOwner {
		if _, ok := state.Context(ctxInfo.BlockchainID, ctxInfo.AppName); ok {
			expectedOwner = true
		}
	}

	body, err := c.gw.GetDeviceRoot(ctx, bearer, ctxInfo.DatastoreID, ctxInfo.DeviceID)
	if err != nil {
		if apierr.Is(err, apierr.NotFound) {
			if expectedOwner {
				return rootpage.Root{}, false, err
			}
			return rootpage.MakeEmptyDeviceRoot(ctxInfo.DatastoreID, nil), true, nil
		}
		return rootpage.Root{}, false, err
	}

	var root rootpage.Root
	if err := json.Unmarshal(body, &root); err != nil {
		return rootpage.Root{}, false, apierr.Wrap(apierr.RemoteIO, err, "decode device root")
	}
	return root, false, nil
}

// RecordRootVersion persists the last-observed root timestamp for
// (datastoreID, rootUUID, deviceID), spec §4.6 step 7's "record the
// new root timestamp". FindDeviceRootInfo reads it back to decide
// ownership on a later call.
func (c *Client) RecordRootVersion(datastoreID, rootUUID, deviceID string, version int64) error {
	state, err := c.store.Load()
	if err != nil {
		return err
	}
	state.SetRootVersion(datastoreID, rootUUID, deviceID, version)
	return c.store.Save(state)
}
