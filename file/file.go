// Package file implements the File API: putFile, deleteFile, getFile,
// getFileURLs, listFiles. Each composes device-root discovery and edits,
// blob signing, and gateway calls per spec §4.6, over a context the
// caller has already mounted (Options.Ctx); no operation here mounts or
// creates the datastore itself.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/gaia-protocol/gaia-go/blob"
	"github.com/gaia-protocol/gaia-go/datastore"
	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"github.com/gaia-protocol/gaia-go/gateway"
	"github.com/gaia-protocol/gaia-go/rootpage"
	"github.com/gaia-protocol/gaia-go/session"
	"github.com/gaia-protocol/gaia-go/stablejson"
)

// Client drives the file API over a datastore.Client/gateway.Client
// pair for one mounted (device, datastore) context.
type Client struct {
	gw  *gateway.Client
	ds  *datastore.Client
	log *slog.Logger
}

func New(gw *gateway.Client, ds *datastore.Client, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{gw: gw, ds: ds, log: log}
}

// Options carries the per-call context a File API operation needs:
// the bearer session token, the mounted datastore context, this
// device's signing key, and the root uuid under management.
type Options struct {
	Bearer   string
	Ctx      session.Context
	Priv     *gaiacrypto.PrivateKey
	RootUUID string
}

// ListedFile is one entry in a listFiles snapshot.
type ListedFile struct {
	Name  string
	Entry rootpage.FileEntry
}

// ListResult is listFiles' return value, generalized with an optional
// pagination token (SPEC_FULL.md §4.12 supplement).
type ListResult struct {
	Root     rootpage.Root
	NextPage string
}

// PutFile writes name=buffer to the datastore, per spec §4.6 steps 2-7;
// step 1 (mount-or-create) is the caller's, supplied as opts.Ctx.
func (c *Client) PutFile(ctx context.Context, opts Options, name string, payload []byte) error {
	root, synthesized, err := c.ds.FindDeviceRootInfo(ctx, opts.Bearer, opts.Ctx, opts.RootUUID, opts.Priv.UncompressedPublicKeyHex())
	if err != nil {
		return err
	}
	if synthesized {
		c.log.Debug("putFile: minting device root", "datastore_id", opts.Ctx.DatastoreID, "device_id", opts.Ctx.DeviceID)
	}

	fileHash := gaiacrypto.HashDataPayload(payload)
	payloadB64 := base64.StdEncoding.EncodeToString(payload)

	provisional := rootpage.FileEntry{
		ProtoVersion: rootpage.ProtoVersion,
		URLs:         []string{},
		DataHash:     fileHash,
		Timestamp:    blob.NowMS(),
	}

	dataID := opts.Ctx.DatastoreID + "/" + name
	envelope := blob.MakeDataInfo(dataID, payloadB64, opts.Ctx.DeviceID)
	envelope.Data = payloadB64
	envelopeStr, err := stablejson.MarshalString(envelope)
	if err != nil {
		return err
	}
	sig := gaiacrypto.SignDataPayload(envelopeStr, opts.Priv)

	descStr, descSig, err := descriptorStrAndSig(opts.Ctx, opts.Priv)
	if err != nil {
		return err
	}

	headerJSON, err := json.Marshal(provisional)
	if err != nil {
		return err
	}

	bundle := gateway.MutationBundle{
		Headers:      []string{string(headerJSON)},
		Payloads:     []string{payloadB64},
		Signatures:   []string{sig},
		Tombstones:   []string{},
		DatastoreStr: descStr,
		DatastoreSig: descSig,
	}

	resp, err := c.gw.PutFile(ctx, opts.Bearer, opts.Ctx.DatastoreID, name, bundle)
	if err != nil {
		return err
	}
	if !resp.Status {
		return apierr.New(apierr.RemoteIO, "putFile: gateway reported failure status")
	}

	final := provisional
	// PutFile's response reuses gateway.CreateResponse, whose
	// DatastoreURLs field carries the replica URLs for whatever was
	// just written (the datastore descriptor on create, this file's
	// payload here) rather than a file-specific field.
	final.URLs = resp.DatastoreURLs
	updatedRoot := rootpage.DeviceRootInsert(root, name, final)

	return c.putDeviceRoot(ctx, opts, updatedRoot)
}

// DeleteFile removes name from the datastore, per spec §4.6.
func (c *Client) DeleteFile(ctx context.Context, opts Options, name string) error {
	root, _, err := c.ds.FindDeviceRootInfo(ctx, opts.Bearer, opts.Ctx, opts.RootUUID, opts.Priv.UncompressedPublicKeyHex())
	if err != nil {
		return err
	}
	if !rootpage.FileExists(root, name) {
		return apierr.New(apierr.NotFound, "deleteFile: no such file").WithPath(name)
	}

	dataID := opts.Ctx.DatastoreID + "/" + name
	fq := blob.MakeFullyQualifiedDataId(opts.Ctx.DeviceID, dataID)
	ts := blob.MakeDataTombstone(fq)
	signedTS := blob.SignDataTombstone(ts, opts.Priv)

	updatedRoot := rootpage.DeviceRootRemove(root, name, signedTS)

	descStr, descSig, err := descriptorStrAndSig(opts.Ctx, opts.Priv)
	if err != nil {
		return err
	}

	bundle := gateway.MutationBundle{
		Headers:      []string{},
		Payloads:     []string{},
		Signatures:   []string{},
		Tombstones:   []string{signedTS},
		DatastoreStr: descStr,
		DatastoreSig: descSig,
	}
	if err := c.gw.DeleteFile(ctx, opts.Bearer, opts.Ctx.DatastoreID, name, bundle); err != nil {
		return err
	}

	return c.putDeviceRoot(ctx, opts, updatedRoot)
}

// GetFile returns name's raw bytes. ifNoneMatch, when non-empty, is a
// best-effort conditional-GET etag (SPEC_FULL.md §4.12); "unchanged"
// never surfaces as an error.
func (c *Client) GetFile(ctx context.Context, opts Options, name string, ifNoneMatch string) (data []byte, unchanged bool, err error) {
	return c.gw.GetFile(ctx, opts.Bearer, opts.Ctx.DatastoreID, name, ifNoneMatch)
}

// GetFileURLs returns the urls field of name's file header.
func (c *Client) GetFileURLs(ctx context.Context, opts Options, name string) ([]string, error) {
	body, err := c.gw.GetFileHeader(ctx, opts.Bearer, opts.Ctx.DatastoreID, name, opts.Ctx.DeviceID)
	if err != nil {
		return nil, err
	}
	var header rootpage.FileEntry
	if err := json.Unmarshal(body, &header); err != nil {
		return nil, apierr.Wrap(apierr.RemoteIO, err, "decode file header")
	}
	return header.URLs, nil
}

// ListFiles fetches the aggregate root, optionally resuming from a
// previous NextPage token (SPEC_FULL.md §4.12 supplement).
func (c *Client) ListFiles(ctx context.Context, opts Options, page string) (*ListResult, error) {
	body, err := c.gw.GetListing(ctx, opts.Bearer, opts.Ctx.DatastoreID, page)
	if err != nil {
		return nil, err
	}
	var wire struct {
		rootpage.Root
		NextPage string `json:"next_page,omitempty"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apierr.Wrap(apierr.RemoteIO, err, "decode listing")
	}
	return &ListResult{Root: wire.Root, NextPage: wire.NextPage}, nil
}

func (c *Client) putDeviceRoot(ctx context.Context, opts Options, root rootpage.Root) error {
	envelope, err := rootpage.DeviceRootSerialize(opts.Ctx.DeviceID, opts.Ctx.DatastoreID, opts.RootUUID, root)
	if err != nil {
		return err
	}
	envelopeStr, err := stablejson.MarshalString(envelope)
	if err != nil {
		return err
	}
	sig := gaiacrypto.SignDataPayload(envelopeStr, opts.Priv)

	descStr, descSig, err := descriptorStrAndSig(opts.Ctx, opts.Priv)
	if err != nil {
		return err
	}

	headerJSON, err := json.Marshal(root)
	if err != nil {
		return err
	}

	bundle := gateway.MutationBundle{
		Headers:      []string{string(headerJSON)},
		Payloads:     []string{envelope.Data},
		Signatures:   []string{sig},
		Tombstones:   []string{},
		DatastoreStr: descStr,
		DatastoreSig: descSig,
	}
	if err := c.gw.PutDeviceRoot(ctx, opts.Bearer, opts.Ctx.DatastoreID, bundle, false); err != nil {
		return err
	}

	// Record the new root timestamp under (datastore_id, root_uuid,
	// device_id), spec §4.6 step 7, so a later FindDeviceRootInfo call
	// can tell this device has previously owned this root.
	return c.ds.RecordRootVersion(opts.Ctx.DatastoreID, opts.RootUUID, opts.Ctx.DeviceID, root.Timestamp)
}

func descriptorStrAndSig(ctxInfo session.Context, priv *gaiacrypto.PrivateKey) (string, string, error) {
	if len(ctxInfo.DatastoreDescriptor) == 0 {
		return "", "", nil
	}
	descStr := string(ctxInfo.DatastoreDescriptor)
	return descStr, gaiacrypto.SignDataPayload(descStr, priv), nil
}
