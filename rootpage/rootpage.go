// Package rootpage implements the device-root directory page and its
// pure transformations: insert, remove (tombstone), and the envelope
// serialization signed on write (spec §4.4).
//
// Grounded on gholt-valuestore's timestamped, tombstone-wins-on-tie
// delete model (closest algorithmic analog in the retrieval pack to "a
// file exists iff its entry postdates its tombstone"), adapted to this
// protocol's strict-greater-than ordering and per-device root pages
// instead of a flat key-value store.
package rootpage

import (
	"fmt"

	"github.com/gaia-protocol/gaia-go/blob"
	"github.com/gaia-protocol/gaia-go/stablejson"
)

const (
	ProtoVersion = 2
	LeafType     = 1
)

// FileEntry is one named file's metadata within a device root (spec §3).
type FileEntry struct {
	ProtoVersion int      `json:"proto_version"`
	URLs         []string `json:"urls"`
	DataHash     string   `json:"data_hash"`
	Timestamp    int64    `json:"timestamp"`
}

// Root is one device's root directory page.
type Root struct {
	ProtoVersion int                  `json:"proto_version"`
	Type         int                  `json:"type"`
	Owner        string               `json:"owner"`
	Readers      []string             `json:"readers"`
	Timestamp    int64                `json:"timestamp"`
	Files        map[string]FileEntry `json:"files"`
	Tombstones   map[string]string    `json:"tombstones"`
}

// MakeEmptyDeviceRoot returns a fresh root page for datastoreID, with
// readers (empty in single-reader mode) and an initial timestamp.
func MakeEmptyDeviceRoot(datastoreID string, readers []string) Root {
	if readers == nil {
		readers = []string{}
	}
	return Root{
		ProtoVersion: ProtoVersion,
		Type:         LeafType,
		Owner:        datastoreID,
		Readers:      readers,
		Timestamp:    blob.NowMS(),
		Files:        map[string]FileEntry{},
		Tombstones:   map[string]string{},
	}
}

// nextTimestamp enforces the strict monotonicity invariant: new = max(now_ms, old+1).
func nextTimestamp(old int64) int64 {
	now := blob.NowMS()
	if old+1 > now {
		return old + 1
	}
	return now
}

// cloneRoot makes a shallow-independent copy of root so callers never
// observe in-place mutation of a root they still hold a reference to.
func cloneRoot(root Root) Root {
	files := make(map[string]FileEntry, len(root.Files))
	for k, v := range root.Files {
		files[k] = v
	}
	tombstones := make(map[string]string, len(root.Tombstones))
	for k, v := range root.Tombstones {
		tombstones[k] = v
	}
	readers := make([]string, len(root.Readers))
	copy(readers, root.Readers)

	cp := root
	cp.Files = files
	cp.Tombstones = tombstones
	cp.Readers = readers
	return cp
}

// DeviceRootInsert returns a clone of root with files[name] = entry and
// an advanced timestamp.
func DeviceRootInsert(root Root, name string, entry FileEntry) Root {
	cp := cloneRoot(root)
	cp.Files[name] = entry
	cp.Timestamp = nextTimestamp(root.Timestamp)
	return cp
}

// DeviceRootRemove returns a clone of root with tombstones[name] =
// tombstone and an advanced timestamp. It does not remove files[name];
// existence is decided by comparing timestamps (spec §4.4).
func DeviceRootRemove(root Root, name, tombstone string) Root {
	cp := cloneRoot(root)
	cp.Tombstones[name] = tombstone
	cp.Timestamp = nextTimestamp(root.Timestamp)
	return cp
}

// FileExists reports whether name is present and not shadowed by a later
// tombstone, per the strict-> ordering decided in DESIGN.md.
func FileExists(root Root, name string) bool {
	entry, hasFile := root.Files[name]
	if !hasFile {
		return false
	}
	tombstoneStr, hasTombstone := root.Tombstones[name]
	if !hasTombstone {
		return true
	}
	parsed, ok := blob.ParseDataTombstone(tombstoneStr)
	if !ok {
		return true
	}
	return !(parsed.Timestamp > entry.Timestamp)
}

// DeviceRootSerialize builds the mutable-data envelope over
// data_id = datastore_id "." root_uuid for this deviceID, ready to sign.
func DeviceRootSerialize(deviceID, datastoreID, rootUUID string, root Root) (blob.DataInfo, error) {
	dataID := fmt.Sprintf("%s.%s", datastoreID, rootUUID)
	payload, err := stablejson.MarshalString(root)
	if err != nil {
		return blob.DataInfo{}, fmt.Errorf("rootpage: serialize root: %w", err)
	}
	return blob.MakeDataInfo(dataID, payload, deviceID), nil
}
