// Package blob implements the mutable-data envelope: wrapping a named
// payload for signing, producing and parsing signed tombstones, and
// building the fully-qualified data id the envelope and tombstones are
// keyed on (spec §4.2).
//
// Grounded on the teacher's keychain meta/bundle envelope shape
// (keychain/store.go's keyMeta/keyBundle pairing of identity fields with
// a signed or encrypted payload) generalized from "device key metadata"
// to "named datastore payload".
package blob

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"github.com/gaia-protocol/gaia-go/stablejson"
)

// DataInfo is the mutable-data envelope actually signed over (spec §3).
type DataInfo struct {
	FQDataID  string `json:"fq_data_id"`
	Data      string `json:"data"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// NowMS returns the current time as epoch milliseconds. Factored out so
// tests can assert monotonicity without sleeping.
func NowMS() int64 { return time.Now().UnixMilli() }

// MakeFullyQualifiedDataId builds "device_id:data_id" with any "/" in
// data_id replaced by the literal two characters \x2f, then the whole
// thing percent-encoded per RFC 3986 escape semantics (letters, digits,
// and @*_+-./ pass through unescaped, matching the JS `escape()` builtin
// this protocol's wire format is defined against).
func MakeFullyQualifiedDataId(deviceID, dataID string) string {
	escapedSlashes := strings.ReplaceAll(dataID, "/", `\x2f`)
	raw := deviceID + ":" + escapedSlashes
	return escapeLikeJS(raw)
}

var jsEscapeSafe = regexp.MustCompile(`^[A-Za-z0-9@*_+\-./]$`)

// escapeLikeJS mimics JavaScript's legacy global escape() function: pass
// through alphanumerics and @*_+-./, percent-encode everything else as
// uppercase hex (%XX), using %uXXXX for code points above 0xFF (code
// points above 0xFFFF become their UTF-16 surrogate pair, %uXXXX%uXXXX).
func escapeLikeJS(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x100 && jsEscapeSafe.MatchString(string(r)) {
			b.WriteRune(r)
			continue
		}
		if r < 0x100 {
			fmt.Fprintf(&b, "%%%02X", r)
		} else if r <= 0xFFFF {
			fmt.Fprintf(&b, "%%u%04X", r)
		} else {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, "%%u%04X%%u%04X", hi, lo)
		}
	}
	return b.String()
}

// MakeDataInfo builds the provisional (version=1) envelope for dataID's
// payload. version is never incremented here; monotonicity lives
// entirely in the device-root timestamp (spec §4.2).
func MakeDataInfo(dataID, dataPayload, deviceID string, fqDataID ...string) DataInfo {
	fq := MakeFullyQualifiedDataId(deviceID, dataID)
	if len(fqDataID) > 0 && fqDataID[0] != "" {
		fq = fqDataID[0]
	}
	return DataInfo{
		FQDataID:  fq,
		Data:      dataPayload,
		Version:   1,
		Timestamp: NowMS(),
	}
}

// SerializeDataInfo returns the canonical JSON string signed over.
func SerializeDataInfo(info DataInfo) (string, error) {
	return stablejson.MarshalString(info)
}

// MakeDataTombstone builds "delete-<now_ms>:<fq_data_id>".
func MakeDataTombstone(fqDataID string) string {
	return fmt.Sprintf("delete-%d:%s", NowMS(), fqDataID)
}

// MakeDataTombstones expands a tombstone per device id for dataID.
func MakeDataTombstones(deviceIDs []string, dataID string) map[string]string {
	out := make(map[string]string, len(deviceIDs))
	for _, did := range deviceIDs {
		fq := MakeFullyQualifiedDataId(did, dataID)
		out[did] = MakeDataTombstone(fq)
	}
	return out
}

// SignDataTombstone appends ":<sig_b64>" to ts, signed with priv.
func SignDataTombstone(ts string, priv *gaiacrypto.PrivateKey) string {
	sig := gaiacrypto.SignDataPayload(ts, priv)
	return ts + ":" + sig
}

// fq_data_id is always percent-encoded (MakeFullyQualifiedDataId escapes
// raw ":"), so the first colon after the timestamp always separates it
// from an optional trailing base64 signature.
var tombstoneRE = regexp.MustCompile(`^delete-(\d+):([^:]+)(?::(.+))?$`)

// ParsedTombstone is the result of parsing a (possibly signed) tombstone
// string.
type ParsedTombstone struct {
	Timestamp int64
	FQDataID  string
	Signature string // empty if the tombstone carried no signature
}

// ParseDataTombstone extracts (timestamp, fq_data_id[, signature]) from a
// tombstone string. A non-matching input returns the zero value and ok
// false; it never raises, per spec §4.2.
func ParseDataTombstone(s string) (ParsedTombstone, bool) {
	m := tombstoneRE.FindStringSubmatch(s)
	if m == nil {
		return ParsedTombstone{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ParsedTombstone{}, false
	}
	return ParsedTombstone{Timestamp: ts, FQDataID: m[2], Signature: m[3]}, true
}
