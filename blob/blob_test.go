package blob

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMakeFullyQualifiedDataIdEscapesSlash(t *testing.T) {
	fq := MakeFullyQualifiedDataId("device1", "a/b")
	require.Contains(t, fq, `%5Cx2f`)
	require.NotContains(t, fq, "/")
}

func TestMakeFullyQualifiedDataIdPassesSafeChars(t *testing.T) {
	fq := MakeFullyQualifiedDataId("dev-1", "file.txt")
	require.True(t, strings.HasPrefix(fq, "dev-1%3Afile.txt") || strings.Contains(fq, "dev-1"))
}

func TestMakeDataInfoVersionIsAlwaysOne(t *testing.T) {
	info := MakeDataInfo("data1", "payload", "device1")
	require.Equal(t, 1, info.Version)
	require.NotEmpty(t, info.FQDataID)
	require.Equal(t, "payload", info.Data)
}

func TestMakeDataInfoExplicitFQDataID(t *testing.T) {
	info := MakeDataInfo("data1", "payload", "device1", "explicit-fq")
	require.Equal(t, "explicit-fq", info.FQDataID)
}

func TestTombstoneRoundTrip(t *testing.T) {
	fq := MakeFullyQualifiedDataId("device1", "root-data")
	ts := MakeDataTombstone(fq)

	parsed, ok := ParseDataTombstone(ts)
	require.True(t, ok)
	require.Equal(t, fq, parsed.FQDataID)
	require.WithinDuration(t, time.Now(), time.UnixMilli(parsed.Timestamp), time.Second)
}

func TestTombstoneRoundTripWithSignature(t *testing.T) {
	fq := MakeFullyQualifiedDataId("device1", "root-data")
	ts := MakeDataTombstone(fq)
	signed := ts + ":c2lnbmF0dXJl"

	parsed, ok := ParseDataTombstone(signed)
	require.True(t, ok)
	require.Equal(t, fq, parsed.FQDataID)
	require.Equal(t, "c2lnbmF0dXJl", parsed.Signature)
}

func TestParseDataTombstoneInvalidReturnsFalse(t *testing.T) {
	_, ok := ParseDataTombstone("not-a-tombstone")
	require.False(t, ok)
}

func TestMakeDataTombstonesPerDevice(t *testing.T) {
	tombstones := MakeDataTombstones([]string{"d1", "d2"}, "root-data")
	require.Len(t, tombstones, 2)
	require.Contains(t, tombstones, "d1")
	require.Contains(t, tombstones, "d2")
}
