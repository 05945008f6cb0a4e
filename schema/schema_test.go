package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDatastoreDescriptor(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	good := map[string]any{
		"type":       "datastore",
		"pubkey":     "04abcd",
		"drivers":    []string{"disk"},
		"device_ids": []string{"dev1"},
		"root_uuid":  "11111111-1111-1111-1111-111111111111",
	}
	require.NoError(t, r.Validate(DatastoreDescriptor, good))

	bad := map[string]any{"type": "not-a-type"}
	err = r.Validate(DatastoreDescriptor, bad)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateFileEntryHashPattern(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	bad := map[string]any{
		"proto_version": 2,
		"urls":          []string{},
		"data_hash":     "not-hex",
		"timestamp":     1000,
	}
	require.Error(t, r.Validate(FileEntry, bad))

	good := map[string]any{
		"proto_version": 2,
		"urls":          []string{"https://example.com/a"},
		"data_hash":     "aa00000000000000000000000000000000000000000000000000000000000000",
		"timestamp":     1000,
	}
	require.NoError(t, r.Validate(FileEntry, good))
}

func TestValidateUnknownSchemaErrors(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	err = r.Validate(Name("nonexistent"), map[string]any{})
	require.Error(t, err)
}
