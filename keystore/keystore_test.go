package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateGeneratesOnFirstUse(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ks")
	s := New(dir)
	require.False(t, s.Initialized())

	priv, err := s.LoadOrCreate([]byte("pw"))
	require.NoError(t, err)
	require.NotNil(t, priv)
	require.True(t, s.Initialized())
}

func TestLoadOrCreateReturnsSameKeyOnReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ks")
	s1 := New(dir)
	priv1, err := s1.LoadOrCreate([]byte("pw"))
	require.NoError(t, err)

	s2 := New(dir)
	priv2, err := s2.LoadOrCreate([]byte("pw"))
	require.NoError(t, err)

	require.Equal(t, priv1.Bytes(), priv2.Bytes())
}

func TestLoadOrCreateWrongPassphraseFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ks")
	s1 := New(dir)
	_, err := s1.LoadOrCreate([]byte("right"))
	require.NoError(t, err)

	s2 := New(dir)
	_, err = s2.LoadOrCreate([]byte("wrong"))
	require.Error(t, err)
}
