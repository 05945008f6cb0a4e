package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(NotFound, "no such file")
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, Exists))
	require.True(t, errors.Is(err, SentinelNotFound))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(RemoteIO, cause, "gateway request failed")
	require.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, RemoteIO, kind)
}

func TestWithPath(t *testing.T) {
	base := New(NotFound, "missing")
	withPath := base.WithPath("/a/b")
	require.Equal(t, "", base.Path)
	require.Equal(t, "/a/b", withPath.Path)
	require.Contains(t, withPath.Error(), "/a/b")
}

func TestKindOfNonApierr(t *testing.T) {
	_, ok := KindOf(fmt.Errorf("plain error"))
	require.False(t, ok)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "UnsatisfiableReplicationStrategy", UnsatisfiableReplicationStrategy.String())
	require.Equal(t, "Unknown", Kind(999).String())
}
