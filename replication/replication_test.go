package replication

import (
	"testing"

	"github.com/gaia-protocol/gaia-go/apierr"
	"github.com/stretchr/testify/require"
)

func TestSelectDriversSatisfiesEachConcern(t *testing.T) {
	classification := Classification{
		ReadLocal:   {"A"},
		WriteLocal:  {"A"},
		ReadPublic:  {"B"},
		WritePublic: {"B"},
	}
	strategy := Strategy{ConcernLocal: 1, ConcernPublic: 1}

	drivers, err := SelectDrivers(strategy, classification)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B"}, drivers)
}

func TestSelectDriversNoDuplicates(t *testing.T) {
	classification := Classification{
		ReadLocal:  {"A"},
		WriteLocal: {"A"},
	}
	strategy := Strategy{ConcernLocal: 1}

	drivers, err := SelectDrivers(strategy, classification)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, drivers)
}

func TestSelectDriversUnsatisfiable(t *testing.T) {
	classification := Classification{
		ReadLocal: {"A"},
	}
	strategy := Strategy{ConcernLocal: 1, ConcernPublic: 1}

	_, err := SelectDrivers(strategy, classification)
	require.Error(t, err)
	kind, ok := apierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apierr.UnsatisfiableReplicationStrategy, kind)
}

func TestSelectDriversResultIsSublistOfStableEnumeration(t *testing.T) {
	classification := Classification{
		ReadLocal:   {"A", "C"},
		WriteLocal:  {"A", "C"},
		ReadPublic:  {"B"},
		WritePublic: {"B"},
	}
	strategy := Strategy{ConcernLocal: 2}

	drivers, err := SelectDrivers(strategy, classification)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "C"}, drivers)
}

func TestSelectDriversMultipleConcernsPerDriver(t *testing.T) {
	classification := Classification{
		ReadPublic:   {"A"},
		WritePrivate: {"A"},
	}
	strategy := Strategy{ConcernPublish: 1}

	drivers, err := SelectDrivers(strategy, classification)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, drivers)
}
