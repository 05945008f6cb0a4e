package stablejson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	sa, err := MarshalString(a)
	require.NoError(t, err)
	sb, err := MarshalString(b)
	require.NoError(t, err)
	require.Equal(t, sa, sb)
	require.Equal(t, `{"a":2,"b":1,"c":3}`, sa)
}

func TestArrayOrderPreserved(t *testing.T) {
	s, err := MarshalString([]int{3, 1, 2})
	require.NoError(t, err)
	require.Equal(t, `[3,1,2]`, s)
}

func TestNilFieldsOmitted(t *testing.T) {
	type T struct {
		A *string `json:"a"`
		B string  `json:"b"`
	}
	s, err := MarshalString(T{B: "x"})
	require.NoError(t, err)
	require.Equal(t, `{"b":"x"}`, s)
}

func TestStructSortedByTagName(t *testing.T) {
	type T struct {
		Zebra string `json:"zebra"`
		Apple string `json:"apple"`
	}
	s, err := MarshalString(T{Zebra: "z", Apple: "a"})
	require.NoError(t, err)
	require.Equal(t, `{"apple":"a","zebra":"z"}`, s)
}

func TestCycleDetectedInMap(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	_, err := Marshal(m)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestEnvelopeShape(t *testing.T) {
	type envelope struct {
		FQDataID  string `json:"fq_data_id"`
		Data      string `json:"data"`
		Version   int    `json:"version"`
		Timestamp int64  `json:"timestamp"`
	}
	s, err := MarshalString(envelope{FQDataID: "dev:id", Data: "hello", Version: 1, Timestamp: 1000})
	require.NoError(t, err)
	require.Equal(t, `{"data":"hello","fq_data_id":"dev:id","timestamp":1000,"version":1}`, s)
}
