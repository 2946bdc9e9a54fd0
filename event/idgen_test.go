package event

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencerOrdering(t *testing.T) {
	s := NewSequencer()
	var ids []ID
	for i := 0; i < 100; i++ {
		ids = append(ids, s.Next())
	}
	require.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }),
		"IDs must be lexically ordered the same as issuance order")
	for i := 1; i < len(ids); i++ {
		require.Less(t, ids[i-1], ids[i])
	}
}

func TestRestoreSequencerContinuesPastHighWaterMark(t *testing.T) {
	s := RestoreSequencer(41)
	require.Equal(t, ID("00000000000000000042"), s.Next())
}
