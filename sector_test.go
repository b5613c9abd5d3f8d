package cfb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSectorGridOffsetAccountsForHeaderSector(t *testing.T) {
	grid := newTestGrid(t, V3)
	require.Equal(t, int64(512), grid.offsetOf(0))
	require.Equal(t, int64(1024), grid.offsetOf(1))
}

func TestSectorGridRejectsOversizedAccess(t *testing.T) {
	grid := newTestGrid(t, V3)
	buf := make([]byte, 600)
	err := grid.writeAt(0, 0, buf)
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindInvalidArgument, cfbErr.Kind)
}

func TestSectorGridWriteThenReadRoundTrips(t *testing.T) {
	grid := newTestGrid(t, V3)
	payload := []byte("sector payload")
	require.NoError(t, grid.writeAt(3, 10, payload))

	out := make([]byte, len(payload))
	require.NoError(t, grid.readAt(3, 10, out))
	require.Equal(t, payload, out)
}

func TestSectorGridZeroSectorWritesZeroes(t *testing.T) {
	grid := newTestGrid(t, V3)
	nonZero := make([]byte, V3.SectorLen())
	for i := range nonZero {
		nonZero[i] = 0xAB
	}
	require.NoError(t, grid.writeSector(2, nonZero))
	require.NoError(t, grid.zeroSector(2))
	buf := make([]byte, V3.SectorLen())
	require.NoError(t, grid.readSector(2, buf))
	for _, b := range buf {
		require.Zero(t, b)
	}
}
