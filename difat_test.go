package cfb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDIFATSpillsPastInlineCapacity(t *testing.T) {
	fat, dfat := newWiredFAT(t, V3)
	for i := 0; i < inlineDifatCount+5; i++ {
		require.NoError(t, fat.growByOneSector())
	}
	require.Equal(t, uint32(inlineDifatCount+5), dfat.numFATSectors())
	require.NotEmpty(t, dfat.spillSectors)
	require.NotEqual(t, uint32(endOfChain), dfat.firstSpillSector())
}

func TestDIFATLocateFATSectorRoundTrips(t *testing.T) {
	fat, dfat := newWiredFAT(t, V3)
	for i := 0; i < 3; i++ {
		require.NoError(t, fat.growByOneSector())
	}
	for k := 0; k < 3; k++ {
		sect, err := dfat.locateFATSector(k)
		require.NoError(t, err)
		require.Equal(t, dfat.sectors[k], sect)
	}
	_, err := dfat.locateFATSector(3)
	require.Error(t, err)
}

func TestDIFATFlushThenReloadMatches(t *testing.T) {
	fat, dfat := newWiredFAT(t, V3)
	for i := 0; i < inlineDifatCount+2; i++ {
		require.NoError(t, fat.growByOneSector())
	}
	require.NoError(t, dfat.flush())

	reloaded := newDifatTable(V3, dfat.grid)
	err := reloaded.load(dfat.inlineArray(), dfat.firstSpillSector(), dfat.numSpillSectors(), dfat.numFATSectors())
	require.NoError(t, err)
	require.Equal(t, dfat.sectors, reloaded.sectors)
}

func TestDIFATInlineArrayPadsWithFreeSect(t *testing.T) {
	fat, dfat := newWiredFAT(t, V3)
	require.NoError(t, fat.growByOneSector())
	arr := dfat.inlineArray()
	require.Equal(t, dfat.sectors[0], arr[0])
	require.Equal(t, uint32(freeSect), arr[1])
}
