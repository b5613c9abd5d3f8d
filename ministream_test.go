package cfb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMiniStreamGrowToCapacity(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	ms := newMiniStream(fat.grid, fat)

	perMain := ms.miniSectorsPerMain()
	head, err := ms.growToCapacity(perMain+1, endOfChain)
	require.NoError(t, err)
	require.NotEqual(t, uint32(endOfChain), head)
	require.GreaterOrEqual(t, int(ms.capacity()), perMain+1)
}

func TestMiniStreamGrowIsIdempotentWhenAlreadyBigEnough(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	ms := newMiniStream(fat.grid, fat)

	head, err := ms.growToCapacity(4, endOfChain)
	require.NoError(t, err)
	capBefore := ms.capacity()

	head2, err := ms.growToCapacity(4, head)
	require.NoError(t, err)
	require.Equal(t, head, head2)
	require.Equal(t, capBefore, ms.capacity())
}

func TestMiniStreamWriteThenReadMiniSector(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	ms := newMiniStream(fat.grid, fat)
	_, err := ms.growToCapacity(1, endOfChain)
	require.NoError(t, err)

	payload := make([]byte, MiniSectorLen)
	copy(payload, []byte("hello mini-sector"))
	require.NoError(t, ms.writeMiniSector(0, payload))

	out := make([]byte, MiniSectorLen)
	require.NoError(t, ms.readMiniSector(0, out))
	require.Equal(t, payload, out)
}

func TestMiniStreamLocateOutOfRangeErrors(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	ms := newMiniStream(fat.grid, fat)
	_, err := ms.growToCapacity(1, endOfChain)
	require.NoError(t, err)

	_, _, err = ms.locate(999)
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindBadFormat, cfbErr.Kind)
}

func TestMiniStreamLoadFromExistingChain(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(2)
	require.NoError(t, err)

	ms := newMiniStream(fat.grid, fat)
	require.NoError(t, ms.load(chain[0]))
	require.Equal(t, chain, ms.sectors)
}
