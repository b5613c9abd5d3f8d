package cfb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFATAllocateChainLinksInOrder(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(5)
	require.NoError(t, err)
	require.Len(t, chain, 5)

	for i := 0; i < len(chain)-1; i++ {
		next, err := fat.next(chain[i])
		require.NoError(t, err)
		require.Equal(t, chain[i+1], next)
	}
	last, err := fat.next(chain[len(chain)-1])
	require.NoError(t, err)
	require.Equal(t, uint32(endOfChain), last)
}

func TestFATExtendChainSplicesOntoTail(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(2)
	require.NoError(t, err)

	more, err := fat.extendChain(chain[len(chain)-1], 3)
	require.NoError(t, err)
	require.Len(t, more, 3)

	full, err := fat.chainSectors(chain[0])
	require.NoError(t, err)
	require.Equal(t, append(append([]uint32{}, chain...), more...), full)
}

func TestFATFreeChainReusesLowestIndexFirst(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(4)
	require.NoError(t, err)

	require.NoError(t, fat.freeChain(chain[0]))
	realloc, err := fat.allocateChain(4)
	require.NoError(t, err)
	require.Equal(t, chain, realloc)
}

func TestFATChainSectorsDetectsCycle(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(3)
	require.NoError(t, err)

	fat.setLink(chain[2], chain[0])
	_, err = fat.chainSectors(chain[0])
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindBadFormat, cfbErr.Kind)
}

func TestFATNextRejectsOutOfRangeSector(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	_, err := fat.allocateChain(1)
	require.NoError(t, err)

	_, err = fat.next(999)
	require.Error(t, err)
}

func TestFATGrowByOneSectorRegistersWithDIFAT(t *testing.T) {
	fat, dfat := newWiredFAT(t, V3)
	// V3 has 128 entries per FAT sector; allocating one more than that
	// forces growByOneSector to run twice.
	_, err := fat.allocateChain(V3.FATEntriesPerSector() + 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), dfat.numFATSectors())
}

func TestFATTruncateAfterDetachesRemainder(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(4)
	require.NoError(t, err)

	orphanHead, err := fat.truncateAfter(chain[1])
	require.NoError(t, err)
	require.Equal(t, chain[2], orphanHead)

	next, err := fat.next(chain[1])
	require.NoError(t, err)
	require.Equal(t, uint32(endOfChain), next)

	beforeFree := fat.freeCount()
	require.NoError(t, fat.freeChain(orphanHead))
	require.Equal(t, beforeFree+2, fat.freeCount())
}

func TestFATAllocateZeroReturnsNil(t *testing.T) {
	fat, _ := newWiredFAT(t, V3)
	chain, err := fat.allocateChain(0)
	require.NoError(t, err)
	require.Nil(t, chain)
}
