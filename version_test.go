package cfb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionSectorLen(t *testing.T) {
	require.Equal(t, 512, V3.SectorLen())
	require.Equal(t, 4096, V4.SectorLen())
}

func TestVersionEntriesPerSector(t *testing.T) {
	require.Equal(t, 128, V3.FATEntriesPerSector())
	require.Equal(t, 4, V3.DirEntriesPerSector())
	require.Equal(t, 1024, V4.FATEntriesPerSector())
	require.Equal(t, 32, V4.DirEntriesPerSector())
}

func TestVersionHeaderSectorLen(t *testing.T) {
	require.Equal(t, 512, V3.HeaderSectorLen())
	require.Equal(t, 4096, V4.HeaderSectorLen())
}

func TestVersionFromUint16Known(t *testing.T) {
	v, err := versionFromUint16(3)
	require.NoError(t, err)
	require.Equal(t, V3, v)

	v, err = versionFromUint16(4)
	require.NoError(t, err)
	require.Equal(t, V4, v)
}

func TestVersionFromUint16RejectsUnknown(t *testing.T) {
	_, err := versionFromUint16(7)
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindBadFormat, cfbErr.Kind)
}
