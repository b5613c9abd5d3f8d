package cfb

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateEmptyContainerBothVersions(t *testing.T) {
	for _, v := range []Version{V3, V4} {
		c, err := Create(NewMemoryMedium(nil), v)
		require.NoError(t, err)
		require.Equal(t, v, c.Version())

		root := c.RootStorage()
		name, err := root.Name()
		require.NoError(t, err)
		require.Equal(t, rootEntryName, name)
		require.True(t, root.IsRoot())

		require.NoError(t, c.CheckInvariants())
	}
}

func TestOpenRoundTripsCreatedContainer(t *testing.T) {
	medium := NewMemoryMedium(nil)
	c, err := Create(medium, V3)
	require.NoError(t, err)

	strm, err := c.RootStorage().CreateStream("doc")
	require.NoError(t, err)
	_, err = strm.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	raw, ok := Bytes(medium)
	require.True(t, ok)

	reopened, err := Open(NewMemoryMedium(raw))
	require.NoError(t, err)
	require.Equal(t, V3, reopened.Version())

	got, err := reopened.RootStorage().OpenStream("doc")
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = io.ReadFull(got, buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf))
	require.NoError(t, reopened.CheckInvariants())
}

func TestOpenRoundTripsAcrossMiniCutoff(t *testing.T) {
	medium := NewMemoryMedium(nil)
	c, err := Create(medium, V3)
	require.NoError(t, err)

	strm, err := c.RootStorage().CreateStream("big")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("q"), defaultMiniCutoff+1000)
	_, err = strm.Write(payload)
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	raw, ok := Bytes(medium)
	require.True(t, ok)

	reopened, err := Open(NewMemoryMedium(raw))
	require.NoError(t, err)
	got, err := reopened.RootStorage().OpenStream("big")
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = io.ReadFull(got, out)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	raw := make([]byte, headerLen)
	_, err := Open(NewMemoryMedium(raw))
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindBadFormat, cfbErr.Kind)
}

func TestStorageHierarchyAndNavigation(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()

	sub, err := root.CreateStorage("sub")
	require.NoError(t, err)
	_, err = sub.CreateStream("inner")
	require.NoError(t, err)

	reopenedSub, err := root.OpenStorage("sub")
	require.NoError(t, err)
	_, err = reopenedSub.OpenStream("inner")
	require.NoError(t, err)

	parent, err := sub.Parent()
	require.NoError(t, err)
	require.True(t, parent.IsRoot())

	require.NoError(t, c.CheckInvariants())
}

func TestOpenStorageOnStreamFailsWrongKind(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	_, err := root.CreateStream("leaf")
	require.NoError(t, err)

	_, err = root.OpenStorage("leaf")
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindWrongKind, cfbErr.Kind)
}

func TestRenameConflictIsRejected(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	_, err := root.CreateStream("a")
	require.NoError(t, err)
	b, err := root.CreateStream("b")
	require.NoError(t, err)

	err = b.Rename("a")
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindInvalidArgument, cfbErr.Kind)
}

func TestRenameSucceedsAndIsFindableUnderNewName(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	strm, err := root.CreateStream("old")
	require.NoError(t, err)
	require.NoError(t, strm.Rename("new"))

	_, err = root.OpenStream("new")
	require.NoError(t, err)
	_, err = root.OpenStream("old")
	require.Error(t, err)

	require.NoError(t, c.CheckInvariants())
}

func TestRootStorageCannotBeRenamed(t *testing.T) {
	c := newTestContainer(t, V3)
	err := c.RootStorage().Rename("whatever")
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindInvalidArgument, cfbErr.Kind)
}

func TestRemoveStreamThenStaleHandleFails(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	strm, err := root.CreateStream("gone")
	require.NoError(t, err)
	_, err = strm.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, root.RemoveStream("gone"))

	_, err = strm.Len()
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindStale, cfbErr.Kind)

	_, found, err := root.find("gone")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveNonEmptyStorageRejected(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	sub, err := root.CreateStorage("sub")
	require.NoError(t, err)
	_, err = sub.CreateStream("inner")
	require.NoError(t, err)

	err = root.RemoveStorage("sub")
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindInvalidArgument, cfbErr.Kind)
}

func TestRemoveEmptyStorageSucceeds(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	_, err := root.CreateStorage("sub")
	require.NoError(t, err)

	require.NoError(t, root.RemoveStorage("sub"))
	_, err = root.OpenStorage("sub")
	require.Error(t, err)
}

func TestCreateDuplicateNameRejected(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	_, err := root.CreateStream("dup")
	require.NoError(t, err)

	_, err = root.CreateStorage("dup")
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindInvalidArgument, cfbErr.Kind)
}

func TestCheckInvariantsAfterManyMutations(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	names := []string{"one", "two", "three", "four", "five", "six", "seven", "eight"}
	for _, n := range names {
		strm, err := root.CreateStream(n)
		require.NoError(t, err)
		_, err = strm.Write(bytes.Repeat([]byte(n[:1]), 50))
		require.NoError(t, err)
	}
	require.NoError(t, root.RemoveStream("three"))
	require.NoError(t, root.RemoveStream("six"))

	require.NoError(t, c.CheckInvariants())
	require.NoError(t, c.Flush())
}

func TestMiniStreamSizedToActualUsageNotMiniFATCapacity(t *testing.T) {
	c := newTestContainer(t, V3)
	strm, err := c.RootStorage().CreateStream("small")
	require.NoError(t, err)
	_, err = strm.Write([]byte("hello"))
	require.NoError(t, err)

	root, err := c.dir.get(0)
	require.NoError(t, err)
	require.Equal(t, uint64(512), root.streamLen)
}

func TestIntoInnerReturnsUnderlyingMedium(t *testing.T) {
	medium := NewMemoryMedium(nil)
	c, err := Create(medium, V3)
	require.NoError(t, err)

	require.Same(t, medium, c.IntoInner())
}

func TestStoragePathWalksToRoot(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()

	rootPath, err := root.Path()
	require.NoError(t, err)
	require.Equal(t, "/", rootPath)

	sub, err := root.CreateStorage("sub")
	require.NoError(t, err)
	subPath, err := sub.Path()
	require.NoError(t, err)
	require.Equal(t, "/sub", subPath)

	leaf, err := sub.CreateStorage("leaf")
	require.NoError(t, err)
	leafPath, err := leaf.Path()
	require.NoError(t, err)
	require.Equal(t, "/sub/leaf", leafPath)
}

func TestStoragePathFailsOnceRemoved(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	sub, err := root.CreateStorage("sub")
	require.NoError(t, err)

	require.NoError(t, root.RemoveStorage("sub"))
	_, err = sub.Path()
	require.Error(t, err)
	var cfbErr *Error
	require.ErrorAs(t, err, &cfbErr)
	require.Equal(t, KindStale, cfbErr.Kind)
}

func TestIterChildrenYieldsAllDirectChildren(t *testing.T) {
	c := newTestContainer(t, V3)
	root := c.RootStorage()
	want := map[string]bool{"alpha": true, "beta": true, "gamma": true}
	for n := range want {
		_, err := root.CreateStream(n)
		require.NoError(t, err)
	}

	ch, errFn := root.IterChildren()
	got := map[string]bool{}
	for name := range ch {
		got[name] = true
	}
	require.NoError(t, errFn())
	require.Equal(t, want, got)
}
