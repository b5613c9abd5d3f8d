package cfb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKindSentinel(t *testing.T) {
	err := errNotFound("open-stream", "no entry named %q", "x")
	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrBadFormat))
}

func TestErrorUnwrapExposesUnderlyingMediumError(t *testing.T) {
	cause := errors.New("disk exploded")
	err := errMedium("read-sector", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorStringIncludesOpAndMessage(t *testing.T) {
	err := errInvalidArgument("rename", "name %q too long", "x")
	require.Contains(t, err.Error(), "rename")
	require.Contains(t, err.Error(), "too long")
}

func TestKindStringCoversAllKinds(t *testing.T) {
	kinds := []Kind{KindBadFormat, KindInvalidArgument, KindNotFound, KindWrongKind, KindMedium, KindStale}
	for _, k := range kinds {
		require.NotEqual(t, "unknown", k.String())
	}
}
