package gbolt

import (
	"fmt"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	require.Equal(t, "gbolt: tx closed", ErrTxClosed.Error())
	require.Equal(t, "timeout", CodeTimeout.String())
	require.Equal(t, "unknown error code 999", ErrorCode(999).String())

	require.Equal(t, Success, Code(nil))
	require.Equal(t, CodeBucketExists, Code(ErrBucketExists))
	require.Equal(t, ErrorCode(-1), Code(os.ErrNotExist))
}

func TestWrapError(t *testing.T) {
	cause := errors.New("no space left on device")
	err := WrapError(CodeOutOfAllocableSpace, cause)

	require.Equal(t, "gbolt: out of allocable space: no space left on device", err.Error())
	require.ErrorIs(t, err, ErrOutOfAllocableSpace)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrTimeout)

	// Codes survive further wrapping.
	outer := errors.Wrap(err, "grow")
	require.True(t, Is(outer, CodeOutOfAllocableSpace))
	require.False(t, Is(outer, CodeTimeout))
	require.Equal(t, CodeOutOfAllocableSpace, Code(fmt.Errorf("commit: %w", outer)))
}

func TestVersionString(t *testing.T) {
	require.Equal(t, fmt.Sprintf("gbolt %d.%d.%d (format 2)", Major, Minor, Patch), VersionString())

	info := GetVersionInfo()
	require.Equal(t, uint32(2), info.Format)
	require.Equal(t, Magic, info.Magic)
	require.Equal(t, fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch), info.Release)
}
